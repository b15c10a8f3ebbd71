package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/jittakal/bustrace/internal/encoder"
	apperrors "github.com/jittakal/bustrace/internal/errors"
	pkgstorage "github.com/jittakal/bustrace/pkg/storage"
	"github.com/jittakal/bustrace/pkg/trace"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgstorage.Writer = (*GCSWriter)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

// clientOptions selects the credential source. Explicit JSON wins over a
// credentials file; with neither, application default credentials are used.
func (c GCSConfig) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}

	switch {
	case c.UseDefaultCredential:
	case c.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(c.CredentialsJSON)))
	case c.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	}
	return opts
}

// contentType returns the object content type for a file format.
func contentType(format trace.FileFormat) string {
	if format == trace.FormatAvro {
		return "application/avro"
	}
	return "application/octet-stream"
}

// GCSWriter implements storage.Writer for Google Cloud Storage.
type GCSWriter struct {
	client         *storage.Client
	bucket         string
	encoderFactory *encoder.Factory
	logger         *slog.Logger
	metrics        MetricsCollector
	mu             sync.Mutex
}

// NewGCSWriter creates a new Google Cloud Storage writer.
func NewGCSWriter(
	cfg GCSConfig,
	format trace.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*GCSWriter, error) {
	client, err := storage.NewClient(context.Background(), cfg.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	encoderFactory, err := newEncoderFactory(format, compression)
	if err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("GCS writer created",
		"bucket", cfg.Bucket,
		"project_id", cfg.ProjectID,
		"format", format,
		"compression", compression,
	)

	return &GCSWriter{
		client:         client,
		bucket:         cfg.Bucket,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Write encodes the batch and streams it to a new object.
func (w *GCSWriter) Write(
	ctx context.Context,
	batch *trace.Batch,
	path string,
	format trace.FileFormat,
) (int64, error) {
	if batch == nil || len(batch.Records) == 0 {
		return 0, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	startTime := time.Now()

	enc, err := w.encoderFactory.CreateEncoder()
	if err != nil {
		recordFailure(w.metrics, "gcs", format, "encoder_create")
		return 0, fmt.Errorf("failed to create encoder: %w", err)
	}

	name := objectPath(objectKey(path, "gs"), objectName(batch, enc.FileExtension()))

	tempFile, stats, err := encodeTemp(enc, "gcs", batch)
	if err != nil {
		recordFailure(w.metrics, "gcs", format, "encode")
		return 0, fmt.Errorf("failed to encode batch: %w", err)
	}
	defer os.Remove(tempFile)

	file, err := os.Open(tempFile)
	if err != nil {
		recordFailure(w.metrics, "gcs", format, "file_open")
		return 0, fmt.Errorf("failed to open encoded file: %w", err)
	}
	defer file.Close()

	gcsWriter := w.client.Bucket(w.bucket).Object(name).NewWriter(ctx)
	gcsWriter.ContentType = contentType(format)
	gcsWriter.Metadata = map[string]string{
		"batch_id":  batch.ID,
		"device_id": fmt.Sprintf("%d", batch.DeviceID),
	}

	bytesWritten, err := io.Copy(gcsWriter, file)
	if err != nil {
		recordFailure(w.metrics, "gcs", format, "upload")
		gcsWriter.Close()
		return 0, &apperrors.StorageError{Operation: "upload", Path: name, Err: err}
	}

	// Close finalizes the upload.
	if err := gcsWriter.Close(); err != nil {
		recordFailure(w.metrics, "gcs", format, "close")
		return 0, &apperrors.StorageError{Operation: "write", Path: name, Err: err}
	}

	duration := time.Since(startTime)

	w.logger.Info("wrote trace batch to GCS",
		"bucket", w.bucket,
		"object", name,
		"batch_id", batch.ID,
		"device_id", batch.DeviceID,
		"record_count", stats.RecordCount,
		"file_size", stats.SizeBytes,
		"bytes_written", bytesWritten,
		"format", format,
		"total_duration_ms", duration.Milliseconds(),
	)

	recordSuccess(w.metrics, "gcs", format, stats.SizeBytes, duration)
	return stats.SizeBytes, nil
}

// Close closes the GCS writer.
func (w *GCSWriter) Close() error {
	w.logger.Info("closing GCS writer")
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}
