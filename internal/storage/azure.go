package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/jittakal/bustrace/internal/encoder"
	apperrors "github.com/jittakal/bustrace/internal/errors"
	"github.com/jittakal/bustrace/pkg/storage"
	"github.com/jittakal/bustrace/pkg/trace"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*AzureWriter)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Endpoint      string
}

// connectionString builds a shared-key connection string. A custom endpoint
// (for example Azurite) replaces the public endpoint suffix.
func (c AzureConfig) connectionString() string {
	if c.Endpoint != "" {
		return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			c.AccountName, c.AccountKey, c.Endpoint)
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
		c.AccountName, c.AccountKey)
}

// AzureWriter implements storage.Writer for Azure Blob Storage.
type AzureWriter struct {
	client         *azblob.Client
	containerName  string
	encoderFactory *encoder.Factory
	logger         *slog.Logger
	metrics        MetricsCollector
	mu             sync.Mutex
}

// NewAzureWriter creates a new Azure Blob storage writer.
func NewAzureWriter(
	cfg AzureConfig,
	format trace.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*AzureWriter, error) {
	client, err := azblob.NewClientFromConnectionString(cfg.connectionString(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	encoderFactory, err := newEncoderFactory(format, compression)
	if err != nil {
		return nil, err
	}

	logger.Info("Azure writer created",
		"container", cfg.ContainerName,
		"account", cfg.AccountName,
		"format", format,
		"compression", compression,
	)

	return &AzureWriter{
		client:         client,
		containerName:  cfg.ContainerName,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Write encodes the batch and uploads it as a block blob.
func (w *AzureWriter) Write(ctx context.Context, batch *trace.Batch, path string, format trace.FileFormat) (int64, error) {
	if batch == nil || len(batch.Records) == 0 {
		return 0, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	startTime := time.Now()

	enc, err := w.encoderFactory.CreateEncoder()
	if err != nil {
		recordFailure(w.metrics, "azure", format, "encoder_create")
		return 0, fmt.Errorf("failed to create encoder: %w", err)
	}

	blobPath := objectPath(objectKey(path, "wasbs"), objectName(batch, enc.FileExtension()))

	tempFile, stats, err := encodeTemp(enc, "azure", batch)
	if err != nil {
		recordFailure(w.metrics, "azure", format, "encode")
		return 0, fmt.Errorf("failed to encode batch: %w", err)
	}
	defer os.Remove(tempFile)

	file, err := os.Open(tempFile)
	if err != nil {
		recordFailure(w.metrics, "azure", format, "file_open")
		return 0, fmt.Errorf("failed to open encoded file: %w", err)
	}
	defer file.Close()

	batchID := batch.ID
	deviceID := fmt.Sprintf("%d", batch.DeviceID)
	_, err = w.client.UploadFile(ctx, w.containerName, blobPath, file, &azblob.UploadFileOptions{
		Metadata: map[string]*string{
			"batch_id":  &batchID,
			"device_id": &deviceID,
		},
	})
	if err != nil {
		recordFailure(w.metrics, "azure", format, "upload")
		return 0, &apperrors.StorageError{Operation: "upload", Path: blobPath, Err: err}
	}

	duration := time.Since(startTime)

	w.logger.Info("wrote trace batch to Azure Blob",
		"container", w.containerName,
		"blob", blobPath,
		"batch_id", batch.ID,
		"device_id", batch.DeviceID,
		"record_count", stats.RecordCount,
		"file_size", stats.SizeBytes,
		"format", format,
		"total_duration_ms", duration.Milliseconds(),
	)

	recordSuccess(w.metrics, "azure", format, stats.SizeBytes, duration)
	return stats.SizeBytes, nil
}

// Close closes the Azure writer.
func (w *AzureWriter) Close() error {
	w.logger.Info("Azure writer closed")
	return nil
}
