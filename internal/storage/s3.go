package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jittakal/bustrace/internal/encoder"
	apperrors "github.com/jittakal/bustrace/internal/errors"
	"github.com/jittakal/bustrace/pkg/storage"
	"github.com/jittakal/bustrace/pkg/trace"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*S3Writer)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

// S3Writer implements storage.Writer for AWS S3 storage.
// Batches are encoded to a temporary file and sent through the multipart
// upload manager, with optional server-side encryption.
type S3Writer struct {
	client         *s3.Client
	uploader       *manager.Uploader
	bucket         string
	sseEnabled     bool
	sseKMSKeyID    string
	encoderFactory *encoder.Factory
	logger         *slog.Logger
	metrics        MetricsCollector
	mu             sync.Mutex
}

// NewS3Writer creates a new S3 storage writer.
func NewS3Writer(
	cfg S3Config,
	format trace.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*S3Writer, error) {
	awsConfig, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	uploader := manager.NewUploader(s3Client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 5
	})

	encoderFactory, err := newEncoderFactory(format, compression)
	if err != nil {
		return nil, err
	}

	logger.Info("S3 writer created",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"format", format,
		"compression", compression,
		"sse_enabled", cfg.SSEEnabled,
	)

	return &S3Writer{
		client:         s3Client,
		uploader:       uploader,
		bucket:         cfg.Bucket,
		sseEnabled:     cfg.SSEEnabled,
		sseKMSKeyID:    cfg.SSEKMSKeyID,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Write encodes the batch and uploads it below the routed key prefix.
func (w *S3Writer) Write(
	ctx context.Context,
	batch *trace.Batch,
	path string,
	format trace.FileFormat,
) (int64, error) {
	if batch == nil || len(batch.Records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	startTime := time.Now()

	fileEncoder, err := w.encoderFactory.CreateEncoder()
	if err != nil {
		recordFailure(w.metrics, "s3", format, "encoder_create")
		return 0, fmt.Errorf("failed to create encoder: %w", err)
	}

	key := objectPath(objectKey(path, "s3"), objectName(batch, fileEncoder.FileExtension()))

	tempFile, stats, err := encodeTemp(fileEncoder, "s3", batch)
	if err != nil {
		recordFailure(w.metrics, "s3", format, "encode")
		return 0, fmt.Errorf("failed to encode batch: %w", err)
	}
	defer os.Remove(tempFile)

	file, err := os.Open(tempFile)
	if err != nil {
		recordFailure(w.metrics, "s3", format, "file_open")
		return 0, fmt.Errorf("failed to open encoded file: %w", err)
	}
	defer file.Close()

	uploadInput := &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
		Body:   file,
		Metadata: map[string]string{
			"batch-id":  batch.ID,
			"device-id": fmt.Sprintf("%d", batch.DeviceID),
		},
	}
	applySSE(uploadInput, w.sseEnabled, w.sseKMSKeyID)

	result, err := w.uploader.Upload(ctx, uploadInput)
	if err != nil {
		recordFailure(w.metrics, "s3", format, "upload")
		return 0, &apperrors.StorageError{Operation: "upload", Path: key, Err: err}
	}

	duration := time.Since(startTime)

	w.logger.Info("wrote trace batch to S3",
		"bucket", w.bucket,
		"key", key,
		"batch_id", batch.ID,
		"device_id", batch.DeviceID,
		"record_count", stats.RecordCount,
		"file_size", stats.SizeBytes,
		"format", format,
		"location", result.Location,
		"total_duration_ms", duration.Milliseconds(),
	)

	recordSuccess(w.metrics, "s3", format, stats.SizeBytes, duration)
	return stats.SizeBytes, nil
}

// applySSE sets server-side encryption on the upload. A KMS key selects
// aws:kms, otherwise AES256 is used.
func applySSE(input *s3.PutObjectInput, enabled bool, kmsKeyID string) {
	if !enabled {
		return
	}
	if kmsKeyID != "" {
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(kmsKeyID)
		return
	}
	input.ServerSideEncryption = types.ServerSideEncryptionAes256
}

// Close closes the S3 writer.
func (w *S3Writer) Close() error {
	w.logger.Info("closing S3 writer")
	return nil
}
