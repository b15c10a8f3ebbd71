// Package storage implements trace batch writers for local and cloud storage.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jittakal/bustrace/internal/encoder"
	apperrors "github.com/jittakal/bustrace/internal/errors"
	"github.com/jittakal/bustrace/pkg/storage"
	"github.com/jittakal/bustrace/pkg/trace"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*FileWriter)(nil)

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileWriter implements storage.Writer for local filesystem storage.
// Routed directories are created below the base path on demand.
type FileWriter struct {
	basePath       string
	encoderFactory *encoder.Factory
	logger         *slog.Logger
	metrics        MetricsCollector
	mu             sync.Mutex
	closed         bool
}

// NewFileWriter creates a new filesystem storage writer.
func NewFileWriter(
	config FileConfig,
	format trace.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*FileWriter, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	encoderFactory, err := newEncoderFactory(format, compression)
	if err != nil {
		return nil, err
	}

	logger.Info("filesystem writer created",
		"base_path", config.BasePath,
		"format", format,
		"compression", compression,
	)

	return &FileWriter{
		basePath:       config.BasePath,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Write encodes the batch into a new file under basePath/path.
func (w *FileWriter) Write(
	ctx context.Context,
	batch *trace.Batch,
	path string,
	format trace.FileFormat,
) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, apperrors.ErrWriterClosed
	}
	if batch == nil || len(batch.Records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	startTime := time.Now()

	fileEncoder, err := w.encoderFactory.CreateEncoder()
	if err != nil {
		recordFailure(w.metrics, "file", format, "encoder_create")
		return 0, fmt.Errorf("failed to create encoder: %w", err)
	}

	dir := filepath.Join(w.basePath, filepath.FromSlash(strings.TrimPrefix(path, "file://")))
	fullPath := filepath.Join(dir, objectName(batch, fileEncoder.FileExtension()))

	if err := os.MkdirAll(dir, 0755); err != nil {
		recordFailure(w.metrics, "file", format, "mkdir")
		return 0, &apperrors.StorageError{Operation: "create", Path: dir, Err: err}
	}

	stats, err := fileEncoder.Encode(fullPath, batch)
	if err != nil {
		recordFailure(w.metrics, "file", format, "encode")
		return 0, &apperrors.StorageError{Operation: "write", Path: fullPath, Err: err}
	}

	duration := time.Since(startTime)

	w.logger.Info("wrote trace batch to file",
		"path", fullPath,
		"batch_id", batch.ID,
		"device_id", batch.DeviceID,
		"record_count", stats.RecordCount,
		"file_size", stats.SizeBytes,
		"format", format,
		"total_duration_ms", duration.Milliseconds(),
	)

	recordSuccess(w.metrics, "file", format, stats.SizeBytes, duration)
	return stats.SizeBytes, nil
}

// Close closes the writer. Subsequent writes fail with ErrWriterClosed.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.logger.Info("closing filesystem writer")
	return nil
}
