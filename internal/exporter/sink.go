package exporter

import (
	"context"
	"fmt"

	"github.com/jittakal/bustrace/pkg/consumer"
	"github.com/jittakal/bustrace/pkg/storage"
	"github.com/jittakal/bustrace/pkg/trace"
)

// Sink receives flushed batches.
type Sink interface {
	Name() string
	Export(ctx context.Context, batch *trace.Batch) error
}

// StorageSink writes batches as files through a storage writer, routed by
// device and capture date.
type StorageSink struct {
	writer storage.Writer
	router storage.Router
	format trace.FileFormat
}

// NewStorageSink creates a storage sink.
func NewStorageSink(writer storage.Writer, router storage.Router, format trace.FileFormat) *StorageSink {
	return &StorageSink{writer: writer, router: router, format: format}
}

// Name returns "storage".
func (s *StorageSink) Name() string { return "storage" }

// Export writes the batch under the route of its first record.
func (s *StorageSink) Export(ctx context.Context, batch *trace.Batch) error {
	if len(batch.Records) == 0 {
		return nil
	}
	path := s.router.Route(batch.DeviceID, batch.Records[0].Timestamp)
	if _, err := s.writer.Write(ctx, batch, path, s.format); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// PublisherSink forwards batches to a broker publisher.
type PublisherSink struct {
	publisher consumer.Publisher
}

// NewPublisherSink creates a publisher sink.
func NewPublisherSink(publisher consumer.Publisher) *PublisherSink {
	return &PublisherSink{publisher: publisher}
}

// Name returns "kafka".
func (s *PublisherSink) Name() string { return "kafka" }

// Export publishes the batch.
func (s *PublisherSink) Export(ctx context.Context, batch *trace.Batch) error {
	return s.publisher.Publish(ctx, batch)
}
