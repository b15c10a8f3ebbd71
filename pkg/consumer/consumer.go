// Package consumer defines interfaces for moving trace data through a
// message broker.
package consumer

import (
	"context"

	"github.com/jittakal/bustrace/pkg/trace"
)

// Consumer reads capture requests from broker topics and hands them to a
// trace buffer.
type Consumer interface {
	// Subscribe sets the topics to read from.
	Subscribe(ctx context.Context, topics []string) error

	// Run consumes until ctx is cancelled or the consumer fails.
	Run(ctx context.Context) error

	// Close closes the consumer and releases resources.
	Close() error
}

// Publisher forwards drained trace records to a broker topic.
type Publisher interface {
	// Publish sends every record of the batch. The call fails as a whole if
	// any record is rejected.
	Publish(ctx context.Context, batch *trace.Batch) error

	// Close closes the publisher and releases resources.
	Close() error
}
