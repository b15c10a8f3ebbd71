// Package storage defines interfaces for exporting trace batches to
// durable storage.
package storage

import (
	"context"
	"time"

	"github.com/jittakal/bustrace/pkg/trace"
)

// Writer writes trace batches to storage.
type Writer interface {
	// Write encodes the batch and stores it under the directory path.
	// Returns the number of bytes written.
	Write(ctx context.Context, batch *trace.Batch, path string, format trace.FileFormat) (int64, error)

	// Close closes the writer and releases resources.
	Close() error
}

// Router determines storage paths for a device's records.
type Router interface {
	// Route returns the directory for records of device captured at ts.
	Route(device trace.DeviceID, ts trace.Timestamp) string
}

// RotationPolicy determines when a pending batch is flushed to storage.
type RotationPolicy interface {
	// ShouldRotate reports whether a batch with the given stats, open for
	// age, should be flushed.
	ShouldRotate(stats trace.Stats, age time.Duration) bool
}
