// Package buffer defines interfaces for the bounded trace ring.
//
// Producers append captured bus I/O records, a single consumer drains them
// in bulk into a fixed-size region. Diagnostics are delivered through an
// Observer rather than written directly by the ring.
package buffer

import (
	"time"

	"github.com/jittakal/bustrace/pkg/trace"
)

// Buffer queues trace records between concurrent producers and a draining consumer.
// All implementations must be thread-safe.
type Buffer interface {
	// Enqueue appends one record. A full buffer overwrites its oldest
	// unread record instead of blocking or rejecting the write.
	Enqueue(device trace.DeviceID, typ trace.RequestType, payload []byte) error

	// Drain copies as many whole records as fit into dst, oldest first,
	// and returns the number of bytes written.
	Drain(dst []byte) int

	// Stats returns a snapshot of the buffer state.
	Stats() Stats

	// IsEmpty returns true if no records are queued.
	IsEmpty() bool

	// Reset releases every slot and zeroes the cursors.
	Reset()
}

// Stats is a point-in-time view of a buffer.
type Stats struct {
	Slots          int   `json:"slots"`
	Records        int   `json:"records"`
	QueuedBytes    int64 `json:"queued_bytes"`
	AllocatedBytes int64 `json:"allocated_bytes"`
	ReadIndex      int   `json:"read_index"`
	WriteIndex     int   `json:"write_index"`
	Closed         bool  `json:"closed"`

	Enqueued           uint64 `json:"enqueued_total"`
	Overwritten        uint64 `json:"overwritten_total"`
	Dropped            uint64 `json:"dropped_total"`
	Drained            uint64 `json:"drained_total"`
	DrainedBytes       uint64 `json:"drained_bytes_total"`
	AllocationFailures uint64 `json:"allocation_failures_total"`
	Inconsistencies    uint64 `json:"inconsistencies_total"`
}

// Clock supplies capture timestamps.
type Clock interface {
	Now() trace.Timestamp
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() trace.Timestamp

// Now calls f.
func (f ClockFunc) Now() trace.Timestamp {
	return f()
}

// SystemClock stamps records with the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() trace.Timestamp {
	return trace.FromTime(time.Now())
}

// OverflowEvent reports an unread record that was overwritten by a new write.
type OverflowEvent struct {
	Slot int
	Lost trace.Header
}

// AllocationFailureEvent reports a record dropped because its slot could not grow.
type AllocationFailureEvent struct {
	Slot      int
	DeviceID  trace.DeviceID
	Type      trace.RequestType
	Requested int
	// LostUnread is set when the slot still held the oldest unread record,
	// which is discarded along with the new one.
	LostUnread bool
	Err        error
}

// InconsistencyEvent reports a queued position that points at an empty slot.
type InconsistencyEvent struct {
	Slot       int
	ReadIndex  int
	WriteIndex int
	Records    int
}

// Observer receives buffer diagnostics. Implementations are called outside
// the buffer lock and must be safe for concurrent use.
type Observer interface {
	Overflow(OverflowEvent)
	AllocationFailed(AllocationFailureEvent)
	Inconsistency(InconsistencyEvent)
}

// NopObserver discards all diagnostics.
type NopObserver struct{}

func (NopObserver) Overflow(OverflowEvent)                  {}
func (NopObserver) AllocationFailed(AllocationFailureEvent) {}
func (NopObserver) Inconsistency(InconsistencyEvent)        {}
