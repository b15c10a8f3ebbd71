package buffer

import (
	"fmt"
	"sync"

	"github.com/jittakal/bustrace/internal/errors"
	"github.com/jittakal/bustrace/pkg/buffer"
	"github.com/jittakal/bustrace/pkg/trace"
)

// Ensure implementation satisfies interface at compile time.
var _ buffer.Buffer = (*Ring)(nil)

// Default sizing used when a Config field is left at zero.
const (
	DefaultSlots           = 1024
	DefaultMaxPayloadBytes = 64 * 1024
)

// Config sizes a Ring.
type Config struct {
	// Slots is the fixed number of records the ring can hold.
	Slots int
	// MaxPayloadBytes caps the payload accepted by Enqueue.
	MaxPayloadBytes int
	// MemoryLimitBytes caps the total slot allocation. Zero means unlimited.
	// Ignored when an Allocator is supplied with WithAllocator.
	MemoryLimitBytes int64
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Slots < 0 {
		return fmt.Errorf("%w: slot count must be positive, got %d", errors.ErrInvalidConfig, c.Slots)
	}
	if c.MaxPayloadBytes < 0 || int64(c.MaxPayloadBytes) > trace.MaxPayloadLength {
		return fmt.Errorf("%w: max payload bytes out of range: %d", errors.ErrInvalidConfig, c.MaxPayloadBytes)
	}
	if c.MemoryLimitBytes < 0 {
		return fmt.Errorf("%w: memory limit cannot be negative: %d", errors.ErrInvalidConfig, c.MemoryLimitBytes)
	}
	return nil
}

// Option customizes a Ring.
type Option func(*Ring)

// WithClock sets the timestamp source.
func WithClock(c buffer.Clock) Option {
	return func(r *Ring) { r.clock = c }
}

// WithObserver sets the diagnostics sink.
func WithObserver(o buffer.Observer) Option {
	return func(r *Ring) { r.observer = o }
}

// WithAllocator sets the slot allocator.
func WithAllocator(a Allocator) Option {
	return func(r *Ring) { r.alloc = a }
}

// Ring is a fixed-size circular queue of variably sized trace records.
//
// One mutex guards the cursors, the occupancy count and every slot. An
// explicit count separates the empty ring (count == 0) from the full ring
// (count == len(slots)), both of which have read == write. Records in
// [read, read+count) are always occupied.
type Ring struct {
	mu          sync.Mutex
	slots       []slot
	write       int
	read        int
	count       int
	queuedBytes int64
	allocated   int64
	closed      bool

	maxPayload int
	clock      buffer.Clock
	observer   buffer.Observer
	alloc      Allocator

	enqueued        uint64
	overwritten     uint64
	dropped         uint64
	drained         uint64
	drainedBytes    uint64
	allocFailures   uint64
	inconsistencies uint64
}

// New creates a ring with cfg.Slots empty slots and zeroed cursors.
func New(cfg Config, opts ...Option) (*Ring, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Slots == 0 {
		cfg.Slots = DefaultSlots
	}
	if cfg.MaxPayloadBytes == 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}

	r := &Ring{
		slots:      make([]slot, cfg.Slots),
		maxPayload: cfg.MaxPayloadBytes,
		clock:      buffer.SystemClock{},
		observer:   buffer.NopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.alloc == nil {
		r.alloc = NewBudgetAllocator(cfg.MemoryLimitBytes)
	}

	return r, nil
}

func (r *Ring) next(i int) int {
	i++
	if i == len(r.slots) {
		return 0
	}
	return i
}

// Enqueue appends one record to the tail of the ring.
//
// The record is timestamped under the lock, so records drain in
// non-decreasing timestamp order for a monotonic clock. When the ring is
// full the oldest unread record is overwritten and an overflow is reported.
// If the slot cannot be grown the record is dropped and an
// *errors.AllocationError is returned; the ring stays usable.
func (r *Ring) Enqueue(device trace.DeviceID, typ trace.RequestType, payload []byte) error {
	if len(payload) > r.maxPayload {
		return fmt.Errorf("%w: %d bytes (max %d)", errors.ErrPayloadTooLarge, len(payload), r.maxPayload)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.ErrBufferClosed
	}

	idx := r.write
	s := &r.slots[idx]
	full := r.count == len(r.slots)

	var lost trace.Header
	lostFootprint := 0
	if full && s.occupied {
		lost = s.header()
		lostFootprint = s.footprint()
	}

	before := s.allocated()
	err := s.encode(r.alloc, device, typ, r.clock.Now(), payload)
	r.allocated += int64(s.allocated() - before)

	if err != nil {
		r.allocFailures++
		r.dropped++
		if full {
			// The slot held the oldest unread record and has been emptied.
			r.read = r.next(r.read)
			r.count--
			r.queuedBytes -= int64(lostFootprint)
			r.overwritten++
		}
		r.mu.Unlock()

		allocErr := &errors.AllocationError{
			Slot:      idx,
			Requested: trace.Footprint(len(payload)),
			Limit:     r.allocLimit(),
			Err:       err,
		}
		r.observer.AllocationFailed(buffer.AllocationFailureEvent{
			Slot:       idx,
			DeviceID:   device,
			Type:       typ,
			Requested:  allocErr.Requested,
			LostUnread: full,
			Err:        allocErr,
		})
		return allocErr
	}

	r.write = r.next(idx)
	if full {
		r.read = r.write
		r.queuedBytes -= int64(lostFootprint)
		r.overwritten++
	} else {
		r.count++
	}
	r.queuedBytes += int64(s.footprint())
	r.enqueued++
	r.mu.Unlock()

	if full {
		r.observer.Overflow(buffer.OverflowEvent{Slot: idx, Lost: lost})
	}
	return nil
}

// Drain copies whole records, oldest first, into dst until the next record
// does not fit or the ring is empty, and returns the bytes written. A record
// is never split across calls. Drained slots keep their allocation.
func (r *Ring) Drain(dst []byte) int {
	r.mu.Lock()

	off := 0
	var records uint64
	var bad *buffer.InconsistencyEvent
	for r.count > 0 {
		s := &r.slots[r.read]
		if !s.occupied {
			r.inconsistencies++
			bad = &buffer.InconsistencyEvent{
				Slot:       r.read,
				ReadIndex:  r.read,
				WriteIndex: r.write,
				Records:    r.count,
			}
			break
		}

		n := s.footprint()
		if len(dst)-off < n {
			break
		}

		copy(dst[off:], s.data)
		s.occupied = false
		r.read = r.next(r.read)
		r.count--
		r.queuedBytes -= int64(n)
		off += n
		records++
	}
	r.drained += records
	r.drainedBytes += uint64(off)
	r.mu.Unlock()

	if bad != nil {
		r.observer.Inconsistency(*bad)
	}
	return off
}

// Stats returns current ring statistics.
func (r *Ring) Stats() buffer.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return buffer.Stats{
		Slots:              len(r.slots),
		Records:            r.count,
		QueuedBytes:        r.queuedBytes,
		AllocatedBytes:     r.allocated,
		ReadIndex:          r.read,
		WriteIndex:         r.write,
		Closed:             r.closed,
		Enqueued:           r.enqueued,
		Overwritten:        r.overwritten,
		Dropped:            r.dropped,
		Drained:            r.drained,
		DrainedBytes:       r.drainedBytes,
		AllocationFailures: r.allocFailures,
		Inconsistencies:    r.inconsistencies,
	}
}

// Len returns the number of queued records.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the slot count.
func (r *Ring) Cap() int {
	return len(r.slots)
}

// IsEmpty returns true if no records are queued.
func (r *Ring) IsEmpty() bool {
	return r.Len() == 0
}

// NextFootprint returns the encoded size of the oldest queued record, or 0
// when the ring is empty.
func (r *Ring) NextFootprint() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return 0
	}
	return r.slots[r.read].footprint()
}

// Reset releases every slot allocation and zeroes the cursors.
// Lifetime counters are kept.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

// Close releases every slot. Subsequent Enqueue calls fail with
// errors.ErrBufferClosed and Drain returns 0.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
	r.closed = true
}

// Closed reports whether Close has been called.
func (r *Ring) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Ring) reset() {
	for i := range r.slots {
		r.slots[i].release(r.alloc)
	}
	r.write = 0
	r.read = 0
	r.count = 0
	r.queuedBytes = 0
	r.allocated = 0
}

func (r *Ring) allocLimit() int64 {
	if b, ok := r.alloc.(*BudgetAllocator); ok {
		return b.Limit()
	}
	return 0
}
