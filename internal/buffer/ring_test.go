package buffer

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	apperrors "github.com/jittakal/bustrace/internal/errors"
	"github.com/jittakal/bustrace/pkg/buffer"
	"github.com/jittakal/bustrace/pkg/trace"
)

// stepClock returns 1000, 1001, 1002, ...
type stepClock struct {
	next atomic.Int64
}

func newStepClock() *stepClock {
	c := &stepClock{}
	c.next.Store(1000)
	return c
}

func (c *stepClock) Now() trace.Timestamp {
	return trace.Timestamp(c.next.Add(1) - 1)
}

// countingAllocator tracks every allocation and can be told to fail.
type countingAllocator struct {
	mu          sync.Mutex
	allocs      int
	frees       int
	outstanding int64
	fail        bool
}

func (a *countingAllocator) Alloc(size int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return nil, fmt.Errorf("%w: injected", apperrors.ErrAllocationFailed)
	}
	a.allocs++
	a.outstanding += int64(size)
	return make([]byte, 0, size), nil
}

func (a *countingAllocator) Free(b []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frees++
	a.outstanding -= int64(cap(b))
}

func (a *countingAllocator) setFail(v bool) {
	a.mu.Lock()
	a.fail = v
	a.mu.Unlock()
}

type recordingObserver struct {
	mu              sync.Mutex
	overflows       []buffer.OverflowEvent
	allocFailures   []buffer.AllocationFailureEvent
	inconsistencies []buffer.InconsistencyEvent
}

func (o *recordingObserver) Overflow(e buffer.OverflowEvent) {
	o.mu.Lock()
	o.overflows = append(o.overflows, e)
	o.mu.Unlock()
}

func (o *recordingObserver) AllocationFailed(e buffer.AllocationFailureEvent) {
	o.mu.Lock()
	o.allocFailures = append(o.allocFailures, e)
	o.mu.Unlock()
}

func (o *recordingObserver) Inconsistency(e buffer.InconsistencyEvent) {
	o.mu.Lock()
	o.inconsistencies = append(o.inconsistencies, e)
	o.mu.Unlock()
}

func newTestRing(t *testing.T, slots int, opts ...Option) *Ring {
	t.Helper()
	r, err := New(Config{Slots: slots, MaxPayloadBytes: 4096}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func mustEnqueue(t *testing.T, r *Ring, device trace.DeviceID, typ trace.RequestType, payload []byte) {
	t.Helper()
	if err := r.Enqueue(device, typ, payload); err != nil {
		t.Fatalf("Enqueue(%d) error = %v", device, err)
	}
}

func drainAll(t *testing.T, r *Ring) []trace.Record {
	t.Helper()
	dst := make([]byte, 1<<20)
	n := r.Drain(dst)
	records, err := trace.DecodeAll(dst[:n])
	if err != nil {
		t.Fatalf("DecodeAll() error = %v", err)
	}
	return records
}

func deviceIDs(records []trace.Record) []trace.DeviceID {
	ids := make([]trace.DeviceID, len(records))
	for i, rec := range records {
		ids[i] = rec.DeviceID
	}
	return ids
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		slots   int
	}{
		{name: "explicit slots", cfg: Config{Slots: 8}, slots: 8},
		{name: "defaults", cfg: Config{}, slots: DefaultSlots},
		{name: "negative slots", cfg: Config{Slots: -1}, wantErr: true},
		{name: "negative payload", cfg: Config{Slots: 4, MaxPayloadBytes: -1}, wantErr: true},
		{name: "negative memory limit", cfg: Config{Slots: 4, MemoryLimitBytes: -5}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.cfg)
			if tt.wantErr {
				if !errors.Is(err, apperrors.ErrInvalidConfig) {
					t.Fatalf("New() error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if r.Cap() != tt.slots {
				t.Errorf("Cap() = %d, want %d", r.Cap(), tt.slots)
			}
			if !r.IsEmpty() {
				t.Error("new ring should be empty")
			}
			stats := r.Stats()
			if stats.ReadIndex != 0 || stats.WriteIndex != 0 {
				t.Errorf("cursors = (%d, %d), want (0, 0)", stats.ReadIndex, stats.WriteIndex)
			}
		})
	}
}

func TestRing_RoundTrip(t *testing.T) {
	r := newTestRing(t, 64, WithClock(newStepClock()))

	for size := 0; size < 40; size++ {
		payload := bytes.Repeat([]byte{byte(size)}, size)
		mustEnqueue(t, r, trace.DeviceID(size), trace.RequestWrite, payload)
	}

	records := drainAll(t, r)
	if len(records) != 40 {
		t.Fatalf("drained %d records, want 40", len(records))
	}
	for i, rec := range records {
		if rec.DeviceID != trace.DeviceID(i) {
			t.Errorf("record %d: DeviceID = %d", i, rec.DeviceID)
		}
		if rec.Type != trace.RequestWrite {
			t.Errorf("record %d: Type = %v", i, rec.Type)
		}
		if rec.Timestamp != trace.Timestamp(1000+i) {
			t.Errorf("record %d: Timestamp = %d, want %d", i, rec.Timestamp, 1000+i)
		}
		if !bytes.Equal(rec.Payload, bytes.Repeat([]byte{byte(i)}, i)) {
			t.Errorf("record %d: payload mismatch", i)
		}
	}
	if !r.IsEmpty() {
		t.Error("ring should be empty after full drain")
	}
}

func TestRing_MaxPayload(t *testing.T) {
	r, err := New(Config{Slots: 4, MaxPayloadBytes: 16})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := r.Enqueue(1, trace.RequestRead, make([]byte, 16)); err != nil {
		t.Fatalf("Enqueue at limit error = %v", err)
	}
	err = r.Enqueue(1, trace.RequestRead, make([]byte, 17))
	if !errors.Is(err, apperrors.ErrPayloadTooLarge) {
		t.Fatalf("Enqueue over limit error = %v, want ErrPayloadTooLarge", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRing_OverflowOverwritesOldest(t *testing.T) {
	obs := &recordingObserver{}
	r := newTestRing(t, 4, WithObserver(obs))

	for id := trace.DeviceID(1); id <= 4; id++ {
		mustEnqueue(t, r, id, trace.RequestRead, []byte("x"))
	}
	if len(obs.overflows) != 0 {
		t.Fatalf("filling the ring reported %d overflows, want 0", len(obs.overflows))
	}
	if r.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", r.Len())
	}

	mustEnqueue(t, r, 5, trace.RequestRead, []byte("x"))
	if len(obs.overflows) != 1 {
		t.Fatalf("overflows = %d, want 1", len(obs.overflows))
	}
	if obs.overflows[0].Lost.DeviceID != 1 {
		t.Errorf("lost DeviceID = %d, want 1", obs.overflows[0].Lost.DeviceID)
	}

	stats := r.Stats()
	if stats.Records != 4 || stats.Overwritten != 1 {
		t.Errorf("Records = %d, Overwritten = %d, want 4, 1", stats.Records, stats.Overwritten)
	}
	if stats.ReadIndex != stats.WriteIndex {
		t.Errorf("full ring cursors differ: read=%d write=%d", stats.ReadIndex, stats.WriteIndex)
	}

	got := deviceIDs(drainAll(t, r))
	want := []trace.DeviceID{2, 3, 4, 5}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("drained devices = %v, want %v", got, want)
	}
}

func TestRing_OverflowManyTimes(t *testing.T) {
	obs := &recordingObserver{}
	r := newTestRing(t, 3, WithObserver(obs))

	for id := trace.DeviceID(1); id <= 10; id++ {
		mustEnqueue(t, r, id, trace.RequestRead, nil)
	}
	if len(obs.overflows) != 7 {
		t.Errorf("overflows = %d, want 7", len(obs.overflows))
	}

	got := deviceIDs(drainAll(t, r))
	want := []trace.DeviceID{8, 9, 10}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("drained devices = %v, want %v", got, want)
	}
}

func TestRing_DrainExactCapacity(t *testing.T) {
	r := newTestRing(t, 4)
	payload := []byte("0123456789")
	footprint := trace.Footprint(len(payload))

	for id := trace.DeviceID(1); id <= 4; id++ {
		mustEnqueue(t, r, id, trace.RequestWrite, payload)
	}

	dst := make([]byte, 4*footprint)
	if n := r.Drain(dst); n != 4*footprint {
		t.Fatalf("Drain() = %d, want %d", n, 4*footprint)
	}
	if !r.IsEmpty() {
		t.Error("ring should be empty")
	}
	if n := r.Drain(dst); n != 0 {
		t.Errorf("Drain() on empty ring = %d, want 0", n)
	}
}

func TestRing_DrainStopsAtRecordBoundary(t *testing.T) {
	r := newTestRing(t, 4)
	payload := []byte("abcdef")
	footprint := trace.Footprint(len(payload))

	for id := trace.DeviceID(1); id <= 3; id++ {
		mustEnqueue(t, r, id, trace.RequestWrite, payload)
	}

	dst := make([]byte, 2*footprint+footprint-1)
	n := r.Drain(dst)
	if n != 2*footprint {
		t.Fatalf("Drain() = %d, want %d", n, 2*footprint)
	}
	records, err := trace.DecodeAll(dst[:n])
	if err != nil {
		t.Fatalf("DecodeAll() error = %v", err)
	}
	if got := deviceIDs(records); fmt.Sprint(got) != "[1 2]" {
		t.Errorf("drained devices = %v, want [1 2]", got)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if r.NextFootprint() != footprint {
		t.Errorf("NextFootprint() = %d, want %d", r.NextFootprint(), footprint)
	}
}

func TestConfig_ValidatePayloadLimit(t *testing.T) {
	if err := (Config{Slots: 4, MaxPayloadBytes: 4096}).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	tooLarge := trace.MaxPayloadLength + 1
	if int64(int(tooLarge)) != tooLarge {
		t.Skip("int cannot hold a payload length above the wire limit")
	}
	err := Config{Slots: 4, MaxPayloadBytes: int(tooLarge)}.Validate()
	if !errors.Is(err, apperrors.ErrInvalidConfig) {
		t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
	}
}

func TestRing_DrainTooSmall(t *testing.T) {
	r := newTestRing(t, 4)
	mustEnqueue(t, r, 1, trace.RequestRead, []byte("payload"))
	before := r.Stats()

	dst := make([]byte, trace.HeaderSize)
	for i := 0; i < 3; i++ {
		if n := r.Drain(dst); n != 0 {
			t.Fatalf("Drain() = %d, want 0", n)
		}
	}

	after := r.Stats()
	if after.Records != before.Records || after.ReadIndex != before.ReadIndex || after.QueuedBytes != before.QueuedBytes {
		t.Errorf("undersized drain changed state: before %+v after %+v", before, after)
	}
	if n := r.Drain(nil); n != 0 {
		t.Errorf("Drain(nil) = %d, want 0", n)
	}
}

func TestRing_DrainTooSmallKeepsOrder(t *testing.T) {
	r := newTestRing(t, 4)
	mustEnqueue(t, r, 1, trace.RequestRead, []byte("first record"))
	mustEnqueue(t, r, 2, trace.RequestWrite, []byte("second"))
	mustEnqueue(t, r, 3, trace.RequestPnP, nil)

	// One byte short of the first record: nothing moves.
	if n := r.Drain(make([]byte, trace.Footprint(len("first record"))-1)); n != 0 {
		t.Fatalf("Drain() = %d, want 0", n)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	// Room for the first two records but not the third.
	dst := make([]byte, trace.Footprint(len("first record"))+trace.Footprint(len("second"))+trace.HeaderSize-1)
	n := r.Drain(dst)
	records, err := trace.DecodeAll(dst[:n])
	if err != nil {
		t.Fatalf("DecodeAll() error = %v", err)
	}
	if got := deviceIDs(records); fmt.Sprint(got) != "[1 2]" {
		t.Fatalf("drained devices = %v, want [1 2]", got)
	}
	if string(records[0].Payload) != "first record" || string(records[1].Payload) != "second" {
		t.Errorf("payloads = %q, %q", records[0].Payload, records[1].Payload)
	}

	rest := drainAll(t, r)
	if got := deviceIDs(rest); fmt.Sprint(got) != "[3]" {
		t.Errorf("remaining devices = %v, want [3]", got)
	}
}

func TestRing_QueuedBytes(t *testing.T) {
	r := newTestRing(t, 2)
	mustEnqueue(t, r, 1, trace.RequestRead, make([]byte, 10))
	mustEnqueue(t, r, 2, trace.RequestRead, make([]byte, 20))

	want := int64(trace.Footprint(10) + trace.Footprint(20))
	if got := r.Stats().QueuedBytes; got != want {
		t.Errorf("QueuedBytes = %d, want %d", got, want)
	}

	mustEnqueue(t, r, 3, trace.RequestRead, make([]byte, 5))
	want = int64(trace.Footprint(20) + trace.Footprint(5))
	if got := r.Stats().QueuedBytes; got != want {
		t.Errorf("QueuedBytes after overflow = %d, want %d", got, want)
	}

	drainAll(t, r)
	if got := r.Stats().QueuedBytes; got != 0 {
		t.Errorf("QueuedBytes after drain = %d, want 0", got)
	}
}

func TestRing_SlotReuse(t *testing.T) {
	alloc := &countingAllocator{}
	r := newTestRing(t, 4, WithAllocator(alloc))

	for round := 0; round < 5; round++ {
		for id := trace.DeviceID(1); id <= 4; id++ {
			mustEnqueue(t, r, id, trace.RequestRead, make([]byte, 32))
		}
		drainAll(t, r)
	}
	if alloc.allocs != 4 {
		t.Errorf("allocs = %d, want 4", alloc.allocs)
	}

	// Smaller records fit in the existing allocation.
	for id := trace.DeviceID(1); id <= 4; id++ {
		mustEnqueue(t, r, id, trace.RequestRead, make([]byte, 8))
	}
	drainAll(t, r)
	if alloc.allocs != 4 || alloc.frees != 0 {
		t.Errorf("after smaller records allocs = %d, frees = %d, want 4, 0", alloc.allocs, alloc.frees)
	}

	// A larger record replaces the allocation of its slot only.
	mustEnqueue(t, r, 9, trace.RequestRead, make([]byte, 64))
	if alloc.allocs != 5 || alloc.frees != 1 {
		t.Errorf("after larger record allocs = %d, frees = %d, want 5, 1", alloc.allocs, alloc.frees)
	}
	if got := r.Stats().AllocatedBytes; got != alloc.outstanding {
		t.Errorf("AllocatedBytes = %d, allocator outstanding = %d", got, alloc.outstanding)
	}

	r.Close()
	if alloc.outstanding != 0 {
		t.Errorf("outstanding after Close = %d, want 0", alloc.outstanding)
	}
	if alloc.allocs != alloc.frees {
		t.Errorf("allocs = %d, frees = %d, want equal", alloc.allocs, alloc.frees)
	}
}

func TestRing_AllocationFailure(t *testing.T) {
	alloc := &countingAllocator{}
	obs := &recordingObserver{}
	r := newTestRing(t, 4, WithAllocator(alloc), WithObserver(obs))

	mustEnqueue(t, r, 1, trace.RequestRead, []byte("a"))
	alloc.setFail(true)

	err := r.Enqueue(2, trace.RequestWrite, []byte("b"))
	var allocErr *apperrors.AllocationError
	if !errors.As(err, &allocErr) {
		t.Fatalf("Enqueue() error = %v, want *AllocationError", err)
	}
	if !errors.Is(err, apperrors.ErrAllocationFailed) {
		t.Error("error should match ErrAllocationFailed")
	}
	if allocErr.Slot != 1 {
		t.Errorf("Slot = %d, want 1", allocErr.Slot)
	}

	stats := r.Stats()
	if stats.Records != 1 || stats.WriteIndex != 1 || stats.Dropped != 1 || stats.AllocationFailures != 1 {
		t.Errorf("stats after failure = %+v", stats)
	}
	if len(obs.allocFailures) != 1 || obs.allocFailures[0].LostUnread {
		t.Fatalf("allocation events = %+v", obs.allocFailures)
	}
	if obs.allocFailures[0].DeviceID != 2 {
		t.Errorf("event DeviceID = %d, want 2", obs.allocFailures[0].DeviceID)
	}

	// The ring keeps working once memory is available again.
	alloc.setFail(false)
	mustEnqueue(t, r, 3, trace.RequestRead, []byte("c"))
	if got := deviceIDs(drainAll(t, r)); fmt.Sprint(got) != "[1 3]" {
		t.Errorf("drained devices = %v, want [1 3]", got)
	}
}

func TestRing_AllocationFailureWhenFull(t *testing.T) {
	alloc := &countingAllocator{}
	obs := &recordingObserver{}
	r := newTestRing(t, 2, WithAllocator(alloc), WithObserver(obs))

	mustEnqueue(t, r, 1, trace.RequestRead, []byte("a"))
	mustEnqueue(t, r, 2, trace.RequestRead, []byte("b"))

	alloc.setFail(true)
	// The larger payload needs a new allocation for slot 0, which held record 1.
	if err := r.Enqueue(3, trace.RequestRead, make([]byte, 100)); err == nil {
		t.Fatal("Enqueue() should fail")
	}
	if len(obs.allocFailures) != 1 || !obs.allocFailures[0].LostUnread {
		t.Fatalf("allocation events = %+v, want one with LostUnread", obs.allocFailures)
	}

	stats := r.Stats()
	if stats.Records != 1 || stats.Overwritten != 1 {
		t.Errorf("Records = %d, Overwritten = %d, want 1, 1", stats.Records, stats.Overwritten)
	}
	if stats.WriteIndex != 0 || stats.ReadIndex != 1 {
		t.Errorf("cursors = read %d write %d, want read 1 write 0", stats.ReadIndex, stats.WriteIndex)
	}
	if stats.AllocatedBytes != alloc.outstanding {
		t.Errorf("AllocatedBytes = %d, allocator outstanding = %d", stats.AllocatedBytes, alloc.outstanding)
	}

	alloc.setFail(false)
	mustEnqueue(t, r, 4, trace.RequestRead, []byte("d"))
	if got := deviceIDs(drainAll(t, r)); fmt.Sprint(got) != "[2 4]" {
		t.Errorf("drained devices = %v, want [2 4]", got)
	}
}

func TestRing_MemoryLimit(t *testing.T) {
	payload := make([]byte, 10)
	limit := int64(2 * trace.Footprint(len(payload)))
	r, err := New(Config{Slots: 4, MaxPayloadBytes: 64, MemoryLimitBytes: limit})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	mustEnqueue(t, r, 1, trace.RequestRead, payload)
	mustEnqueue(t, r, 2, trace.RequestRead, payload)

	err = r.Enqueue(3, trace.RequestRead, payload)
	var allocErr *apperrors.AllocationError
	if !errors.As(err, &allocErr) {
		t.Fatalf("Enqueue() error = %v, want *AllocationError", err)
	}
	if allocErr.Limit != limit {
		t.Errorf("Limit = %d, want %d", allocErr.Limit, limit)
	}

	// Drained slots keep their allocation.
	drainAll(t, r)
	if got := r.Stats().AllocatedBytes; got != limit {
		t.Errorf("AllocatedBytes = %d, want %d", got, limit)
	}
}

func TestRing_Inconsistency(t *testing.T) {
	obs := &recordingObserver{}
	r := newTestRing(t, 4, WithObserver(obs))

	mustEnqueue(t, r, 1, trace.RequestRead, []byte("a"))
	mustEnqueue(t, r, 2, trace.RequestRead, []byte("b"))

	r.mu.Lock()
	r.slots[r.read].occupied = false
	r.mu.Unlock()

	if n := r.Drain(make([]byte, 1024)); n != 0 {
		t.Fatalf("Drain() = %d, want 0", n)
	}
	if len(obs.inconsistencies) != 1 {
		t.Fatalf("inconsistencies = %d, want 1", len(obs.inconsistencies))
	}
	ev := obs.inconsistencies[0]
	if ev.Slot != 0 || ev.Records != 2 {
		t.Errorf("event = %+v", ev)
	}
	if got := r.Stats().Inconsistencies; got != 1 {
		t.Errorf("Inconsistencies = %d, want 1", got)
	}

	r.Reset()
	mustEnqueue(t, r, 3, trace.RequestRead, []byte("c"))
	if got := deviceIDs(drainAll(t, r)); fmt.Sprint(got) != "[3]" {
		t.Errorf("drained devices after Reset = %v, want [3]", got)
	}
}

func TestRing_Reset(t *testing.T) {
	alloc := &countingAllocator{}
	r := newTestRing(t, 4, WithAllocator(alloc))

	for id := trace.DeviceID(1); id <= 6; id++ {
		mustEnqueue(t, r, id, trace.RequestRead, []byte("data"))
	}
	r.Reset()

	stats := r.Stats()
	if stats.Records != 0 || stats.ReadIndex != 0 || stats.WriteIndex != 0 || stats.AllocatedBytes != 0 {
		t.Errorf("stats after Reset = %+v", stats)
	}
	if stats.Enqueued != 6 {
		t.Errorf("Enqueued = %d, lifetime counters should survive Reset", stats.Enqueued)
	}
	if alloc.outstanding != 0 {
		t.Errorf("outstanding = %d, want 0", alloc.outstanding)
	}

	mustEnqueue(t, r, 7, trace.RequestRead, nil)
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRing_Close(t *testing.T) {
	r := newTestRing(t, 4)
	mustEnqueue(t, r, 1, trace.RequestRead, []byte("a"))

	r.Close()
	r.Close()

	if !r.Closed() {
		t.Error("Closed() = false")
	}
	if err := r.Enqueue(2, trace.RequestRead, nil); !errors.Is(err, apperrors.ErrBufferClosed) {
		t.Errorf("Enqueue() after Close error = %v, want ErrBufferClosed", err)
	}
	if n := r.Drain(make([]byte, 1024)); n != 0 {
		t.Errorf("Drain() after Close = %d, want 0", n)
	}
	if !r.Stats().Closed {
		t.Error("Stats().Closed = false")
	}
}

func TestRing_TimestampsNonDecreasing(t *testing.T) {
	r := newTestRing(t, 256)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = r.Enqueue(trace.DeviceID(p), trace.RequestRead, []byte{byte(i)})
			}
		}(p)
	}
	wg.Wait()

	records := drainAll(t, r)
	if len(records) != 200 {
		t.Fatalf("drained %d records, want 200", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp < records[i-1].Timestamp {
			t.Fatalf("record %d timestamp %d before previous %d", i, records[i].Timestamp, records[i-1].Timestamp)
		}
	}
}

func TestRing_ConcurrentProducersAndDrain(t *testing.T) {
	const (
		producers = 8
		perWorker = 500
	)
	r := newTestRing(t, 64, WithClock(newStepClock()))

	var drained atomic.Int64
	done := make(chan struct{})
	drainerDone := make(chan struct{})

	go func() {
		defer close(drainerDone)
		dst := make([]byte, 4096)
		for {
			n := r.Drain(dst)
			if n > 0 {
				records, err := trace.DecodeAll(dst[:n])
				if err != nil {
					t.Errorf("DecodeAll() error = %v", err)
					return
				}
				drained.Add(int64(len(records)))
				continue
			}
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := r.Enqueue(trace.DeviceID(p), trace.RequestWrite, make([]byte, i%50)); err != nil {
					t.Errorf("Enqueue() error = %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()
	close(done)
	<-drainerDone

	drained.Add(int64(len(drainAll(t, r))))

	stats := r.Stats()
	if stats.Enqueued != producers*perWorker {
		t.Errorf("Enqueued = %d, want %d", stats.Enqueued, producers*perWorker)
	}
	if got := uint64(drained.Load()) + stats.Overwritten; got != stats.Enqueued {
		t.Errorf("drained %d + overwritten %d != enqueued %d", drained.Load(), stats.Overwritten, stats.Enqueued)
	}
	if stats.Inconsistencies != 0 {
		t.Errorf("Inconsistencies = %d, want 0", stats.Inconsistencies)
	}
}
