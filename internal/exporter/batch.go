package exporter

import (
	"sort"
	"sync"
	"time"

	"github.com/jittakal/bustrace/pkg/trace"
)

// deviceBatch accumulates decoded records for one device until the rotation
// policy flushes them. It tracks the first write time for age-based rotation.
type deviceBatch struct {
	device         trace.DeviceID
	records        []trace.Record
	stats          trace.Stats
	firstWriteTime time.Time
	mu             sync.Mutex
}

func newDeviceBatch(device trace.DeviceID) *deviceBatch {
	return &deviceBatch{device: device}
}

// add appends a record.
func (b *deviceBatch) add(record trace.Record, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) == 0 {
		b.firstWriteTime = now
	}
	b.records = append(b.records, record)
	b.stats.Add(record)
}

// snapshot returns the current stats and how long the batch has been open.
func (b *deviceBatch) snapshot(now time.Time) (trace.Stats, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) == 0 {
		return trace.Stats{}, 0
	}
	return b.stats, now.Sub(b.firstWriteTime)
}

// take removes and returns all records. The returned slice is owned by the
// caller.
func (b *deviceBatch) take() []trace.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := b.records
	b.records = nil
	b.stats = trace.Stats{}
	b.firstWriteTime = time.Time{}
	return records
}

// batchSet holds one pending batch per device, created on demand.
// Uses double-checked locking so concurrent lookups of existing devices only
// take the read lock.
type batchSet struct {
	batches map[trace.DeviceID]*deviceBatch
	mu      sync.RWMutex
}

func newBatchSet() *batchSet {
	return &batchSet{batches: make(map[trace.DeviceID]*deviceBatch)}
}

// getOrCreate returns the batch for the device, creating it if needed.
func (s *batchSet) getOrCreate(device trace.DeviceID) *deviceBatch {
	s.mu.RLock()
	b, exists := s.batches[device]
	s.mu.RUnlock()

	if exists {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if b, exists := s.batches[device]; exists {
		return b
	}

	b = newDeviceBatch(device)
	s.batches[device] = b
	return b
}

// removeIfEmpty drops the device's batch when it holds no records, so
// devices that stop reporting are not walked on every flush.
func (s *batchSet) removeIfEmpty(device trace.DeviceID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.batches[device]
	if !exists {
		return
	}
	b.mu.Lock()
	empty := len(b.records) == 0
	b.mu.Unlock()
	if empty {
		delete(s.batches, device)
	}
}

// devices returns the known devices in ascending order.
func (s *batchSet) devices() []trace.DeviceID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]trace.DeviceID, 0, len(s.batches))
	for id := range s.batches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// pending returns the number of records waiting across all devices.
func (s *batchSet) pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, b := range s.batches {
		b.mu.Lock()
		n += len(b.records)
		b.mu.Unlock()
	}
	return n
}
