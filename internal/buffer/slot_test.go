package buffer

import (
	"bytes"
	"testing"

	"github.com/jittakal/bustrace/pkg/trace"
)

// shortAllocator hands out less capacity than requested.
type shortAllocator struct {
	freed int
}

func (a *shortAllocator) Alloc(size int) ([]byte, error) { return make([]byte, 0, size/2), nil }
func (a *shortAllocator) Free([]byte)                    { a.freed++ }

func TestSlot_Encode(t *testing.T) {
	alloc := &countingAllocator{}
	var s slot

	if err := s.encode(alloc, 7, trace.RequestDeviceControl, 99, []byte("hello")); err != nil {
		t.Fatalf("encode() error = %v", err)
	}
	if !s.occupied {
		t.Fatal("slot should be occupied")
	}
	if s.footprint() != trace.Footprint(5) {
		t.Errorf("footprint() = %d, want %d", s.footprint(), trace.Footprint(5))
	}

	rec, n, err := trace.Decode(s.data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if n != s.footprint() || rec.DeviceID != 7 || rec.Type != trace.RequestDeviceControl || rec.Timestamp != 99 {
		t.Errorf("decoded %+v (%d bytes)", rec, n)
	}
	if !bytes.Equal(rec.Payload, []byte("hello")) {
		t.Errorf("payload = %q", rec.Payload)
	}
	if hdr := s.header(); hdr.DeviceID != 7 || hdr.PayloadLength != 5 {
		t.Errorf("header() = %+v", hdr)
	}
}

func TestSlot_CapacityNeverShrinks(t *testing.T) {
	alloc := &countingAllocator{}
	var s slot

	if err := s.encode(alloc, 1, trace.RequestRead, 1, make([]byte, 100)); err != nil {
		t.Fatalf("encode() error = %v", err)
	}
	capacity := s.allocated()

	if err := s.encode(alloc, 1, trace.RequestRead, 2, make([]byte, 3)); err != nil {
		t.Fatalf("encode() error = %v", err)
	}
	if s.allocated() != capacity {
		t.Errorf("allocated() = %d, want %d", s.allocated(), capacity)
	}
	if s.footprint() != trace.Footprint(3) {
		t.Errorf("footprint() = %d, want %d", s.footprint(), trace.Footprint(3))
	}
	if alloc.allocs != 1 {
		t.Errorf("allocs = %d, want 1", alloc.allocs)
	}
}

func TestSlot_ShortAllocation(t *testing.T) {
	alloc := &shortAllocator{}
	var s slot

	if err := s.encode(alloc, 1, trace.RequestRead, 1, make([]byte, 10)); err == nil {
		t.Fatal("encode() should fail when the allocator returns too little")
	}
	if s.occupied || s.data != nil {
		t.Error("failed encode should leave the slot empty")
	}
	if alloc.freed != 1 {
		t.Errorf("freed = %d, want 1", alloc.freed)
	}
}

func TestSlot_Release(t *testing.T) {
	alloc := &countingAllocator{}
	var s slot

	s.release(alloc)
	if alloc.frees != 0 {
		t.Error("releasing an empty slot should not call Free")
	}

	if err := s.encode(alloc, 1, trace.RequestRead, 1, []byte("x")); err != nil {
		t.Fatalf("encode() error = %v", err)
	}
	s.release(alloc)
	if s.occupied || s.data != nil || alloc.outstanding != 0 {
		t.Errorf("after release occupied=%v data=%v outstanding=%d", s.occupied, s.data, alloc.outstanding)
	}
}
