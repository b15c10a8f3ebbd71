package buffer

import (
	"fmt"

	"github.com/jittakal/bustrace/internal/errors"
	"github.com/jittakal/bustrace/pkg/trace"
)

// slot is one reusable ring cell. cap(data) is the allocated size; len(data)
// is the footprint of the record currently held. A drained slot keeps its
// allocation for the next write.
type slot struct {
	data     []byte
	occupied bool
}

// encode writes a record into the slot, reusing the allocation when it is
// large enough and replacing it otherwise. Capacity never shrinks.
// On failure the slot is left empty with no allocation.
func (s *slot) encode(alloc Allocator, device trace.DeviceID, typ trace.RequestType, ts trace.Timestamp, payload []byte) error {
	required := trace.Footprint(len(payload))

	s.occupied = false
	if s.data != nil && cap(s.data) < required {
		s.release(alloc)
	}

	if s.data == nil {
		b, err := alloc.Alloc(required)
		if err != nil {
			return err
		}
		if cap(b) < required {
			alloc.Free(b)
			return fmt.Errorf("%w: allocator returned %d bytes, need %d",
				errors.ErrAllocationFailed, cap(b), required)
		}
		s.data = b
	}

	s.data = s.data[:required]
	trace.PutHeader(s.data, device, typ, ts, len(payload))
	copy(s.data[trace.HeaderSize:], payload)
	s.occupied = true
	return nil
}

// header decodes the header of the record held by an occupied slot.
func (s *slot) header() trace.Header {
	hdr, _ := trace.ReadHeader(s.data)
	return hdr
}

// footprint returns the encoded size of the held record.
func (s *slot) footprint() int {
	return len(s.data)
}

// allocated returns the slot's backing capacity.
func (s *slot) allocated() int {
	return cap(s.data)
}

func (s *slot) release(alloc Allocator) {
	if s.data != nil {
		alloc.Free(s.data[:0:cap(s.data)])
	}
	s.data = nil
	s.occupied = false
}
