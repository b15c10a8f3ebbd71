package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Wire layout of one encoded record. All fields are little-endian and
// records are packed back to back with no padding.
const (
	offDeviceID  = 0
	offType      = 4
	offTimestamp = 8
	offLength    = 16

	// HeaderSize is the fixed size of the record header.
	HeaderSize = 20

	// MaxPayloadLength is the largest payload the length field can describe.
	MaxPayloadLength int64 = math.MaxUint32
)

// ErrMalformedRecord is returned when a drained region cannot be decoded.
var ErrMalformedRecord = errors.New("malformed trace record")

// DecodeError describes where decoding a drained region failed.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: offset=%d: %s", e.Offset, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrMalformedRecord
}

// Footprint returns the encoded size of a record carrying payloadLen bytes.
func Footprint(payloadLen int) int {
	return HeaderSize + payloadLen
}

// PutHeader writes a record header into dst, which must hold HeaderSize bytes.
func PutHeader(dst []byte, device DeviceID, typ RequestType, ts Timestamp, payloadLen int) {
	_ = dst[HeaderSize-1]
	binary.LittleEndian.PutUint32(dst[offDeviceID:], uint32(device))
	binary.LittleEndian.PutUint32(dst[offType:], uint32(typ))
	binary.LittleEndian.PutUint64(dst[offTimestamp:], uint64(ts))
	binary.LittleEndian.PutUint32(dst[offLength:], uint32(payloadLen))
}

// PayloadLength reads the payload length field of an encoded header.
func PayloadLength(hdr []byte) int {
	return int(binary.LittleEndian.Uint32(hdr[offLength:]))
}

// AppendRecord appends the encoded form of r to dst.
func AppendRecord(dst []byte, r Record) []byte {
	var hdr [HeaderSize]byte
	PutHeader(hdr[:], r.DeviceID, r.Type, r.Timestamp, len(r.Payload))
	dst = append(dst, hdr[:]...)
	return append(dst, r.Payload...)
}

// Header is the fixed-size prefix of an encoded record.
type Header struct {
	DeviceID      DeviceID
	Type          RequestType
	Timestamp     Timestamp
	PayloadLength int
}

// ReadHeader decodes the header at the start of src.
func ReadHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, &DecodeError{Reason: fmt.Sprintf("truncated header: %d bytes", len(src))}
	}
	return Header{
		DeviceID:      DeviceID(binary.LittleEndian.Uint32(src[offDeviceID:])),
		Type:          RequestType(binary.LittleEndian.Uint32(src[offType:])),
		Timestamp:     Timestamp(binary.LittleEndian.Uint64(src[offTimestamp:])),
		PayloadLength: PayloadLength(src),
	}, nil
}

// Decode decodes the first record in src and returns it together with the
// number of bytes consumed. The returned payload is a copy.
func Decode(src []byte) (Record, int, error) {
	hdr, err := ReadHeader(src)
	if err != nil {
		return Record{}, 0, err
	}

	n := hdr.PayloadLength
	if n > len(src)-HeaderSize {
		return Record{}, 0, &DecodeError{
			Reason: fmt.Sprintf("truncated payload: want %d bytes, have %d", n, len(src)-HeaderSize),
		}
	}

	payload := make([]byte, n)
	copy(payload, src[HeaderSize:HeaderSize+n])

	return Record{
		DeviceID:  hdr.DeviceID,
		Type:      hdr.Type,
		Timestamp: hdr.Timestamp,
		Payload:   payload,
	}, HeaderSize + n, nil
}

// DecodeAll decodes every record in a drained region.
// Records decoded before an error are returned along with it.
func DecodeAll(src []byte) ([]Record, error) {
	var records []Record
	sc := NewScanner(src)
	for sc.Next() {
		rec := sc.Record()
		rec.Payload = append([]byte(nil), rec.Payload...)
		records = append(records, rec)
	}
	return records, sc.Err()
}

// Scanner walks the records of a drained region without copying payloads.
//
//	sc := trace.NewScanner(region)
//	for sc.Next() {
//		rec := sc.Record()
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	src []byte
	off int
	rec Record
	err error
}

// NewScanner creates a scanner over src.
func NewScanner(src []byte) *Scanner {
	return &Scanner{src: src}
}

// Next advances to the next record. It returns false at the end of the
// region or on the first malformed record.
func (s *Scanner) Next() bool {
	if s.err != nil || s.off >= len(s.src) {
		return false
	}

	hdr, err := ReadHeader(s.src[s.off:])
	if err == nil && hdr.PayloadLength > len(s.src)-s.off-HeaderSize {
		err = &DecodeError{
			Reason: fmt.Sprintf("truncated payload: want %d bytes, have %d",
				hdr.PayloadLength, len(s.src)-s.off-HeaderSize),
		}
	}
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Offset = s.off
		}
		s.err = err
		return false
	}

	start := s.off + HeaderSize
	end := start + hdr.PayloadLength
	s.rec = Record{
		DeviceID:  hdr.DeviceID,
		Type:      hdr.Type,
		Timestamp: hdr.Timestamp,
		Payload:   s.src[start:end:end],
	}
	s.off = end
	return true
}

// Record returns the current record. Its payload aliases the scanned region.
func (s *Scanner) Record() Record {
	return s.rec
}

// Offset returns the number of bytes consumed so far.
func (s *Scanner) Offset() int {
	return s.off
}

// Err returns the decode error that stopped the scan, if any.
func (s *Scanner) Err() error {
	return s.err
}
