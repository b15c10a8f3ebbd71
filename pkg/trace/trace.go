package trace

import (
	"fmt"
	"strings"
	"time"
)

// DeviceID identifies the device an I/O request was captured on.
type DeviceID uint32

// RequestType tags the kind of bus request a record was captured from.
type RequestType uint32

// Known request types. Unknown tags are preserved by the codec.
const (
	RequestUnknown RequestType = iota
	RequestRead
	RequestWrite
	RequestDeviceControl
	RequestInternalDeviceControl
	RequestPnP
)

var requestTypeNames = map[RequestType]string{
	RequestRead:                  "read",
	RequestWrite:                 "write",
	RequestDeviceControl:         "device_control",
	RequestInternalDeviceControl: "internal_device_control",
	RequestPnP:                   "pnp",
}

// String returns the lower-case name of the request type.
func (t RequestType) String() string {
	if name, ok := requestTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint32(t))
}

// Known reports whether t is one of the defined request types.
func (t RequestType) Known() bool {
	_, ok := requestTypeNames[t]
	return ok
}

// ParseRequestType converts a request type name (case-insensitive) to its tag.
func ParseRequestType(name string) (RequestType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range requestTypeNames {
		if n == name {
			return t, nil
		}
	}
	return RequestUnknown, fmt.Errorf("unknown request type: %q", name)
}

// RequestTypes returns all known request types in tag order.
func RequestTypes() []RequestType {
	return []RequestType{
		RequestRead,
		RequestWrite,
		RequestDeviceControl,
		RequestInternalDeviceControl,
		RequestPnP,
	}
}

// Timestamp is a capture time in nanoseconds since the Unix epoch.
type Timestamp int64

// FromTime converts t to a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixNano())
}

// Time returns the timestamp as a UTC time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(0, int64(ts)).UTC()
}

// Record is one captured bus I/O snapshot.
// A record is immutable once it has been written into a ring slot.
type Record struct {
	DeviceID  DeviceID
	Type      RequestType
	Timestamp Timestamp
	Payload   []byte
}

// Footprint returns the encoded size of the record in bytes.
func (r Record) Footprint() int {
	return Footprint(len(r.Payload))
}

// Capture is a record offered for enqueue, before the ring timestamps it.
type Capture struct {
	DeviceID DeviceID
	Type     RequestType
	Payload  []byte
}

// Batch is a group of drained records from one device, exported together.
type Batch struct {
	ID         string
	DeviceID   DeviceID
	Records    []Record
	ExportedAt time.Time
}

// Stats summarizes the batch.
func (b *Batch) Stats() Stats {
	var s Stats
	for _, r := range b.Records {
		s.Add(r)
	}
	return s
}

// Stats summarizes a batch of decoded records.
type Stats struct {
	RecordCount    int
	SizeBytes      int64
	FirstTimestamp Timestamp
	LastTimestamp  Timestamp
}

// Add folds a record into the stats.
func (s *Stats) Add(r Record) {
	if s.RecordCount == 0 || r.Timestamp < s.FirstTimestamp {
		s.FirstTimestamp = r.Timestamp
	}
	if r.Timestamp > s.LastTimestamp {
		s.LastTimestamp = r.Timestamp
	}
	s.RecordCount++
	s.SizeBytes += int64(r.Footprint())
}

// FileFormat represents the export file format.
type FileFormat string

const (
	FormatParquet FileFormat = "parquet"
	FormatAvro    FileFormat = "avro"
)
