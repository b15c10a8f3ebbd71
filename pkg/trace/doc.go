// Package trace defines the bus I/O trace record and its wire layout.
//
// # Core Types
//
// Record is one captured snapshot of a bus request:
//
//	rec := trace.Record{
//	    DeviceID:  7,
//	    Type:      trace.RequestWrite,
//	    Timestamp: trace.FromTime(time.Now()),
//	    Payload:   []byte{0x12, 0x01},
//	}
//
// # Wire Layout
//
// Records drained from the ring are packed back to back, little-endian,
// with no padding:
//
//	offset 0   device_id       uint32
//	offset 4   request_type    uint32
//	offset 8   timestamp       int64 (ns since Unix epoch)
//	offset 16  payload_length  uint32
//	offset 20  payload         payload_length bytes
//
// # Decoding
//
// Readers of a drained region use DecodeAll, or Decode to step one record at
// a time:
//
//	records, err := trace.DecodeAll(region)
//	if errors.Is(err, trace.ErrMalformedRecord) {
//	    // region was truncated or corrupted
//	}
//
// # Request Types
//
// Unknown request type tags survive a decode unchanged and render as
// "unknown(N)". ParseRequestType maps configuration and API names to tags.
package trace
