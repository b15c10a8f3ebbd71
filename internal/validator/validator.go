// Package validator checks capture requests before they reach the ring.
package validator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jittakal/bustrace/internal/errors"
	"github.com/jittakal/bustrace/pkg/trace"
)

// CaptureValidator validates capture requests against the ring limits.
type CaptureValidator struct {
	maxPayload int
}

// NewCaptureValidator creates a validator accepting payloads up to maxPayload bytes.
func NewCaptureValidator(maxPayload int) *CaptureValidator {
	return &CaptureValidator{maxPayload: maxPayload}
}

// Validate validates a capture.
func (v *CaptureValidator) Validate(c *trace.Capture) error {
	if !c.Type.Known() {
		return &errors.ValidationError{
			DeviceID: uint32(c.DeviceID),
			Field:    "type",
			Reason:   fmt.Sprintf("unknown request type: %d", uint32(c.Type)),
		}
	}

	if len(c.Payload) > v.maxPayload {
		return &errors.ValidationError{
			DeviceID: uint32(c.DeviceID),
			Field:    "payload",
			Reason:   fmt.Sprintf("%d bytes exceeds limit of %d", len(c.Payload), v.maxPayload),
		}
	}

	return nil
}

// ParseDeviceID parses a decimal device identifier.
func ParseDeviceID(s string) (trace.DeviceID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, &errors.ValidationError{
			Field:  "device_id",
			Reason: fmt.Sprintf("invalid device id %q", s),
		}
	}
	return trace.DeviceID(n), nil
}

// ParseRequestType accepts a request type name ("read", "pnp") or its numeric tag.
func ParseRequestType(s string) (trace.RequestType, error) {
	if n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32); err == nil {
		return trace.RequestType(n), nil
	}
	t, err := trace.ParseRequestType(s)
	if err != nil {
		return trace.RequestUnknown, &errors.ValidationError{
			Field:  "type",
			Reason: err.Error(),
		}
	}
	return t, nil
}
