package validator

import (
	"errors"
	"testing"

	apperrors "github.com/jittakal/bustrace/internal/errors"
	"github.com/jittakal/bustrace/pkg/trace"
)

func TestNewCaptureValidator(t *testing.T) {
	validator := NewCaptureValidator(1024)
	if validator == nil {
		t.Fatal("expected non-nil validator")
	}
}

func TestCaptureValidator_Validate(t *testing.T) {
	validator := NewCaptureValidator(16)

	tests := []struct {
		name      string
		capture   *trace.Capture
		wantField string
	}{
		{
			name:    "read with payload",
			capture: &trace.Capture{DeviceID: 1, Type: trace.RequestRead, Payload: []byte("irp")},
		},
		{
			name:    "pnp without payload",
			capture: &trace.Capture{DeviceID: 2, Type: trace.RequestPnP},
		},
		{
			name:    "payload at limit",
			capture: &trace.Capture{DeviceID: 3, Type: trace.RequestWrite, Payload: make([]byte, 16)},
		},
		{
			name:      "payload over limit",
			capture:   &trace.Capture{DeviceID: 4, Type: trace.RequestWrite, Payload: make([]byte, 17)},
			wantField: "payload",
		},
		{
			name:      "unknown type",
			capture:   &trace.Capture{DeviceID: 5, Type: trace.RequestUnknown},
			wantField: "type",
		},
		{
			name:      "out of range type",
			capture:   &trace.Capture{DeviceID: 6, Type: trace.RequestType(99)},
			wantField: "type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.capture)
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}

			var validationErr *apperrors.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			if validationErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", validationErr.Field, tt.wantField)
			}
			if validationErr.DeviceID != uint32(tt.capture.DeviceID) {
				t.Errorf("DeviceID = %d, want %d", validationErr.DeviceID, tt.capture.DeviceID)
			}
		})
	}
}

func TestParseDeviceID(t *testing.T) {
	tests := []struct {
		input   string
		want    trace.DeviceID
		wantErr bool
	}{
		{input: "0", want: 0},
		{input: "42", want: 42},
		{input: " 7 ", want: 7},
		{input: "4294967295", want: 4294967295},
		{input: "4294967296", wantErr: true},
		{input: "-1", wantErr: true},
		{input: "disk0", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDeviceID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDeviceID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDeviceID(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseRequestType(t *testing.T) {
	tests := []struct {
		input   string
		want    trace.RequestType
		wantErr bool
	}{
		{input: "read", want: trace.RequestRead},
		{input: "WRITE", want: trace.RequestWrite},
		{input: "device_control", want: trace.RequestDeviceControl},
		{input: "2", want: trace.RequestWrite},
		{input: "99", want: trace.RequestType(99)},
		{input: "flush", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRequestType(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRequestType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRequestType(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
