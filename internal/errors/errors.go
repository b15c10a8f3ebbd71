// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrAllocationFailed = errors.New("slot allocation failed")
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum length")
	ErrBufferClosed     = errors.New("trace buffer is closed")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrConsumerClosed   = errors.New("consumer is closed")
	ErrPublisherClosed  = errors.New("publisher is closed")
	ErrWriterClosed     = errors.New("storage writer is closed")
	ErrConnectionLost   = errors.New("connection lost")
)

// AllocationError reports a slot that could not be grown to hold a record.
// The record is dropped and the slot is left empty.
type AllocationError struct {
	Slot      int
	Requested int
	Limit     int64
	Err       error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocation error: slot=%d requested=%d limit=%d: %v",
		e.Slot, e.Requested, e.Limit, e.Err)
}

func (e *AllocationError) Unwrap() error {
	if e.Err == nil {
		return ErrAllocationFailed
	}
	return e.Err
}

// ValidationError represents a rejected capture request.
type ValidationError struct {
	DeviceID uint32
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: device_id=%d field=%s: %s",
		e.DeviceID, e.Field, e.Reason)
}

// StorageError represents a storage operation failure.
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: operation=%s path=%s: %v",
		e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ExportError represents a batch that a sink failed to accept.
type ExportError struct {
	Sink     string
	BatchID  string
	DeviceID uint32
	Records  int
	Err      error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export error: sink=%s batch=%s device_id=%d records=%d: %v",
		e.Sink, e.BatchID, e.DeviceID, e.Records, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to checking specific error types and sentinel errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.IsRetryable()
	}

	if errors.Is(err, ErrConnectionLost) {
		return true
	}

	return false
}

// IsRetryable determines if a StorageError is retryable based on the operation type.
func (e *StorageError) IsRetryable() bool {
	return e.Operation == "write" || e.Operation == "upload" || e.Operation == "create"
}

// IsRetryable determines if an ExportError is retryable.
func (e *ExportError) IsRetryable() bool {
	return IsRetryable(e.Err)
}
