package observability

import (
	"log/slog"

	"github.com/jittakal/bustrace/pkg/buffer"
)

// Ensure implementations satisfy interface at compile time.
var (
	_ buffer.Observer = (*LogObserver)(nil)
	_ buffer.Observer = (*MetricsObserver)(nil)
	_ buffer.Observer = Observers(nil)
)

// LogObserver writes ring diagnostics to a structured logger.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

// Overflow logs an overwritten record.
func (o *LogObserver) Overflow(e buffer.OverflowEvent) {
	o.logger.Warn("trace ring overflow, oldest record overwritten",
		"slot", e.Slot,
		"lost_device_id", e.Lost.DeviceID,
		"lost_request_type", e.Lost.Type.String(),
		"lost_timestamp", e.Lost.Timestamp,
		"lost_payload_length", e.Lost.PayloadLength,
	)
}

// AllocationFailed logs a dropped record.
func (o *LogObserver) AllocationFailed(e buffer.AllocationFailureEvent) {
	o.logger.Error("trace record dropped, slot allocation failed",
		"slot", e.Slot,
		"device_id", e.DeviceID,
		"request_type", e.Type.String(),
		"requested_bytes", e.Requested,
		"lost_unread", e.LostUnread,
		"error", e.Err,
	)
}

// Inconsistency logs a ring whose queued range points at an empty slot.
func (o *LogObserver) Inconsistency(e buffer.InconsistencyEvent) {
	o.logger.Error("trace ring inconsistent, drain stopped at empty slot",
		"slot", e.Slot,
		"read_index", e.ReadIndex,
		"write_index", e.WriteIndex,
		"queued_records", e.Records,
	)
}

// RingEventCollector defines metrics operations for ring diagnostics.
type RingEventCollector interface {
	IncRingEvent(event, requestType string)
}

// MetricsObserver counts ring diagnostics.
type MetricsObserver struct {
	metrics RingEventCollector
}

// NewMetricsObserver creates a MetricsObserver.
func NewMetricsObserver(metrics RingEventCollector) *MetricsObserver {
	return &MetricsObserver{metrics: metrics}
}

func (o *MetricsObserver) Overflow(e buffer.OverflowEvent) {
	o.metrics.IncRingEvent("overflow", e.Lost.Type.String())
}

func (o *MetricsObserver) AllocationFailed(e buffer.AllocationFailureEvent) {
	o.metrics.IncRingEvent("allocation_failure", e.Type.String())
}

func (o *MetricsObserver) Inconsistency(buffer.InconsistencyEvent) {
	o.metrics.IncRingEvent("inconsistency", "")
}

// Observers fans diagnostics out to every member in order.
type Observers []buffer.Observer

func (os Observers) Overflow(e buffer.OverflowEvent) {
	for _, o := range os {
		o.Overflow(e)
	}
}

func (os Observers) AllocationFailed(e buffer.AllocationFailureEvent) {
	for _, o := range os {
		o.AllocationFailed(e)
	}
}

func (os Observers) Inconsistency(e buffer.InconsistencyEvent) {
	for _, o := range os {
		o.Inconsistency(e)
	}
}
