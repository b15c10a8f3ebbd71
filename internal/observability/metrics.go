package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Ring metrics
	RingEvents        *prometheus.CounterVec
	CapturesIngested  *prometheus.CounterVec
	DrainBytes        prometheus.Histogram
	DrainRecords      prometheus.Histogram
	DecodeErrors      prometheus.Counter
	ExportBatches     *prometheus.CounterVec
	ExportRecords     *prometheus.CounterVec
	ExportBatchLength *prometheus.HistogramVec

	// Kafka metrics
	MessagesConsumed   *prometheus.CounterVec
	OffsetCommits      *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	RebalanceDuration  *prometheus.HistogramVec
	PartitionsAssigned *prometheus.GaugeVec
	RecordsPublished   *prometheus.CounterVec

	// Storage metrics
	FilesWritten         *prometheus.CounterVec
	StorageWriteDuration *prometheus.HistogramVec
	FileSize             *prometheus.HistogramVec
	StorageErrors        *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Ring metrics
		RingEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trace_ring_events_total",
				Help: "Ring diagnostics by event (overflow, allocation_failure, inconsistency)",
			},
			[]string{"event", "request_type"},
		),
		CapturesIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trace_captures_ingested_total",
				Help: "Capture requests offered to the ring",
			},
			[]string{"source", "status"},
		),
		DrainBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trace_drain_bytes",
				Help:    "Bytes returned by a single drain",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8), // 256B to 4MB
			},
		),
		DrainRecords: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trace_drain_records",
				Help:    "Records returned by a single drain",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		DecodeErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trace_decode_errors_total",
				Help: "Drained regions that failed to decode",
			},
		),
		ExportBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trace_export_batches_total",
				Help: "Batches handed to export sinks",
			},
			[]string{"sink", "status"},
		),
		ExportRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trace_export_records_total",
				Help: "Records accepted by export sinks",
			},
			[]string{"sink"},
		),
		ExportBatchLength: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trace_export_batch_records",
				Help:    "Records per exported batch",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"sink"},
		),

		// Kafka metrics
		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of capture messages consumed from Kafka",
			},
			[]string{"topic", "partition"},
		),
		OffsetCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_offset_commit_total",
				Help: "Total number of offset commits",
			},
			[]string{"topic", "partition", "status"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),
		RebalanceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_rebalance_duration_seconds",
				Help:    "Duration of consumer group sessions",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"group"},
		),
		PartitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_partitions_assigned",
				Help: "Number of partitions currently assigned to this consumer",
			},
			[]string{"topic"},
		),
		RecordsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_records_published_total",
				Help: "Drained trace records published to Kafka",
			},
			[]string{"topic", "status"},
		),

		// Storage metrics
		FilesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "files_written_total",
				Help: "Total number of trace files written to storage",
			},
			[]string{"backend", "format", "status"},
		),
		StorageWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_write_duration_seconds",
				Help:    "Duration of complete storage write operations including encoding",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		FileSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "file_size_bytes",
				Help:    "Size of files written to storage",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB
			},
			[]string{"backend", "format"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "error_type"},
		),
	}
}

// IncRingEvent increments the ring diagnostics counter.
func (m *Metrics) IncRingEvent(event, requestType string) {
	m.RingEvents.WithLabelValues(event, requestType).Inc()
}

// IncCapturesIngested increments the capture counter.
func (m *Metrics) IncCapturesIngested(source, status string) {
	m.CapturesIngested.WithLabelValues(source, status).Inc()
}

// ObserveDrain records the size of one drain.
func (m *Metrics) ObserveDrain(bytes, records int) {
	m.DrainBytes.Observe(float64(bytes))
	m.DrainRecords.Observe(float64(records))
}

// IncDecodeErrors increments the decode error counter.
func (m *Metrics) IncDecodeErrors() {
	m.DecodeErrors.Inc()
}

// IncExportBatches increments exported batches for a sink.
func (m *Metrics) IncExportBatches(sink, status string, records int) {
	m.ExportBatches.WithLabelValues(sink, status).Inc()
	if status == "success" {
		m.ExportRecords.WithLabelValues(sink).Add(float64(records))
		m.ExportBatchLength.WithLabelValues(sink).Observe(float64(records))
	}
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// IncOffsetCommits increments offset commits counter.
func (m *Metrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.OffsetCommits.WithLabelValues(topic, fmt.Sprintf("%d", partition), status).Inc()
}

// ObserveRebalanceDuration observes rebalance duration.
func (m *Metrics) ObserveRebalanceDuration(groupID string, duration float64) {
	m.RebalanceDuration.WithLabelValues(groupID).Observe(duration)
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count float64) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(count)
}

// IncRecordsPublished increments published records counter.
func (m *Metrics) IncRecordsPublished(topic, status string, count int) {
	m.RecordsPublished.WithLabelValues(topic, status).Add(float64(count))
}

// IncFilesWritten increments files written counter.
func (m *Metrics) IncFilesWritten(backend, format, status string) {
	m.FilesWritten.WithLabelValues(backend, format, status).Inc()
}

// ObserveFileSize observes file size.
func (m *Metrics) ObserveFileSize(backend, format string, size float64) {
	m.FileSize.WithLabelValues(backend, format).Observe(size)
}

// ObserveStorageWriteDuration observes storage write duration.
func (m *Metrics) ObserveStorageWriteDuration(backend string, duration float64) {
	m.StorageWriteDuration.WithLabelValues(backend).Observe(duration)
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}
