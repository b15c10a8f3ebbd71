package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jittakal/bustrace/pkg/buffer"
)

// StatsSource is anything that can report ring statistics.
type StatsSource interface {
	Stats() buffer.Stats
}

// RingCollector exports ring statistics at scrape time.
type RingCollector struct {
	source StatsSource

	slots          *prometheus.Desc
	records        *prometheus.Desc
	queuedBytes    *prometheus.Desc
	allocatedBytes *prometheus.Desc
	enqueued       *prometheus.Desc
	overwritten    *prometheus.Desc
	dropped        *prometheus.Desc
	drained        *prometheus.Desc
	drainedBytes   *prometheus.Desc
}

// NewRingCollector creates a collector reading from source.
func NewRingCollector(source StatsSource) *RingCollector {
	return &RingCollector{
		source:         source,
		slots:          prometheus.NewDesc("trace_ring_slots", "Fixed slot count of the ring", nil, nil),
		records:        prometheus.NewDesc("trace_ring_records", "Records currently queued", nil, nil),
		queuedBytes:    prometheus.NewDesc("trace_ring_queued_bytes", "Encoded bytes currently queued", nil, nil),
		allocatedBytes: prometheus.NewDesc("trace_ring_allocated_bytes", "Slot memory currently held", nil, nil),
		enqueued:       prometheus.NewDesc("trace_ring_enqueued_total", "Records accepted by the ring", nil, nil),
		overwritten:    prometheus.NewDesc("trace_ring_overwritten_total", "Unread records lost to overflow", nil, nil),
		dropped:        prometheus.NewDesc("trace_ring_dropped_total", "Records dropped on allocation failure", nil, nil),
		drained:        prometheus.NewDesc("trace_ring_drained_total", "Records drained", nil, nil),
		drainedBytes:   prometheus.NewDesc("trace_ring_drained_bytes_total", "Bytes drained", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *RingCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.slots
	ch <- c.records
	ch <- c.queuedBytes
	ch <- c.allocatedBytes
	ch <- c.enqueued
	ch <- c.overwritten
	ch <- c.dropped
	ch <- c.drained
	ch <- c.drainedBytes
}

// Collect implements prometheus.Collector.
func (c *RingCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(c.slots, prometheus.GaugeValue, float64(s.Slots))
	ch <- prometheus.MustNewConstMetric(c.records, prometheus.GaugeValue, float64(s.Records))
	ch <- prometheus.MustNewConstMetric(c.queuedBytes, prometheus.GaugeValue, float64(s.QueuedBytes))
	ch <- prometheus.MustNewConstMetric(c.allocatedBytes, prometheus.GaugeValue, float64(s.AllocatedBytes))
	ch <- prometheus.MustNewConstMetric(c.enqueued, prometheus.CounterValue, float64(s.Enqueued))
	ch <- prometheus.MustNewConstMetric(c.overwritten, prometheus.CounterValue, float64(s.Overwritten))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(c.drained, prometheus.CounterValue, float64(s.Drained))
	ch <- prometheus.MustNewConstMetric(c.drainedBytes, prometheus.CounterValue, float64(s.DrainedBytes))
}
