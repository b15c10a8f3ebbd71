// Package exporter is the ring's periodic consumer. It drains whole records
// into a fixed chunk, decodes them, groups them per device and flushes the
// groups to storage and broker sinks.
package exporter

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jittakal/bustrace/internal/errors"
	"github.com/jittakal/bustrace/pkg/storage"
	"github.com/jittakal/bustrace/pkg/trace"
)

// Source is the drained side of a trace buffer.
type Source interface {
	Drain(dst []byte) int
}

// MetricsCollector defines metrics operations for the exporter.
type MetricsCollector interface {
	ObserveDrain(bytes, records int)
	IncDecodeErrors()
	IncExportBatches(sink, status string, records int)
}

// Config controls the drain loop.
type Config struct {
	Interval  time.Duration
	ChunkSize int
	Retry     RetryPolicy
}

// Exporter drains a Source on a fixed interval. DrainOnce and Flush are
// serialized.
type Exporter struct {
	source  Source
	sinks   []Sink
	policy  storage.RotationPolicy
	config  Config
	logger  *slog.Logger
	metrics MetricsCollector

	chunk   []byte
	batches *batchSet
	drainMu sync.Mutex

	now   func() time.Time
	newID func() string
}

// New creates an exporter. With no sinks, drained records are discarded
// after decoding.
func New(
	config Config,
	source Source,
	policy storage.RotationPolicy,
	sinks []Sink,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*Exporter, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("%w: drain interval must be positive", errors.ErrInvalidConfig)
	}
	if config.ChunkSize < trace.HeaderSize {
		return nil, fmt.Errorf("%w: drain chunk must hold at least one header (%d bytes)",
			errors.ErrInvalidConfig, trace.HeaderSize)
	}

	return &Exporter{
		source:  source,
		sinks:   sinks,
		policy:  policy,
		config:  config,
		logger:  logger,
		metrics: metrics,
		chunk:   make([]byte, config.ChunkSize),
		batches: newBatchSet(),
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// Run drains every interval until ctx is cancelled, then drains once more
// and flushes every pending batch.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	e.logger.Info("exporter started",
		"interval", e.config.Interval,
		"chunk_size_bytes", e.config.ChunkSize,
		"sinks", len(e.sinks),
	)

	for {
		select {
		case <-ctx.Done():
			final := context.WithoutCancel(ctx)
			if _, err := e.DrainOnce(final); err != nil {
				e.logger.Error("final drain failed", "error", err)
			}
			err := e.Flush(final)
			e.logger.Info("exporter stopped")
			return err
		case <-ticker.C:
			if _, err := e.DrainOnce(ctx); err != nil {
				e.logger.Error("drain cycle failed", "error", err)
			}
		}
	}
}

// DrainOnce empties the source, groups the records per device and flushes
// the batches the rotation policy selects. It returns the number of records
// drained.
func (e *Exporter) DrainOnce(ctx context.Context) (int, error) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	total := 0
	for {
		n := e.source.Drain(e.chunk)
		if n == 0 {
			break
		}

		records, err := trace.DecodeAll(e.chunk[:n])
		if err != nil {
			// Whole records only leave the ring, so this is corruption; keep
			// what decoded and drop the rest of the chunk.
			e.logger.Error("failed to decode drained region", "error", err, "bytes", n)
			if e.metrics != nil {
				e.metrics.IncDecodeErrors()
			}
		}
		if e.metrics != nil {
			e.metrics.ObserveDrain(n, len(records))
		}

		now := e.now()
		for _, r := range records {
			e.batches.getOrCreate(r.DeviceID).add(r, now)
		}
		total += len(records)
	}

	return total, e.flush(ctx, false)
}

// Flush exports every non-empty batch regardless of the rotation policy.
func (e *Exporter) Flush(ctx context.Context) error {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	return e.flush(ctx, true)
}

// Pending returns the number of decoded records not yet exported.
func (e *Exporter) Pending() int {
	return e.batches.pending()
}

func (e *Exporter) flush(ctx context.Context, force bool) error {
	now := e.now()

	var errs []error
	for _, device := range e.batches.devices() {
		b := e.batches.getOrCreate(device)
		stats, age := b.snapshot(now)
		if stats.RecordCount == 0 {
			e.batches.removeIfEmpty(device)
			continue
		}
		if !force && (e.policy == nil || !e.policy.ShouldRotate(stats, age)) {
			continue
		}

		batch := &trace.Batch{
			ID:         e.newID(),
			DeviceID:   device,
			Records:    b.take(),
			ExportedAt: now,
		}
		if err := e.export(ctx, batch); err != nil {
			errs = append(errs, err)
		}
		e.batches.removeIfEmpty(device)
	}
	return stderrors.Join(errs...)
}

// export hands the batch to every sink concurrently. A failed sink does not
// stop the others; the batch is not retried after the policy gives up.
func (e *Exporter) export(ctx context.Context, batch *trace.Batch) error {
	g, gctx := errgroup.WithContext(ctx)
	errs := make([]error, len(e.sinks))

	for i, sink := range e.sinks {
		g.Go(func() error {
			err := e.config.Retry.Do(gctx, func(ctx context.Context) error {
				return sink.Export(ctx, batch)
			})

			status := "success"
			if err != nil {
				status = "failure"
				errs[i] = &errors.ExportError{
					Sink:     sink.Name(),
					BatchID:  batch.ID,
					DeviceID: uint32(batch.DeviceID),
					Records:  len(batch.Records),
					Err:      err,
				}
				e.logger.Error("failed to export batch",
					"sink", sink.Name(),
					"batch_id", batch.ID,
					"device_id", batch.DeviceID,
					"records", len(batch.Records),
					"error", err,
				)
			} else {
				e.logger.Debug("exported batch",
					"sink", sink.Name(),
					"batch_id", batch.ID,
					"device_id", batch.DeviceID,
					"records", len(batch.Records),
				)
			}
			if e.metrics != nil {
				e.metrics.IncExportBatches(sink.Name(), status, len(batch.Records))
			}
			return nil
		})
	}
	_ = g.Wait()

	return stderrors.Join(errs...)
}
