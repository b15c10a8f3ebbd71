package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// errGraceExceeded means a stage was still running when the shutdown grace
// period ran out. Resources it uses must be left open.
var errGraceExceeded = errors.New("shutdown grace period exceeded")

// stage is one long-running part of the service.
type stage struct {
	name string
	// run blocks until ctx is cancelled or the stage fails.
	run func(ctx context.Context) error
	// stop is called once run's context has been cancelled.
	stop func(ctx context.Context) error
}

// lifecycle runs the ingest stages (everything that writes into the ring)
// and the export stages (the ring's consumer). Shutdown stops and waits for
// ingest before export is cancelled, so the final drain sees every record
// ingest accepted.
type lifecycle struct {
	ingest []stage
	export []stage
	grace  time.Duration
	logger *slog.Logger
}

// run blocks until ctx is done or any stage fails, then shuts down in order.
func (l *lifecycle) run(ctx context.Context) error {
	ingestCtx, stopIngest := context.WithCancel(context.Background())
	defer stopIngest()
	exportCtx, stopExport := context.WithCancel(context.Background())
	defer stopExport()

	failed := make(chan struct{})
	var failOnce sync.Once

	var ingestGroup, exportGroup errgroup.Group
	start := func(g *errgroup.Group, ctx context.Context, stages []stage) {
		for _, s := range stages {
			if s.run == nil {
				continue
			}
			g.Go(func() error {
				if err := s.run(ctx); err != nil {
					l.logger.Error("stage failed", "stage", s.name, "error", err)
					failOnce.Do(func() { close(failed) })
					return fmt.Errorf("%s: %w", s.name, err)
				}
				return nil
			})
		}
	}
	start(&exportGroup, exportCtx, l.export)
	start(&ingestGroup, ingestCtx, l.ingest)

	select {
	case <-ctx.Done():
	case <-failed:
	}
	l.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), l.grace)
	defer cancel()

	errs := []error{l.shutdown(shutdownCtx, "ingest", stopIngest, l.ingest, &ingestGroup)}
	errs = append(errs, l.shutdown(shutdownCtx, "export", stopExport, l.export, &exportGroup))
	return errors.Join(errs...)
}

// shutdown cancels one phase, calls its stop hooks and waits for its stages.
func (l *lifecycle) shutdown(ctx context.Context, phase string, cancel context.CancelFunc, stages []stage, g *errgroup.Group) error {
	cancel()

	var errs []error
	for _, s := range stages {
		if s.stop == nil {
			continue
		}
		if err := s.stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", s.name, err))
		}
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		errs = append(errs, err)
		l.logger.Info("stopped", "phase", phase)
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("%s: %w", phase, errGraceExceeded))
	}
	return errors.Join(errs...)
}
