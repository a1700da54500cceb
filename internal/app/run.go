package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/specialistvlad/etlgrid/internal/ctxlog"
	"github.com/specialistvlad/etlgrid/internal/executor"
	"github.com/specialistvlad/etlgrid/internal/report"
	"github.com/specialistvlad/etlgrid/internal/runctx"
	"github.com/specialistvlad/etlgrid/internal/trigger"
	"golang.org/x/sync/errgroup"
)

// ErrRunFailed is returned by Schedule's run callback for runs that did not
// succeed.
var ErrRunFailed = errors.New("run failed")

// RunOnce executes the pipeline for one logical time. The record is returned
// even when the run fails or is cancelled.
func (a *App) RunOnce(ctx context.Context, logicalTime time.Time) (*executor.Record, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	rc := runctx.New(a.graph.Name(), logicalTime, runctx.WithBindings(a.config.Bindings))

	opts := []executor.Option{}
	if a.config.MaxParallelism > 0 {
		opts = append(opts, executor.WithMaxParallelism(a.config.MaxParallelism))
	}
	for _, l := range a.listeners {
		opts = append(opts, executor.WithListener(l))
	}

	a.logger.Info("🚀 Starting run...", "dag", a.graph.Name(), "logical_time", rc.LogicalTime(), "run_id", rc.RunID())
	rec, err := executor.New(a.graph, a.ops, opts...).Run(ctx, rc)
	if rec != nil {
		a.logger.Info("🏁 Run finished.", "state", rec.State, "duration", rec.Duration(), "run_id", rec.RunID)
	}
	return rec, err
}

// Report renders rec to the app's output in the configured format.
func (a *App) Report(rec *executor.Record) error {
	return report.Write(a.outW, a.config.Report, rec)
}

// Schedule triggers runs according to the DAG's schedule until ctx is
// cancelled or the end date passes.
func (a *App) Schedule(ctx context.Context, opts ...trigger.Option) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	tr, err := trigger.New(a.graph.Options(), opts...)
	if err != nil {
		return err
	}
	a.logger.Info("⏰ Scheduler started.", "dag", a.graph.Name(), "schedule", a.graph.Options().Schedule)
	return tr.Run(ctx, func(ctx context.Context, lt time.Time) error {
		rec, err := a.RunOnce(ctx, lt)
		if err != nil {
			return err
		}
		if err := a.Report(rec); err != nil {
			a.logger.Warn("Failed to write run report.", "error", err)
		}
		if rec.Failed() {
			return fmt.Errorf("%w: %s", ErrRunFailed, rec.State)
		}
		return nil
	})
}

// Serve runs work alongside the health check server, if one is configured.
// The server is shut down once work returns.
func (a *App) Serve(ctx context.Context, work func(ctx context.Context) error) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	if a.config.HealthcheckPort <= 0 {
		a.logger.Debug("Health check server not started: disabled")
		return work(ctx)
	}

	srv := a.newHealthcheckServer(a.config.HealthcheckPort)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.listenAndServe(srv)
	})
	g.Go(func() error {
		defer a.shutdownHealthcheckServer(srv)
		return work(gctx)
	})
	return g.Wait()
}
