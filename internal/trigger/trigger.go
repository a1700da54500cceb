// Package trigger turns a DAG's schedule into a sequence of logical times.
//
// A run for logical time T covers the interval [T, next(T)) and is due once
// that interval has closed. With catchup every closed interval since the
// start date is run in order; without it only the most recent one is. The
// watermark of the last triggered logical time is kept in memory.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/specialistvlad/etlgrid/internal/ctxlog"
	"github.com/specialistvlad/etlgrid/internal/dag"
	"golang.org/x/sync/errgroup"
)

// ErrNoSchedule is returned by New for a DAG without a schedule.
var ErrNoSchedule = errors.New("dag has no schedule")

// RunFunc executes one run. Its error is logged and does not stop the
// trigger.
type RunFunc func(ctx context.Context, logicalTime time.Time) error

// Trigger computes due logical times and invokes a RunFunc for each.
type Trigger struct {
	schedule   cron.Schedule
	start, end time.Time
	catchup    bool
	maxActive  int
	now        func() time.Time

	mu        sync.Mutex
	watermark time.Time
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Trigger) { t.now = now }
}

// WithWatermark resumes after the given logical time.
func WithWatermark(lt time.Time) Option {
	return func(t *Trigger) { t.watermark = lt.UTC() }
}

// New parses the schedule in opts. A zero start date means "from now".
func New(opts dag.Options, options ...Option) (*Trigger, error) {
	if opts.Schedule == "" {
		return nil, ErrNoSchedule
	}
	sched, err := cron.ParseStandard(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", opts.Schedule, err)
	}
	t := &Trigger{
		schedule:  sched,
		start:     opts.StartDate.UTC(),
		end:       opts.EndDate.UTC(),
		catchup:   opts.Catchup,
		maxActive: max(opts.MaxActiveRuns, 1),
		now:       time.Now,
	}
	for _, o := range options {
		o(t)
	}
	if t.start.IsZero() {
		t.start = t.now().UTC()
	}
	if !t.end.IsZero() && t.end.Before(t.start) {
		return nil, fmt.Errorf("end date %s is before start date %s", t.end, t.start)
	}
	return t, nil
}

// Watermark is the last logical time handed to a RunFunc.
func (t *Trigger) Watermark() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watermark
}

// first returns the earliest logical time not yet triggered.
func (t *Trigger) first() time.Time {
	t.mu.Lock()
	wm := t.watermark
	t.mu.Unlock()
	if !wm.IsZero() {
		return t.schedule.Next(wm)
	}
	return t.schedule.Next(t.start.Add(-time.Second))
}

func (t *Trigger) afterEnd(lt time.Time) bool {
	return !t.end.IsZero() && lt.After(t.end)
}

// Due returns the logical times whose interval has closed by now and that
// have not been triggered yet, oldest first. Without catchup at most one
// time is returned.
func (t *Trigger) Due(now time.Time) []time.Time {
	var due []time.Time
	for lt := t.first(); !t.afterEnd(lt) && !t.schedule.Next(lt).After(now); lt = t.schedule.Next(lt) {
		due = append(due, lt)
	}
	if !t.catchup && len(due) > 1 {
		due = due[len(due)-1:]
	}
	return due
}

// Next returns when the next interval closes, or false when the end date has
// been passed.
func (t *Trigger) Next() (time.Time, bool) {
	lt := t.first()
	if t.afterEnd(lt) {
		return time.Time{}, false
	}
	return t.schedule.Next(lt), true
}

// Run triggers due runs until ctx is cancelled or the end date is passed.
// Up to MaxActiveRuns runs of one batch execute concurrently; the watermark
// advances once the whole batch has finished.
func (t *Trigger) Run(ctx context.Context, fn RunFunc) error {
	logger := ctxlog.FromContext(ctx)
	for {
		if due := t.Due(t.now()); len(due) > 0 {
			t.runBatch(ctx, due, fn)
			t.mu.Lock()
			t.watermark = due[len(due)-1]
			t.mu.Unlock()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		wake, ok := t.Next()
		if !ok {
			logger.Info("Schedule end date passed, trigger stopping.", "end_date", t.end)
			return nil
		}
		wait := wake.Sub(t.now())
		if wait <= 0 {
			continue
		}
		logger.Debug("Waiting for next interval.", "wake", wake, "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *Trigger) runBatch(ctx context.Context, due []time.Time, fn RunFunc) {
	logger := ctxlog.FromContext(ctx)
	var g errgroup.Group
	g.SetLimit(t.maxActive)
	for _, lt := range due {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			logger.Info("Triggering run.", "logical_time", lt)
			if err := fn(ctx, lt); err != nil {
				logger.Error("Run failed.", "logical_time", lt, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
