package executor

import (
	"context"
	"time"

	"github.com/specialistvlad/etlgrid/internal/task"
)

// Event describes one task state change, or one failed attempt that is
// about to be retried.
type Event struct {
	DAG     string
	RunID   string
	TaskID  string
	Kind    task.Kind
	From    task.State
	To      task.State
	Attempt int
	Err     error
	// Wait is the delay before the next attempt. Only set for retries.
	Wait time.Duration
	At   time.Time
}

// Listener observes task transitions. Transitions are delivered from the
// scheduling loop in the order they happen.
type Listener interface {
	OnTransition(ctx context.Context, ev Event)
}

// RetryListener is implemented by listeners that also want failed
// attempts. OnRetry is called from worker goroutines and must be safe for
// concurrent use.
type RetryListener interface {
	OnRetry(ctx context.Context, ev Event)
}

// RunListener is implemented by listeners that want run boundaries.
type RunListener interface {
	OnRunStart(ctx context.Context, rec *Record)
	OnRunFinish(ctx context.Context, rec *Record)
}

// Listeners fans events out to several listeners.
type Listeners []Listener

func (ls Listeners) OnTransition(ctx context.Context, ev Event) {
	for _, l := range ls {
		l.OnTransition(ctx, ev)
	}
}

func (ls Listeners) OnRetry(ctx context.Context, ev Event) {
	for _, l := range ls {
		if rl, ok := l.(RetryListener); ok {
			rl.OnRetry(ctx, ev)
		}
	}
}

func (ls Listeners) OnRunStart(ctx context.Context, rec *Record) {
	for _, l := range ls {
		if rl, ok := l.(RunListener); ok {
			rl.OnRunStart(ctx, rec)
		}
	}
}

func (ls Listeners) OnRunFinish(ctx context.Context, rec *Record) {
	for _, l := range ls {
		if rl, ok := l.(RunListener); ok {
			rl.OnRunFinish(ctx, rec)
		}
	}
}
