package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/specialistvlad/etlgrid/internal/ctxlog"
	"github.com/specialistvlad/etlgrid/internal/operator"
	"github.com/specialistvlad/etlgrid/internal/runctx"
	"github.com/specialistvlad/etlgrid/internal/task"
)

// newBackOff builds the delay schedule for a policy. The schedule allows
// MaxAttempts-1 retries and stops early when ctx is done.
func newBackOff(ctx context.Context, p task.RetryPolicy) backoff.BackOff {
	var b backoff.BackOff
	if p.Exponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Delay
		eb.RandomizationFactor = 0
		eb.Multiplier = 2
		eb.MaxInterval = p.Delay << min(max(p.MaxAttempts-1, 0), 16)
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	} else {
		b = backoff.NewConstantBackOff(p.Delay)
	}
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// execute runs every attempt of one task and returns how many were made.
func (e *Executor) execute(ctx context.Context, t task.Task, rc *runctx.RunContext) (int, error) {
	ctx = ctxlog.With(ctx, "task", t.ID, "kind", t.Kind)
	logger := ctxlog.FromContext(ctx)

	op, err := e.ops.Lookup(t.Kind)
	if err != nil {
		return 0, operator.Fatal(err)
	}

	attempts := 0
	operation := func() error {
		attempts++
		err := e.attempt(ctx, op, operator.Invocation{Task: t, Run: rc, Attempt: attempts})
		if err == nil {
			return nil
		}
		if !operator.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Attempt failed, retrying.", "attempt", attempts, "max_attempts", t.Retry.MaxAttempts, "wait", wait, "error", err)
		e.listener.OnRetry(ctx, Event{
			DAG:     e.graph.Name(),
			RunID:   rc.RunID(),
			TaskID:  t.ID,
			Kind:    t.Kind,
			From:    task.Running,
			To:      task.Running,
			Attempt: attempts,
			Err:     err,
			Wait:    wait,
			At:      e.now(),
		})
	}

	err = backoff.RetryNotify(operation, newBackOff(ctx, t.Retry), notify)
	return attempts, err
}

// attempt runs the operator once. A panic becomes a fatal error.
func (e *Executor) attempt(ctx context.Context, op operator.Operator, inv operator.Invocation) (err error) {
	ctx = ctxlog.With(ctx, "attempt", inv.Attempt)
	logger := ctxlog.FromContext(ctx)
	logger.Info("▶️ Starting task attempt")
	started := time.Now()

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Operator panicked.", "panic", p, "stack", string(debug.Stack()))
			err = operator.Fatalf("operator panicked: %v", p)
		}
	}()

	if err := op.Execute(ctx, inv); err != nil {
		return fmt.Errorf("attempt %d: %w", inv.Attempt, err)
	}
	logger.Info("✅ Finished task attempt", "duration", time.Since(started))
	return nil
}
