package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/specialistvlad/etlgrid/internal/ctxlog"
	"github.com/specialistvlad/etlgrid/internal/dag"
	"github.com/specialistvlad/etlgrid/internal/operator"
	"github.com/specialistvlad/etlgrid/internal/runctx"
	"github.com/specialistvlad/etlgrid/internal/task"
)

// Operators resolves the strategy for a task kind. *operator.Registry
// satisfies it.
type Operators interface {
	Lookup(k task.Kind) (operator.Operator, error)
}

// Executor runs a compiled graph. One Executor may run the same graph many
// times, but each Run is independent.
type Executor struct {
	graph       *dag.Graph
	ops         Operators
	maxParallel int
	listener    Listeners
	now         func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxParallelism caps the number of tasks running at once. Zero means
// no cap. It overrides the DAG's own setting.
func WithMaxParallelism(n int) Option {
	return func(e *Executor) { e.maxParallel = n }
}

// WithListener adds a listener.
func WithListener(l Listener) Option {
	return func(e *Executor) {
		if l != nil {
			e.listener = append(e.listener, l)
		}
	}
}

// WithClock replaces time.Now for the timestamps in the Record.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an executor for g.
func New(g *dag.Graph, ops Operators, opts ...Option) *Executor {
	e := &Executor{
		graph:       g,
		ops:         ops,
		maxParallel: g.Options().MaxParallelism,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxParallel < 0 {
		e.maxParallel = 0
	}
	return e
}

// completion is what a worker reports back to the loop.
type completion struct {
	id       string
	attempts int
	err      error
	at       time.Time
}

// run is the mutable state of one Run call. Only the loop goroutine
// touches it.
type run struct {
	e       *Executor
	rc      *runctx.RunContext
	states  dag.States
	records map[string]*TaskRecord
	order   []string
	running int
	done    chan completion
}

// Run executes every task of the graph for rc and returns the record. The
// returned error is non-nil only when ctx was cancelled before the run
// finished; task failures are reported through the record.
func (e *Executor) Run(ctx context.Context, rc *runctx.RunContext) (*Record, error) {
	ctx = runctx.WithRun(ctx, rc)
	ctx = ctxlog.With(ctx, "dag", e.graph.Name(), "run_id", rc.RunID())
	logger := ctxlog.FromContext(ctx)

	r := &run{
		e:       e,
		rc:      rc,
		states:  make(dag.States, e.graph.Len()),
		records: make(map[string]*TaskRecord, e.graph.Len()),
		order:   e.graph.IDs(),
		done:    make(chan completion, e.graph.Len()),
	}
	for _, t := range e.graph.Tasks() {
		r.states[t.ID] = task.Pending
		r.records[t.ID] = &TaskRecord{ID: t.ID, Kind: t.Kind, State: task.Pending}
	}

	rec := &Record{
		DAG:         e.graph.Name(),
		RunID:       rc.RunID(),
		LogicalTime: rc.LogicalTime(),
		State:       task.Running,
		Started:     e.now(),
	}
	rec.Tasks = r.snapshot()
	e.listener.OnRunStart(ctx, rec.clone())
	logger.Info("▶️ Starting run", "logical_time", rc.LogicalTime(), "tasks", e.graph.Len(), "max_parallelism", e.maxParallel)

	workers := pool.New()
	if e.maxParallel > 0 {
		workers = workers.WithMaxGoroutines(e.maxParallel)
	}
	cancelled := r.loop(ctx, workers)
	workers.Wait()

	rec.Tasks = r.snapshot()
	rec.Finished = e.now()
	rec.State = overallState(rec.Tasks)
	rec.Cancelled = cancelled
	e.listener.OnRunFinish(ctx, rec.clone())

	counts := rec.Counts()
	logger.Info("✅ Finished run",
		"state", rec.State,
		"duration", rec.Duration(),
		"success", counts[task.Success],
		"failed", counts[task.Failed],
		"upstream_failed", counts[task.UpstreamFailed],
		"skipped", counts[task.Skipped],
	)
	if cancelled {
		return rec, ctx.Err()
	}
	return rec, nil
}

// loop drives the run to completion and reports whether it observed
// cancellation.
func (r *run) loop(ctx context.Context, workers *pool.Pool) bool {
	logger := ctxlog.FromContext(ctx)
	cancelled := false
	ctxDone := ctx.Done()

	for {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
			ctxDone = nil
			logger.Warn("Run cancelled, skipping pending tasks.", "running", r.running)
		}

		if cancelled {
			r.skipPending(ctx, ctx.Err())
		} else {
			r.cascade(ctx)
			for _, id := range dag.ReadySet(r.e.graph, r.states) {
				if r.e.maxParallel > 0 && r.running >= r.e.maxParallel {
					break
				}
				r.dispatch(ctx, workers, id)
			}
		}

		if r.running == 0 {
			if r.pending() == 0 {
				return cancelled
			}
			// Unreachable for an acyclic graph without cancellation; guard
			// against spinning forever.
			logger.Error("No task can make progress, skipping the rest.", "pending", r.pending())
			r.skipPending(ctx, fmt.Errorf("unschedulable"))
			return cancelled
		}

		select {
		case c := <-r.done:
			r.complete(ctx, c, cancelled || ctx.Err() != nil)
		case <-ctxDone:
		}
	}
}

func (r *run) pending() int {
	n := 0
	for _, s := range r.states {
		if s == task.Pending {
			n++
		}
	}
	return n
}

func (r *run) cascade(ctx context.Context) {
	for {
		ids := dag.CascadeSet(r.e.graph, r.states)
		if len(ids) == 0 {
			return
		}
		for _, id := range ids {
			r.transition(ctx, id, task.UpstreamFailed, 0, nil)
			r.records[id].Finished = r.e.now()
		}
	}
}

func (r *run) skipPending(ctx context.Context, cause error) {
	for _, id := range r.order {
		if r.states[id] != task.Pending {
			continue
		}
		r.transition(ctx, id, task.Skipped, 0, cause)
		r.records[id].Finished = r.e.now()
		if cause != nil {
			r.records[id].Error = cause.Error()
		}
	}
}

func (r *run) dispatch(ctx context.Context, workers *pool.Pool, id string) {
	t, _ := r.e.graph.Task(id)
	r.transition(ctx, id, task.Running, 0, nil)
	r.records[id].Dispatched = r.e.now()
	r.running++

	workers.Go(func() {
		attempts, err := r.e.execute(ctx, t, r.rc)
		r.done <- completion{id: id, attempts: attempts, err: err, at: r.e.now()}
	})
}

func (r *run) complete(ctx context.Context, c completion, cancelled bool) {
	r.running--
	rec := r.records[c.id]
	rec.Attempts = c.attempts
	rec.Finished = c.at

	to := task.Success
	switch {
	case c.err == nil:
	case cancelled:
		to = task.Skipped
		rec.Error = c.err.Error()
	default:
		to = task.Failed
		rec.Error = c.err.Error()
	}
	r.transition(ctx, c.id, to, c.attempts, c.err)
}

func (r *run) transition(ctx context.Context, id string, to task.State, attempt int, cause error) {
	from := r.states[id]
	if err := task.Transition(from, to); err != nil {
		// The loop only requests legal transitions.
		panic(fmt.Sprintf("task %s: %v", id, err))
	}
	r.states[id] = to
	rec := r.records[id]
	rec.State = to

	logger := ctxlog.FromContext(ctx).With("task", id, "kind", rec.Kind)
	switch to {
	case task.Failed:
		logger.Error("Task failed.", "attempts", attempt, "error", cause)
	case task.UpstreamFailed:
		logger.Warn("Task will not run, an upstream task failed.")
	case task.Skipped:
		logger.Warn("Task skipped.")
	default:
		logger.Debug("Task state changed.", "from", from, "to", to)
	}

	r.e.listener.OnTransition(ctx, Event{
		DAG:     r.e.graph.Name(),
		RunID:   r.rc.RunID(),
		TaskID:  id,
		Kind:    rec.Kind,
		From:    from,
		To:      to,
		Attempt: attempt,
		Err:     cause,
		At:      r.e.now(),
	})
}

func (r *run) snapshot() []TaskRecord {
	out := make([]TaskRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.records[id])
	}
	return out
}
