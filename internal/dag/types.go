package dag

import (
	"time"

	"github.com/specialistvlad/etlgrid/internal/task"
)

// Edge is a "must complete before" constraint: To runs only after From.
type Edge struct {
	From string
	To   string
}

// Options carries DAG-level settings. Scheduling-related fields are consumed
// by the trigger, not by the executor.
type Options struct {
	Description string
	// Schedule is a standard five-field cron expression.
	Schedule      string
	StartDate     time.Time
	EndDate       time.Time
	Catchup       bool
	MaxActiveRuns int
	// DefaultRetry is applied by AddTask to tasks with a zero retry policy.
	DefaultRetry task.RetryPolicy
	// MaxParallelism bounds concurrently running tasks; 0 means unbounded.
	MaxParallelism int
}

// Option mutates Options during New.
type Option func(*Options)

// WithDescription sets the human readable description.
func WithDescription(d string) Option {
	return func(o *Options) { o.Description = d }
}

// WithSchedule sets the cron schedule and the active window.
func WithSchedule(cron string, start, end time.Time) Option {
	return func(o *Options) {
		o.Schedule = cron
		o.StartDate = start
		o.EndDate = end
	}
}

// WithCatchup toggles backfilling of missed intervals.
func WithCatchup(catchup bool) Option {
	return func(o *Options) { o.Catchup = catchup }
}

// WithDefaultRetry sets the policy applied to tasks without one.
func WithDefaultRetry(p task.RetryPolicy) Option {
	return func(o *Options) { o.DefaultRetry = p }
}

// WithMaxParallelism bounds the number of concurrently running tasks.
func WithMaxParallelism(n int) Option {
	return func(o *Options) { o.MaxParallelism = n }
}

// Validator checks a single task before the graph is accepted. The operator
// registry implements it so unknown kinds and malformed parameters fail at
// compile time instead of at dispatch.
type Validator interface {
	Validate(t task.Task) error
}
