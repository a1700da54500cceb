package task

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// Params holds operation-specific configuration. Values keep their cty type
// so the same map can come from a Go builder or from an HCL file.
type Params map[string]cty.Value

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy; cty values are immutable.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// RetryPolicy controls how often a failing task is re-invoked.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int
	// Delay is waited between two consecutive attempts.
	Delay time.Duration
	// Exponential doubles the delay after every retry.
	Exponential bool
}

// DefaultRetryPolicy is three attempts with a fixed five minute delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Minute}
}

// NoRetry is a policy with a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Validate checks the policy bounds.
func (r RetryPolicy) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", r.MaxAttempts)
	}
	if r.Delay < 0 {
		return fmt.Errorf("retry delay must not be negative, got %s", r.Delay)
	}
	return nil
}

// Task is the definition of one unit of work. Run-time state is tracked by
// the executor, never on the definition.
type Task struct {
	ID     string
	Kind   Kind
	Params Params
	Retry  RetryPolicy
}

// Validate checks the definition-level invariants that do not depend on the
// operator behind the kind.
func (t Task) Validate() error {
	if t.ID == "" {
		return errors.New("task id must not be empty")
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("task %q: unknown kind %d", t.ID, int(t.Kind))
	}
	if err := t.Retry.Validate(); err != nil {
		return fmt.Errorf("task %q: %w", t.ID, err)
	}
	return nil
}
