package task

import "fmt"

// State is the lifecycle state of a task within one run.
type State int

const (
	Pending State = iota
	Running
	Success
	Failed
	// UpstreamFailed marks a task that never ran because a dependency failed.
	UpstreamFailed
	// Skipped marks a task abandoned by run cancellation.
	Skipped
)

var stateNames = [...]string{
	Pending:        "pending",
	Running:        "running",
	Success:        "success",
	Failed:         "failed",
	UpstreamFailed: "upstream_failed",
	Skipped:        "skipped",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	switch s {
	case Success, Failed, UpstreamFailed, Skipped:
		return true
	default:
		return false
	}
}

// Blocking reports whether a task in state s prevents its dependents from
// ever running.
func (s State) Blocking() bool {
	return s == Failed || s == UpstreamFailed
}

// Transition validates a single state change. States only move forward and
// none is revisited within a run.
func Transition(from, to State) error {
	if !allowed(from, to) {
		return fmt.Errorf("invalid task state transition %s -> %s", from, to)
	}
	return nil
}

func allowed(from, to State) bool {
	switch from {
	case Pending:
		return to == Running || to == UpstreamFailed || to == Skipped
	case Running:
		// Running -> Skipped happens only when a run is cancelled mid-flight.
		return to == Success || to == Failed || to == Skipped
	default:
		return false
	}
}
