package executor

import (
	"time"

	"github.com/specialistvlad/etlgrid/internal/task"
)

// TaskRecord is the final outcome of one task.
type TaskRecord struct {
	ID         string     `json:"id"`
	Kind       task.Kind  `json:"kind"`
	State      task.State `json:"state"`
	Attempts   int        `json:"attempts"`
	Error      string     `json:"error,omitempty"`
	Dispatched time.Time  `json:"dispatched,omitzero"`
	Finished   time.Time  `json:"finished,omitzero"`
}

// Duration is the wall-clock time from dispatch to the terminal state,
// including retry delays. It is zero for tasks that never ran.
func (t TaskRecord) Duration() time.Duration {
	if t.Dispatched.IsZero() || t.Finished.IsZero() {
		return 0
	}
	return t.Finished.Sub(t.Dispatched)
}

// Record is the result of one run.
type Record struct {
	DAG         string       `json:"dag"`
	RunID       string       `json:"run_id"`
	LogicalTime time.Time    `json:"logical_time"`
	State       task.State   `json:"state"`
	Cancelled   bool         `json:"cancelled,omitempty"`
	Started     time.Time    `json:"started"`
	Finished    time.Time    `json:"finished"`
	Tasks       []TaskRecord `json:"tasks"`
}

// Failed reports whether the run did not succeed.
func (r *Record) Failed() bool {
	return r.State != task.Success
}

// Task returns the record of one task.
func (r *Record) Task(id string) (TaskRecord, bool) {
	for _, t := range r.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return TaskRecord{}, false
}

// Counts tallies tasks per final state.
func (r *Record) Counts() map[task.State]int {
	out := make(map[task.State]int)
	for _, t := range r.Tasks {
		out[t.State]++
	}
	return out
}

// Duration of the whole run.
func (r *Record) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

func (r *Record) clone() *Record {
	cp := *r
	cp.Tasks = append([]TaskRecord(nil), r.Tasks...)
	return &cp
}

// overallState is Success only when every task succeeded.
func overallState(tasks []TaskRecord) task.State {
	for _, t := range tasks {
		if t.State != task.Success {
			return task.Failed
		}
	}
	return task.Success
}
