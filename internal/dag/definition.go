package dag

import (
	"fmt"

	"github.com/specialistvlad/etlgrid/internal/task"
)

// Definition is the declarative form of a pipeline: tasks plus ordering
// edges. It is mutable until compiled.
type Definition struct {
	Name    string
	Options Options

	tasks []task.Task
	index map[string]int
	edges []Edge
	seen  map[Edge]struct{}
}

// New returns an empty definition.
func New(name string, opts ...Option) *Definition {
	d := &Definition{
		Name:    name,
		Options: Options{MaxActiveRuns: 1},
		index:   make(map[string]int),
		seen:    make(map[Edge]struct{}),
	}
	for _, opt := range opts {
		opt(&d.Options)
	}
	return d
}

// AddTask appends a task. A task with a zero retry policy inherits the DAG
// default, falling back to a single attempt.
func (d *Definition) AddTask(t task.Task) error {
	if _, exists := d.index[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}
	if t.Retry == (task.RetryPolicy{}) {
		t.Retry = d.Options.DefaultRetry
		if t.Retry.MaxAttempts == 0 {
			t.Retry.MaxAttempts = 1
		}
	}
	if t.Params == nil {
		t.Params = task.Params{}
	}
	if err := t.Validate(); err != nil {
		return err
	}
	d.index[t.ID] = len(d.tasks)
	d.tasks = append(d.tasks, t)
	return nil
}

// AddEdge declares that `to` depends on `from`. Endpoints are resolved at
// compile time so tasks and edges may be declared in any order. Repeated
// edges are ignored.
func (d *Definition) AddEdge(from, to string) error {
	if from == to {
		return fmt.Errorf("%w: %s -> %s", ErrSelfEdge, from, to)
	}
	e := Edge{From: from, To: to}
	if _, dup := d.seen[e]; dup {
		return nil
	}
	d.seen[e] = struct{}{}
	d.edges = append(d.edges, e)
	return nil
}

// Chain adds edges so that each id depends on the previous one.
func (d *Definition) Chain(ids ...string) error {
	for i := 1; i < len(ids); i++ {
		if err := d.AddEdge(ids[i-1], ids[i]); err != nil {
			return err
		}
	}
	return nil
}

// FanIn makes `to` depend on every id in `from`.
func (d *Definition) FanIn(to string, from ...string) error {
	for _, f := range from {
		if err := d.AddEdge(f, to); err != nil {
			return err
		}
	}
	return nil
}

// FanOut makes every id in `to` depend on `from`.
func (d *Definition) FanOut(from string, to ...string) error {
	for _, t := range to {
		if err := d.AddEdge(from, t); err != nil {
			return err
		}
	}
	return nil
}

// Tasks returns the tasks in declaration order.
func (d *Definition) Tasks() []task.Task {
	out := make([]task.Task, len(d.tasks))
	copy(out, d.tasks)
	return out
}

// Edges returns the edges in declaration order.
func (d *Definition) Edges() []Edge {
	out := make([]Edge, len(d.edges))
	copy(out, d.edges)
	return out
}
