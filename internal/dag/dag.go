package dag

import (
	"fmt"

	"github.com/specialistvlad/etlgrid/internal/task"
)

// Graph is a compiled, validated and immutable Definition. Tasks are kept in
// declaration order, which is also the tie-breaker for every ordered query.
type Graph struct {
	name    string
	options Options
	nodes   []*node
	byID    map[string]*node
	edges   []Edge
}

// node is a single vertex. It is un-exported so callers interact with the
// graph through task ids only.
type node struct {
	order      int
	task       task.Task
	deps       []*node
	dependents []*node
}

// Name returns the DAG name.
func (g *Graph) Name() string { return g.name }

// Options returns the DAG-level settings.
func (g *Graph) Options() Options { return g.options }

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.nodes) }

// Tasks returns all tasks in declaration order.
func (g *Graph) Tasks() []task.Task {
	out := make([]task.Task, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.task
	}
	return out
}

// IDs returns all task ids in declaration order.
func (g *Graph) IDs() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.task.ID
	}
	return out
}

// Edges returns the edges in declaration order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Task returns the task with the given id.
func (g *Graph) Task(id string) (task.Task, bool) {
	n, ok := g.byID[id]
	if !ok {
		return task.Task{}, false
	}
	return n.task, true
}

// Upstream returns the ids the given task depends on.
func (g *Graph) Upstream(id string) ([]string, error) {
	n, ok := g.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return ids(n.deps), nil
}

// Downstream returns the ids that depend on the given task.
func (g *Graph) Downstream(id string) ([]string, error) {
	n, ok := g.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return ids(n.dependents), nil
}

// InDegree returns the number of direct upstream tasks.
func (g *Graph) InDegree(id string) int {
	if n, ok := g.byID[id]; ok {
		return len(n.deps)
	}
	return 0
}

// Descendants returns every task transitively reachable downstream of id, in
// declaration order.
func (g *Graph) Descendants(id string) []string {
	start, ok := g.byID[id]
	if !ok {
		return nil
	}
	seen := make([]bool, len(g.nodes))
	stack := append([]*node(nil), start.dependents...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n.order] {
			continue
		}
		seen[n.order] = true
		stack = append(stack, n.dependents...)
	}
	var out []string
	for i, s := range seen {
		if s {
			out = append(out, g.nodes[i].task.ID)
		}
	}
	return out
}

// Layers groups tasks into topological layers: every task sits one layer
// below its deepest upstream. Layer 0 holds the roots.
func (g *Graph) Layers() [][]string {
	indeg := make([]int, len(g.nodes))
	for _, n := range g.nodes {
		indeg[n.order] = len(n.deps)
	}

	var current []*node
	for _, n := range g.nodes {
		if indeg[n.order] == 0 {
			current = append(current, n)
		}
	}

	var layers [][]string
	for len(current) > 0 {
		layers = append(layers, ids(current))
		var next []*node
		for _, n := range current {
			for _, d := range n.dependents {
				indeg[d.order]--
				if indeg[d.order] == 0 {
					next = append(next, d)
				}
			}
		}
		sortNodes(next)
		current = next
	}
	return layers
}

func ids(nodes []*node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.task.ID
	}
	return out
}
