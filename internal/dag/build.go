package dag

import (
	"context"
	"fmt"
	"sort"

	"github.com/specialistvlad/etlgrid/internal/ctxlog"
)

// Compile turns a definition into a validated Graph. It fails before any
// execution if an edge references an unknown task, if the edges form a cycle,
// or if the validator rejects a task. No partial graph is ever returned.
func Compile(ctx context.Context, def *Definition, v Validator) (*Graph, error) {
	logger := ctxlog.FromContext(ctx).With("dag", def.Name)
	logger.Debug("Compile: Starting graph construction.")

	g := &Graph{
		name:    def.Name,
		options: def.Options,
		byID:    make(map[string]*node, len(def.tasks)),
	}

	// First pass: create all nodes.
	createNodes(def, g)
	logger.Debug("Compile: Node creation complete.", "node_count", len(g.nodes))

	// Second pass: link dependencies.
	if err := linkNodes(def, g); err != nil {
		return nil, err
	}
	logger.Debug("Compile: Node linking complete.", "edge_count", len(g.edges))

	if err := g.detectCycles(); err != nil {
		return nil, fmt.Errorf("error validating dependency graph: %w", err)
	}
	logger.Debug("Compile: Cycle detection passed.")

	if v != nil {
		for _, n := range g.nodes {
			if err := v.Validate(n.task); err != nil {
				return nil, fmt.Errorf("invalid task %q: %w", n.task.ID, err)
			}
		}
		logger.Debug("Compile: Task validation passed.")
	}

	logger.Debug("Compile: Graph construction successful.")
	return g, nil
}

func createNodes(def *Definition, g *Graph) {
	for i, t := range def.tasks {
		n := &node{order: i, task: t}
		g.nodes = append(g.nodes, n)
		g.byID[t.ID] = n
	}
}

func linkNodes(def *Definition, g *Graph) error {
	for _, e := range def.edges {
		from, ok := g.byID[e.From]
		if !ok {
			return fmt.Errorf("edge %s -> %s: %w: %s", e.From, e.To, ErrUnknownTask, e.From)
		}
		to, ok := g.byID[e.To]
		if !ok {
			return fmt.Errorf("edge %s -> %s: %w: %s", e.From, e.To, ErrUnknownTask, e.To)
		}
		from.dependents = append(from.dependents, to)
		to.deps = append(to.deps, from)
		g.edges = append(g.edges, e)
	}
	for _, n := range g.nodes {
		sortNodes(n.deps)
		sortNodes(n.dependents)
	}
	return nil
}

// detectCycles runs a depth-first search over dependents, tracking the nodes
// on the current path (visiting) and the ones fully explored (visited). A
// dependent that is still visiting closes a cycle.
func (g *Graph) detectCycles() error {
	visiting := make(map[*node]bool)
	visited := make(map[*node]bool)
	var path []*node

	var visit func(n *node) error
	visit = func(n *node) error {
		visiting[n] = true
		path = append(path, n)
		for _, d := range n.dependents {
			if visiting[d] {
				return &CycleError{Path: cyclePath(path, d)}
			}
			if !visited[d] {
				if err := visit(d); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		delete(visiting, n)
		visited[n] = true
		return nil
	}

	for _, n := range g.nodes {
		if !visited[n] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// cyclePath cuts the DFS stack at the first occurrence of the node that
// closes the cycle.
func cyclePath(stack []*node, closing *node) []string {
	start := 0
	for i, n := range stack {
		if n == closing {
			start = i
			break
		}
	}
	out := ids(stack[start:])
	return append(out, closing.task.ID)
}

func sortNodes(nodes []*node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].order < nodes[j].order })
}
