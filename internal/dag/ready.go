package dag

import "github.com/specialistvlad/etlgrid/internal/task"

// States maps task id to its current run state. Missing ids are Pending.
type States map[string]task.State

// ReadySet returns the Pending tasks whose every upstream is Success, in
// declaration order. It does not mutate the states.
func ReadySet(g *Graph, states States) []string {
	var ready []string
	for _, n := range g.nodes {
		if states[n.task.ID] != task.Pending {
			continue
		}
		ok := true
		for _, dep := range n.deps {
			if states[dep.task.ID] != task.Success {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, n.task.ID)
		}
	}
	return ready
}

// CascadeSet returns the Pending tasks that can never run because at least
// one upstream is Failed or UpstreamFailed. Because nodes are visited in
// declaration order and a cascaded task is treated as UpstreamFailed for the
// rest of the scan, a whole failed chain is returned in a single call when
// the definition lists upstream tasks first.
func CascadeSet(g *Graph, states States) []string {
	var cascade []string
	marked := make(map[string]bool)
	for _, n := range g.nodes {
		if states[n.task.ID] != task.Pending {
			continue
		}
		for _, dep := range n.deps {
			if states[dep.task.ID].Blocking() || marked[dep.task.ID] {
				cascade = append(cascade, n.task.ID)
				marked[n.task.ID] = true
				break
			}
		}
	}
	return cascade
}
