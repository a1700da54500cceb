package dag

import (
	"errors"
	"strings"
)

var (
	// ErrDuplicateTask is returned by AddTask for an id that already exists.
	ErrDuplicateTask = errors.New("duplicate task id")
	// ErrUnknownTask is returned when an edge references a missing task.
	ErrUnknownTask = errors.New("unknown task")
	// ErrSelfEdge is returned for an edge whose endpoints are equal.
	ErrSelfEdge = errors.New("self-referential edge")
)

// CycleError reports a dependency cycle found while compiling a definition.
// Path starts and ends with the same task id.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Path, " -> ")
}
