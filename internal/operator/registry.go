package operator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/specialistvlad/etlgrid/internal/task"
)

// ErrUnknownKind is returned for a kind no operator is registered for.
var ErrUnknownKind = errors.New("no operator registered for kind")

// Registry is the closed mapping from task kind to operator. It is filled
// once at startup and only read afterwards.
type Registry struct {
	ops map[task.Kind]Operator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[task.Kind]Operator)}
}

// NewDefault returns a registry with all built-in operators.
func NewDefault(deps Deps) *Registry {
	r := NewRegistry()
	r.Register(NewStage(deps))
	r.Register(NewLoadFact(deps))
	r.Register(NewLoadDimension(deps))
	r.Register(NewQualityCheck(deps))
	r.Register(Marker{})
	return r
}

// Register adds an operator. It panics if the kind is invalid or already
// taken, since that is a programming error.
func (r *Registry) Register(op Operator) {
	k := op.Kind()
	if !k.Valid() {
		panic(fmt.Sprintf("operator registration: invalid kind %d", int(k)))
	}
	if _, exists := r.ops[k]; exists {
		panic(fmt.Sprintf("operator registration: kind %q registered twice", k))
	}
	r.ops[k] = op
}

// Lookup returns the operator for kind.
func (r *Registry) Lookup(k task.Kind) (Operator, error) {
	op, ok := r.ops[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, k)
	}
	return op, nil
}

// Kinds lists registered kinds in enum order.
func (r *Registry) Kinds() []task.Kind {
	out := make([]task.Kind, 0, len(r.ops))
	for k := range r.ops {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks a task against its operator. It satisfies dag.Validator,
// so unknown kinds and malformed params fail at compile time.
func (r *Registry) Validate(t task.Task) error {
	op, err := r.Lookup(t.Kind)
	if err != nil {
		return err
	}
	return op.Validate(t.Params)
}
