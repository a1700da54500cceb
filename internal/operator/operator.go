package operator

import (
	"context"

	"github.com/specialistvlad/etlgrid/internal/objectstore"
	"github.com/specialistvlad/etlgrid/internal/runctx"
	"github.com/specialistvlad/etlgrid/internal/task"
	"github.com/specialistvlad/etlgrid/internal/warehouse"
)

// Operator executes every task of one kind.
type Operator interface {
	Kind() task.Kind
	// Validate checks params at compile time, before anything runs.
	Validate(params task.Params) error
	// Execute performs one attempt.
	Execute(ctx context.Context, inv Invocation) error
}

// Invocation is everything one attempt gets to see.
type Invocation struct {
	Task    task.Task
	Run     *runctx.RunContext
	Attempt int
}

// Deps are the collaborators the built-in operators use.
type Deps struct {
	Warehouse warehouse.Opener
	Sources   objectstore.Resolver
	// DefaultConnection is used by tasks without a "connection" param.
	DefaultConnection string
}
