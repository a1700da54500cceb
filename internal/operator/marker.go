package operator

import (
	"context"

	"github.com/specialistvlad/etlgrid/internal/ctxlog"
	"github.com/specialistvlad/etlgrid/internal/task"
)

// Marker is the no-op operator behind begin and end tasks.
type Marker struct{}

func (Marker) Kind() task.Kind { return task.Marker }

func (Marker) Validate(params task.Params) error {
	var p struct {
		Description string `param:"description,optional"`
	}
	return DecodeParams(params, &p)
}

func (Marker) Execute(ctx context.Context, inv Invocation) error {
	ctxlog.FromContext(ctx).Debug("Marker reached.", "task", inv.Task.ID)
	return nil
}
