package operator

import (
	"context"

	"github.com/specialistvlad/etlgrid/internal/ctxlog"
	"github.com/specialistvlad/etlgrid/internal/task"
	"github.com/specialistvlad/etlgrid/internal/warehouse"
)

// LoadDimension fills a dimension table from a rendered SELECT. With
// truncate the delete and the insert commit together, so any number of
// re-runs leaves the same contents.
type LoadDimension struct {
	deps Deps
}

type loadDimensionParams struct {
	Table       string   `param:"table"`
	SQLTemplate string   `param:"sql_template"`
	Truncate    bool     `param:"truncate,optional"`
	Columns     []string `param:"columns,optional"`
	Connection  string   `param:"connection,optional"`
	Credentials string   `param:"credentials,optional"`
}

// NewLoadDimension returns the LoadDimension operator.
func NewLoadDimension(deps Deps) *LoadDimension {
	return &LoadDimension{deps: deps}
}

func (o *LoadDimension) Kind() task.Kind { return task.LoadDimension }

func (o *LoadDimension) decode(params task.Params) (loadDimensionParams, error) {
	var p loadDimensionParams
	if err := DecodeParams(params, &p); err != nil {
		return p, err
	}
	if err := validIdent(p.Table, "table"); err != nil {
		return p, err
	}
	if err := checkTemplate("sql_template", p.SQLTemplate); err != nil {
		return p, err
	}
	return p, checkConnection(o.deps, p.Connection)
}

func (o *LoadDimension) Validate(params task.Params) error {
	_, err := o.decode(params)
	return err
}

func (o *LoadDimension) Execute(ctx context.Context, inv Invocation) error {
	p, err := o.decode(inv.Task.Params)
	if err != nil {
		return err
	}
	selectSQL, err := render(inv, "sql_template", p.SQLTemplate)
	if err != nil {
		return err
	}
	stmt, err := insertSelect(p.Table, p.Columns, selectSQL)
	if err != nil {
		return err
	}
	logger := ctxlog.FromContext(ctx).With("table", p.Table, "truncate", p.Truncate)

	return withSession(ctx, o.deps, p.Connection, func(s *warehouse.Session) error {
		return s.InTx(ctx, func(tx *warehouse.Tx) error {
			if p.Truncate {
				qt, _ := warehouse.QuoteIdent(p.Table)
				if _, err := tx.Exec(ctx, "DELETE FROM "+qt); err != nil {
					return err
				}
			}
			inserted, err := tx.Exec(ctx, stmt)
			if err != nil {
				return err
			}
			logger.Info("Loaded dimension table.", "rows", inserted)
			return nil
		})
	})
}
