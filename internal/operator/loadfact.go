package operator

import (
	"context"

	"github.com/specialistvlad/etlgrid/internal/ctxlog"
	"github.com/specialistvlad/etlgrid/internal/task"
	"github.com/specialistvlad/etlgrid/internal/warehouse"
)

// LoadFact appends the rows of a rendered SELECT to a fact table.
//
// Appending twice for the same interval duplicates rows. Setting
// partition_column turns the load into delete-then-insert keyed by the run's
// partition key; the SELECT is then expected to emit that key into the
// column, usually via {{ .PartitionKey }}.
type LoadFact struct {
	deps Deps
}

type loadFactParams struct {
	Table           string   `param:"table"`
	SQLTemplate     string   `param:"sql_template"`
	Columns         []string `param:"columns,optional"`
	PartitionColumn string   `param:"partition_column,optional"`
	Connection      string   `param:"connection,optional"`
	Credentials     string   `param:"credentials,optional"`
}

// NewLoadFact returns the LoadFact operator.
func NewLoadFact(deps Deps) *LoadFact {
	return &LoadFact{deps: deps}
}

func (o *LoadFact) Kind() task.Kind { return task.LoadFact }

func (o *LoadFact) decode(params task.Params) (loadFactParams, error) {
	var p loadFactParams
	if err := DecodeParams(params, &p); err != nil {
		return p, err
	}
	if err := validIdent(p.Table, "table"); err != nil {
		return p, err
	}
	if p.PartitionColumn != "" {
		if err := validIdent(p.PartitionColumn, "partition_column"); err != nil {
			return p, err
		}
	}
	if err := checkTemplate("sql_template", p.SQLTemplate); err != nil {
		return p, err
	}
	return p, checkConnection(o.deps, p.Connection)
}

func (o *LoadFact) Validate(params task.Params) error {
	_, err := o.decode(params)
	return err
}

func (o *LoadFact) Execute(ctx context.Context, inv Invocation) error {
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
	if p.PartitionColumn != "" && inv.Run == nil {
		return Fatalf("partition_column needs a run context")
	}
	logger := ctxlog.FromContext(ctx).With("table", p.Table)

	return withSession(ctx, o.deps, p.Connection, func(s *warehouse.Session) error {
		return s.InTx(ctx, func(tx *warehouse.Tx) error {
			if p.PartitionColumn != "" {
				qt, _ := warehouse.QuoteIdent(p.Table)
				qc, _ := warehouse.QuoteIdent(p.PartitionColumn)
				key := inv.Run.PartitionKey()
				deleted, err := tx.Exec(ctx, "DELETE FROM "+qt+" WHERE "+qc+" = "+s.Dialect().Placeholder(1), key)
				if err != nil {
					return err
				}
				logger.Info("Cleared fact partition.", "partition", key, "rows", deleted)
			}
			inserted, err := tx.Exec(ctx, stmt)
			if err != nil {
				return err
			}
			logger.Info("Loaded fact table.", "rows", inserted)
			return nil
		})
	})
}
