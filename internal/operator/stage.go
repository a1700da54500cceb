package operator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/specialistvlad/etlgrid/internal/ctxlog"
	"github.com/specialistvlad/etlgrid/internal/objectstore"
	"github.com/specialistvlad/etlgrid/internal/task"
	"github.com/specialistvlad/etlgrid/internal/warehouse"
)

const defaultBatchSize = 500

// Stage copies raw objects from a source location into a staging table.
// Record fields are matched to table columns case-insensitively; fields
// without a column are dropped and columns without a field get NULL.
type Stage struct {
	deps Deps
}

type stageParams struct {
	Table          string `param:"table"`
	SourceLocation string `param:"source_location"`
	FileFormat     string `param:"file_format"`
	Region         string `param:"region,optional"`
	Pattern        string `param:"pattern,optional"`
	Truncate       bool   `param:"truncate,optional"`
	BatchSize      int    `param:"batch_size,optional"`
	Connection     string `param:"connection,optional"`
	Credentials    string `param:"credentials,optional"`
}

// NewStage returns the Stage operator.
func NewStage(deps Deps) *Stage {
	return &Stage{deps: deps}
}

func (o *Stage) Kind() task.Kind { return task.Stage }

func (o *Stage) decode(params task.Params) (stageParams, FileFormat, error) {
	p := stageParams{BatchSize: defaultBatchSize}
	if err := DecodeParams(params, &p); err != nil {
		return p, "", err
	}
	format, err := ParseFileFormat(p.FileFormat)
	if err != nil {
		return p, "", Fatal(err)
	}
	if err := validIdent(p.Table, "table"); err != nil {
		return p, "", err
	}
	if p.BatchSize < 1 {
		return p, "", Fatalf("param \"batch_size\" must be positive, got %d", p.BatchSize)
	}
	if p.Pattern != "" {
		if _, err := path.Match(p.Pattern, ""); err != nil {
			return p, "", Fatalf("param \"pattern\": %w", err)
		}
	}
	if err := checkTemplate("source_location", p.SourceLocation); err != nil {
		return p, "", err
	}
	return p, format, checkConnection(o.deps, p.Connection)
}

func (o *Stage) Validate(params task.Params) error {
	_, _, err := o.decode(params)
	return err
}

func (o *Stage) Execute(ctx context.Context, inv Invocation) error {
	p, format, err := o.decode(inv.Task.Params)
	if err != nil {
		return err
	}
	if o.deps.Sources == nil {
		return Fatalf("no object store resolver configured")
	}
	location, err := render(inv, "source_location", p.SourceLocation)
	if err != nil {
		return err
	}
	logger := ctxlog.FromContext(ctx).With("table", p.Table, "source", location)

	store, prefix, err := o.deps.Sources.Resolve(ctx, objectstore.Location{
		URL:         location,
		Region:      p.Region,
		Credentials: p.Credentials,
	})
	if err != nil {
		return Fatal(err)
	}
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return classifyStoreErr(err)
	}
	if p.Pattern != "" {
		objects = filterObjects(objects, p.Pattern)
	}
	if len(objects) == 0 {
		logger.Warn("No objects to stage.", "prefix", prefix, "pattern", p.Pattern)
	}

	return withSession(ctx, o.deps, p.Connection, func(s *warehouse.Session) error {
		columns, err := s.Columns(ctx, p.Table)
		if err != nil {
			return fmt.Errorf("failed to read columns of %s: %w", p.Table, err)
		}
		return s.InTx(ctx, func(tx *warehouse.Tx) error {
			if p.Truncate {
				qt, _ := warehouse.QuoteIdent(p.Table)
				if _, err := tx.Exec(ctx, "DELETE FROM "+qt); err != nil {
					return err
				}
			}
			var total int64
			for _, obj := range objects {
				n, err := o.stageObject(ctx, tx, store, obj, format, p, columns)
				if err != nil {
					return err
				}
				logger.Debug("Staged object.", "key", obj.Key, "rows", n)
				total += n
			}
			logger.Info("Staged source data.", "objects", len(objects), "rows", total)
			return nil
		})
	})
}

func (o *Stage) stageObject(ctx context.Context, tx *warehouse.Tx, store objectstore.Store, obj objectstore.Object, format FileFormat, p stageParams, columns []string) (int64, error) {
	rc, err := store.Open(ctx, obj.Key)
	if err != nil {
		return 0, classifyStoreErr(err)
	}
	defer rc.Close()

	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[strings.ToLower(c)] = i
	}

	var (
		total int64
		batch [][]any
	)
	flush := func() error {
		n, err := tx.InsertRows(ctx, p.Table, columns, batch)
		total += n
		batch = batch[:0]
		return err
	}
	err = readRecords(format, rc, func(rec record) error {
		row := make([]any, len(columns))
		for k, v := range rec {
			if i, ok := index[k]; ok {
				row[i] = v
			}
		}
		batch = append(batch, row)
		if len(batch) >= p.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		var me *malformedError
		if errors.As(err, &me) {
			return total, Fatalf("object %s: %w", obj.Key, err)
		}
		return total, fmt.Errorf("object %s: %w", obj.Key, err)
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

func filterObjects(objects []objectstore.Object, pattern string) []objectstore.Object {
	out := objects[:0:0]
	for _, obj := range objects {
		if ok, _ := path.Match(pattern, path.Base(obj.Key)); ok {
			out = append(out, obj)
		}
	}
	return out
}

func classifyStoreErr(err error) error {
	var se *objectstore.StatusError
	if errors.As(err, &se) && !se.Temporary() {
		return Fatal(err)
	}
	if errors.Is(err, objectstore.ErrNoStore) || errors.Is(err, fs.ErrNotExist) {
		return Fatal(err)
	}
	return err
}
