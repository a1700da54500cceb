package hcl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/specialistvlad/etlgrid/internal/ctxlog"
	"github.com/specialistvlad/etlgrid/internal/dag"
	"github.com/specialistvlad/etlgrid/internal/task"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Loader reads DAG definitions from HCL files.
type Loader struct {
	vars map[string]string
}

// NewLoader creates a loader. vars are exposed to expressions as var.<name>.
func NewLoader(vars map[string]string) *Loader {
	cp := make(map[string]string, len(vars))
	for k, v := range vars {
		cp[k] = v
	}
	return &Loader{vars: cp}
}

func (l *Loader) evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(l.vars))
	for k, v := range l.vars {
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"var": cty.ObjectVal(vars)},
		Functions: map[string]function.Function{
			"upper":     stdlib.UpperFunc,
			"lower":     stdlib.LowerFunc,
			"format":    stdlib.FormatFunc,
			"join":      stdlib.JoinFunc,
			"concat":    stdlib.ConcatFunc,
			"trimspace": stdlib.TrimSpaceFunc,
			"replace":   stdlib.ReplaceFunc,
		},
	}
}

// Load parses every .hcl file under paths and assembles one definition.
// Paths may be files or directories; directories are walked recursively.
func (l *Loader) Load(ctx context.Context, paths ...string) (*dag.Definition, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl files found in %v", paths)
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	evalCtx := l.evalContext()

	var (
		dags  []*dagBlock
		tasks []*taskBlock
	)
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, evalCtx, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		dags = append(dags, root.DAGs...)
		tasks = append(tasks, root.Tasks...)
	}

	switch len(dags) {
	case 0:
		return nil, fmt.Errorf("no dag block found")
	case 1:
	default:
		return nil, fmt.Errorf("found %d dag blocks, exactly one is allowed", len(dags))
	}

	def, err := translateDAG(dags[0])
	if err != nil {
		return nil, err
	}
	for _, tb := range tasks {
		t, err := translateTask(tb, def.Options.DefaultRetry, evalCtx)
		if err != nil {
			return nil, err
		}
		if err := def.AddTask(t); err != nil {
			return nil, fmt.Errorf("task %q: %w", tb.ID, err)
		}
	}
	for _, tb := range tasks {
		for _, up := range tb.DependsOn {
			if err := def.AddEdge(up, tb.ID); err != nil {
				return nil, fmt.Errorf("task %q: %w", tb.ID, err)
			}
		}
	}

	logger.Debug("HCL loading complete.", "dag", def.Name, "tasks", len(tasks), "edges", len(def.Edges()))
	return def, nil
}

func translateDAG(b *dagBlock) (*dag.Definition, error) {
	var opts []dag.Option
	if b.Description != nil {
		opts = append(opts, dag.WithDescription(*b.Description))
	}
	var start, end time.Time
	var err error
	if b.StartDate != nil {
		if start, err = parseDate(*b.StartDate); err != nil {
			return nil, fmt.Errorf("dag %q: start_date: %w", b.Name, err)
		}
	}
	if b.EndDate != nil {
		if end, err = parseDate(*b.EndDate); err != nil {
			return nil, fmt.Errorf("dag %q: end_date: %w", b.Name, err)
		}
	}
	schedule := ""
	if b.Schedule != nil {
		schedule = *b.Schedule
	}
	opts = append(opts, dag.WithSchedule(schedule, start, end))
	if b.Catchup != nil {
		opts = append(opts, dag.WithCatchup(*b.Catchup))
	}
	if b.MaxParallelism != nil {
		opts = append(opts, dag.WithMaxParallelism(*b.MaxParallelism))
	}
	if b.DefaultRetry != nil {
		p, err := translateRetry(b.DefaultRetry, task.RetryPolicy{MaxAttempts: 1})
		if err != nil {
			return nil, fmt.Errorf("dag %q: default_retry: %w", b.Name, err)
		}
		opts = append(opts, dag.WithDefaultRetry(p))
	}

	def := dag.New(b.Name, opts...)
	if b.MaxActiveRuns != nil {
		if *b.MaxActiveRuns < 1 {
			return nil, fmt.Errorf("dag %q: max_active_runs must be at least 1", b.Name)
		}
		def.Options.MaxActiveRuns = *b.MaxActiveRuns
	}
	return def, nil
}

// translateRetry overlays the block on base so a retry block only needs the
// fields it changes.
func translateRetry(b *retryBlock, base task.RetryPolicy) (task.RetryPolicy, error) {
	p := base
	if b.MaxAttempts != nil {
		p.MaxAttempts = *b.MaxAttempts
	}
	if b.Delay != nil {
		d, err := time.ParseDuration(*b.Delay)
		if err != nil {
			return p, fmt.Errorf("delay: %w", err)
		}
		p.Delay = d
	}
	if b.Exponential != nil {
		p.Exponential = *b.Exponential
	}
	return p, p.Validate()
}

func translateTask(b *taskBlock, defaults task.RetryPolicy, evalCtx *hcl.EvalContext) (task.Task, error) {
	where := b.Params.MissingItemRange().Filename
	kind, err := task.ParseKind(b.Kind)
	if err != nil {
		return task.Task{}, fmt.Errorf("%s: task %q: %w", where, b.ID, err)
	}
	t := task.Task{ID: b.ID, Kind: kind, Params: task.Params{}}

	if b.Retry != nil {
		base := defaults
		if base.MaxAttempts == 0 {
			base.MaxAttempts = 1
		}
		if t.Retry, err = translateRetry(b.Retry, base); err != nil {
			return task.Task{}, fmt.Errorf("%s: task %q: retry: %w", where, b.ID, err)
		}
	}

	attrs, diags := paramAttributes(b.Params)
	if diags.HasErrors() {
		return task.Task{}, fmt.Errorf("%s: task %q: %w", where, b.ID, diags)
	}
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(evalCtx)
		if diags.HasErrors() {
			return task.Task{}, fmt.Errorf("%s: task %q: param %q: %w", where, b.ID, name, diags)
		}
		t.Params[name] = val
	}
	return t, nil
}

// reservedAttrs are decoded into taskBlock fields and never become params.
var reservedAttrs = map[string]struct{}{"depends_on": {}}

// paramAttributes returns the free-form attributes of a task body. The remain
// body still holds the retry block, so JustAttributes cannot be used on
// native syntax bodies.
func paramAttributes(body hcl.Body) (hcl.Attributes, hcl.Diagnostics) {
	sb, ok := body.(*hclsyntax.Body)
	if !ok {
		return body.JustAttributes()
	}

	var diags hcl.Diagnostics
	for _, blk := range sb.Blocks {
		if blk.Type == "retry" {
			continue
		}
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  fmt.Sprintf("Unexpected %q block", blk.Type),
			Detail:   "Only a retry block is allowed inside a task.",
			Subject:  &blk.TypeRange,
		})
	}

	attrs := make(hcl.Attributes, len(sb.Attributes))
	for name, attr := range sb.Attributes {
		if _, reserved := reservedAttrs[name]; reserved {
			continue
		}
		attrs[name] = attr.AsHCLAttribute()
	}
	return attrs, diags
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q, want RFC3339 or YYYY-MM-DD", s)
}

// findAllHCLFiles walks all given paths and returns a sorted list of all .hcl
// files found.
func findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, wasSeen := seen[p]; !wasSeen {
			allFiles = append(allFiles, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if !info.IsDir() {
			if filepath.Ext(path) == ".hcl" {
				add(path)
			}
			continue
		}
		err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && filepath.Ext(p) == ".hcl" {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(allFiles)
	return allFiles, nil
}
