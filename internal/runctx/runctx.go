// Package runctx holds the per-run metadata threaded into every task
// invocation: the logical time the run represents, an opaque run id used for
// idempotency keys, and caller-supplied bindings.
package runctx

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"text/template"
	"time"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/google/uuid"
)

// RunContext is created once per run and shared read-only by all tasks.
// Fields are unexported so the value cannot be mutated after New.
type RunContext struct {
	dag         string
	runID       string
	logicalTime time.Time
	bindings    map[string]string
}

// Option customises New.
type Option func(*RunContext)

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(rc *RunContext) { rc.runID = id }
}

// WithBindings attaches caller parameters, available to templates as
// .Bindings.
func WithBindings(b map[string]string) Option {
	return func(rc *RunContext) {
		for k, v := range b {
			rc.bindings[k] = v
		}
	}
}

// New returns the context for one run of dag at logicalTime. The logical
// time is normalised to UTC.
func New(dag string, logicalTime time.Time, opts ...Option) *RunContext {
	rc := &RunContext{
		dag:         dag,
		logicalTime: logicalTime.UTC(),
		bindings:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.runID == "" {
		rc.runID = uuid.NewString()
	}
	return rc
}

// DAG returns the name of the DAG being run.
func (rc *RunContext) DAG() string { return rc.dag }

// RunID returns the opaque identifier of this execution.
func (rc *RunContext) RunID() string { return rc.runID }

// LogicalTime returns the nominal time the run represents.
func (rc *RunContext) LogicalTime() time.Time { return rc.logicalTime }

// PartitionKey identifies the logical interval of this run. Two runs for the
// same logical time share it, regardless of run id.
func (rc *RunContext) PartitionKey() string {
	return rc.logicalTime.Format(time.RFC3339)
}

// Binding returns a caller parameter.
func (rc *RunContext) Binding(key string) (string, bool) {
	v, ok := rc.bindings[key]
	return v, ok
}

// Bindings returns a copy of the caller parameters.
func (rc *RunContext) Bindings() map[string]string {
	out := make(map[string]string, len(rc.bindings))
	for k, v := range rc.bindings {
		out[k] = v
	}
	return out
}

// BindingKeys returns binding names in sorted order.
func (rc *RunContext) BindingKeys() []string {
	keys := make([]string, 0, len(rc.bindings))
	for k := range rc.bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// templateData is the dot value seen by Render.
type templateData struct {
	DAG          string
	RunID        string
	LogicalTime  time.Time
	Ds           string
	Ts           string
	PartitionKey string
	Bindings     map[string]string
}

func parse(text string) (*template.Template, error) {
	tmpl, err := template.New("param").
		Option("missingkey=error").
		Funcs(sprig.TxtFuncMap()).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return tmpl, nil
}

// CheckTemplate reports syntax errors in text without rendering it.
func CheckTemplate(text string) error {
	_, err := parse(text)
	return err
}

// Render executes text as a Go template with the run metadata and the
// slim-sprig function set. Referencing a missing binding is an error.
func (rc *RunContext) Render(text string) (string, error) {
	tmpl, err := parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, templateData{
		DAG:          rc.dag,
		RunID:        rc.runID,
		LogicalTime:  rc.logicalTime,
		Ds:           rc.logicalTime.Format("2006-01-02"),
		Ts:           rc.logicalTime.Format(time.RFC3339),
		PartitionKey: rc.PartitionKey(),
		Bindings:     rc.Bindings(),
	}); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

type ctxKey struct{}

// WithRun returns a context carrying rc.
func WithRun(ctx context.Context, rc *RunContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext returns the run context stored by WithRun, if any.
func FromContext(ctx context.Context) (*RunContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(*RunContext)
	return rc, ok
}
