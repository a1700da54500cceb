package operator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/specialistvlad/etlgrid/internal/ctxlog"
	"github.com/specialistvlad/etlgrid/internal/task"
	"github.com/specialistvlad/etlgrid/internal/warehouse"
	"github.com/zclconf/go-cty/cty"
)

// DefaultComparison is applied when a check names no comparison.
const DefaultComparison = "observed == expected"

// QualityCheck runs a single-value SQL query and compares the result with
// the expected value. A mismatch is fatal: the gate is never retried. So is a
// check query the warehouse cannot compile; errors raised while the query
// runs are retried.
type QualityCheck struct {
	deps Deps
}

type qualityCheckParams struct {
	CheckExpression string    `param:"check_expression"`
	ExpectedValue   cty.Value `param:"expected_value"`
	Comparison      string    `param:"comparison,optional"`
	Connection      string    `param:"connection,optional"`
	Credentials     string    `param:"credentials,optional"`
}

// NewQualityCheck returns the QualityCheck operator.
func NewQualityCheck(deps Deps) *QualityCheck {
	return &QualityCheck{deps: deps}
}

func (o *QualityCheck) Kind() task.Kind { return task.QualityCheck }

func (o *QualityCheck) decode(params task.Params) (qualityCheckParams, any, *govaluate.EvaluableExpression, error) {
	p := qualityCheckParams{Comparison: DefaultComparison}
	if err := DecodeParams(params, &p); err != nil {
		return p, nil, nil, err
	}
	expected, err := Native(p.ExpectedValue)
	if err != nil {
		return p, nil, nil, Fatalf("param \"expected_value\": %w", err)
	}
	if err := checkTemplate("check_expression", p.CheckExpression); err != nil {
		return p, nil, nil, err
	}
	expr, err := govaluate.NewEvaluableExpression(p.Comparison)
	if err != nil {
		return p, nil, nil, Fatalf("param \"comparison\": %w", err)
	}
	for _, v := range expr.Vars() {
		if v != "observed" && v != "expected" {
			return p, nil, nil, Fatalf("param \"comparison\": unknown variable %q, only observed and expected are defined", v)
		}
	}
	return p, expected, expr, checkConnection(o.deps, p.Connection)
}

func (o *QualityCheck) Validate(params task.Params) error {
	_, _, _, err := o.decode(params)
	return err
}

func (o *QualityCheck) Execute(ctx context.Context, inv Invocation) error {
	p, expected, expr, err := o.decode(inv.Task.Params)
	if err != nil {
		return err
	}
	query, err := render(inv, "check_expression", p.CheckExpression)
	if err != nil {
		return err
	}
	logger := ctxlog.FromContext(ctx)

	var observed any
	err = withSession(ctx, o.deps, p.Connection, func(s *warehouse.Session) error {
		v, err := s.QueryValue(ctx, query)
		if errors.Is(err, warehouse.ErrNoRows) {
			return Fatalf("check %q returned no rows", query)
		}
		var stmtErr *warehouse.StatementError
		if errors.As(err, &stmtErr) {
			return Fatal(err)
		}
		observed = v
		return err
	})
	if err != nil {
		return err
	}

	observed = normalize(observed, expected)
	result, err := expr.Evaluate(map[string]any{"observed": observed, "expected": expected})
	if err != nil {
		return Fatalf("evaluate %q: %w", p.Comparison, err)
	}
	ok, isBool := result.(bool)
	if !isBool {
		return Fatalf("comparison %q returned %T, want bool", p.Comparison, result)
	}
	if !ok {
		gate := &GateError{Check: query, Observed: observed, Expected: expected, Comparison: p.Comparison}
		logger.Warn("Quality gate failed.", "observed", observed, "expected", expected, "comparison", p.Comparison)
		return Fatal(gate)
	}
	logger.Info("Quality gate passed.", "observed", observed, "expected", expected)
	return nil
}

// normalize coerces a warehouse value towards the type of expected so the
// comparison does not trip over int64 versus float64.
func normalize(v, expected any) any {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case float32:
		return float64(x)
	case []byte:
		return normalize(string(x), expected)
	case string:
		switch expected.(type) {
		case float64:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f
			}
		case bool:
			if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
				return b
			}
		}
		return x
	case bool:
		if _, isNum := expected.(float64); isNum {
			if x {
				return float64(1)
			}
			return float64(0)
		}
		return x
	case nil:
		return nil
	}
	return fmt.Sprint(v)
}
