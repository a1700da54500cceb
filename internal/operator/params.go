package operator

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/specialistvlad/etlgrid/internal/task"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

var ctyValueType = reflect.TypeOf(cty.Value{})

// DecodeParams populates the struct pointed to by out from params. Fields
// are bound with `param:"name"` or `param:"name,optional"` tags. Fields left
// unset keep their current value, so callers set defaults before decoding.
// Every failure is a FatalError.
func DecodeParams(params task.Params, out any) error {
	ptr := reflect.ValueOf(out)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() || ptr.Elem().Kind() != reflect.Struct {
		return Fatalf("decode target must be a non-nil pointer to a struct, got %T", out)
	}
	structVal := ptr.Elem()
	structType := structVal.Type()

	known := make(map[string]struct{}, structType.NumField())
	for i := 0; i < structType.NumField(); i++ {
		fieldDef := structType.Field(i)
		fieldVal := structVal.Field(i)
		if !fieldDef.IsExported() || !fieldVal.CanSet() {
			continue
		}
		name, optional := parseTag(fieldDef.Tag.Get("param"))
		if name == "" || name == "-" {
			continue
		}
		known[name] = struct{}{}

		val, ok := params[name]
		if !ok || val.IsNull() {
			if optional {
				continue
			}
			return Fatalf("missing required param %q", name)
		}
		if !val.IsWhollyKnown() {
			return Fatalf("param %q has an unknown value", name)
		}
		if err := decodeValue(val, fieldVal); err != nil {
			return Fatalf("invalid param %q: %w", name, err)
		}
	}

	var unknown []string
	for k := range params {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Fatalf("unsupported params: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func parseTag(tag string) (name string, optional bool) {
	parts := strings.Split(tag, ",")
	for _, opt := range parts[1:] {
		if opt == "optional" {
			optional = true
		}
	}
	return parts[0], optional
}

func decodeValue(val cty.Value, field reflect.Value) error {
	if field.Type() == ctyValueType {
		field.Set(reflect.ValueOf(val))
		return nil
	}
	want, err := gocty.ImpliedType(reflect.Zero(field.Type()).Interface())
	if err != nil {
		return fmt.Errorf("cannot imply cty type for %s: %w", field.Type(), err)
	}
	converted, err := convert.Convert(val, want)
	if err != nil {
		return fmt.Errorf("cannot convert %s to %s: %w", val.Type().FriendlyName(), want.FriendlyName(), err)
	}
	return gocty.FromCtyValue(converted, field.Addr().Interface())
}

// Native converts a primitive cty value into a plain Go value: string,
// bool or float64. Numbers that are whole are still returned as float64 so
// that comparisons against warehouse results are type-stable.
func Native(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("value is unknown")
	}
	switch v.Type() {
	case cty.String:
		return v.AsString(), nil
	case cty.Bool:
		return v.True(), nil
	case cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", v.Type().FriendlyName())
}
