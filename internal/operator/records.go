package operator

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// FileFormat is a staged object encoding.
type FileFormat string

const (
	FormatJSON      FileFormat = "json"
	FormatJSONLines FileFormat = "jsonlines"
	FormatCSV       FileFormat = "csv"
)

// ParseFileFormat accepts the format names case-insensitively. "ndjson" is
// an alias for jsonlines.
func ParseFileFormat(s string) (FileFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "json 'auto'", "auto":
		return FormatJSON, nil
	case "jsonlines", "ndjson":
		return FormatJSONLines, nil
	case "csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported file format %q", s)
}

// record is one decoded source row keyed by lower-cased field name.
type record map[string]any

// malformedError is a source object that will never decode, as opposed to
// a read that failed half way.
type malformedError struct {
	err error
}

func (e *malformedError) Error() string { return e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

func malformed(format string, args ...any) error {
	return &malformedError{err: fmt.Errorf(format, args...)}
}

func classifyDecode(n int, err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var csvErr *csv.ParseError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.As(err, &csvErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return malformed("record %d: %w", n, err)
	}
	return fmt.Errorf("record %d: %w", n, err)
}

// readRecords decodes r and calls fn for every record. Decode errors are
// returned as is; callers decide their classification.
func readRecords(format FileFormat, r io.Reader, fn func(record) error) error {
	switch format {
	case FormatCSV:
		return readCSV(r, fn)
	case FormatJSON, FormatJSONLines:
		return readJSON(r, fn)
	}
	return fmt.Errorf("unsupported file format %q", format)
}

// readJSON handles a stream of concatenated or newline-delimited objects,
// and top-level arrays of objects.
func readJSON(r io.Reader, fn func(record) error) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	for n := 0; ; n++ {
		var v any
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return classifyDecode(n, err)
		}
		switch x := v.(type) {
		case map[string]any:
			if err := fn(toRecord(x)); err != nil {
				return err
			}
		case []any:
			for i, el := range x {
				obj, ok := el.(map[string]any)
				if !ok {
					return malformed("record %d[%d]: want object, got %T", n, i, el)
				}
				if err := fn(toRecord(obj)); err != nil {
					return err
				}
			}
		default:
			return malformed("record %d: want object, got %T", n, v)
		}
	}
}

func toRecord(obj map[string]any) record {
	rec := make(record, len(obj))
	for k, v := range obj {
		rec[strings.ToLower(k)] = scalar(v)
	}
	return rec
}

// scalar flattens JSON values into something a SQL driver accepts.
func scalar(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any, []any:
		b, _ := json.Marshal(x)
		return string(b)
	}
	return v
}

func readCSV(r io.Reader, fn func(record) error) error {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return classifyDecode(0, err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	cr.FieldsPerRecord = len(header)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return classifyDecode(line, err)
		}
		rec := make(record, len(header))
		for i, name := range header {
			if row[i] == "" {
				rec[name] = nil
				continue
			}
			rec[name] = row[i]
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
