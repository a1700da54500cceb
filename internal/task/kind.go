package task

import (
	"fmt"
	"strings"
)

// Kind is the closed set of operations a task can perform. Every Kind maps to
// exactly one operator strategy in the operator registry.
type Kind int

const (
	// Stage copies external objects into a staging table.
	Stage Kind = iota + 1
	// LoadFact inserts derived rows into a fact table.
	LoadFact
	// LoadDimension (optionally truncates and) fills a dimension table.
	LoadDimension
	// QualityCheck asserts a property of loaded data and gates the run.
	QualityCheck
	// Marker is a no-op used for begin/end anchors.
	Marker
)

var kindNames = map[Kind]string{
	Stage:         "stage",
	LoadFact:      "load_fact",
	LoadDimension: "load_dimension",
	QualityCheck:  "quality_check",
	Marker:        "marker",
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{Stage, LoadFact, LoadDimension, QualityCheck, Marker}
}

// String returns the snake-case name used in pipeline files.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind resolves a kind from its pipeline-file name. Matching is
// case-insensitive and tolerates dashes in place of underscores.
func ParseKind(s string) (Kind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for k, name := range kindNames {
		if name == norm {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown task kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown task kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
