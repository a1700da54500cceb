package operator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/specialistvlad/etlgrid/internal/warehouse"
)

// withSession opens a warehouse session for the attempt and guarantees it
// is released on every path.
func withSession(ctx context.Context, deps Deps, connID string, fn func(*warehouse.Session) error) (err error) {
	if deps.Warehouse == nil {
		return Fatalf("no warehouse configured")
	}
	if connID == "" {
		connID = deps.DefaultConnection
	}
	if connID == "" {
		return Fatalf("no connection given and no default connection configured")
	}
	s, err := deps.Warehouse.Session(ctx, connID)
	if err != nil {
		if errors.Is(err, warehouse.ErrUnknownConnection) {
			return Fatal(err)
		}
		return err
	}
	defer func() {
		if cErr := s.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("failed to release session: %w", cErr)
		}
	}()
	return fn(s)
}

func checkConnection(deps Deps, connID string) error {
	if connID == "" && deps.DefaultConnection == "" {
		return Fatalf("param \"connection\" is required when no default connection is configured")
	}
	return nil
}

// insertSelect builds "INSERT INTO table [(cols)] <select>".
func insertSelect(table string, columns []string, selectSQL string) (string, error) {
	qt, err := warehouse.QuoteIdent(table)
	if err != nil {
		return "", Fatal(err)
	}
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(qt)
	if len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, c := range columns {
			if quoted[i], err = warehouse.QuoteIdent(c); err != nil {
				return "", Fatal(err)
			}
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(quoted, ", "))
		b.WriteString(")")
	}
	b.WriteString(" ")
	b.WriteString(strings.TrimSpace(selectSQL))
	return b.String(), nil
}

func validIdent(name, param string) error {
	if _, err := warehouse.QuoteIdent(name); err != nil {
		return Fatalf("param %q: %w", param, err)
	}
	return nil
}
