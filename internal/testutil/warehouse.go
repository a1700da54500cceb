package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/etlgrid/internal/warehouse"
	"github.com/stretchr/testify/require"
)

// WarehouseConn is the connection id used by NewWarehouse.
const WarehouseConn = "warehouse"

// Warehouse wraps a pool backed by a SQLite file in a temp dir.
type Warehouse struct {
	*warehouse.Pool
	t   *testing.T
	DSN string
}

// NewWarehouse opens a fresh SQLite warehouse and runs ddl against it.
func NewWarehouse(t *testing.T, ddl ...string) *Warehouse {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "warehouse.db")
	pool := warehouse.NewPool(nil, map[string]warehouse.ConnConfig{
		WarehouseConn: {Driver: warehouse.DriverSQLite, DSN: dsn},
	})
	t.Cleanup(func() { _ = pool.Close() })
	w := &Warehouse{Pool: pool, t: t, DSN: dsn}
	for _, stmt := range ddl {
		w.Exec(stmt)
	}
	return w
}

// Exec runs a statement and fails the test on error.
func (w *Warehouse) Exec(stmt string) {
	w.t.Helper()
	ctx := context.Background()
	s, err := w.Session(ctx, WarehouseConn)
	require.NoError(w.t, err)
	defer s.Close()
	_, err = s.Exec(ctx, stmt)
	require.NoError(w.t, err, stmt)
}

// Value runs a single-value query and fails the test on error.
func (w *Warehouse) Value(query string) any {
	w.t.Helper()
	ctx := context.Background()
	s, err := w.Session(ctx, WarehouseConn)
	require.NoError(w.t, err)
	defer s.Close()
	v, err := s.QueryValue(ctx, query)
	require.NoError(w.t, err, query)
	return v
}

// Count returns the row count of table.
func (w *Warehouse) Count(table string) int64 {
	w.t.Helper()
	q, err := warehouse.QuoteIdent(table)
	require.NoError(w.t, err)
	v := w.Value("SELECT count(*) FROM " + q)
	n, ok := v.(int64)
	require.True(w.t, ok, "count(*) returned %T", v)
	return n
}
