package operator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/etlgrid/internal/runctx"
	"github.com/specialistvlad/etlgrid/internal/task"
	"github.com/specialistvlad/etlgrid/internal/warehouse"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

const testConn = "warehouse"

func newTestWarehouse(t *testing.T, ddl ...string) *warehouse.Pool {
	t.Helper()
	pool := warehouse.NewPool(nil, map[string]warehouse.ConnConfig{
		testConn: {Driver: warehouse.DriverSQLite, DSN: filepath.Join(t.TempDir(), "wh.db")},
	})
	t.Cleanup(func() { _ = pool.Close() })
	for _, stmt := range ddl {
		execSQL(t, pool, stmt)
	}
	return pool
}

func execSQL(t *testing.T, pool *warehouse.Pool, stmt string) {
	t.Helper()
	ctx := context.Background()
	s, err := pool.Session(ctx, testConn)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Exec(ctx, stmt)
	require.NoError(t, err, stmt)
}

func queryValue(t *testing.T, pool *warehouse.Pool, q string) any {
	t.Helper()
	ctx := context.Background()
	s, err := pool.Session(ctx, testConn)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.QueryValue(ctx, q)
	require.NoError(t, err, q)
	return v
}

func testRun() *runctx.RunContext {
	return runctx.New("sparkify", time.Date(2019, 1, 12, 10, 0, 0, 0, time.UTC), runctx.WithRunID("run-1"))
}

func invoke(id string, kind task.Kind, params task.Params) Invocation {
	return Invocation{
		Task:    task.Task{ID: id, Kind: kind, Params: params},
		Run:     testRun(),
		Attempt: 1,
	}
}

func str(s string) cty.Value { return cty.StringVal(s) }
