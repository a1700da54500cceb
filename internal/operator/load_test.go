package operator

import (
	"context"
	"errors"
	"testing"

	"github.com/specialistvlad/etlgrid/internal/task"
	"github.com/specialistvlad/etlgrid/internal/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

var loadDDL = []string{
	`CREATE TABLE staging_events (userid TEXT, firstname TEXT, level TEXT, page TEXT, ts INTEGER)`,
	`CREATE TABLE users (userid TEXT, first_name TEXT, level TEXT)`,
	`CREATE TABLE songplays (userid TEXT, start_ts INTEGER, run_partition TEXT)`,
	`INSERT INTO staging_events VALUES ('1','Ann','free','NextSong',10), ('1','Ann','free','NextSong',20), ('2','Bob','paid','Home',30)`,
}

func TestLoadDimensionTruncateIsIdempotent(t *testing.T) {
	pool := newTestWarehouse(t, loadDDL...)
	op := NewLoadDimension(Deps{Warehouse: pool, DefaultConnection: testConn})
	inv := invoke("load_users", task.LoadDimension, task.Params{
		"table":        str("users"),
		"truncate":     cty.True,
		"sql_template": str(`SELECT DISTINCT userid, firstname, level FROM staging_events WHERE page = 'NextSong'`),
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, op.Execute(context.Background(), inv))
		assert.EqualValues(t, 1, queryValue(t, pool, `SELECT count(*) FROM users`), "run %d", i+1)
	}
}

func TestLoadDimensionAppend(t *testing.T) {
	pool := newTestWarehouse(t, loadDDL...)
	op := NewLoadDimension(Deps{Warehouse: pool, DefaultConnection: testConn})
	inv := invoke("load_users", task.LoadDimension, task.Params{
		"table":        str("users"),
		"columns":      cty.TupleVal([]cty.Value{str("userid"), str("first_name")}),
		"sql_template": str(`SELECT DISTINCT userid, firstname FROM staging_events`),
	})
	require.NoError(t, op.Execute(context.Background(), inv))
	require.NoError(t, op.Execute(context.Background(), inv))
	assert.EqualValues(t, 4, queryValue(t, pool, `SELECT count(*) FROM users`))
	assert.EqualValues(t, 0, queryValue(t, pool, `SELECT count(*) FROM users WHERE level IS NOT NULL`))
}

func TestLoadDimensionFailedInsertKeepsRows(t *testing.T) {
	pool := newTestWarehouse(t, loadDDL...)
	execSQL(t, pool, `INSERT INTO users VALUES ('9','Zed','free')`)
	op := NewLoadDimension(Deps{Warehouse: pool, DefaultConnection: testConn})
	err := op.Execute(context.Background(), invoke("load_users", task.LoadDimension, task.Params{
		"table":        str("users"),
		"truncate":     cty.True,
		"sql_template": str(`SELECT nope FROM staging_events`),
	}))
	require.Error(t, err)
	assert.False(t, IsFatal(err), "warehouse errors are retryable")
	assert.EqualValues(t, 1, queryValue(t, pool, `SELECT count(*) FROM users`), "delete rolled back")
}

func TestLoadFact(t *testing.T) {
	params := func(partition bool) task.Params {
		p := task.Params{
			"table":        str("songplays"),
			"sql_template": str(`SELECT userid, ts, '{{ .PartitionKey }}' FROM staging_events WHERE page = 'NextSong'`),
		}
		if partition {
			p["partition_column"] = str("run_partition")
		}
		return p
	}

	t.Run("append duplicates", func(t *testing.T) {
		pool := newTestWarehouse(t, loadDDL...)
		op := NewLoadFact(Deps{Warehouse: pool, DefaultConnection: testConn})
		inv := invoke("load_songplays", task.LoadFact, params(false))
		require.NoError(t, op.Execute(context.Background(), inv))
		require.NoError(t, op.Execute(context.Background(), inv))
		assert.EqualValues(t, 4, queryValue(t, pool, `SELECT count(*) FROM songplays`))
		assert.Equal(t, "2019-01-12T10:00:00Z", queryValue(t, pool, `SELECT DISTINCT run_partition FROM songplays`))
	})

	t.Run("partition replaces", func(t *testing.T) {
		pool := newTestWarehouse(t, loadDDL...)
		execSQL(t, pool, `INSERT INTO songplays VALUES ('7', 1, '2019-01-12T09:00:00Z')`)
		op := NewLoadFact(Deps{Warehouse: pool, DefaultConnection: testConn})
		inv := invoke("load_songplays", task.LoadFact, params(true))
		require.NoError(t, op.Execute(context.Background(), inv))
		require.NoError(t, op.Execute(context.Background(), inv))
		assert.EqualValues(t, 3, queryValue(t, pool, `SELECT count(*) FROM songplays`), "other partitions untouched")
	})

	t.Run("missing binding is fatal", func(t *testing.T) {
		pool := newTestWarehouse(t, loadDDL...)
		op := NewLoadFact(Deps{Warehouse: pool, DefaultConnection: testConn})
		err := op.Execute(context.Background(), invoke("load_songplays", task.LoadFact, task.Params{
			"table":        str("songplays"),
			"sql_template": str(`SELECT userid, ts, '{{ .Bindings.region }}' FROM staging_events`),
		}))
		assert.True(t, IsFatal(err))
	})

	t.Run("unknown connection is fatal", func(t *testing.T) {
		pool := newTestWarehouse(t, loadDDL...)
		op := NewLoadFact(Deps{Warehouse: pool, DefaultConnection: testConn})
		p := params(false)
		p["connection"] = str("redshift")
		err := op.Execute(context.Background(), invoke("load_songplays", task.LoadFact, p))
		assert.True(t, IsFatal(err))
		assert.ErrorIs(t, err, warehouse.ErrUnknownConnection)
	})
}

func TestQualityCheck(t *testing.T) {
	pool := newTestWarehouse(t,
		`CREATE TABLE songs (songid TEXT, title TEXT)`,
		`INSERT INTO songs VALUES ('S1','a'), ('S2','b'), (NULL,'c')`,
	)
	op := NewQualityCheck(Deps{Warehouse: pool, DefaultConnection: testConn})

	tests := []struct {
		name     string
		params   task.Params
		wantGate bool
		wantErr  string
	}{
		{
			name: "null ids fail the gate",
			params: task.Params{
				"check_expression": str(`select count(*) from songs where songid is null;`),
				"expected_value":   cty.NumberIntVal(0),
			},
			wantGate: true,
		},
		{
			name: "matching count",
			params: task.Params{
				"check_expression": str(`select count(*) from songs where songid is not null`),
				"expected_value":   cty.NumberIntVal(2),
			},
		},
		{
			name: "custom comparison",
			params: task.Params{
				"check_expression": str(`select count(*) from songs`),
				"expected_value":   cty.NumberIntVal(1),
				"comparison":       str("observed >= expected"),
			},
		},
		{
			name: "string value",
			params: task.Params{
				"check_expression": str(`select title from songs where songid = 'S2'`),
				"expected_value":   str("b"),
			},
		},
		{
			name: "numeric text against number",
			params: task.Params{
				"check_expression": str(`select '3'`),
				"expected_value":   cty.NumberIntVal(3),
			},
		},
		{
			name: "no rows",
			params: task.Params{
				"check_expression": str(`select title from songs where 1 = 0`),
				"expected_value":   str("x"),
			},
			wantErr: "returned no rows",
		},
		{
			name: "non boolean comparison",
			params: task.Params{
				"check_expression": str(`select 1`),
				"expected_value":   cty.NumberIntVal(1),
				"comparison":       str("observed + expected"),
			},
			wantErr: "want bool",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := op.Execute(context.Background(), invoke("run_quality_checks", task.QualityCheck, tc.params))
			switch {
			case tc.wantGate:
				require.Error(t, err)
				assert.True(t, IsFatal(err))
				var gate *GateError
				require.True(t, errors.As(err, &gate))
				assert.Equal(t, 1.0, gate.Observed)
				assert.Equal(t, 0.0, gate.Expected)
			case tc.wantErr != "":
				require.Error(t, err)
				assert.True(t, IsFatal(err))
				assert.Contains(t, err.Error(), tc.wantErr)
			default:
				require.NoError(t, err)
			}
		})
	}
}

func TestQualityCheckQueryErrors(t *testing.T) {
	testCases := []struct {
		name      string
		query     string
		wantFatal bool
	}{
		{name: "syntax error", query: `SELEC count(*) FROM songplays`, wantFatal: true},
		{name: "missing table", query: `SELECT count(*) FROM missing_table`, wantFatal: true},
		{name: "runtime error", query: `SELECT json(payload) FROM raw`, wantFatal: false},
	}

	pool := newTestWarehouse(t,
		`CREATE TABLE raw (payload TEXT)`,
		`INSERT INTO raw VALUES ('not json')`,
	)
	op := NewQualityCheck(Deps{Warehouse: pool, DefaultConnection: testConn})
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := op.Execute(context.Background(), invoke("run_quality_checks", task.QualityCheck, task.Params{
				"check_expression": str(tc.query),
				"expected_value":   cty.NumberIntVal(0),
			}))
			require.Error(t, err)
			assert.Equal(t, tc.wantFatal, IsFatal(err))
			assert.Equal(t, !tc.wantFatal, IsRetryable(err))
		})
	}
}

func TestMarker(t *testing.T) {
	assert.NoError(t, Marker{}.Execute(context.Background(), invoke("begin", task.Marker, nil)))
	assert.NoError(t, Marker{}.Validate(task.Params{"description": str("Begin_execution")}))
}
