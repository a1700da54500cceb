package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/specialistvlad/etlgrid/internal/dag"
	"github.com/specialistvlad/etlgrid/internal/pipeline"
	"github.com/specialistvlad/etlgrid/internal/task"
	"github.com/specialistvlad/etlgrid/internal/testutil"
	"github.com/specialistvlad/etlgrid/internal/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logicalTime = time.Date(2019, 1, 12, 10, 0, 0, 0, time.UTC)

// setupAppTest creates a new app instance with debug logging captured in
// the returned buffer.
func setupAppTest(t *testing.T, cfg Config, opts ...Option) (*App, *testutil.SafeBuffer) {
	t.Helper()
	cfg.LogLevel = "debug"
	valid, err := NewConfig(cfg)
	require.NoError(t, err)

	logBuffer := &testutil.SafeBuffer{}
	a, err := New(context.Background(), logBuffer, valid, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		if os.Getenv("ETLGRID_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})
	return a, logBuffer
}

func markers(t *testing.T, ids ...string) *dag.Definition {
	t.Helper()
	d := dag.New("markers", dag.WithSchedule("@hourly", logicalTime, logicalTime.Add(2*time.Hour)), dag.WithCatchup(true))
	for _, id := range ids {
		require.NoError(t, d.AddTask(task.Task{ID: id, Kind: task.Marker}))
	}
	require.NoError(t, d.Chain(ids...))
	return d
}

func TestNewConfig(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "defaults", cfg: Config{}},
		{name: "bad log format", cfg: Config{LogFormat: "xml"}, wantErr: "invalid log-format"},
		{name: "bad log level", cfg: Config{LogLevel: "loud"}, wantErr: "invalid log-level"},
		{name: "bad report", cfg: Config{Report: "html"}, wantErr: "invalid report format"},
		{name: "bad port", cfg: Config{HealthcheckPort: 70000}, wantErr: "invalid healthcheck port"},
		{name: "negative parallelism", cfg: Config{MaxParallelism: -1}, wantErr: "max_parallelism"},
		{
			name:    "connection without driver",
			cfg:     Config{Connections: map[string]warehouse.ConnConfig{"w": {DSN: "x"}}},
			wantErr: `connection "w": driver is required`,
		},
		{
			name:    "connection without target",
			cfg:     Config{Connections: map[string]warehouse.ConnConfig{"w": {Driver: "sqlite"}}},
			wantErr: "one of dsn or credentials",
		},
		{name: "unknown default connection", cfg: Config{DefaultConnection: "w"}, wantErr: "default_connection"},
		{
			name:    "source with root and url",
			cfg:     Config{Sources: []SourceConfig{{Prefix: "s3://b", Root: "/d", URL: "http://x"}}},
			wantErr: "exactly one of root or url",
		},
		{name: "unknown notify state", cfg: Config{Notify: NotifyConfig{States: []string{"exploded"}}}, wantErr: "unknown task state"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewConfig(tc.cfg)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "text", got.LogFormat)
			assert.Equal(t, "info", got.LogLevel)
			assert.Equal(t, "text", got.Report)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"etlgrid.yaml": `
pipeline: [pipelines/sparkify.hcl]
log_level: debug
max_parallelism: 4
default_connection: redshift
connections:
  redshift:
    driver: sqlite
    dsn: /tmp/warehouse.db
sources:
  - prefix: s3://udacity-dend
    root: /data
vars:
  bucket: s3://udacity-dend
notify:
  log: true
  states: [failed]
  socketio:
    url: http://localhost:3000/socket.io/
    connect_timeout: 2s
`,
		"bad.yaml": "max_paralelism: 4\n",
	})

	cfg, err := LoadConfigFile(filepath.Join(dir, "etlgrid.yaml"), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"pipelines/sparkify.hcl"}, cfg.Pipeline)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 4, cfg.MaxParallelism)
	assert.Equal(t, warehouse.ConnConfig{Driver: "sqlite", DSN: "/tmp/warehouse.db"}, cfg.Connections["redshift"])
	assert.Equal(t, []SourceConfig{{Prefix: "s3://udacity-dend", Root: "/data"}}, cfg.Sources)
	require.NotNil(t, cfg.Notify.SocketIO)
	assert.Equal(t, 2*time.Second, cfg.Notify.SocketIO.ConnectTimeout)
	_, err = NewConfig(cfg)
	require.NoError(t, err)

	_, err = LoadConfigFile(filepath.Join(dir, "bad.yaml"), DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_paralelism")

	_, err = LoadConfigFile(filepath.Join(dir, "missing.yaml"), DefaultConfig())
	require.Error(t, err)
}

func TestRunOnceMarkers(t *testing.T) {
	a, logs := setupAppTest(t, Config{Notify: NotifyConfig{Log: true}}, WithDefinition(markers(t, "begin", "end")))

	rec, err := a.RunOnce(context.Background(), logicalTime)
	require.NoError(t, err)
	assert.Equal(t, task.Success, rec.State)
	assert.Equal(t, logicalTime, rec.LogicalTime)
	assert.Contains(t, logs.String(), "🏁 Run finished.")
	assert.Contains(t, logs.String(), "📣 Notification")

	families, err := a.Gatherer().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["etlgrid_runs_total"])
	assert.True(t, names["etlgrid_task_transitions_total"])
}

func TestNewRejectsCycles(t *testing.T) {
	d := markers(t, "a", "b")
	require.NoError(t, d.AddEdge("b", "a"))
	cfg, err := NewConfig(Config{})
	require.NoError(t, err)

	_, err = New(context.Background(), io.Discard, cfg, WithDefinition(d))
	require.Error(t, err)
	var cycleErr *dag.CycleError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestNewRejectsInvalidTasks(t *testing.T) {
	d := dag.New("bad")
	require.NoError(t, d.AddTask(task.Task{ID: "load", Kind: task.LoadDimension}))
	cfg, err := NewConfig(Config{})
	require.NoError(t, err)

	_, err = New(context.Background(), io.Discard, cfg, WithDefinition(d))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid task "load"`)
}

func TestSchedule(t *testing.T) {
	a, _ := setupAppTest(t, Config{}, WithDefinition(markers(t, "only")))
	var out testutil.SafeBuffer
	a.outW = &out

	err := a.Schedule(context.Background())
	require.NoError(t, err)
	// Logical times 10:00, 11:00 and 12:00 fall inside the window.
	assert.Equal(t, 3, strings.Count(out.String(), "DAG: markers"))
}

func TestHealthMux(t *testing.T) {
	a, logs := setupAppTest(t, Config{}, WithDefinition(markers(t, "only")))
	srv := httptest.NewServer(a.healthMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK\n", string(body))
	assert.Contains(t, logs.String(), "Health check endpoint hit.")

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServeWithoutHealthcheck(t *testing.T) {
	a, _ := setupAppTest(t, Config{}, WithDefinition(markers(t, "only")))
	called := false
	require.NoError(t, a.Serve(context.Background(), func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

func TestServeShutsDownHealthcheck(t *testing.T) {
	a, logs := setupAppTest(t, Config{HealthcheckPort: freePort(t)}, WithDefinition(markers(t, "only")))
	require.NoError(t, a.Serve(context.Background(), func(ctx context.Context) error {
		_, err := a.RunOnce(ctx, logicalTime)
		return err
	}))
	assert.Contains(t, logs.String(), "Shutting down health check server")
}

func TestRunOnceSparkifyFromHCL(t *testing.T) {
	dataDir := testutil.WriteFiles(t, map[string]string{
		"log_data/events.json": `{"artist":"Mr Oizo","firstName":"Kaylee","lastName":"Summers","gender":"F","level":"free","length":144.03873,"page":"NextSong","sessionId":139,"song":"Flat 55","ts":1541106496796,"userAgent":"Mozilla/5.0","userId":"8"}`,
		"song_data/s.json":     `{"artist_id":"ARMJAGH1187FB546F3","artist_name":"Mr Oizo","song_id":"SOCIWDW12A8C13D406","title":"Flat 55","duration":144.03873,"year":1999}`,
	})
	cfg := Config{
		Pipeline: []string{"../../pipelines/sparkify.hcl"},
		Vars: map[string]string{
			"connection":  "redshift",
			"credentials": "aws_credentials",
			"bucket":      "s3://udacity-dend",
		},
		Connections: map[string]warehouse.ConnConfig{
			"redshift": {Driver: warehouse.DriverSQLite, DSN: filepath.Join(t.TempDir(), "w.db")},
		},
		Sources: []SourceConfig{{Prefix: "s3://udacity-dend", Region: "us-west-2", Root: dataDir}},
		Report:  "json",
	}
	a, _ := setupAppTest(t, cfg)
	assert.Equal(t, pipeline.Name, a.Graph().Name())

	ctx := context.Background()
	s, err := a.Warehouse().Session(ctx, "redshift")
	require.NoError(t, err)
	for _, stmt := range pipeline.DDL {
		_, err := s.Exec(ctx, stmt)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	rec, err := a.RunOnce(ctx, logicalTime)
	require.NoError(t, err)
	require.Equal(t, task.Success, rec.State, "%+v", rec.Tasks)

	var out testutil.SafeBuffer
	a.outW = &out
	require.NoError(t, a.Report(rec))
	assert.Contains(t, out.String(), `"dag": "sparkify"`)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}
