package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/specialistvlad/etlgrid/internal/dag"
	"github.com/specialistvlad/etlgrid/internal/executor"
	"github.com/specialistvlad/etlgrid/internal/hcl"
	"github.com/specialistvlad/etlgrid/internal/objectstore"
	"github.com/specialistvlad/etlgrid/internal/operator"
	"github.com/specialistvlad/etlgrid/internal/runctx"
	"github.com/specialistvlad/etlgrid/internal/task"
	"github.com/specialistvlad/etlgrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucket = "s3://udacity-dend"

var logicalTime = time.Date(2019, 1, 12, 10, 0, 0, 0, time.UTC)

var sampleData = map[string]string{
	"log_data/2018/11/2018-11-01-events.json": `
{"artist":"Des'ree","auth":"Logged In","firstName":"Kaylee","gender":"F","itemInSession":1,"lastName":"Summers","length":246.30812,"level":"free","location":"Phoenix-Mesa-Scottsdale, AZ","method":"PUT","page":"NextSong","registration":1540344794796.0,"sessionId":139,"song":"You Gotta Be","status":200,"ts":1541106106796,"userAgent":"Mozilla/5.0","userId":"8"}
{"artist":null,"auth":"Logged In","firstName":"Kaylee","gender":"F","itemInSession":2,"lastName":"Summers","length":null,"level":"free","location":"Phoenix-Mesa-Scottsdale, AZ","method":"GET","page":"Home","registration":1540344794796.0,"sessionId":139,"song":null,"status":200,"ts":1541106352796,"userAgent":"Mozilla/5.0","userId":"8"}
{"artist":"Mr Oizo","auth":"Logged In","firstName":"Kaylee","gender":"F","itemInSession":3,"lastName":"Summers","length":144.03873,"level":"free","location":"Phoenix-Mesa-Scottsdale, AZ","method":"PUT","page":"NextSong","registration":1540344794796.0,"sessionId":139,"song":"Flat 55","status":200,"ts":1541106496796,"userAgent":"Mozilla/5.0","userId":"8"}
{"artist":"Tamba Trio","auth":"Logged In","firstName":"Jayden","gender":"M","itemInSession":0,"lastName":"Graves","length":177.18812,"level":"paid","location":"Marinette, WI-MI","method":"PUT","page":"NextSong","registration":1540664184796.0,"sessionId":100,"song":"Quem Quiser Encontrar O Amor","status":200,"ts":1541106673796,"userAgent":"Mozilla/5.0","userId":"26"}
`,
	"log_data/README.md": "not a log file",
	"song_data/A/A/A/TRAAAAW128F429D538.json": `{"num_songs":1,"artist_id":"ARD7TVE1187B99BFB1","artist_latitude":null,"artist_longitude":null,"artist_location":"California - LA","artist_name":"Des'ree","song_id":"SOMZWCG12A8C13C480","title":"You Gotta Be","duration":246.30812,"year":0}`,
	"song_data/A/A/B/TRAAABD128F429CF47.json": `{"num_songs":1,"artist_id":"ARMJAGH1187FB546F3","artist_latitude":35.14968,"artist_longitude":-90.04892,"artist_location":"Paris","artist_name":"Mr Oizo","song_id":"SOCIWDW12A8C13D406","title":"Flat 55","duration":144.03873,"year":1999}`,
}

var wantCounts = map[string]int64{
	"staging_events": 4,
	"staging_songs":  2,
	"songplays":      3,
	"users":          2,
	"songs":          2,
	"artists":        2,
	"time":           3,
}

type env struct {
	wh  *testutil.Warehouse
	reg *operator.Registry
}

func newEnv(t *testing.T, files map[string]string) *env {
	t.Helper()
	wh := testutil.NewWarehouse(t, DDL...)
	root := testutil.WriteFiles(t, files)
	sources := objectstore.NewMux(objectstore.Mount{Prefix: bucket, Store: objectstore.NewFS(root)})
	return &env{
		wh:  wh,
		reg: operator.NewDefault(operator.Deps{Warehouse: wh.Pool, Sources: sources}),
	}
}

func (e *env) run(t *testing.T, def *dag.Definition) *executor.Record {
	t.Helper()
	ctx := context.Background()
	g, err := dag.Compile(ctx, def, e.reg)
	require.NoError(t, err)
	rec, err := executor.New(g, e.reg).Run(ctx, runctx.New(Name, logicalTime))
	require.NoError(t, err)
	return rec
}

func (e *env) counts(t *testing.T) map[string]int64 {
	t.Helper()
	out := make(map[string]int64, len(Tables))
	for _, table := range Tables {
		out[table] = e.wh.Count(table)
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Connection = testutil.WarehouseConn
	cfg.Region = ""
	cfg.Retry = task.NoRetry()
	return cfg
}

func TestSparkifyShape(t *testing.T) {
	def, err := Sparkify(DefaultConfig())
	require.NoError(t, err)
	g, err := dag.Compile(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{Begin},
		{StageEvents, StageSongs},
		{LoadSongplays},
		{LoadUsers, LoadSongs, LoadArtists, LoadTime},
		{RunQualityChecks},
		{End},
	}, g.Layers())
	assert.Equal(t, "0 * * * *", g.Options().Schedule)
	for _, tk := range g.Tasks() {
		assert.Equal(t, task.DefaultRetryPolicy(), tk.Retry, tk.ID)
	}
}

func TestSparkifyEndToEndIsIdempotent(t *testing.T) {
	e := newEnv(t, sampleData)
	def, err := Sparkify(testConfig())
	require.NoError(t, err)

	first := e.run(t, def)
	require.Equal(t, task.Success, first.State, "%+v", first.Tasks)
	assert.Equal(t, wantCounts, e.counts(t))

	second := e.run(t, def)
	require.Equal(t, task.Success, second.State)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, wantCounts, e.counts(t))

	assert.Equal(t, "2018-11-01 21:01:46", e.wh.Value(`SELECT min(start_time) FROM songplays`))
	assert.EqualValues(t, 2, e.wh.Value(`SELECT count(*) FROM songplays WHERE songid IS NOT NULL`))
	assert.Equal(t, logicalTime.Format(time.RFC3339), e.wh.Value(`SELECT DISTINCT run_partition FROM songplays`))
}

func TestSparkifyMalformedSourceFailsRun(t *testing.T) {
	files := map[string]string{
		"log_data/bad.json":      `{"artist": `,
		"song_data/A/song1.json": sampleData["song_data/A/A/A/TRAAAAW128F429D538.json"],
	}
	e := newEnv(t, files)
	def, err := Sparkify(testConfig())
	require.NoError(t, err)

	rec := e.run(t, def)
	assert.Equal(t, task.Failed, rec.State)

	stage, ok := rec.Task(StageEvents)
	require.True(t, ok)
	assert.Equal(t, task.Failed, stage.State)
	assert.Equal(t, 1, stage.Attempts)

	for _, id := range []string{LoadSongplays, LoadUsers, LoadSongs, LoadArtists, LoadTime, RunQualityChecks, End} {
		tr, _ := rec.Task(id)
		assert.Equal(t, task.UpstreamFailed, tr.State, id)
	}
	assert.Zero(t, e.wh.Count("songplays"))
}

func TestSparkifyHCLMatchesBuilder(t *testing.T) {
	loader := hcl.NewLoader(map[string]string{
		"connection":  testutil.WarehouseConn,
		"credentials": "aws_credentials",
		"bucket":      bucket,
	})
	fromFile, err := loader.Load(context.Background(), "../../pipelines/sparkify.hcl")
	require.NoError(t, err)
	fromGo, err := Sparkify(DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, fromGo.Name, fromFile.Name)
	assert.Equal(t, fromGo.Options.Schedule, fromFile.Options.Schedule)
	assert.Equal(t, fromGo.Options.EndDate, fromFile.Options.EndDate)
	assert.Equal(t, fromGo.Options.DefaultRetry, fromFile.Options.DefaultRetry)
	assert.ElementsMatch(t, fromGo.Edges(), fromFile.Edges())

	kinds := func(d *dag.Definition) map[string]task.Kind {
		out := map[string]task.Kind{}
		for _, tk := range d.Tasks() {
			out[tk.ID] = tk.Kind
		}
		return out
	}
	assert.Equal(t, kinds(fromGo), kinds(fromFile))

	e := newEnv(t, sampleData)
	rec := e.run(t, fromFile)
	require.Equal(t, task.Success, rec.State, "%+v", rec.Tasks)
	assert.Equal(t, wantCounts, e.counts(t))
}
