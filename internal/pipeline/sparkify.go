// Package pipeline defines the reference sparkify DAG: stage event and song
// logs into the warehouse, derive the songplays fact and four dimensions, and
// gate the run on a data quality check.
package pipeline

import (
	"time"

	"github.com/specialistvlad/etlgrid/internal/dag"
	"github.com/specialistvlad/etlgrid/internal/task"
	"github.com/zclconf/go-cty/cty"
)

// Name of the DAG.
const Name = "sparkify"

// Task ids.
const (
	Begin            = "begin"
	StageEvents      = "stage_events"
	StageSongs       = "stage_songs"
	LoadSongplays    = "load_songplays"
	LoadUsers        = "load_users"
	LoadSongs        = "load_songs"
	LoadArtists      = "load_artists"
	LoadTime         = "load_time"
	RunQualityChecks = "run_quality_checks"
	End              = "end"
)

// Config holds the deployment-specific parts of the pipeline.
type Config struct {
	Connection     string
	Credentials    string
	EventsLocation string
	SongsLocation  string
	Region         string
	Schedule       string
	StartDate      time.Time
	EndDate        time.Time
	Catchup        bool
	Retry          task.RetryPolicy
	MaxParallelism int
}

// DefaultConfig mirrors the production deployment: hourly, no catchup,
// three attempts five minutes apart.
func DefaultConfig() Config {
	return Config{
		Connection:     "redshift",
		Credentials:    "aws_credentials",
		EventsLocation: "s3://udacity-dend/log_data",
		SongsLocation:  "s3://udacity-dend/song_data",
		Region:         "us-west-2",
		Schedule:       "0 * * * *",
		EndDate:        time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
		Retry:          task.DefaultRetryPolicy(),
	}
}

// Sparkify builds the definition. Every load is idempotent for a logical
// time: staging and dimensions are truncated and the fact table is
// replaced per partition.
func Sparkify(cfg Config) (*dag.Definition, error) {
	d := dag.New(Name,
		dag.WithDescription("Load and transform sparkify logs in the warehouse"),
		dag.WithSchedule(cfg.Schedule, cfg.StartDate, cfg.EndDate),
		dag.WithCatchup(cfg.Catchup),
		dag.WithDefaultRetry(cfg.Retry),
		dag.WithMaxParallelism(cfg.MaxParallelism),
	)

	conn := func(p task.Params) task.Params {
		if cfg.Connection != "" {
			p["connection"] = cty.StringVal(cfg.Connection)
		}
		if cfg.Credentials != "" {
			p["credentials"] = cty.StringVal(cfg.Credentials)
		}
		return p
	}
	stage := func(table, location string) task.Params {
		p := task.Params{
			"table":           cty.StringVal(table),
			"source_location": cty.StringVal(location),
			"file_format":     cty.StringVal("json"),
			"pattern":         cty.StringVal("*.json"),
			"truncate":        cty.True,
		}
		if cfg.Region != "" {
			p["region"] = cty.StringVal(cfg.Region)
		}
		return conn(p)
	}
	dimension := func(table, sql string, cols ...string) task.Params {
		return conn(task.Params{
			"table":        cty.StringVal(table),
			"sql_template": cty.StringVal(sql),
			"truncate":     cty.True,
			"columns":      stringList(cols),
		})
	}

	tasks := []task.Task{
		{ID: Begin, Kind: task.Marker},
		{ID: StageEvents, Kind: task.Stage, Params: stage("staging_events", cfg.EventsLocation)},
		{ID: StageSongs, Kind: task.Stage, Params: stage("staging_songs", cfg.SongsLocation)},
		{ID: LoadSongplays, Kind: task.LoadFact, Params: conn(task.Params{
			"table":            cty.StringVal("songplays"),
			"sql_template":     cty.StringVal(songplayInsert),
			"partition_column": cty.StringVal("run_partition"),
			"columns": stringList([]string{
				"playid", "start_time", "userid", "level", "songid", "artistid",
				"sessionid", "location", "user_agent", "run_partition",
			}),
		})},
		{ID: LoadUsers, Kind: task.LoadDimension, Params: dimension("users", userInsert,
			"userid", "first_name", "last_name", "gender", "level")},
		{ID: LoadSongs, Kind: task.LoadDimension, Params: dimension("songs", songInsert,
			"songid", "title", "artistid", "year", "duration")},
		{ID: LoadArtists, Kind: task.LoadDimension, Params: dimension("artists", artistInsert,
			"artistid", "name", "location", "latitude", "longitude")},
		{ID: LoadTime, Kind: task.LoadDimension, Params: dimension("time", timeInsert,
			"start_time", "hour", "day", "week", "month", "year", "weekday")},
		{ID: RunQualityChecks, Kind: task.QualityCheck, Params: conn(task.Params{
			"check_expression": cty.StringVal(nullSongIDCheck),
			"expected_value":   cty.NumberIntVal(0),
		})},
		{ID: End, Kind: task.Marker},
	}
	for _, t := range tasks {
		if err := d.AddTask(t); err != nil {
			return nil, err
		}
	}

	dims := []string{LoadUsers, LoadSongs, LoadArtists, LoadTime}
	for _, step := range []error{
		d.FanOut(Begin, StageEvents, StageSongs),
		d.FanIn(LoadSongplays, StageEvents, StageSongs),
		d.FanOut(LoadSongplays, dims...),
		d.FanIn(RunQualityChecks, dims...),
		d.AddEdge(RunQualityChecks, End),
	} {
		if step != nil {
			return nil, step
		}
	}
	return d, nil
}

func stringList(ss []string) cty.Value {
	vals := make([]cty.Value, len(ss))
	for i, s := range ss {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}
