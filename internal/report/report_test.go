package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/specialistvlad/etlgrid/internal/executor"
	"github.com/specialistvlad/etlgrid/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func sampleRecord() *executor.Record {
	start := time.Date(2019, 1, 12, 10, 0, 0, 0, time.UTC)
	return &executor.Record{
		DAG:         "sparkify",
		RunID:       "run-1",
		LogicalTime: start,
		State:       task.Failed,
		Started:     start,
		Finished:    start.Add(2 * time.Second),
		Tasks: []executor.TaskRecord{
			{ID: "stage_events", Kind: task.Stage, State: task.Success, Attempts: 1, Dispatched: start, Finished: start.Add(time.Second)},
			{ID: "quality", Kind: task.QualityCheck, State: task.Failed, Attempts: 1, Error: "quality check failed\nmore", Dispatched: start, Finished: start.Add(2 * time.Second)},
			{ID: "end", Kind: task.Marker, State: task.UpstreamFailed},
		},
	}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "", sampleRecord()))
	out := buf.String()

	assert.Contains(t, out, "DAG: sparkify")
	assert.Contains(t, out, "Logical time: 2019-01-12T10:00:00Z")
	assert.Contains(t, out, "State:        failed")
	assert.Contains(t, out, "quality check failed ...")
	assert.NotContains(t, out, "more")
	assert.Contains(t, out, "1 success, 1 failed, 1 upstream_failed")
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "JSON", sampleRecord()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "sparkify", got["dag"])
	assert.Equal(t, "failed", got["state"])
	require.Len(t, got["tasks"], 3)
}

func TestWriteUnknownFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, "xml", sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}
