package operator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, format FileFormat, in string) ([]record, error) {
	t.Helper()
	var out []record
	err := readRecords(format, strings.NewReader(in), func(r record) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

func TestParseFileFormat(t *testing.T) {
	for in, want := range map[string]FileFormat{
		"JSON": FormatJSON, "json 'auto'": FormatJSON, "ndjson": FormatJSONLines, " CSV ": FormatCSV,
	} {
		got, err := ParseFileFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFileFormat("parquet")
	assert.Error(t, err)
}

func TestReadJSON(t *testing.T) {
	in := `{"artist":"Des'ree","ts":1542241826796,"userId":"26","length":246.30812}
{"artist":null,"ts":1542242481796,"userId":"26","tags":["a","b"]}
[{"song_id":"SOAOIBZ12AB01815BE"},{"song_id":"SONYPOM12A8C13B2D7"}]`
	recs, err := collect(t, FormatJSON, in)
	require.NoError(t, err)
	require.Len(t, recs, 4)

	assert.Equal(t, "Des'ree", recs[0]["artist"])
	assert.Equal(t, int64(1542241826796), recs[0]["ts"])
	assert.Equal(t, "26", recs[0]["userid"], "keys are lower-cased")
	assert.Equal(t, 246.30812, recs[0]["length"])
	assert.Nil(t, recs[1]["artist"])
	assert.Equal(t, `["a","b"]`, recs[1]["tags"])
	assert.Equal(t, "SONYPOM12A8C13B2D7", recs[3]["song_id"])
}

func TestReadJSONMalformed(t *testing.T) {
	for _, in := range []string{`{"a":1} {"a":`, `{"a":1} 42`, `[1,2]`, `{"a" 1}`} {
		_, err := collect(t, FormatJSONLines, in)
		var me *malformedError
		assert.True(t, errors.As(err, &me), "%q: %v", in, err)
	}
}

func TestReadCSV(t *testing.T) {
	recs, err := collect(t, FormatCSV, "UserId,First_Name,level\n1,Ann,free\n2,,paid\n")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, record{"userid": "1", "first_name": "Ann", "level": "free"}, recs[0])
	assert.Nil(t, recs[1]["first_name"])

	recs, err = collect(t, FormatCSV, "")
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = collect(t, FormatCSV, "a,b\n1,2,3\n")
	var me *malformedError
	assert.True(t, errors.As(err, &me))
}

func TestReadRecordsSinkError(t *testing.T) {
	sink := errors.New("disk full")
	err := readRecords(FormatJSON, strings.NewReader(`{"a":1}`), func(record) error { return sink })
	assert.ErrorIs(t, err, sink)
	var me *malformedError
	assert.False(t, errors.As(err, &me))
}
