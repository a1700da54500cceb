package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/etlgrid/internal/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func keys(objs []Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.Key
	}
	return out
}

func TestFSList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "log_data/2018/11/b.json", "{}")
	writeFile(t, root, "log_data/2018/11/a.json", "{}")
	writeFile(t, root, "song_data/A/x.json", "{}")
	writeFile(t, root, "song_data/AB/y.json", "{}")

	s := NewFS(root)
	ctx := context.Background()

	tests := []struct {
		prefix string
		want   []string
	}{
		{prefix: "log_data", want: []string{"log_data/2018/11/a.json", "log_data/2018/11/b.json"}},
		{prefix: "log_data/2018/11/a", want: []string{"log_data/2018/11/a.json"}},
		{prefix: "song_data/A/", want: []string{"song_data/A/x.json"}},
		{prefix: "song_data/A", want: []string{"song_data/A/x.json", "song_data/AB/y.json"}},
		{prefix: "missing", want: []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.prefix, func(t *testing.T) {
			objs, err := s.List(ctx, tc.prefix)
			require.NoError(t, err)
			assert.Equal(t, tc.want, keys(objs))
		})
	}

	rc, err := s.Open(ctx, "song_data/A/x.json")
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	_, err = s.Open(ctx, "../../etc/passwd")
	assert.Error(t, err)
}

func TestMuxResolve(t *testing.T) {
	root := t.TempDir()
	fsStore := NewFS(root)
	deep := NewFS(filepath.Join(root, "deep"))
	mux := NewMux(
		Mount{Prefix: "s3://udacity-dend", Region: "us-west-2", Store: fsStore},
		Mount{Prefix: "s3://udacity-dend/song_data/", Store: deep},
	)
	ctx := context.Background()

	st, key, err := mux.Resolve(ctx, Location{URL: "s3://udacity-dend/log_data", Region: "us-west-2"})
	require.NoError(t, err)
	assert.Same(t, fsStore, st)
	assert.Equal(t, "log_data", key)

	st, key, err = mux.Resolve(ctx, Location{URL: "s3://udacity-dend/song_data/A"})
	require.NoError(t, err)
	assert.Same(t, deep, st)
	assert.Equal(t, "A", key)

	_, _, err = mux.Resolve(ctx, Location{URL: "s3://udacity-dend/log_data", Region: "eu-west-1"})
	assert.ErrorContains(t, err, "region")

	_, _, err = mux.Resolve(ctx, Location{URL: "s3://udacity-dendx/log_data"})
	assert.ErrorIs(t, err, ErrNoStore)

	st, key, err = mux.Resolve(ctx, Location{URL: "file:///tmp/data/songs"})
	require.NoError(t, err)
	assert.IsType(t, &FS{}, st)
	assert.Equal(t, "songs", key)

	_, _, err = mux.Resolve(ctx, Location{URL: "https://example.com/x"})
	assert.ErrorIs(t, err, ErrNoStore, "no http fallback configured")

	mux.Fallback = func(loc Location) Store { return NewHTTP(loc.URL) }
	st, key, err = mux.Resolve(ctx, Location{URL: "https://example.com/x"})
	require.NoError(t, err)
	assert.IsType(t, &HTTP{}, st)
	assert.Empty(t, key)
}

func TestHTTPStore(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data/events.manifest":
			fmt.Fprintf(w, `{"entries":[{"url":"%s/data/a.json","meta":{"content_length":2}},{"url":"data/b.json"}]}`, srv.URL)
		case "/data/a.json", "/data/b.json":
			if r.Header.Get("Authorization") != "Bearer s3cr3t" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_, _ = w.Write([]byte("{}"))
		case "/flaky":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	s := NewHTTP(srv.URL)
	s.Creds = credentials.Static{"aws": {"token": "s3cr3t"}}
	s.CredentialID = "aws"

	objs, err := s.List(ctx, "data/events.manifest")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.EqualValues(t, 2, objs[0].Size)

	for _, o := range objs {
		rc, err := s.Open(ctx, o.Key)
		require.NoError(t, err, o.Key)
		b, _ := io.ReadAll(rc)
		rc.Close()
		assert.Equal(t, "{}", string(b))
	}

	objs, err = s.List(ctx, "data/a.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"data/a.json"}, keys(objs))

	_, err = s.Open(ctx, "missing.json")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.False(t, se.Temporary())

	_, err = s.Open(ctx, "flaky")
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Temporary())

	anon := NewHTTP(srv.URL)
	_, err = anon.Open(ctx, "data/a.json")
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)
}
