// Package objectstore lists and reads staged source objects. Stores are
// resolved from a location string such as "s3://udacity-dend/log_data",
// "file:///data/songs" or an http(s) URL.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoStore is returned when no mount or scheme matches a location.
var ErrNoStore = errors.New("no object store for location")

// Object is one listed entry.
type Object struct {
	Key  string
	Size int64
}

// Store is a read-only object source.
type Store interface {
	// List returns objects whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Object, error)
	// Open streams a single object.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Location is what a Stage task asks for.
type Location struct {
	URL         string
	Region      string
	Credentials string
}

// Resolver turns a location into a store plus the key prefix inside it.
type Resolver interface {
	Resolve(ctx context.Context, loc Location) (Store, string, error)
}

// Mount binds a location prefix to a store.
type Mount struct {
	Prefix string
	Region string
	Store  Store
}

// Mux resolves locations against registered mounts by longest prefix, and
// falls back to the file and http(s) schemes.
type Mux struct {
	mounts []Mount
	// Fallback is used for http(s) URLs that match no mount. Nil disables it.
	Fallback func(loc Location) Store
}

// NewMux builds a resolver from mounts.
func NewMux(mounts ...Mount) *Mux {
	m := &Mux{}
	for _, mt := range mounts {
		m.Mount(mt)
	}
	return m
}

// Mount registers a mount. Later mounts with the same prefix win.
func (m *Mux) Mount(mt Mount) {
	mt.Prefix = strings.TrimSuffix(mt.Prefix, "/")
	out := m.mounts[:0]
	for _, existing := range m.mounts {
		if existing.Prefix != mt.Prefix {
			out = append(out, existing)
		}
	}
	m.mounts = append(out, mt)
	sort.SliceStable(m.mounts, func(i, j int) bool {
		return len(m.mounts[i].Prefix) > len(m.mounts[j].Prefix)
	})
}

// Resolve implements Resolver.
func (m *Mux) Resolve(_ context.Context, loc Location) (Store, string, error) {
	for _, mt := range m.mounts {
		if loc.URL != mt.Prefix && !strings.HasPrefix(loc.URL, mt.Prefix+"/") {
			continue
		}
		if mt.Region != "" && loc.Region != "" && !strings.EqualFold(mt.Region, loc.Region) {
			return nil, "", fmt.Errorf("location %s is in region %s, task requested %s", loc.URL, mt.Region, loc.Region)
		}
		key := strings.TrimPrefix(strings.TrimPrefix(loc.URL, mt.Prefix), "/")
		return mt.Store, key, nil
	}

	switch {
	case strings.HasPrefix(loc.URL, "file://"):
		p := path.Clean("/" + strings.TrimPrefix(loc.URL, "file://"))
		return NewFS(filepath.FromSlash(path.Dir(p))), path.Base(p), nil
	case m.Fallback != nil && (strings.HasPrefix(loc.URL, "http://") || strings.HasPrefix(loc.URL, "https://")):
		return m.Fallback(loc), "", nil
	}
	return nil, "", fmt.Errorf("%w: %s", ErrNoStore, loc.URL)
}
