// Package credentials resolves opaque credential identifiers into secret
// values for collaborators (warehouse connections, object stores). The
// scheduler and operators only ever handle the identifiers.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ErrNotFound is returned when no credential exists for an id.
var ErrNotFound = errors.New("credential not found")

// Credential is a named bag of secret values. Its String form never prints
// the values.
type Credential struct {
	ID     string
	values map[string]string
}

// New builds a credential from key/value pairs. Keys are lower-cased.
func New(id string, values map[string]string) Credential {
	c := Credential{ID: id, values: make(map[string]string, len(values))}
	for k, v := range values {
		c.values[strings.ToLower(k)] = v
	}
	return c
}

// Get returns a single secret value.
func (c Credential) Get(key string) (string, bool) {
	v, ok := c.values[strings.ToLower(key)]
	return v, ok
}

// Keys lists the available keys, sorted.
func (c Credential) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c Credential) String() string {
	return fmt.Sprintf("credential(%s, keys=%v)", c.ID, c.Keys())
}

// Provider looks credentials up by id.
type Provider interface {
	Lookup(ctx context.Context, id string) (Credential, error)
}

// Static is an in-memory provider, mostly for tests and local runs.
type Static map[string]map[string]string

// Lookup implements Provider.
func (s Static) Lookup(_ context.Context, id string) (Credential, error) {
	values, ok := s[id]
	if !ok {
		return Credential{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return New(id, values), nil
}

// Env reads credentials from environment variables named
// <Prefix><ID>_<KEY>, e.g. ETLGRID_CRED_REDSHIFT_DSN for id "redshift" and
// key "dsn". Ids are upper-cased and dashes become underscores.
type Env struct {
	Prefix string
	// Environ defaults to os.Environ.
	Environ func() []string
}

// NewEnv returns an Env provider with the default prefix.
func NewEnv() *Env {
	return &Env{Prefix: "ETLGRID_CRED_"}
}

// Lookup implements Provider.
func (e *Env) Lookup(_ context.Context, id string) (Credential, error) {
	environ := e.Environ
	if environ == nil {
		environ = os.Environ
	}
	prefix := e.Prefix + strings.ToUpper(strings.ReplaceAll(id, "-", "_")) + "_"
	values := make(map[string]string)
	for _, kv := range environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		key := strings.TrimPrefix(name, prefix)
		if key == "" {
			continue
		}
		values[key] = value
	}
	if len(values) == 0 {
		return Credential{}, fmt.Errorf("%w: %s (no %s* variables)", ErrNotFound, id, prefix)
	}
	return New(id, values), nil
}

// Chain tries each provider in order and returns the first hit.
type Chain []Provider

// Lookup implements Provider.
func (c Chain) Lookup(ctx context.Context, id string) (Credential, error) {
	for _, p := range c {
		cred, err := p.Lookup(ctx, id)
		if err == nil {
			return cred, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Credential{}, err
		}
	}
	return Credential{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}
