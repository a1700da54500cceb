package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/specialistvlad/etlgrid/internal/credentials"
	"github.com/specialistvlad/etlgrid/internal/ctxlog"
)

// ErrUnknownConnection is returned for a connection id the pool has no
// configuration for.
var ErrUnknownConnection = errors.New("unknown connection")

// Opener hands out scoped sessions by connection id.
type Opener interface {
	Session(ctx context.Context, connID string) (*Session, error)
}

// ConnConfig describes one named connection. The DSN itself is a secret and
// is read from the credential's "dsn" key when the connection is first used.
type ConnConfig struct {
	Driver     string `yaml:"driver"`
	Credential string `yaml:"credentials"`
	// DSN may be set directly for local, non-secret targets such as a SQLite
	// file. It takes precedence over Credential.
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// Pool lazily opens one *sql.DB per connection id and is safe for concurrent
// use.
type Pool struct {
	creds   credentials.Provider
	configs map[string]ConnConfig

	mu  sync.Mutex
	dbs map[string]*handle
}

type handle struct {
	db      *sql.DB
	dialect Dialect
}

// NewPool creates a pool. creds may be nil when every connection carries an
// inline DSN.
func NewPool(creds credentials.Provider, configs map[string]ConnConfig) *Pool {
	cp := make(map[string]ConnConfig, len(configs))
	for id, c := range configs {
		cp[id] = c
	}
	return &Pool{creds: creds, configs: cp, dbs: make(map[string]*handle)}
}

// Register attaches an already opened database under id. It is used by
// tests and by embedders that manage their own handles.
func (p *Pool) Register(id, driver string, db *sql.DB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dbs[id] = &handle{db: db, dialect: DialectFor(driver)}
}

// IDs lists the configured and registered connection ids.
func (p *Pool) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[string]struct{})
	for id := range p.configs {
		seen[id] = struct{}{}
	}
	for id := range p.dbs {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Session borrows a dedicated connection. The caller owns the session and
// must Close it.
func (p *Pool) Session(ctx context.Context, connID string) (*Session, error) {
	h, err := p.handle(ctx, connID)
	if err != nil {
		return nil, err
	}
	conn, err := h.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection %q: %w", connID, err)
	}
	ctxlog.FromContext(ctx).Debug("Warehouse session opened.", "connection", connID)
	return &Session{id: connID, conn: conn, dialect: h.dialect}, nil
}

func (p *Pool) handle(ctx context.Context, connID string) (*handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.dbs[connID]; ok {
		return h, nil
	}
	cfg, ok := p.configs[connID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnection, connID)
	}

	dsn := cfg.DSN
	if dsn == "" {
		if p.creds == nil || cfg.Credential == "" {
			return nil, fmt.Errorf("connection %q has neither a dsn nor a credential id", connID)
		}
		cred, err := p.creds.Lookup(ctx, cfg.Credential)
		if err != nil {
			return nil, fmt.Errorf("connection %q: %w", connID, err)
		}
		v, ok := cred.Get("dsn")
		if !ok {
			return nil, fmt.Errorf("connection %q: credential %q has no dsn", connID, cfg.Credential)
		}
		dsn = v
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection %q: %w", connID, err)
	}
	dialect := DialectFor(cfg.Driver)
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else if dialect.SingleWriter {
		db.SetMaxOpenConns(1)
	}

	h := &handle{db: db, dialect: dialect}
	p.dbs[connID] = h
	ctxlog.FromContext(ctx).Info("Warehouse connection opened.", "connection", connID, "driver", cfg.Driver)
	return h, nil
}

// Close closes every opened database.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for id, h := range p.dbs {
		if err := h.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %q: %w", id, err))
		}
		delete(p.dbs, id)
	}
	return errors.Join(errs...)
}
