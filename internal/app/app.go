package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/specialistvlad/etlgrid/internal/credentials"
	"github.com/specialistvlad/etlgrid/internal/ctxlog"
	"github.com/specialistvlad/etlgrid/internal/dag"
	"github.com/specialistvlad/etlgrid/internal/executor"
	"github.com/specialistvlad/etlgrid/internal/hcl"
	"github.com/specialistvlad/etlgrid/internal/metrics"
	"github.com/specialistvlad/etlgrid/internal/notify"
	"github.com/specialistvlad/etlgrid/internal/objectstore"
	"github.com/specialistvlad/etlgrid/internal/operator"
	"github.com/specialistvlad/etlgrid/internal/pipeline"
	"github.com/specialistvlad/etlgrid/internal/task"
	"github.com/specialistvlad/etlgrid/internal/warehouse"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config

	def       *dag.Definition
	pool      *warehouse.Pool
	ops       *operator.Registry
	graph     *dag.Graph
	promReg   *prometheus.Registry
	listeners []executor.Listener
	closers   []func() error
}

// Option customises New.
type Option func(*App)

// WithListener adds an executor listener to every run.
func WithListener(l executor.Listener) Option {
	return func(a *App) { a.listeners = append(a.listeners, l) }
}

// WithDefinition replaces the pipeline named by the config.
func WithDefinition(def *dag.Definition) Option {
	return func(a *App) { a.def = def }
}

// New builds an App: it loads and compiles the pipeline, validating every
// task against its operator, and connects the configured notifiers. Logs go
// to outW.
func New(ctx context.Context, outW io.Writer, cfg *Config, opts ...Option) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	a := &App{
		outW:    outW,
		logger:  logger,
		config:  cfg,
		promReg: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}

	creds := credentials.Chain{credentials.NewEnv(), credentials.Static(cfg.Credentials)}
	a.pool = warehouse.NewPool(creds, cfg.Connections)
	a.closers = append(a.closers, a.pool.Close)
	logger.Debug("Warehouse pool created.", "connections", len(cfg.Connections))

	a.ops = operator.NewDefault(operator.Deps{
		Warehouse:         a.pool,
		Sources:           newSources(cfg.Sources, creds),
		DefaultConnection: cfg.DefaultConnection,
	})
	logger.Debug("Operators registered.", "kinds", a.ops.Kinds())

	def := a.def
	if def == nil {
		var err error
		if def, err = loadDefinition(ctx, cfg); err != nil {
			a.Close()
			return nil, err
		}
	}
	graph, err := dag.Compile(ctx, def, a.ops)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}
	a.graph = graph
	logger.Info("Pipeline loaded.", "dag", graph.Name(), "tasks", graph.Len())

	a.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.listeners = append(a.listeners, metrics.New(a.promReg))

	if err := a.connectNotifiers(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func loadDefinition(ctx context.Context, cfg *Config) (*dag.Definition, error) {
	if len(cfg.Pipeline) == 0 {
		ctxlog.FromContext(ctx).Debug("No pipeline path given, using the built-in pipeline.", "dag", pipeline.Name)
		pc := pipeline.DefaultConfig()
		if cfg.DefaultConnection != "" {
			pc.Connection = cfg.DefaultConnection
		}
		return pipeline.Sparkify(pc)
	}
	def, err := hcl.NewLoader(cfg.Vars).Load(ctx, cfg.Pipeline...)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline: %w", err)
	}
	return def, nil
}

func newSources(cfgs []SourceConfig, creds credentials.Provider) *objectstore.Mux {
	mux := objectstore.NewMux()
	for _, s := range cfgs {
		var store objectstore.Store
		if s.Root != "" {
			store = objectstore.NewFS(s.Root)
		} else {
			h := objectstore.NewHTTP(s.URL)
			h.Creds, h.CredentialID = creds, s.Credentials
			store = h
		}
		mux.Mount(objectstore.Mount{Prefix: s.Prefix, Region: s.Region, Store: store})
	}
	mux.Fallback = func(loc objectstore.Location) objectstore.Store {
		h := objectstore.NewHTTP(loc.URL)
		h.Creds, h.CredentialID = creds, loc.Credentials
		return h
	}
	return mux
}

func (a *App) connectNotifiers(ctx context.Context) error {
	nc := a.config.Notify
	var states []task.State
	for _, s := range nc.States {
		st, err := parseState(s)
		if err != nil {
			return err
		}
		states = append(states, st)
	}
	if nc.Log {
		a.listeners = append(a.listeners, notify.New(notify.Log{}, states...))
	}
	if nc.SocketIO != nil {
		pub, err := notify.DialSocketIO(ctx, *nc.SocketIO)
		if err != nil {
			return fmt.Errorf("failed to connect notifier: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		a.listeners = append(a.listeners, notify.New(pub, states...))
	}
	return nil
}

// Graph returns the compiled pipeline.
func (a *App) Graph() *dag.Graph {
	return a.graph
}

// Registry returns the operator registry. This is primarily for testing.
func (a *App) Registry() *operator.Registry {
	return a.ops
}

// Warehouse returns the connection pool. This is primarily for testing.
func (a *App) Warehouse() *warehouse.Pool {
	return a.pool
}

// Gatherer exposes the metrics registry.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.promReg
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
