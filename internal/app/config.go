package app

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/specialistvlad/etlgrid/internal/notify"
	"github.com/specialistvlad/etlgrid/internal/report"
	"github.com/specialistvlad/etlgrid/internal/task"
	"github.com/specialistvlad/etlgrid/internal/warehouse"
	"gopkg.in/yaml.v3"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// Pipeline lists .hcl files or directories. Empty selects the built-in
	// sparkify pipeline.
	Pipeline []string          `yaml:"pipeline"`
	Vars     map[string]string `yaml:"vars"`
	Bindings map[string]string `yaml:"bindings"`

	LogFormat       string `yaml:"log_format"`
	LogLevel        string `yaml:"log_level"`
	HealthcheckPort int    `yaml:"healthcheck_port"`
	MaxParallelism  int    `yaml:"max_parallelism"`
	Report          string `yaml:"report"`

	DefaultConnection string                          `yaml:"default_connection"`
	Connections       map[string]warehouse.ConnConfig `yaml:"connections"`
	// Credentials are consulted after the environment.
	Credentials map[string]map[string]string `yaml:"credentials"`
	Sources     []SourceConfig               `yaml:"sources"`
	Notify      NotifyConfig                 `yaml:"notify"`
}

// SourceConfig mounts a location prefix onto a local directory or an HTTP
// base URL.
type SourceConfig struct {
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Root        string `yaml:"root"`
	URL         string `yaml:"url"`
	Credentials string `yaml:"credentials"`
}

// NotifyConfig selects where run events are published.
type NotifyConfig struct {
	Log      bool                   `yaml:"log"`
	SocketIO *notify.SocketIOConfig `yaml:"socketio"`
	// States limits transition events to these target states.
	States []string `yaml:"states"`
}

// DefaultConfig returns the values used for anything not set by a file or a
// flag.
func DefaultConfig() Config {
	return Config{
		LogFormat: "text",
		LogLevel:  "info",
		Report:    report.FormatText,
	}
}

// LoadConfigFile decodes a YAML file over base. Unknown keys are rejected.
func LoadConfigFile(path string, base Config) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	cfg := base
	if err := dec.Decode(&cfg); err != nil {
		return base, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// NewConfig validates cfg and returns a copy with defaults filled in.
func NewConfig(cfg Config) (*Config, error) {
	var errs []error

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, errors.New("invalid log-format: must be 'text' or 'json'"))
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(cfg.Report) {
	case "":
		cfg.Report = report.FormatText
	case report.FormatText, report.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("invalid report format %q: must be 'text' or 'json'", cfg.Report))
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort))
	}
	if cfg.MaxParallelism < 0 {
		errs = append(errs, fmt.Errorf("max_parallelism must not be negative, got %d", cfg.MaxParallelism))
	}
	for id, c := range cfg.Connections {
		if c.Driver == "" {
			errs = append(errs, fmt.Errorf("connection %q: driver is required", id))
		}
		if c.DSN == "" && c.Credential == "" {
			errs = append(errs, fmt.Errorf("connection %q: one of dsn or credentials is required", id))
		}
	}
	if cfg.DefaultConnection != "" {
		if _, ok := cfg.Connections[cfg.DefaultConnection]; !ok {
			errs = append(errs, fmt.Errorf("default_connection %q is not a configured connection", cfg.DefaultConnection))
		}
	}
	for i, s := range cfg.Sources {
		if s.Prefix == "" {
			errs = append(errs, fmt.Errorf("source %d: prefix is required", i))
		}
		if (s.Root == "") == (s.URL == "") {
			errs = append(errs, fmt.Errorf("source %q: exactly one of root or url is required", s.Prefix))
		}
	}
	for _, s := range cfg.Notify.States {
		if _, err := parseState(s); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Notify.SocketIO != nil && cfg.Notify.SocketIO.URL == "" {
		errs = append(errs, errors.New("notify.socketio.url is required"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseState(s string) (task.State, error) {
	for _, st := range []task.State{task.Pending, task.Running, task.Success, task.Failed, task.UpstreamFailed, task.Skipped} {
		if strings.EqualFold(st.String(), s) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown task state %q", s)
}
