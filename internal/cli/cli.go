package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/specialistvlad/etlgrid/internal/app"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitOK        = 0
	ExitRunFailed = 1
	ExitUsage     = 2
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: ExitUsage, Message: fmt.Sprintf(format, args...)}
}

// flags holds the values shared by all subcommands.
type flags struct {
	configPath      string
	pipeline        []string
	vars            map[string]string
	bindings        map[string]string
	logLevel        string
	logFormat       string
	report          string
	healthcheckPort int
	maxParallelism  int
}

// NewRootCommand builds the command tree. All output goes to outW.
func NewRootCommand(outW io.Writer) *cobra.Command {
	root, _ := newRoot(outW)
	return root
}

func newRoot(outW io.Writer) (*cobra.Command, *flags) {
	f := &flags{}
	root := &cobra.Command{
		Use:   "etlgrid",
		Short: "Run ETL pipelines as dependency graphs of warehouse tasks",
		Long: `etlgrid runs ETL pipelines declared as DAGs of stage, load, and
quality-check tasks against a SQL warehouse.

Examples:
  # Check a pipeline without running it
  etlgrid validate --pipeline pipelines/

  # Run one interval
  etlgrid run --config etlgrid.yaml --logical-time 2019-01-12T10:00:00Z

  # Keep triggering runs on the DAG's schedule
  etlgrid schedule --config etlgrid.yaml

Exit status:
  0 when the run succeeded, 1 when it failed or was cancelled, and 2 for
  usage or configuration errors.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(outW)

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "Path to a YAML config file.")
	pf.StringSliceVarP(&f.pipeline, "pipeline", "p", nil, "Pipeline .hcl file or directory (repeatable). Default is the built-in pipeline.")
	pf.StringToStringVar(&f.vars, "var", nil, "Pipeline variable as name=value (repeatable).")
	pf.StringToStringVar(&f.bindings, "binding", nil, "Run binding available to templates as .Bindings.<name>.")
	pf.StringVar(&f.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	pf.StringVar(&f.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	pf.StringVar(&f.report, "report", "text", "Run report format. Options: 'text' or 'json'.")
	pf.IntVar(&f.healthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check and metrics server. 0 is disabled.")
	pf.IntVar(&f.maxParallelism, "max-parallelism", 0, "Maximum number of tasks running at once. 0 keeps the DAG's setting.")

	root.AddCommand(newRunCommand(f), newValidateCommand(f), newScheduleCommand(f))
	return root, f
}

// Execute runs the command tree with args. Errors are always *ExitError.
func Execute(ctx context.Context, outW io.Writer, args []string) error {
	root := NewRootCommand(outW)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return usageError("%s", err.Error())
}

// appConfig merges defaults, the config file, and explicitly set flags, in
// that order.
func (f *flags) appConfig(cmd *cobra.Command) (*app.Config, error) {
	cfg := app.DefaultConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = app.LoadConfigFile(f.configPath, cfg); err != nil {
			return nil, usageError("%s", err.Error())
		}
	}

	changed := cmd.Flags().Changed
	if changed("pipeline") {
		cfg.Pipeline = f.pipeline
	}
	if changed("var") {
		cfg.Vars = merge(cfg.Vars, f.vars)
	}
	if changed("binding") {
		cfg.Bindings = merge(cfg.Bindings, f.bindings)
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if changed("report") {
		cfg.Report = f.report
	}
	if changed("healthcheck-port") {
		cfg.HealthcheckPort = f.healthcheckPort
	}
	if changed("max-parallelism") {
		cfg.MaxParallelism = f.maxParallelism
	}

	valid, err := app.NewConfig(cfg)
	if err != nil {
		return nil, usageError("%s", err.Error())
	}
	return valid, nil
}

func (f *flags) newApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := f.appConfig(cmd)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cmd.Context(), cmd.OutOrStdout(), cfg)
	if err != nil {
		return nil, usageError("%s", err.Error())
	}
	return a, nil
}

func merge(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// parseLogicalTime accepts RFC3339 or a bare date. Empty means the start of
// the current hour.
func parseLogicalTime(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.UTC().Truncate(time.Hour), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid logical time %q: want RFC3339 or YYYY-MM-DD", s)
}
