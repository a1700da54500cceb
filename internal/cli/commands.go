package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newRunCommand(f *flags) *cobra.Command {
	var logicalTime string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once for a logical time",
		Long: `Run every task of the pipeline once for the given logical time and print
the execution record.

The logical time identifies the data interval. Running the same logical time
twice leaves the warehouse in the same state.

Examples:
  etlgrid run --logical-time 2019-01-12T10:00:00Z
  etlgrid run --pipeline pipelines/sparkify.hcl --var connection=redshift`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lt, err := parseLogicalTime(logicalTime, time.Now())
			if err != nil {
				return usageError("%s", err.Error())
			}
			a, err := f.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Serve(cmd.Context(), func(ctx context.Context) error {
				rec, runErr := a.RunOnce(ctx, lt)
				if rec != nil {
					if err := a.Report(rec); err != nil {
						return err
					}
				}
				switch {
				case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
					return &ExitError{Code: ExitRunFailed, Message: "run cancelled"}
				case runErr != nil:
					return &ExitError{Code: ExitRunFailed, Message: runErr.Error()}
				case rec.Failed():
					return &ExitError{Code: ExitRunFailed, Message: fmt.Sprintf("run %s finished in state %s", rec.RunID, rec.State)}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&logicalTime, "logical-time", "", "Logical time of the run (RFC3339 or YYYY-MM-DD). Default is the start of the current hour.")
	return cmd
}

func newValidateCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and check the pipeline without running it",
		Long: `Load the pipeline, check it for cycles and invalid task parameters, and
print its execution layers.

Examples:
  etlgrid validate --pipeline pipelines/`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := f.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			g := a.Graph()
			w := cmd.OutOrStdout()
			bold := color.New(color.Bold)
			bold.Fprintf(w, "DAG %s is valid\n", g.Name())
			fmt.Fprintf(w, "Tasks: %d, edges: %d\n", g.Len(), len(g.Edges()))
			if s := g.Options().Schedule; s != "" {
				fmt.Fprintf(w, "Schedule: %s\n", s)
			}
			for i, layer := range g.Layers() {
				fmt.Fprintf(w, "  %d: %s\n", i, strings.Join(layer, ", "))
			}
			return nil
		},
	}
}

func newScheduleCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Trigger runs on the DAG's schedule",
		Long: `Trigger a run for every closed schedule interval until interrupted or the
DAG's end date passes. Without catchup only the most recent interval runs.
Failed runs are reported and do not stop the scheduler.

Examples:
  etlgrid schedule --config etlgrid.yaml --healthcheck-port 8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := f.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.Serve(cmd.Context(), func(ctx context.Context) error {
				return a.Schedule(ctx)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return &ExitError{Code: ExitRunFailed, Message: err.Error()}
			}
			return nil
		},
	}
}
