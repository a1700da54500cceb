// Package report renders execution records for humans and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/specialistvlad/etlgrid/internal/executor"
	"github.com/specialistvlad/etlgrid/internal/task"
)

// Formats accepted by Write.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Write renders rec in the given format. An empty format means text.
func Write(w io.Writer, format string, rec *executor.Record) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		return Text(w, rec)
	case FormatJSON:
		return JSON(w, rec)
	default:
		return fmt.Errorf("unsupported report format: %s", format)
	}
}

// JSON writes rec as an indented JSON document.
func JSON(w io.Writer, rec *executor.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

// Text writes a summary header followed by one row per task.
func Text(w io.Writer, rec *executor.Record) error {
	bold := color.New(color.Bold)
	fmt.Fprintln(w, "----------------------------------------")
	bold.Fprintf(w, "DAG: %s\n", rec.DAG)
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintf(w, "Run:          %s\n", rec.RunID)
	fmt.Fprintf(w, "Logical time: %s\n", rec.LogicalTime.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(w, "State:        %s", stateColor(rec.State).Sprint(rec.State))
	if rec.Cancelled {
		fmt.Fprint(w, " (cancelled)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Duration:     %s\n", rec.Duration().Round(time.Millisecond))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tKIND\tSTATE\tATTEMPTS\tDURATION\tERROR")
	for _, t := range rec.Tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			t.ID, t.Kind, t.State, t.Attempts, t.Duration().Round(time.Millisecond), firstLine(t.Error))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	counts := rec.Counts()
	var parts []string
	for _, s := range []task.State{task.Success, task.Failed, task.UpstreamFailed, task.Skipped} {
		if n := counts[s]; n > 0 {
			parts = append(parts, stateColor(s).Sprintf("%d %s", n, s))
		}
	}
	fmt.Fprintln(w)
	_, err := fmt.Fprintln(w, strings.Join(parts, ", "))
	return err
}

func stateColor(s task.State) *color.Color {
	switch s {
	case task.Success:
		return color.New(color.FgGreen)
	case task.Failed:
		return color.New(color.FgRed, color.Bold)
	case task.UpstreamFailed:
		return color.New(color.FgRed)
	case task.Skipped:
		return color.New(color.FgYellow)
	default:
		return color.New(color.Reset)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
