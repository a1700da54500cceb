package notify

import (
	"context"
	"log/slog"

	"github.com/specialistvlad/etlgrid/internal/ctxlog"
	"github.com/specialistvlad/etlgrid/internal/task"
)

// Log publishes messages to the context logger. Failures are logged at
// error level, everything else at info.
type Log struct{}

func (Log) Publish(ctx context.Context, msg Message) error {
	level := slog.LevelInfo
	if msg.State == task.Failed.String() || msg.State == task.UpstreamFailed.String() {
		level = slog.LevelError
	}
	args := []any{"type", msg.Type, "dag", msg.DAG, "run_id", msg.RunID, "state", msg.State}
	if msg.TaskID != "" {
		args = append(args, "task", msg.TaskID, "attempt", msg.Attempt)
	}
	if msg.Error != "" {
		args = append(args, "error", msg.Error)
	}
	ctxlog.FromContext(ctx).Log(ctx, level, "📣 Notification", args...)
	return nil
}
