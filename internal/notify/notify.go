// Package notify pushes run progress to external subscribers.
package notify

import (
	"context"
	"time"

	"github.com/specialistvlad/etlgrid/internal/ctxlog"
	"github.com/specialistvlad/etlgrid/internal/executor"
	"github.com/specialistvlad/etlgrid/internal/task"
)

// Publisher delivers one message. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Message types.
const (
	TypeTransition = "transition"
	TypeRetry      = "retry"
	TypeRunStart   = "run_start"
	TypeRunFinish  = "run_finish"
)

// Message is the JSON payload sent to subscribers.
type Message struct {
	Type    string         `json:"type"`
	DAG     string         `json:"dag"`
	RunID   string         `json:"run_id"`
	TaskID  string         `json:"task_id,omitempty"`
	Kind    string         `json:"kind,omitempty"`
	From    string         `json:"from,omitempty"`
	State   string         `json:"state"`
	Attempt int            `json:"attempt,omitempty"`
	Error   string         `json:"error,omitempty"`
	WaitMS  int64          `json:"wait_ms,omitempty"`
	Counts  map[string]int `json:"counts,omitempty"`
	At      time.Time      `json:"at"`
}

// Notifier turns executor events into messages.
type Notifier struct {
	pub Publisher
	// states limits transition messages to these target states. Empty means
	// all of them.
	states map[task.State]bool
}

var (
	_ executor.Listener      = (*Notifier)(nil)
	_ executor.RetryListener = (*Notifier)(nil)
	_ executor.RunListener   = (*Notifier)(nil)
)

// New creates a notifier publishing every transition whose target is one of
// states, or every transition if none are given.
func New(pub Publisher, states ...task.State) *Notifier {
	n := &Notifier{pub: pub, states: make(map[task.State]bool)}
	for _, s := range states {
		n.states[s] = true
	}
	return n
}

func (n *Notifier) OnTransition(ctx context.Context, ev executor.Event) {
	if len(n.states) > 0 && !n.states[ev.To] {
		return
	}
	msg := eventMessage(TypeTransition, ev)
	msg.From = ev.From.String()
	n.publish(ctx, msg)
}

func (n *Notifier) OnRetry(ctx context.Context, ev executor.Event) {
	msg := eventMessage(TypeRetry, ev)
	msg.WaitMS = ev.Wait.Milliseconds()
	n.publish(ctx, msg)
}

func (n *Notifier) OnRunStart(ctx context.Context, rec *executor.Record) {
	n.publish(ctx, Message{
		Type:  TypeRunStart,
		DAG:   rec.DAG,
		RunID: rec.RunID,
		State: task.Running.String(),
		At:    rec.Started,
	})
}

func (n *Notifier) OnRunFinish(ctx context.Context, rec *executor.Record) {
	counts := make(map[string]int)
	for s, c := range rec.Counts() {
		counts[s.String()] = c
	}
	msg := Message{
		Type:   TypeRunFinish,
		DAG:    rec.DAG,
		RunID:  rec.RunID,
		State:  rec.State.String(),
		Counts: counts,
		At:     rec.Finished,
	}
	if rec.Cancelled {
		msg.Error = context.Canceled.Error()
	}
	n.publish(ctx, msg)
}

func (n *Notifier) publish(ctx context.Context, msg Message) {
	if err := n.pub.Publish(ctx, msg); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to publish notification.", "type", msg.Type, "error", err)
	}
}

func eventMessage(typ string, ev executor.Event) Message {
	msg := Message{
		Type:    typ,
		DAG:     ev.DAG,
		RunID:   ev.RunID,
		TaskID:  ev.TaskID,
		Kind:    ev.Kind.String(),
		State:   ev.To.String(),
		Attempt: ev.Attempt,
		At:      ev.At,
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}
