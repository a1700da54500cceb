// Package metrics exports run and task outcomes as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/specialistvlad/etlgrid/internal/executor"
	"github.com/specialistvlad/etlgrid/internal/task"
)

const namespace = "etlgrid"

// Collector is an executor listener backed by Prometheus collectors.
type Collector struct {
	transitions  *prometheus.CounterVec
	retries      *prometheus.CounterVec
	running      *prometheus.GaugeVec
	taskDuration *prometheus.HistogramVec
	taskAttempts *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	activeRuns   *prometheus.GaugeVec
	runDuration  *prometheus.HistogramVec
}

var (
	_ executor.Listener      = (*Collector)(nil)
	_ executor.RetryListener = (*Collector)(nil)
	_ executor.RunListener   = (*Collector)(nil)
)

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task state transitions by target state.",
		}, []string{"dag", "kind", "state"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Failed attempts that were scheduled for another try.",
		}, []string{"dag", "kind"}),
		running: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_running",
			Help:      "Tasks currently dispatched.",
		}, []string{"dag"}),
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Dispatch to terminal state, including retry delays.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"dag", "kind", "state"}),
		taskAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_attempts",
			Help:      "Attempts used by tasks that ran.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}, []string{"dag", "kind"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by outcome.",
		}, []string{"dag", "state"}),
		activeRuns: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Runs in progress.",
		}, []string{"dag"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of finished runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"dag"}),
	}
}

func (c *Collector) OnTransition(_ context.Context, ev executor.Event) {
	c.transitions.WithLabelValues(ev.DAG, ev.Kind.String(), ev.To.String()).Inc()
	switch {
	case ev.To == task.Running:
		c.running.WithLabelValues(ev.DAG).Inc()
	case ev.From == task.Running:
		c.running.WithLabelValues(ev.DAG).Dec()
	}
}

func (c *Collector) OnRetry(_ context.Context, ev executor.Event) {
	c.retries.WithLabelValues(ev.DAG, ev.Kind.String()).Inc()
}

func (c *Collector) OnRunStart(_ context.Context, rec *executor.Record) {
	c.activeRuns.WithLabelValues(rec.DAG).Inc()
}

func (c *Collector) OnRunFinish(_ context.Context, rec *executor.Record) {
	c.activeRuns.WithLabelValues(rec.DAG).Dec()
	state := rec.State.String()
	if rec.Cancelled {
		state = "cancelled"
	}
	c.runs.WithLabelValues(rec.DAG, state).Inc()
	c.runDuration.WithLabelValues(rec.DAG).Observe(rec.Duration().Seconds())

	for _, t := range rec.Tasks {
		if t.Attempts == 0 {
			continue
		}
		c.taskAttempts.WithLabelValues(rec.DAG, t.Kind.String()).Observe(float64(t.Attempts))
		c.taskDuration.WithLabelValues(rec.DAG, t.Kind.String(), t.State.String()).Observe(t.Duration().Seconds())
	}
}
