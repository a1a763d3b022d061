// Package observability defines the Prometheus collectors exported by the
// server. Collectors are plain instruments; components record into them and
// the HTTP adapter exposes them via promhttp.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the server's collectors.
type Metrics struct {
	// EvalsTotal counts evaluation tasks executed.
	EvalsTotal prometheus.Counter

	// EvalDuration observes wall time of evaluation tasks.
	EvalDuration prometheus.Histogram

	// InterruptsTotal counts interrupt requests by outcome
	// (interrupted, session-idle, interrupt-id-mismatch).
	InterruptsTotal *prometheus.CounterVec

	// TasksQueued tracks tasks currently enqueued across sessions,
	// including executing heads.
	TasksQueued prometheus.Gauge

	// SessionsLive tracks registered sessions.
	SessionsLive prometheus.Gauge
}

// New creates the collectors and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		EvalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbor_evals_total",
			Help: "Total number of evaluation tasks executed",
		}),
		EvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "arbor_eval_duration_seconds",
			Help: "Duration of evaluation tasks",
		}),
		InterruptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_interrupts_total",
			Help: "Total number of interrupt requests by outcome",
		}, []string{"outcome"}),
		TasksQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arbor_tasks_queued",
			Help: "Tasks currently enqueued across all sessions",
		}),
		SessionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arbor_sessions_live",
			Help: "Currently registered sessions",
		}),
	}
	reg.MustRegister(m.EvalsTotal, m.EvalDuration, m.InterruptsTotal, m.TasksQueued, m.SessionsLive)
	return m
}
