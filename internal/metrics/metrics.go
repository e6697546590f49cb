// Package metrics exposes the controller's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the controller counters. One instance per process,
// registered on its own registry so tests never collide.
type Metrics struct {
	Registry *prometheus.Registry

	TaskTransitions  *prometheus.CounterVec
	AdapterSpawns    *prometheus.CounterVec
	RecoveryAttempts *prometheus.CounterVec
	CIPolls          prometheus.Counter
	SSEConnections   prometheus.Gauge
	EventsPublished  *prometheus.CounterVec
}

// New creates and registers the metric set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		TaskTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ixado",
			Name:      "task_transitions_total",
			Help:      "Task status transitions by resulting status.",
		}, []string{"status"}),
		AdapterSpawns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ixado",
			Name:      "adapter_spawns_total",
			Help:      "Adapter subprocess spawns by adapter id.",
		}, []string{"adapter"}),
		RecoveryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ixado",
			Name:      "recovery_attempts_total",
			Help:      "Exception recovery attempts by category and result.",
		}, []string{"category", "result"}),
		CIPolls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ixado",
			Name:      "ci_polls_total",
			Help:      "CI status polls issued.",
		}),
		SSEConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ixado",
			Name:      "sse_connections",
			Help:      "Open SSE log-stream connections.",
		}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ixado",
			Name:      "events_published_total",
			Help:      "Runtime events published to the bus by type.",
		}, []string{"type"}),
	}
}
