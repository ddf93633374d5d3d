// Package metrics exposes dispatcher activity to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/aretw0/pitch/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	NodeVisits    *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Recoveries    prometheus.Counter
	AbortedChains prometheus.Counter
	GatedRuns     prometheus.Counter
	RunDuration   *prometheus.HistogramVec
	WakeUps       *prometheus.CounterVec
}

// New registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		NodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pitch_node_visits_total",
				Help: "Total number of node executions",
			},
			[]string{"node", "kind"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pitch_transitions_total",
				Help: "Transitions returned by nodes",
			},
			[]string{"transition", "delayed"},
		),
		Recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pitch_bad_state_recoveries_total",
			Help: "Users restarted because their next node no longer exists",
		}),
		AbortedChains: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pitch_aborted_chains_total",
			Help: "Runs cut short by the automatic chain depth bound",
		}),
		GatedRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pitch_gated_runs_total",
			Help: "Runs that found the user waiting on a timer",
		}),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pitch_run_duration_seconds",
				Help:    "Duration of dispatcher runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		WakeUps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pitch_wake_ups_total",
				Help: "Timed steps driven by the wake sweep",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.NodeVisits,
		m.Transitions,
		m.Recoveries,
		m.AbortedChains,
		m.GatedRuns,
		m.RunDuration,
		m.WakeUps,
	)
	return m
}

// Hooks feeds the counters from dispatcher lifecycle events.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			m.NodeVisits.WithLabelValues(e.NodeName, e.NodeKind).Inc()
		},
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			delayed := "false"
			if e.Delayed {
				delayed = "true"
			}
			m.Transitions.WithLabelValues(e.Transition, delayed).Inc()
		},
		OnRecovery: func(ctx context.Context, e *domain.AnomalyEvent) {
			m.Recoveries.Inc()
		},
		OnChainAborted: func(ctx context.Context, e *domain.AnomalyEvent) {
			m.AbortedChains.Inc()
		},
		OnGated: func(ctx context.Context, e *domain.AnomalyEvent) {
			m.GatedRuns.Inc()
		},
	}
}

// ObserveRun records how long a run from source took.
func (m *Metrics) ObserveRun(source string, started time.Time) {
	m.RunDuration.WithLabelValues(source).Observe(time.Since(started).Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry, e.g. to add process collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
