package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the counters and histograms the orchestrator
// exposes to whatever scrapes it. Registered against a caller-supplied
// registry so tests can use prometheus.NewRegistry() instead of the
// global default.
type Metrics struct {
	ADMMRounds        prometheus.Counter
	ADMMIterations    prometheus.Histogram
	ADMMRoundDuration prometheus.Histogram
	MigrationsSent    prometheus.Counter
	MigrationsRecv    prometheus.Counter
	MigrationBytes    prometheus.Counter
	SporadicBudgetMS  prometheus.Histogram
	CheckpointEvents  prometheus.Counter
}

// NewMetrics creates and registers the orchestrator's metric set on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		ADMMRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admm_rounds_total",
			Help:      "Number of ADMM placement rounds run by this node.",
		}),
		ADMMIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admm_iterations",
			Help:      "Number of ADMM iterations consumed per round before termination.",
			Buckets:   prometheus.LinearBuckets(1, 2, 12),
		}),
		ADMMRoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admm_round_duration_seconds",
			Help:      "Wall-clock duration of an ADMM placement round.",
			Buckets:   prometheus.DefBuckets,
		}),
		MigrationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_sent_total",
			Help:      "Requests successfully transmitted to a destination node.",
		}),
		MigrationsRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_received_total",
			Help:      "Requests successfully received from a source node.",
		}),
		MigrationBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_bytes_total",
			Help:      "Total bytes transferred over the migration transport.",
		}),
		SporadicBudgetMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sporadic_budget_consumed_ms",
			Help:      "Budget consumed by the sporadic server per job, in milliseconds.",
			Buckets:   prometheus.LinearBuckets(0, 5, 20),
		}),
		CheckpointEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_events_total",
			Help:      "Cooperative checkpoint traps observed by the execution server.",
		}),
	}

	reg.MustRegister(
		m.ADMMRounds,
		m.ADMMIterations,
		m.ADMMRoundDuration,
		m.MigrationsSent,
		m.MigrationsRecv,
		m.MigrationBytes,
		m.SporadicBudgetMS,
		m.CheckpointEvents,
	)

	return m
}
