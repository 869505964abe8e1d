package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the delegation module. All methods
// are nil-safe so wiring metrics stays optional in tests.
type Metrics struct {
	// Check outcomes by decision and denial phase
	CheckOutcome *prometheus.CounterVec

	// Latency of the two-phase access check
	CheckLatency prometheus.Histogram

	// Tasks created and revoked
	TasksCreated prometheus.Counter
	TasksRevoked prometheus.Counter

	// Tuples removed by cascading revocation
	TuplesRevoked prometheus.Counter

	// Decision cache events by outcome
	CacheEvents *prometheus.CounterVec

	// Sweeper passes and per-task revoke failures
	SweepsTotal   prometheus.Counter
	SweepFailures prometheus.Counter
}

// New creates a Metrics instance with all delegation module metrics registered.
func New() *Metrics {
	return &Metrics{
		CheckOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "delego_check_outcomes_total",
			Help: "Total access check outcomes by decision and phase",
		}, []string{"decision", "phase"}), // phase: "assignment", "grant", "expiry", "none"

		CheckLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "delego_check_duration_seconds",
			Help:    "Duration of two-phase access checks",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		TasksCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "delego_tasks_created_total",
			Help: "Total task delegations created",
		}),

		TasksRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "delego_tasks_revoked_total",
			Help: "Total task delegations revoked",
		}),

		TuplesRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "delego_tuples_revoked_total",
			Help: "Total relationship tuples removed by revocations",
		}),

		CacheEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "delego_decision_cache_events_total",
			Help: "Decision cache events by outcome",
		}, []string{"outcome"}), // outcome: "hit", "miss", "invalidate"

		SweepsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "delego_sweeps_total",
			Help: "Total expiry sweeper passes",
		}),

		SweepFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "delego_sweep_revoke_failures_total",
			Help: "Total failed revocations during expiry sweeps",
		}),
	}
}

// ObserveCheck records one access check outcome and its duration.
func (m *Metrics) ObserveCheck(decision, phase string, d time.Duration) {
	if m != nil {
		m.CheckOutcome.WithLabelValues(decision, phase).Inc()
		m.CheckLatency.Observe(d.Seconds())
	}
}

// IncTasksCreated records a created delegation.
func (m *Metrics) IncTasksCreated() {
	if m != nil {
		m.TasksCreated.Inc()
	}
}

// ObserveRevoke records a revocation and how many tuples it removed.
func (m *Metrics) ObserveRevoke(tuples int) {
	if m != nil {
		m.TasksRevoked.Inc()
		m.TuplesRevoked.Add(float64(tuples))
	}
}

// IncCacheEvent records a decision cache hit, miss, or invalidation.
func (m *Metrics) IncCacheEvent(outcome string) {
	if m != nil {
		m.CacheEvents.WithLabelValues(outcome).Inc()
	}
}

// ObserveSweep records one sweeper pass and its per-task failures.
func (m *Metrics) ObserveSweep(failures int) {
	if m != nil {
		m.SweepsTotal.Inc()
		m.SweepFailures.Add(float64(failures))
	}
}
