package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the geography module.
// Tracks ingest outcomes and match scoring latency.
type Metrics struct {
	IngestOutcomes *prometheus.CounterVec
	MatchDuration  prometheus.Histogram
	SyncFailures   prometheus.Counter
}

// New creates a new Metrics instance with all geography module metrics registered.
func New() *Metrics {
	return &Metrics{
		IngestOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "geosync_ingest_outcomes_total",
			Help: "Ingest submissions by terminal outcome (created, matched, conflict, duplicate)",
		}, []string{"outcome"}),
		MatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "geosync_match_duration_seconds",
			Help:    "Duration of candidate scoring per ingest (sync critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		SyncFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geosync_sync_persistence_failures_total",
			Help: "Ingest attempts rolled back because ledger or registry writes failed",
		}),
	}
}

// IncrementOutcome records a finished ingest by outcome label.
func (m *Metrics) IncrementOutcome(outcome string) {
	m.IngestOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveMatch records the duration of a candidate scoring pass.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveMatch(start time.Time) {
	m.MatchDuration.Observe(time.Since(start).Seconds())
}

// IncrementSyncFailure records a rolled-back ingest transaction.
func (m *Metrics) IncrementSyncFailure() {
	m.SyncFailures.Inc()
}
