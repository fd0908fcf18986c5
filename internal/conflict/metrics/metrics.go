package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the conflict module.
type Metrics struct {
	CasesOpened   prometheus.Counter
	CasesResolved *prometheus.CounterVec
}

// New creates a new Metrics instance with all conflict module metrics registered.
func New() *Metrics {
	return &Metrics{
		CasesOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geosync_conflict_cases_opened_total",
			Help: "Conflict cases opened for ambiguous submissions",
		}),
		CasesResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "geosync_conflict_cases_resolved_total",
			Help: "Conflict cases resolved, by administrator action",
		}, []string{"action"}),
	}
}

// IncrementOpened records a newly opened case.
func (m *Metrics) IncrementOpened() {
	m.CasesOpened.Inc()
}

// IncrementResolved records a resolved case by action label.
func (m *Metrics) IncrementResolved(action string) {
	m.CasesResolved.WithLabelValues(action).Inc()
}
