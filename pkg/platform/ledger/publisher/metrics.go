package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks ledger append outcomes.
type Metrics struct {
	Appended       *prometheus.CounterVec
	AppendFailures prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Appended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "geosync_ledger_entries_total",
			Help: "Ledger entries appended, by kind",
		}, []string{"kind"}),
		AppendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geosync_ledger_append_failures_total",
			Help: "Ledger appends that failed and aborted their operation",
		}),
	}
}
