package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for evidence collection.
type Metrics struct {
	FetchLatency  prometheus.Histogram
	FetchAttempts *prometheus.CounterVec
	ItemsByType   *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		FetchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "complyd_evidence_fetch_duration_seconds",
			Help:    "Duration of one evidence fetch attempt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		FetchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "complyd_evidence_fetch_attempts_total",
			Help: "Evidence fetch attempts by outcome",
		}, []string{"outcome"}), // outcome: "ok", "retryable", "terminal"
		ItemsByType: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "complyd_evidence_items_total",
			Help: "Normalized evidence items by evidence type",
		}, []string{"type"}),
	}
}

func (m *Metrics) ObserveFetch(d time.Duration, outcome string) {
	if m != nil {
		m.FetchLatency.Observe(d.Seconds())
		m.FetchAttempts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncItem(evidenceType string) {
	if m != nil {
		m.ItemsByType.WithLabelValues(evidenceType).Inc()
	}
}
