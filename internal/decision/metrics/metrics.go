package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for decision aggregation.
type Metrics struct {
	// Decision outcomes by overall status
	DecisionOutcome *prometheus.CounterVec

	// Aggregated confidence distribution
	Confidence prometheus.Histogram

	// Gap and override counts per decision
	Gaps      prometheus.Histogram
	Overrides prometheus.Counter
}

// New creates a new Metrics instance with all decision module metrics registered.
func New() *Metrics {
	return &Metrics{
		DecisionOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "complyd_decision_outcomes_total",
			Help: "Total decision outcomes by overall status",
		}, []string{"status"}), // status: "COMPLIANT", "NON_COMPLIANT", "REVIEW"

		Confidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "complyd_decision_confidence",
			Help:    "Aggregated decision confidence",
			Buckets: []float64{0.1, 0.25, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		}),

		Gaps: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "complyd_decision_gaps",
			Help:    "Number of gap rules per decision",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		}),

		Overrides: promauto.NewCounter(prometheus.CounterOpts{
			Name: "complyd_decision_dependency_overrides_total",
			Help: "COMPLIANT verdicts downgraded because a parent rule was NON_COMPLIANT",
		}),
	}
}

// ObserveDecision records one aggregated decision.
func (m *Metrics) ObserveDecision(status string, confidence float64, gaps, overrides int) {
	if m == nil {
		return
	}
	m.DecisionOutcome.WithLabelValues(status).Inc()
	m.Confidence.Observe(confidence)
	m.Gaps.Observe(float64(gaps))
	m.Overrides.Add(float64(overrides))
}
