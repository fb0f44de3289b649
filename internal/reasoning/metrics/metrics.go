package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for rule evaluation.
type Metrics struct {
	Attempts  *prometheus.CounterVec
	Fallbacks prometheus.Counter
	Latency   prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "complyd_reasoning_attempts_total",
			Help: "Reasoning calls by outcome",
		}, []string{"outcome"}), // outcome: "ok", "malformed", "transport_error"
		Fallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "complyd_reasoning_fallbacks_total",
			Help: "Rules that fell back to INSUFFICIENT_EVIDENCE after exhausting attempts",
		}),
		Latency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "complyd_reasoning_call_duration_seconds",
			Help:    "Latency of a single reasoning call",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45},
		}),
	}
}

func (m *Metrics) ObserveAttempt(outcome string, d time.Duration) {
	if m != nil {
		m.Attempts.WithLabelValues(outcome).Inc()
		m.Latency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncFallback() {
	if m != nil {
		m.Fallbacks.Inc()
	}
}
