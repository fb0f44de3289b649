package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit publishing.
type Metrics struct {
	EventsEmitted   *prometheus.CounterVec
	PersistFailures prometheus.Counter
	PersistDuration prometheus.Histogram
	MirrorDropped   prometheus.Counter
	MirrorFailures  prometheus.Counter
}

// NewMetrics registers audit metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "complyd_audit_events_emitted_total",
			Help: "Audit events durably persisted, by kind",
		}, []string{"kind"}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "complyd_audit_persist_failures_total",
			Help: "Audit appends that failed; each one failed its run",
		}),
		PersistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "complyd_audit_persist_duration_seconds",
			Help:    "Latency of the synchronous audit append",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		MirrorDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "complyd_audit_mirror_dropped_total",
			Help: "Events not mirrored because the mirror buffer was full",
		}),
		MirrorFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "complyd_audit_mirror_failures_total",
			Help: "Mirror sink append failures",
		}),
	}
}

func (m *Metrics) incEmitted(kind string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) incPersistFailures() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) observePersist(seconds float64) {
	if m == nil {
		return
	}
	m.PersistDuration.Observe(seconds)
}

func (m *Metrics) incMirrorDropped() {
	if m == nil {
		return
	}
	m.MirrorDropped.Inc()
}

func (m *Metrics) incMirrorFailures() {
	if m == nil {
		return
	}
	m.MirrorFailures.Inc()
}
