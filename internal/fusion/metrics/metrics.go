package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for rule context fusion.
type Metrics struct {
	Similarity        *prometheus.CounterVec
	SimilarityLatency prometheus.Histogram
	Passages          prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Similarity: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "complyd_fusion_similarity_total",
			Help: "Similarity lookups by outcome",
		}, []string{"outcome"}), // outcome: "ok", "error", "breaker_open", "disabled"
		SimilarityLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "complyd_fusion_similarity_duration_seconds",
			Help:    "Embed plus search latency",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		Passages: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "complyd_fusion_passages",
			Help:    "Similar passages kept per rule context",
			Buckets: []float64{0, 1, 3, 5, 10, 15, 25},
		}),
	}
}

func (m *Metrics) IncSimilarity(outcome string) {
	if m != nil {
		m.Similarity.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveSimilarity(d time.Duration, kept int) {
	if m != nil {
		m.SimilarityLatency.Observe(d.Seconds())
		m.Passages.Observe(float64(kept))
	}
}
