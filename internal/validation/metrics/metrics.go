package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the validation orchestrator.
type Metrics struct {
	RunsSubmitted prometheus.Counter
	RunsFinished  *prometheus.CounterVec
	RunsFailed    *prometheus.CounterVec
	RunsInFlight  prometheus.Gauge
	StageDuration *prometheus.HistogramVec
	RuleOutcomes  *prometheus.CounterVec
	RunsEvicted   prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		RunsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "complyd_validation_runs_submitted_total",
			Help: "Validation runs accepted",
		}),
		RunsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "complyd_validation_runs_finished_total",
			Help: "Validation runs reaching a terminal state",
		}, []string{"state"}),
		RunsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "complyd_validation_runs_failed_total",
			Help: "Failed validation runs by cause",
		}, []string{"reason"}),
		RunsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "complyd_validation_runs_in_flight",
			Help: "Validation runs not yet terminal",
		}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "complyd_validation_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		RuleOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "complyd_validation_rule_outcomes_total",
			Help: "Per-rule task outcomes",
		}, []string{"outcome"}), // outcome: verdict status, "timeout", "cancelled"
		RunsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "complyd_validation_runs_evicted_total",
			Help: "Terminal runs removed from the registry by the retention sweep",
		}),
	}
}

func (m *Metrics) IncSubmitted() {
	if m != nil {
		m.RunsSubmitted.Inc()
		m.RunsInFlight.Inc()
	}
}

func (m *Metrics) IncFinished(state string) {
	if m != nil {
		m.RunsFinished.WithLabelValues(state).Inc()
		m.RunsInFlight.Dec()
	}
}

func (m *Metrics) IncFailed(reason string) {
	if m != nil {
		m.RunsFailed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

func (m *Metrics) IncRuleOutcome(outcome string) {
	if m != nil {
		m.RuleOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AddEvicted(n int) {
	if m != nil {
		m.RunsEvicted.Add(float64(n))
	}
}
