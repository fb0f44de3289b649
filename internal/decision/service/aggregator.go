package service

import (
	"complyd/internal/decision/metrics"
	"complyd/internal/decision/models"
	policy "complyd/internal/policy/models"
)

// Aggregator wraps Aggregate with metrics.
type Aggregator struct {
	metrics *metrics.Metrics
}

func NewAggregator(m *metrics.Metrics) *Aggregator {
	return &Aggregator{metrics: m}
}

func (a *Aggregator) Aggregate(verdicts []models.RuleVerdict, rules []policy.Rule) models.Decision {
	d := Aggregate(verdicts, rules)
	a.metrics.ObserveDecision(string(d.OverallStatus), d.Confidence, len(d.Gaps), len(d.Overrides))
	return d
}
