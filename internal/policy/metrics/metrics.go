package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for policy resolution and the catalog cache.
type Metrics struct {
	Resolutions    *prometheus.CounterVec
	SkippedIDs     prometheus.Counter
	CatalogRefresh *prometheus.CounterVec
	CatalogSize    prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "complyd_policy_resolutions_total",
			Help: "Policy resolutions by mode",
		}, []string{"mode"}), // mode: "explicit", "detected", "fallback", "not_found"
		SkippedIDs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "complyd_policy_skipped_ids_total",
			Help: "Explicit policy IDs skipped because they were unknown or inactive",
		}),
		CatalogRefresh: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "complyd_policy_catalog_refresh_total",
			Help: "Catalog snapshot refreshes by result",
		}, []string{"result"}),
		CatalogSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "complyd_policy_catalog_policies",
			Help: "Active policies in the current catalog snapshot",
		}),
	}
}

func (m *Metrics) IncResolution(mode string) {
	if m != nil {
		m.Resolutions.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) AddSkipped(n int) {
	if m != nil {
		m.SkippedIDs.Add(float64(n))
	}
}

func (m *Metrics) IncRefresh(result string) {
	if m != nil {
		m.CatalogRefresh.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SetCatalogSize(n int) {
	if m != nil {
		m.CatalogSize.Set(float64(n))
	}
}
