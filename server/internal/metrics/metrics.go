// Package metrics exposes the engine's own Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the prometheus collectors used by the engine.
// A nil *Metrics is valid; every method becomes a no-op.
type Metrics struct {
	Ingested          *prometheus.CounterVec
	AlertsCreated     *prometheus.CounterVec
	WebhookDeliveries *prometheus.CounterVec
	RetentionEvicted  *prometheus.CounterVec
	RateLimited       prometheus.Counter
}

// New creates the engine counters and registers them on registry.
// It panics if any is already registered.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appmonitor_ingested_total",
			Help: "Total number of telemetry records ingested, by family.",
		}, []string{"family"}),
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appmonitor_alerts_created_total",
			Help: "Total number of alerts created.",
		}, []string{"type", "severity"}),
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appmonitor_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts, by channel and result.",
		}, []string{"channel", "result"}),
		RetentionEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appmonitor_retention_evicted_total",
			Help: "Total number of records removed by the retention sweeper.",
		}, []string{"family"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "appmonitor_ingest_ratelimited_total",
			Help: "Total number of ingest requests rejected by the rate limiter.",
		}),
	}

	registry.MustRegister(
		m.Ingested,
		m.AlertsCreated,
		m.WebhookDeliveries,
		m.RetentionEvicted,
		m.RateLimited,
	)

	return m
}

// Handler serves the registry in the Prometheus text exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// IngestedRecord counts one stored record of family.
func (m *Metrics) IngestedRecord(family string) {
	if m == nil {
		return
	}
	m.Ingested.WithLabelValues(family).Inc()
}

// AlertCreated counts one new alert.
func (m *Metrics) AlertCreated(alertType, severity string) {
	if m == nil {
		return
	}
	m.AlertsCreated.WithLabelValues(alertType, severity).Inc()
}

// WebhookDelivered counts one delivery attempt; err decides the result label.
func (m *Metrics) WebhookDelivered(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.WebhookDeliveries.WithLabelValues(channel, result).Inc()
}

// Evicted adds n records of family removed by retention.
func (m *Metrics) Evicted(family string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RetentionEvicted.WithLabelValues(family).Add(float64(n))
}

// RateLimitDropped counts one rejected ingest request.
func (m *Metrics) RateLimitDropped() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}
