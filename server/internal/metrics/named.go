package metrics

import "github.com/prometheus/client_golang/prometheus"

// LatestSource reports the most recent value of every named metric.
type LatestSource interface {
	LatestMetrics() map[string]float64
}

// NamedCollector exports named metrics recorded through the engine as a
// single gauge family labelled by metric name. Values are read at scrape time.
type NamedCollector struct {
	src  LatestSource
	desc *prometheus.Desc
}

// NewNamedCollector returns a collector reading from src on every scrape.
func NewNamedCollector(src LatestSource) *NamedCollector {
	return &NamedCollector{
		src: src,
		desc: prometheus.NewDesc(
			"appmonitor_named_metric",
			"Latest value recorded for a named metric.",
			[]string{"name"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *NamedCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *NamedCollector) Collect(ch chan<- prometheus.Metric) {
	for name, v := range c.src.LatestMetrics() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, v, name)
	}
}
