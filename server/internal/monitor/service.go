package monitor

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/obsidianstack/appmonitor/pkg/types"
	"github.com/obsidianstack/appmonitor/server/internal/alerts"
	"github.com/obsidianstack/appmonitor/server/internal/health"
	"github.com/obsidianstack/appmonitor/server/internal/metrics"
	"github.com/obsidianstack/appmonitor/server/internal/stats"
	"github.com/obsidianstack/appmonitor/server/internal/store"
)

// Default store capacities and retention windows.
const (
	DefaultPerformanceCapacity = 1000
	DefaultSecurityCapacity    = 1000
	DefaultUserMetricCapacity  = 10000
	DefaultMetricCapacity      = 1000
	DefaultSampleRetention     = 7 * 24 * time.Hour
	DefaultAlertRetention      = 30 * 24 * time.Hour
	defaultUserMetricDays      = 30
	recentAlertCount           = 10
)

// DefaultDashboardMetrics are the named metrics reported on the dashboard
// when Options.DashboardMetrics is empty.
var DefaultDashboardMetrics = []string{"totalUsers", "activeSessions"}

// Family labels used for self-metrics and cleanup results.
const (
	familyPerformance = "performance"
	familySecurity    = "security"
	familyUserMetrics = "user_metrics"
	familyMetrics     = "metrics"
	familyAlerts      = "alerts"
)

// degradedRatio is DefaultDegradedResponseMs / DefaultSlowResponseMs.
const degradedRatio = 0.6

// Options configures a Service. Zero fields take the package defaults.
type Options struct {
	PerformanceCapacity int
	SecurityCapacity    int
	UserMetricCapacity  int
	MetricCapacity      int // per metric name
	AlertCapacity       int

	SampleRetention time.Duration
	AlertRetention  time.Duration

	Thresholds       Thresholds
	DashboardMetrics []string

	Notifier alerts.Notifier
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PerformanceCapacity <= 0 {
		o.PerformanceCapacity = DefaultPerformanceCapacity
	}
	if o.SecurityCapacity <= 0 {
		o.SecurityCapacity = DefaultSecurityCapacity
	}
	if o.UserMetricCapacity <= 0 {
		o.UserMetricCapacity = DefaultUserMetricCapacity
	}
	if o.MetricCapacity <= 0 {
		o.MetricCapacity = DefaultMetricCapacity
	}
	if o.AlertCapacity <= 0 {
		o.AlertCapacity = alerts.DefaultCapacity
	}
	if o.SampleRetention <= 0 {
		o.SampleRetention = DefaultSampleRetention
	}
	if o.AlertRetention <= 0 {
		o.AlertRetention = DefaultAlertRetention
	}
	if len(o.DashboardMetrics) == 0 {
		o.DashboardMetrics = DefaultDashboardMetrics
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Thresholds groups the tunable alert rule and health boundaries so they can
// be swapped together on config reload.
type Thresholds struct {
	SlowResponseMs     int
	DegradedResponseMs float64
	UnhealthyErrorRate float64
}

// Service is the monitoring engine. Construct it with New; the zero value is
// not usable.
//
// Service is safe for concurrent use.
type Service struct {
	now     func() time.Time
	metrics *metrics.Metrics

	sampleRetention time.Duration
	alertRetention  time.Duration
	dashMetrics     []string

	performance *store.Series[types.PerformanceSample]
	security    *store.Series[types.SecurityEvent]
	users       *store.Series[types.UserMetric]
	named       *store.Keyed[types.MetricPoint]
	alerts      *alerts.Engine

	mu     sync.RWMutex
	health health.Thresholds

	cleanupMu sync.Mutex
}

// New returns a Service with empty stores.
func New(opts Options) *Service {
	opts = opts.withDefaults()
	s := &Service{
		now:             opts.Now,
		metrics:         opts.Metrics,
		sampleRetention: opts.SampleRetention,
		alertRetention:  opts.AlertRetention,
		dashMetrics:     slices.Clone(opts.DashboardMetrics),
		performance:     store.NewSeries[types.PerformanceSample](opts.PerformanceCapacity),
		security:        store.NewSeries[types.SecurityEvent](opts.SecurityCapacity),
		users:           store.NewSeries[types.UserMetric](opts.UserMetricCapacity),
		named:           store.NewKeyed[types.MetricPoint](opts.MetricCapacity),
		alerts: alerts.New(alerts.Config{
			Capacity: opts.AlertCapacity,
			Notifier: opts.Notifier,
			Metrics:  opts.Metrics,
			Now:      opts.Now,
		}),
	}
	s.ApplyThresholds(opts.Thresholds)
	return s
}

// ApplyThresholds swaps the rule and health thresholds. Zero fields take the
// defaults. The degraded boundary must stay strictly below the slow-response
// threshold; one that does not is lowered to the default ratio of it.
func (s *Service) ApplyThresholds(t Thresholds) {
	s.alerts.SetThresholds(alerts.Thresholds{SlowResponseMs: t.SlowResponseMs})
	slow := float64(s.alerts.Thresholds().SlowResponseMs)

	h := health.Thresholds{
		DegradedResponseMs: t.DegradedResponseMs,
		UnhealthyErrorRate: t.UnhealthyErrorRate,
	}.WithDefaults()
	if h.DegradedResponseMs >= slow {
		clamped := slow * degradedRatio
		slog.Warn("monitor: degraded threshold not below slow_response, clamping",
			"degraded_response_ms", h.DegradedResponseMs,
			"slow_response_ms", slow,
			"clamped_to", clamped,
		)
		h.DegradedResponseMs = clamped
	}

	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
	slog.Debug("monitor: thresholds applied", "slow_response_ms", s.alerts.Thresholds().SlowResponseMs)
}

// Thresholds returns the thresholds currently in effect, defaults filled in.
func (s *Service) Thresholds() Thresholds {
	s.mu.RLock()
	h := s.health
	s.mu.RUnlock()
	return Thresholds{
		SlowResponseMs:     s.alerts.Thresholds().SlowResponseMs,
		DegradedResponseMs: h.DegradedResponseMs,
		UnhealthyErrorRate: h.UnhealthyErrorRate,
	}
}

// RecordAPIPerformance stores one request observation and applies the
// slow_response and high_error_rate rules to it. Negative response times are
// recorded as 0.
func (s *Service) RecordAPIPerformance(endpoint, method string, responseTimeMs, statusCode int) {
	if responseTimeMs < 0 {
		responseTimeMs = 0
	}
	sample := types.PerformanceSample{
		Endpoint:       endpoint,
		Method:         method,
		ResponseTimeMs: responseTimeMs,
		StatusCode:     statusCode,
		Timestamp:      s.now(),
	}
	s.performance.Append(sample)
	s.metrics.IngestedRecord(familyPerformance)
	s.alerts.EvaluatePerformance(sample)
}

// RecordSecurityEvent stores one security event. Unknown severities are
// recorded as low; high and critical events raise a security_event alert.
func (s *Service) RecordSecurityEvent(event string, severity types.Severity, data map[string]any) {
	sev, ok := types.ParseSeverity(string(severity))
	if !ok {
		sev = types.SeverityLow
	}
	ev := types.SecurityEvent{
		Event:     event,
		Severity:  sev,
		Data:      types.CloneData(data),
		Timestamp: s.now(),
	}
	s.security.Append(ev)
	s.metrics.IngestedRecord(familySecurity)
	s.alerts.EvaluateSecurity(ev)
}

// RecordUserMetric stores one per-user measurement.
func (s *Service) RecordUserMetric(userID, metricType string, value float64) {
	s.users.Append(types.UserMetric{
		UserID:     userID,
		MetricType: metricType,
		Value:      value,
		Date:       s.now(),
	})
	s.metrics.IngestedRecord(familyUserMetrics)
}

// RecordMetric appends a point to the named metric series, creating it on
// first use. tags may be nil.
func (s *Service) RecordMetric(name string, value float64, tags map[string]string) {
	s.named.Append(name, types.MetricPoint{
		Timestamp: s.now(),
		Value:     value,
		Tags:      maps.Clone(tags),
	})
	s.metrics.IngestedRecord(familyMetrics)
}

// PerformanceMetrics summarises the samples for endpoint (all endpoints when
// empty) whose timestamp falls inside r.
func (s *Service) PerformanceMetrics(endpoint string, r types.TimeRange) stats.Summary {
	return stats.Summarize(s.performanceIn(endpoint, r))
}

func (s *Service) performanceIn(endpoint string, r types.TimeRange) []types.PerformanceSample {
	return slices.Collect(s.performance.Query(func(p types.PerformanceSample) bool {
		return (endpoint == "" || p.Endpoint == endpoint) && r.Contains(p.Timestamp)
	}))
}

// SecurityEvents returns copies of the stored events inside r, oldest first.
func (s *Service) SecurityEvents(r types.TimeRange) []types.SecurityEvent {
	out := slices.Collect(s.security.Query(func(ev types.SecurityEvent) bool {
		return r.Contains(ev.Timestamp)
	}))
	for i := range out {
		out[i].Data = types.CloneData(out[i].Data)
	}
	return out
}

// UserMetrics returns the measurements for userID from the last days days,
// restricted to metricType when it is non-empty. days <= 0 means 30.
func (s *Service) UserMetrics(userID, metricType string, days int) []types.UserMetric {
	if days <= 0 {
		days = defaultUserMetricDays
	}
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	return slices.Collect(s.users.Query(func(m types.UserMetric) bool {
		return m.UserID == userID &&
			(metricType == "" || m.MetricType == metricType) &&
			!m.Date.Before(since)
	}))
}

// Metric returns the points of the named series inside r. Unknown names yield nil.
func (s *Service) Metric(name string, r types.TimeRange) []types.MetricPoint {
	return slices.Collect(s.named.Query(name, func(p types.MetricPoint) bool {
		return r.Contains(p.Timestamp)
	}))
}

// MetricNames lists every named metric currently held.
func (s *Service) MetricNames() []string {
	return s.named.Names()
}

// LatestMetrics returns the newest value of every named metric.
func (s *Service) LatestMetrics() map[string]float64 {
	out := make(map[string]float64)
	for _, name := range s.named.Names() {
		if p, ok := s.named.Last(name); ok {
			out[name] = p.Value
		}
	}
	return out
}

// Alerts returns stored alerts newest first, filtered by severity when non-empty.
func (s *Service) Alerts(severity types.Severity) []types.Alert {
	return s.alerts.List(severity)
}

// CreateAlert records an alert directly and dispatches it to the notifier.
func (s *Service) CreateAlert(alertType string, severity types.Severity, data map[string]any) types.Alert {
	return s.alerts.Create(alertType, severity, data)
}

// AcknowledgeAlert marks an alert as acknowledged. Unknown ids are ignored;
// the result reports whether one matched.
func (s *Service) AcknowledgeAlert(id string) bool {
	return s.alerts.Acknowledge(id)
}

// HealthStatus classifies the system over every retained sample and event.
func (s *Service) HealthStatus() health.Report {
	s.mu.RLock()
	t := s.health
	s.mu.RUnlock()

	events := s.security.Snapshot()
	return health.Build(health.Input{
		Performance:            stats.Summarize(s.performance.Snapshot()),
		SecurityEvents:         len(events),
		HighSecurityEvents:     countHigh(events),
		UnacknowledgedCritical: s.alerts.HasUnacknowledged(types.SeverityCritical),
	}, t, s.now())
}

func countHigh(events []types.SecurityEvent) int {
	var n int
	for _, ev := range events {
		if ev.Severity.AtLeastHigh() {
			n++
		}
	}
	return n
}
