package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/obsidianstack/appmonitor/pkg/types"
)

// CleanupResult reports how many records each store dropped in one sweep.
type CleanupResult struct {
	Performance int `json:"performance"`
	Security    int `json:"security"`
	UserMetrics int `json:"userMetrics"`
	Metrics     int `json:"metrics"`
	Alerts      int `json:"alerts"`
}

// Total is the sum of all removed records.
func (r CleanupResult) Total() int {
	return r.Performance + r.Security + r.UserMetrics + r.Metrics + r.Alerts
}

// Cleanup drops telemetry older than the sample retention (7 days by default)
// and alerts older than the alert retention (30 days). Records stamped exactly
// at the cutoff are kept. Concurrent calls run one after another.
func (s *Service) Cleanup() CleanupResult {
	s.cleanupMu.Lock()
	defer s.cleanupMu.Unlock()

	now := s.now()
	sampleCutoff := now.Add(-s.sampleRetention)
	alertCutoff := now.Add(-s.alertRetention)

	res := CleanupResult{
		Performance: s.performance.Retain(func(p types.PerformanceSample) bool {
			return !p.Timestamp.Before(sampleCutoff)
		}),
		Security: s.security.Retain(func(ev types.SecurityEvent) bool {
			return !ev.Timestamp.Before(sampleCutoff)
		}),
		UserMetrics: s.users.Retain(func(m types.UserMetric) bool {
			return !m.Date.Before(sampleCutoff)
		}),
		Metrics: s.named.Retain(func(p types.MetricPoint) bool {
			return !p.Timestamp.Before(sampleCutoff)
		}),
		Alerts: s.alerts.Prune(alertCutoff),
	}

	s.metrics.Evicted(familyPerformance, res.Performance)
	s.metrics.Evicted(familySecurity, res.Security)
	s.metrics.Evicted(familyUserMetrics, res.UserMetrics)
	s.metrics.Evicted(familyMetrics, res.Metrics)
	s.metrics.Evicted(familyAlerts, res.Alerts)

	if n := res.Total(); n > 0 {
		slog.Info("monitor: retention sweep removed records",
			"total", n,
			"performance", res.Performance,
			"security", res.Security,
			"user_metrics", res.UserMetrics,
			"metrics", res.Metrics,
			"alerts", res.Alerts,
		)
	}
	return res
}

// RunRetention calls Cleanup every interval until ctx is cancelled.
// Intervals below one second are raised to one second.
func (s *Service) RunRetention(ctx context.Context, interval time.Duration) {
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Cleanup()
		}
	}
}
