package monitor

import (
	"time"

	"github.com/obsidianstack/appmonitor/pkg/types"
	"github.com/obsidianstack/appmonitor/server/internal/stats"
)

// Windows pairs a value computed over the last hour with the same value over
// the last day.
type Windows[T any] struct {
	LastHour T `json:"lastHour"`
	LastDay  T `json:"lastDay"`
}

// SecuritySummary counts security events in a window.
type SecuritySummary struct {
	TotalEvents        int                    `json:"totalEvents"`
	HighSeverityEvents int                    `json:"highSeverityEvents"`
	BySeverity         map[types.Severity]int `json:"bySeverity"`
}

// AlertSummary is the alert block of the dashboard.
type AlertSummary struct {
	Unacknowledged int           `json:"unacknowledged"`
	Recent         []types.Alert `json:"recent"`
}

// Dashboard is a point-in-time overview of the engine state.
type Dashboard struct {
	Performance Windows[stats.Summary]   `json:"performance"`
	Security    Windows[SecuritySummary] `json:"security"`
	Alerts      AlertSummary             `json:"alerts"`
	Metrics     map[string]float64       `json:"metrics"`
	GeneratedAt time.Time                `json:"generatedAt"`
}

// DashboardData builds the overview. Configured dashboard metrics that were
// never recorded are reported as 0.
func (s *Service) DashboardData() Dashboard {
	now := s.now()
	hour := types.TimeRange{Start: now.Add(-time.Hour), End: now}
	day := types.TimeRange{Start: now.Add(-24 * time.Hour), End: now}

	named := make(map[string]float64, len(s.dashMetrics))
	for _, name := range s.dashMetrics {
		var v float64
		if p, ok := s.named.Last(name); ok {
			v = p.Value
		}
		named[name] = v
	}

	recent := s.alerts.Recent(recentAlertCount)
	if recent == nil {
		recent = []types.Alert{}
	}

	return Dashboard{
		Performance: Windows[stats.Summary]{
			LastHour: s.PerformanceMetrics("", hour),
			LastDay:  s.PerformanceMetrics("", day),
		},
		Security: Windows[SecuritySummary]{
			LastHour: summarizeSecurity(s.SecurityEvents(hour)),
			LastDay:  summarizeSecurity(s.SecurityEvents(day)),
		},
		Alerts: AlertSummary{
			Unacknowledged: len(s.alerts.Unacknowledged()),
			Recent:         recent,
		},
		Metrics:     named,
		GeneratedAt: now,
	}
}

func summarizeSecurity(events []types.SecurityEvent) SecuritySummary {
	out := SecuritySummary{
		TotalEvents: len(events),
		BySeverity:  make(map[types.Severity]int),
	}
	for _, ev := range events {
		out.BySeverity[ev.Severity]++
		if ev.Severity.AtLeastHigh() {
			out.HighSeverityEvents++
		}
	}
	return out
}
