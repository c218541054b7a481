package health

import (
	"time"

	"github.com/obsidianstack/appmonitor/server/internal/stats"
)

// Status is the overall health verdict.
type Status string

// Status constants returned by Classify.
const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Default thresholds. DefaultDegradedResponseMs stays strictly below the
// slow_response alert threshold (5000 ms).
const (
	DefaultDegradedResponseMs = 3000.0
	DefaultUnhealthyErrorRate = 10.0
)

// Thresholds map aggregate numbers to a Status. Zero fields take the defaults.
type Thresholds struct {
	// DegradedResponseMs is the mean response time above which the system is degraded.
	DegradedResponseMs float64 `json:"degradedResponseMs"`

	// UnhealthyErrorRate is the error percentage (0–100) above which the system is unhealthy.
	UnhealthyErrorRate float64 `json:"unhealthyErrorRate"`
}

// WithDefaults returns t with every unset field filled in.
func (t Thresholds) WithDefaults() Thresholds {
	if t.DegradedResponseMs <= 0 {
		t.DegradedResponseMs = DefaultDegradedResponseMs
	}
	if t.UnhealthyErrorRate <= 0 {
		t.UnhealthyErrorRate = DefaultUnhealthyErrorRate
	}
	return t
}

// Input holds everything the classifier looks at.
type Input struct {
	// Performance aggregates every retained sample, unfiltered.
	Performance stats.Summary

	SecurityEvents     int
	HighSecurityEvents int

	// UnacknowledgedCritical is true while any critical alert awaits acknowledgement.
	UnacknowledgedCritical bool
}

// PerformanceReport is the subset of the aggregate echoed in a Report.
type PerformanceReport struct {
	AvgResponseTime float64 `json:"avgResponseTime"`
	TotalRequests   int     `json:"totalRequests"`
	ErrorRate       float64 `json:"errorRate"`
}

// SecurityReport summarizes the security events behind a Report.
type SecurityReport struct {
	TotalEvents        int `json:"totalEvents"`
	HighSeverityEvents int `json:"highSeverityEvents"`
}

// Report is the verdict plus the inputs it was derived from.
type Report struct {
	Status      Status            `json:"status"`
	Performance PerformanceReport `json:"performance"`
	Security    SecurityReport    `json:"security"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Classify returns the verdict for in. The first matching rule wins:
//
//	unacknowledged critical alert, or error rate > UnhealthyErrorRate -> unhealthy
//	mean response time > DegradedResponseMs                           -> degraded
//	otherwise                                                         -> healthy
func Classify(in Input, t Thresholds) Status {
	t = t.WithDefaults()
	switch {
	case in.UnacknowledgedCritical, in.Performance.ErrorRate > t.UnhealthyErrorRate:
		return StatusUnhealthy
	case in.Performance.AvgResponseTime > t.DegradedResponseMs:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Build classifies in and wraps the result into a Report stamped with now.
func Build(in Input, t Thresholds, now time.Time) Report {
	return Report{
		Status: Classify(in, t),
		Performance: PerformanceReport{
			AvgResponseTime: in.Performance.AvgResponseTime,
			TotalRequests:   in.Performance.TotalRequests,
			ErrorRate:       in.Performance.ErrorRate,
		},
		Security: SecurityReport{
			TotalEvents:        in.SecurityEvents,
			HighSeverityEvents: in.HighSecurityEvents,
		},
		Timestamp: now,
	}
}
