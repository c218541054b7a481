package types

import (
	"strings"
	"time"
)

// Severity classifies security events and alerts.
type Severity string

// Severity levels, lowest first.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity normalises s and reports whether it names a known level.
func ParseSeverity(s string) (Severity, bool) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return sev, true
	default:
		return "", false
	}
}

// AtLeastHigh reports whether s is high or critical.
func (s Severity) AtLeastHigh() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// PerformanceSample is one observed API request.
type PerformanceSample struct {
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	ResponseTimeMs int       `json:"responseTime"`
	StatusCode     int       `json:"statusCode"`
	Timestamp      time.Time `json:"timestamp"`
}

// Failed reports whether the sample counts towards the error rate.
func (p PerformanceSample) Failed() bool { return p.StatusCode >= 400 }

// SecurityEvent is one security-relevant occurrence reported by the host application.
type SecurityEvent struct {
	Event     string         `json:"event"`
	Severity  Severity       `json:"severity"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// UserMetric is one per-user measurement.
type UserMetric struct {
	UserID     string    `json:"userId"`
	MetricType string    `json:"metricType"`
	Value      float64   `json:"value"`
	Date       time.Time `json:"date"`
}

// MetricPoint is one value of a named metric series.
type MetricPoint struct {
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Alert is a record produced by rule evaluation or a direct CreateAlert call.
// Acknowledged only ever moves from false to true.
type Alert struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Severity     Severity       `json:"severity"`
	Data         map[string]any `json:"data"`
	Timestamp    time.Time      `json:"timestamp"`
	Acknowledged bool           `json:"acknowledged"`
}

// TimeRange is an inclusive [Start, End] window. A zero Start or End leaves
// that side unbounded, so the zero TimeRange matches every instant.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Since returns the range from t to an unbounded end.
func Since(t time.Time) TimeRange { return TimeRange{Start: t} }

// Contains reports whether t lies within the range, boundaries included.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// CloneData returns a deep copy of a free-form payload. Nested maps and
// slices are copied so the result shares no mutable state with d; other
// values are copied by assignment. A nil d yields an empty map.
func CloneData(d map[string]any) map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneData(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = cloneValue(e)
		}
		return cp
	case map[string]string:
		cp := make(map[string]string, len(t))
		for k, s := range t {
			cp[k] = s
		}
		return cp
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
