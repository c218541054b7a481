package alerts

import "github.com/obsidianstack/appmonitor/pkg/types"

// Alert types produced by the built-in rules.
const (
	TypeSlowResponse  = "slow_response"
	TypeHighErrorRate = "high_error_rate"
	TypeSecurityEvent = "security_event"
)

const (
	defaultSlowResponseMs = 5000
	serverErrorStatus     = 500
)

// Thresholds tune the built-in rules. Zero fields take the defaults.
type Thresholds struct {
	SlowResponseMs int `json:"slowResponseMs"`
}

func (t Thresholds) withDefaults() Thresholds {
	if t.SlowResponseMs <= 0 {
		t.SlowResponseMs = defaultSlowResponseMs
	}
	return t
}

// Thresholds returns the thresholds currently applied by the rules.
func (e *Engine) Thresholds() Thresholds {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thresholds
}

// SetThresholds replaces the rule thresholds. Already stored alerts are untouched.
func (e *Engine) SetThresholds(t Thresholds) {
	e.mu.Lock()
	e.thresholds = t.withDefaults()
	e.mu.Unlock()
}

// EvaluatePerformance applies the request rules to one sample and returns
// the alerts it created, if any. A single sample may trip both rules.
//
//	responseTime > slow threshold  -> slow_response   (high)
//	statusCode >= 500              -> high_error_rate (critical)
func (e *Engine) EvaluatePerformance(s types.PerformanceSample) []types.Alert {
	t := e.Thresholds()

	var fired []types.Alert
	if s.ResponseTimeMs > t.SlowResponseMs {
		fired = append(fired, e.Create(TypeSlowResponse, types.SeverityHigh, map[string]any{
			"endpoint":     s.Endpoint,
			"method":       s.Method,
			"responseTime": s.ResponseTimeMs,
		}))
	}
	if s.StatusCode >= serverErrorStatus {
		fired = append(fired, e.Create(TypeHighErrorRate, types.SeverityCritical, map[string]any{
			"endpoint":   s.Endpoint,
			"method":     s.Method,
			"statusCode": s.StatusCode,
		}))
	}
	return fired
}

// EvaluateSecurity raises a security_event alert, carrying the event's own
// severity, for high and critical events.
func (e *Engine) EvaluateSecurity(ev types.SecurityEvent) []types.Alert {
	if !ev.Severity.AtLeastHigh() {
		return nil
	}
	return []types.Alert{e.Create(TypeSecurityEvent, ev.Severity, map[string]any{
		"event": ev.Event,
		"data":  ev.Data,
	})}
}
