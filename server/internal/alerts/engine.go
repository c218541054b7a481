package alerts

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/appmonitor/pkg/types"
	"github.com/obsidianstack/appmonitor/server/internal/metrics"
)

// DefaultCapacity is the number of alerts kept when Config.Capacity is unset.
const DefaultCapacity = 100

// Notifier receives a copy of every alert the engine creates.
// Notify must not block: it runs on the ingestion path and should hand
// delivery off to its own goroutines.
type Notifier interface {
	Notify(a types.Alert)
}

// Notifiers fans one alert out to several notifiers in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(a types.Alert) {
	for _, n := range ns {
		n.Notify(a)
	}
}

// Config wires an Engine. Every field is optional.
type Config struct {
	Capacity   int
	Thresholds Thresholds
	Notifier   Notifier
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Engine stores alerts, applies the built-in rules to ingested telemetry and
// hands new alerts to the notifier.
//
// Engine is safe for concurrent use.
type Engine struct {
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string
	capacity int

	mu         sync.Mutex
	thresholds Thresholds
	alerts     []*types.Alert // insertion order, oldest first
}

// New creates an Engine from cfg, filling unset fields with defaults.
func New(cfg Config) *Engine {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		newID:      uuid.NewString,
		capacity:   cfg.Capacity,
		thresholds: cfg.Thresholds.withDefaults(),
	}
}

// Create records a new unacknowledged alert stamped with the current time and
// returns it. data is copied, so later changes by the caller do not reach
// the stored alert. The notifier receives its own copy.
func (e *Engine) Create(alertType string, severity types.Severity, data map[string]any) types.Alert {
	a := &types.Alert{
		ID:        e.newID(),
		Type:      alertType,
		Severity:  severity,
		Data:      types.CloneData(data),
		Timestamp: e.now(),
	}

	e.mu.Lock()
	e.alerts = append(e.alerts, a)
	if len(e.alerts) > e.capacity {
		e.alerts = e.alerts[len(e.alerts)-e.capacity:]
	}
	out := clone(a)
	e.mu.Unlock()

	e.metrics.AlertCreated(alertType, string(severity))
	slog.Warn("alert created",
		"id", out.ID,
		"type", alertType,
		"severity", severity,
	)
	if e.notifier != nil {
		e.notifier.Notify(clone(&out))
	}
	return out
}

// List returns alerts newest first, restricted to severity when it is non-empty.
// Alerts with equal timestamps are ordered most recently inserted first.
func (e *Engine) List(severity types.Severity) []types.Alert {
	return e.collect(func(a *types.Alert) bool {
		return severity == "" || a.Severity == severity
	})
}

// Unacknowledged returns every alert not yet acknowledged, newest first.
func (e *Engine) Unacknowledged() []types.Alert {
	return e.collect(func(a *types.Alert) bool { return !a.Acknowledged })
}

// Recent returns at most n alerts, newest first.
func (e *Engine) Recent(n int) []types.Alert {
	all := e.List("")
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// HasUnacknowledged reports whether any unacknowledged alert has the given severity.
func (e *Engine) HasUnacknowledged(severity types.Severity) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.alerts {
		if !a.Acknowledged && a.Severity == severity {
			return true
		}
	}
	return false
}

// Acknowledge marks the alert with the given id as acknowledged. An unknown
// id changes nothing; the result only reports whether an alert matched.
func (e *Engine) Acknowledge(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.alerts {
		if a.ID == id {
			a.Acknowledged = true
			return true
		}
	}
	return false
}

// Prune drops alerts created before cutoff and returns how many were removed.
func (e *Engine) Prune(cutoff time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	before := len(e.alerts)
	e.alerts = slices.DeleteFunc(e.alerts, func(a *types.Alert) bool {
		return a.Timestamp.Before(cutoff)
	})
	return before - len(e.alerts)
}

// Len returns the number of stored alerts.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.alerts)
}

func (e *Engine) collect(keep func(*types.Alert) bool) []types.Alert {
	e.mu.Lock()
	out := make([]types.Alert, 0, len(e.alerts))
	for i := len(e.alerts) - 1; i >= 0; i-- {
		if keep(e.alerts[i]) {
			out = append(out, clone(e.alerts[i]))
		}
	}
	e.mu.Unlock()

	// out starts in reverse insertion order; a stable sort keeps that for ties.
	slices.SortStableFunc(out, func(a, b types.Alert) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return out
}

func clone(a *types.Alert) types.Alert {
	cp := *a
	cp.Data = types.CloneData(a.Data)
	return cp
}
