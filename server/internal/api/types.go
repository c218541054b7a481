package api

import (
	"github.com/obsidianstack/appmonitor/pkg/types"
	"github.com/obsidianstack/appmonitor/server/internal/stats"
)

// PerformanceResponse is the payload for GET /api/v1/performance.
type PerformanceResponse struct {
	Endpoint string          `json:"endpoint,omitempty"`
	Range    types.TimeRange `json:"range"`
	stats.Summary
}

// MetricResponse is the payload for GET /api/v1/metrics/{name}.
type MetricResponse struct {
	Name   string              `json:"name"`
	Points []types.MetricPoint `json:"points"`
}

// CreateAlertRequest is the body for POST /api/v1/alerts.
type CreateAlertRequest struct {
	Type     string         `json:"type"`
	Severity string         `json:"severity"`
	Data     map[string]any `json:"data"`
}

// AckResponse is the payload for POST /api/v1/alerts/{id}/ack.
type AckResponse struct {
	ID           string `json:"id"`
	Acknowledged bool   `json:"acknowledged"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
