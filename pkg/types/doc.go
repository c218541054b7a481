// Package types defines the shared record types held by the monitoring engine:
// performance samples, security events, per-user metrics, named metric points
// and alerts. They are the canonical in-memory representations and are also
// the JSON shapes served by the HTTP API.
package types
