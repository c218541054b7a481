// Package monitor is the engine façade. A Service owns every telemetry store
// and the alert engine, applies alert rules on ingestion and answers the
// dashboard, health and metric queries.
//
// Ingestion never returns an error and never blocks on I/O: malformed input is
// normalised, and notification delivery happens on background goroutines.
package monitor
