// Package receiver implements the HTTP ingestion endpoints that accept
// telemetry from instrumented applications:
//
//	POST /api/v1/ingest/performance   PerformanceSample payloads
//	POST /api/v1/ingest/security      SecurityEvent payloads
//	POST /api/v1/ingest/user-metrics  UserMetric payloads
//	POST /api/v1/ingest/metrics       named metric points
//
// Each endpoint accepts a single JSON object or an array of them, validates
// every item before recording any, and answers 202 with the accepted count.
// Requests are rate limited per client by a token bucket (429 when exhausted).
// Authentication is enforced upstream by the auth middleware, so the receiver
// itself only performs structural validation.
package receiver
