// Package api implements the HTTP query API over the monitoring engine.
//
// New(svc) returns an http.Handler that serves:
//
//	GET  /api/v1/health                   health verdict with its inputs
//	GET  /api/v1/performance              summary; ?endpoint=&start=&end=
//	GET  /api/v1/security/events          events; ?start=&end=
//	GET  /api/v1/users/{id}/metrics       user metrics; ?type=&days=
//	GET  /api/v1/metrics                  names of all named metrics
//	GET  /api/v1/metrics/{name}           points of one named metric; ?start=&end=
//	GET  /api/v1/alerts                   alerts newest first; ?severity=
//	POST /api/v1/alerts                   create an alert
//	POST /api/v1/alerts/{id}/ack          acknowledge; 404 if unknown
//	GET  /api/v1/dashboard                dashboard snapshot
//	POST /api/v1/cleanup                  run a retention sweep now
//
// All endpoints respond with Content-Type: application/json and return 405
// for unsupported methods. start and end are RFC3339 instants; an invalid
// value is a 400. JSON types are defined in types.go. No external HTTP
// framework is used.
package api
