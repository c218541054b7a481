// Package scrape polls Prometheus text endpoints and records selected metric
// families as named metrics on the monitoring service.
//
// Gauges and untyped families are recorded as the summed sample value.
// Counters are converted to a per-minute rate from the delta to the previous
// scrape of the same target; the first observation only establishes a
// baseline, and a counter reset yields a rate of 0.
package scrape
