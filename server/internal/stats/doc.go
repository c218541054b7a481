// Package stats computes derived numbers over a slice of performance samples:
// count, mean response time, error rate and nearest-rank percentiles.
//
// Every function is pure. Filtering by endpoint or time range happens before
// the samples reach this package.
package stats
