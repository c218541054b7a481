// Package store provides the bounded, thread-safe series the monitoring engine
// keeps its telemetry in. A Series is an append-only FIFO with a hard capacity;
// a Keyed store holds one Series per metric name. Queries are lazy iterators
// over a snapshot, so readers never block writers for longer than a copy.
package store
