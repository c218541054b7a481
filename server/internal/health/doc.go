// Package health derives the tri-state system verdict from aggregate
// performance, security and alert state.
package health
