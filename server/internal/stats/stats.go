package stats

import (
	"math"
	"sort"

	"github.com/obsidianstack/appmonitor/pkg/types"
)

// Summary is the aggregate returned for a set of performance samples.
type Summary struct {
	AvgResponseTime float64 `json:"avgResponseTime"`
	TotalRequests   int     `json:"totalRequests"`
	ErrorRate       float64 `json:"errorRate"`
	P95ResponseTime float64 `json:"p95ResponseTime"`
	P99ResponseTime float64 `json:"p99ResponseTime"`
}

// Summarize computes every field of Summary. An empty input yields the zero Summary.
func Summarize(samples []types.PerformanceSample) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	sorted := sortedTimes(samples)
	return Summary{
		AvgResponseTime: Mean(samples),
		TotalRequests:   Count(samples),
		ErrorRate:       ErrorRate(samples),
		P95ResponseTime: nearestRank(sorted, 95),
		P99ResponseTime: nearestRank(sorted, 99),
	}
}

// Count returns the number of samples.
func Count(samples []types.PerformanceSample) int { return len(samples) }

// Mean returns the arithmetic mean response time in milliseconds, or 0.
func Mean(samples []types.PerformanceSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var total float64
	for _, s := range samples {
		total += float64(s.ResponseTimeMs)
	}
	return total / float64(len(samples))
}

// ErrorRate returns the percentage (0–100) of samples with status >= 400, or 0.
func ErrorRate(samples []types.PerformanceSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var failed int
	for _, s := range samples {
		if s.Failed() {
			failed++
		}
	}
	return float64(failed) / float64(len(samples)) * 100
}

// Percentile returns the nearest-rank p-th percentile of response times:
// the value at index ceil(p/100*n)-1 of the ascending order, clamped to the
// valid range. No interpolation. Returns 0 for an empty input.
func Percentile(samples []types.PerformanceSample, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return nearestRank(sortedTimes(samples), p)
}

func nearestRank(sorted []int, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return float64(sorted[idx])
}

func sortedTimes(samples []types.PerformanceSample) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = s.ResponseTimeMs
	}
	sort.Ints(out)
	return out
}
