package kpi

import (
	"math"
	"slices"
)

// PercentileStats is a p50/p95/p99 summary. Fields are nil when the
// sample is empty.
type PercentileStats struct {
	P50 *float64 `json:"p50"`
	P95 *float64 `json:"p95"`
	P99 *float64 `json:"p99"`
}

// Percentile returns the p-th percentile of an ascending sample using
// linear interpolation between the closest ranks: rank = p/100 * (n-1).
// It returns 0 for an empty sample.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	if n == 1 || p <= 0 {
		return sorted[0]
	}

	if p >= 100 {
		return sorted[n-1]
	}

	rank := p / 100 * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1

	if upper >= n {
		return sorted[n-1]
	}

	frac := rank - float64(lower)

	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}

// Summarize computes p50/p95/p99 of values without modifying them.
func Summarize(values []float64) PercentileStats {
	if len(values) == 0 {
		return PercentileStats{}
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	p50 := Percentile(sorted, 50)
	p95 := Percentile(sorted, 95)
	p99 := Percentile(sorted, 99)

	return PercentileStats{P50: &p50, P95: &p95, P99: &p99}
}
