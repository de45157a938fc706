package vitals

import (
	"math"
	"sort"
)

// Percentile returns the nearest-rank p-th percentile of values: after an
// ascending sort, the element at index ceil(p/100*n)-1 clamped to [0, n-1].
// p=100 yields the maximum. ok is false for empty input. values is not modified.
func Percentile(values []float64, p float64) (v float64, ok bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return nearestRank(sorted, p), true
}

// nearestRank expects sorted to be non-empty and ascending.
func nearestRank(sorted []float64, p float64) float64 {
	// Same rank as ceil(p/100*n) for the percentiles stored on aggregate rows.
	idx := int(math.Ceil(p*float64(len(sorted))/100)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Stats is the statistic set stored on every aggregate row.
type Stats struct {
	Count int
	P50   float64
	P75   float64
	P90   float64
	P95   float64
	P99   float64
	Avg   float64
	Min   float64
	Max   float64
}

// ComputeStats derives Stats from a raw value set. ok is false for empty input.
func ComputeStats(values []float64) (Stats, bool) {
	if len(values) == 0 {
		return Stats{}, false
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return Stats{
		Count: len(sorted),
		P50:   nearestRank(sorted, 50),
		P75:   nearestRank(sorted, 75),
		P90:   nearestRank(sorted, 90),
		P95:   nearestRank(sorted, 95),
		P99:   nearestRank(sorted, 99),
		Avg:   sum / float64(len(sorted)),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
	}, true
}
