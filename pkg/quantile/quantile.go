// Package quantile provides NaN-skipping summary statistics for sampled
// value arrays, where NaN marks a missing measurement.
package quantile

import (
	"math"
	"sort"
)

// Clean returns the non-NaN entries of xs, sorted ascending.
func Clean(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	sort.Float64s(out)
	return out
}

// Mean returns the mean of the non-NaN entries, or NaN if there are none.
func Mean(xs []float64) float64 {
	sum := 0.0
	n := 0
	for _, x := range xs {
		if !math.IsNaN(x) {
			sum += x
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Quantile returns the q-th quantile (0 ≤ q ≤ 1, nearest-rank) of the
// non-NaN entries, or NaN if there are none.
func Quantile(xs []float64, q float64) float64 {
	clean := Clean(xs)
	return quantileSorted(clean, q)
}

// Summary holds the five-number summary of a value array.
type Summary struct {
	Min    float64
	Q1     float64
	Median float64
	Q3     float64
	Max    float64
	N      int // count of non-NaN values
}

// Summarize computes the five-number summary of the non-NaN entries.
// All fields are NaN when no values remain.
func Summarize(xs []float64) Summary {
	clean := Clean(xs)
	if len(clean) == 0 {
		nan := math.NaN()
		return Summary{Min: nan, Q1: nan, Median: nan, Q3: nan, Max: nan}
	}
	return Summary{
		Min:    clean[0],
		Q1:     quantileSorted(clean, 0.25),
		Median: quantileSorted(clean, 0.5),
		Q3:     quantileSorted(clean, 0.75),
		Max:    clean[len(clean)-1],
		N:      len(clean),
	}
}

func quantileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}
	// Nearest-rank: idx = ceil(q*n) - 1.
	idx := int(math.Ceil(q*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
