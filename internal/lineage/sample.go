package lineage

import (
	"math"
	"math/rand"
	"sort"
)

// Perplexity returns exp of the natural-log Shannon entropy of v, the
// effective number of equally-weighted cells in the distribution. For a
// normalized vector of length n the result lies in [1, n]: 1 for a one-hot
// vector, n for a uniform one.
func Perplexity(v []float64) float64 {
	h := 0.0
	for _, p := range v {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return math.Exp(h)
}

// SampleSize returns the adaptive sample count for a distribution with the
// given perplexity: ceil(perplexity). Concentrated distributions draw few
// cells, diffuse ones many; no cap is applied, so a near-uniform vector of
// length n draws close to n cells. That is expected behavior.
func SampleSize(perplexity float64) int {
	return int(math.Ceil(perplexity))
}

// WeightedSample draws k indices from {0..len(v)-1} with replacement,
// weighted by v. v need not be normalized but must have positive total mass.
func WeightedSample(rng *rand.Rand, v []float64, k int) []int {
	cum := make([]float64, len(v))
	total := 0.0
	for i, p := range v {
		total += p
		cum[i] = total
	}

	out := make([]int, k)
	for i := 0; i < k; i++ {
		x := rng.Float64() * total
		idx := sort.Search(len(cum), func(j int) bool { return cum[j] > x })
		if idx >= len(cum) {
			idx = len(cum) - 1
		}
		out[i] = idx
	}
	return out
}
