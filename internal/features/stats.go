package features

import (
	"math"
	"sort"
)

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	cp := append([]float64(nil), xs...)
	sort.Float64s(cp)
	mid := len(cp) / 2
	if len(cp)%2 == 1 {
		return cp[mid]
	}
	return 0.5 * (cp[mid-1] + cp[mid])
}

// hhi computes the Herfindahl index over the value shares, in [0,1].
func hhi(values map[string]float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	if total <= 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		share := v / total
		sum += share * share
	}
	return sum
}

// topShare returns the largest value share and its key.
func topShare(values map[string]float64) (string, float64) {
	var total float64
	for _, v := range values {
		total += v
	}
	if total <= 0 {
		return "", 0
	}
	var bestKey string
	var best float64
	for k, v := range values {
		if v > best || (v == best && (bestKey == "" || k < bestKey)) {
			bestKey, best = k, v
		}
	}
	return bestKey, best / total
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func safeRatio(x, denom float64) float64 {
	return x / math.Max(denom, 1)
}
