package anomaly

import (
	"math"
)

// maxHistogramBins caps the per-feature bin count for large populations.
const maxHistogramBins = 50

// hbos scores rows by histogram density: a row's score is the sum over
// features of log(1/height) of the bin its value falls in, heights
// max-normalized per feature. Fully deterministic.
type hbos struct {
	histograms []histogram
}

type histogram struct {
	min      float64
	width    float64
	heights  []float64
	constant bool
}

func fitHBOS(matrix [][]float64) *hbos {
	n := len(matrix)
	if n == 0 {
		return &hbos{}
	}
	width := len(matrix[0])
	bins := int(math.Ceil(math.Sqrt(float64(n))))
	if bins < 2 {
		bins = 2
	}
	if bins > maxHistogramBins {
		bins = maxHistogramBins
	}

	h := &hbos{histograms: make([]histogram, width)}
	for f := 0; f < width; f++ {
		lo, hi := matrix[0][f], matrix[0][f]
		for _, row := range matrix[1:] {
			if row[f] < lo {
				lo = row[f]
			}
			if row[f] > hi {
				hi = row[f]
			}
		}
		if hi == lo {
			h.histograms[f] = histogram{constant: true}
			continue
		}

		binWidth := (hi - lo) / float64(bins)
		counts := make([]float64, bins)
		for _, row := range matrix {
			counts[binIndex(row[f], lo, binWidth, bins)]++
		}
		var maxCount float64
		for _, c := range counts {
			if c > maxCount {
				maxCount = c
			}
		}
		heights := make([]float64, bins)
		for i, c := range counts {
			heights[i] = c / maxCount
		}
		h.histograms[f] = histogram{min: lo, width: binWidth, heights: heights}
	}
	return h
}

func binIndex(v, lo, width float64, bins int) int {
	idx := int((v - lo) / width)
	if idx < 0 {
		idx = 0
	}
	if idx >= bins {
		idx = bins - 1
	}
	return idx
}

// emptyBinHeight floors unoccupied bins so out-of-distribution values score
// finitely instead of diverging.
const emptyBinHeight = 1e-6

func (h *hbos) score(row []float64) float64 {
	var score float64
	for f, hist := range h.histograms {
		if hist.constant {
			continue
		}
		height := hist.heights[binIndex(row[f], hist.min, hist.width, len(hist.heights))]
		if height < emptyBinHeight {
			height = emptyBinHeight
		}
		score += math.Log(1 / height)
	}
	return score
}
