package composite

import (
	"fmt"
	"sort"

	"github.com/auditlens/auditlens/internal/domain"
)

// Calibrator maps raw composite scores onto the proxy label's empirical
// probability with isotonic regression: the fitted curve is monotone
// nondecreasing, so calibration never reorders contracts.
type Calibrator struct {
	scores []float64
	probs  []float64

	// Samples is the training population size behind the fit.
	Samples int
}

// FitIsotonic fits the calibration curve by pool-adjacent-violators over
// (score, label) pairs. It returns domain.ErrCalibrationFit when the
// population is too small or contains a single label class; callers fall
// back to the raw score and flag every row.
func FitIsotonic(scores []float64, labels []bool, minSamples int) (*Calibrator, error) {
	if len(scores) != len(labels) {
		return nil, fmt.Errorf("scores and labels differ in length: %d vs %d", len(scores), len(labels))
	}
	n := len(scores)
	if n < minSamples {
		return nil, fmt.Errorf("%d samples, need %d: %w", n, minSamples, domain.ErrCalibrationFit)
	}
	positives := 0
	for _, l := range labels {
		if l {
			positives++
		}
	}
	if positives == 0 || positives == n {
		return nil, fmt.Errorf("single-class label population (%d/%d positive): %w", positives, n, domain.ErrCalibrationFit)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	// Pool adjacent violators over a block stack: each block carries the
	// weighted mean score and label rate of the points it absorbed.
	type block struct {
		scoreSum float64
		probSum  float64
		weight   float64
	}
	blocks := make([]block, 0, n)
	for _, idx := range order {
		label := 0.0
		if labels[idx] {
			label = 1
		}
		blocks = append(blocks, block{scoreSum: scores[idx], probSum: label, weight: 1})
		for len(blocks) > 1 {
			top := len(blocks) - 1
			if blocks[top].probSum/blocks[top].weight >= blocks[top-1].probSum/blocks[top-1].weight {
				break
			}
			blocks[top-1].scoreSum += blocks[top].scoreSum
			blocks[top-1].probSum += blocks[top].probSum
			blocks[top-1].weight += blocks[top].weight
			blocks = blocks[:top]
		}
	}

	c := &Calibrator{
		scores:  make([]float64, len(blocks)),
		probs:   make([]float64, len(blocks)),
		Samples: n,
	}
	for i, b := range blocks {
		c.scores[i] = b.scoreSum / b.weight
		c.probs[i] = b.probSum / b.weight
	}
	return c, nil
}

// Predict returns the calibrated probability for a raw score: clamped to
// the curve's ends, linearly interpolated between block centers.
func (c *Calibrator) Predict(score float64) float64 {
	if len(c.scores) == 0 {
		return score
	}
	if score <= c.scores[0] {
		return c.probs[0]
	}
	last := len(c.scores) - 1
	if score >= c.scores[last] {
		return c.probs[last]
	}
	for i := 1; i <= last; i++ {
		if score <= c.scores[i] {
			x0, x1 := c.scores[i-1], c.scores[i]
			y0, y1 := c.probs[i-1], c.probs[i]
			if x1 <= x0 {
				return y1
			}
			weight := (score - x0) / (x1 - x0)
			return y0 + weight*(y1-y0)
		}
	}
	return c.probs[last]
}
