// Package composite combines the three detector sub-scores into the single
// calibrated risk score and its tier. Weights and cut points arrive
// validated from configuration; nothing here re-checks or re-derives them.
package composite

import (
	"github.com/auditlens/auditlens/internal/domain"
)

// Combiner computes the weighted raw score and derives tiers.
type Combiner struct {
	weights domain.Weights
	cuts    domain.TierCuts
}

// NewCombiner creates a Combiner from validated configuration.
func NewCombiner(weights domain.Weights, cuts domain.TierCuts) *Combiner {
	return &Combiner{weights: weights, cuts: cuts}
}

// Raw computes the weighted combination of the sub-scores. When the
// splitting score is undefined (missing threshold year) the remaining
// weights are renormalized so the row still gets a comparable score; the
// caller flags the row and records the diagnostic.
func (cb *Combiner) Raw(sub domain.SubScores) float64 {
	w := cb.weights
	if sub.SplittingValid {
		return w.ProcessAnomaly*sub.ProcessAnomaly +
			w.Splitting*sub.Splitting +
			w.Network*sub.Network +
			w.Community*sub.Community
	}
	remaining := w.ProcessAnomaly + w.Network + w.Community
	if remaining <= 0 {
		return 0
	}
	return (w.ProcessAnomaly*sub.ProcessAnomaly +
		w.Network*sub.Network +
		w.Community*sub.Community) / remaining
}

// Tier maps a calibrated score onto its risk tier.
func (cb *Combiner) Tier(score float64) domain.RiskTier {
	return domain.TierFor(score, cb.cuts)
}
