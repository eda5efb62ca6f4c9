// Package anomaly implements the process-anomaly detector: a seeded
// isolation forest and a histogram-based outlier score, normalized and
// combined into one [0,1] sub-score per contract.
package anomaly

import (
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/auditlens/auditlens/internal/domain"
)

// model is the capability every ensemble member implements: score one
// feature row, higher meaning more anomalous. Members are fit on the full
// population and must be safe for concurrent scoring.
type model interface {
	score(row []float64) float64
}

// Detector fits both ensemble members on a feature matrix and scores the
// same population. Equal inputs, configuration, and seed produce identical
// scores.
type Detector struct {
	cfg        domain.AnomalyConfig
	seed       int64
	maxWorkers int
}

// New creates a Detector for the given configuration and run seed.
func New(cfg domain.AnomalyConfig, seed int64) *Detector {
	return &Detector{cfg: cfg, seed: seed, maxWorkers: runtime.GOMAXPROCS(0)}
}

// Result holds the population scores. Scores is the combined sub-score;
// Forest and HBOS keep the normalized components for diagnostics and drift
// baselines. TailCut is the combined score at the (1 - contamination)
// quantile, used for reporting only, never as a hard cutoff.
type Result struct {
	Scores  []float64
	Forest  []float64
	HBOS    []float64
	TailCut float64
}

// FitScore fits the ensemble and scores every row.
func (d *Detector) FitScore(matrix [][]float64) (*Result, error) {
	n := len(matrix)
	if n == 0 {
		return &Result{}, nil
	}
	width := len(matrix[0])
	for i, row := range matrix {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d features, want %d: %w", i, len(row), width, domain.ErrSchemaViolation)
		}
	}

	// Fitting consumes the seeded source serially; scoring below is
	// read-only and parallel.
	rng := rand.New(rand.NewSource(d.seed))
	members := []struct {
		m      model
		weight float64
	}{
		{fitForest(rng, matrix, d.cfg.Trees, d.cfg.SampleSize), d.cfg.ForestWeight},
		{fitHBOS(matrix), 1 - d.cfg.ForestWeight},
	}

	normalized := make([][]float64, len(members))
	for mi, member := range members {
		raw := make([]float64, n)

		var wg sync.WaitGroup
		sem := make(chan struct{}, d.maxWorkers)
		for i := range matrix {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()

				sem <- struct{}{}        // Acquire
				defer func() { <-sem }() // Release

				raw[idx] = member.m.score(matrix[idx])
			}(i)
		}
		wg.Wait()

		norm, err := normalize(raw, d.cfg.Normalization)
		if err != nil {
			return nil, err
		}
		normalized[mi] = norm
	}

	combined := make([]float64, n)
	for i := range combined {
		for mi, member := range members {
			combined[i] += member.weight * normalized[mi][i]
		}
	}

	return &Result{
		Scores:  combined,
		Forest:  normalized[0],
		HBOS:    normalized[1],
		TailCut: quantile(combined, 1-d.cfg.Contamination),
	}, nil
}

// normalize maps raw detector outputs onto [0,1] with the configured mode.
func normalize(xs []float64, mode string) ([]float64, error) {
	switch mode {
	case domain.NormalizeMinMax:
		return minMaxNormalize(xs), nil
	case domain.NormalizeRank:
		return rankNormalize(xs), nil
	default:
		return nil, fmt.Errorf("unknown normalization mode %q", mode)
	}
}

func minMaxNormalize(xs []float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	lo, hi := xs[0], xs[0]
	for _, v := range xs[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		// No ordering information in a constant column.
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, v := range xs {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// rankNormalize maps values to their average rank scaled to [0,1]. Ties get
// the mean of the ranks they span, so equal inputs keep equal outputs.
func rankNormalize(xs []float64) []float64 {
	n := len(xs)
	out := make([]float64, n)
	if n <= 1 {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return xs[order[a]] < xs[order[b]] })

	denom := float64(n - 1)
	for i := 0; i < n; {
		j := i
		for j < n && xs[order[j]] == xs[order[i]] {
			j++
		}
		avgRank := float64(i+j-1) / 2
		for k := i; k < j; k++ {
			out[order[k]] = avgRank / denom
		}
		i = j
	}
	return out
}

// quantile returns the linearly interpolated q-quantile of xs.
func quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	cp := append([]float64(nil), xs...)
	sort.Float64s(cp)
	if q <= 0 {
		return cp[0]
	}
	if q >= 1 {
		return cp[len(cp)-1]
	}
	pos := q * float64(len(cp)-1)
	lower := int(pos)
	frac := pos - float64(lower)
	if lower+1 >= len(cp) {
		return cp[len(cp)-1]
	}
	return cp[lower]*(1-frac) + cp[lower+1]*frac
}
