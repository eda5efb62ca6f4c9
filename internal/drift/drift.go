// Package drift computes the Population Stability Index between the train
// and validation feature slices of a run. PSI readings are advisory: they
// land in the run diagnostics and can raise a bus alert, but never change
// scores or degrade a run.
package drift

import (
	"math"
	"sort"

	"github.com/auditlens/auditlens/internal/domain"
)

// psiBins is the number of equal-frequency bins cut from the expected
// distribution.
const psiBins = 10

// minProportion floors empty bins so the log term stays finite.
const minProportion = 1e-4

// Monitor computes per-feature PSI readings against configured thresholds.
type Monitor struct {
	cfg domain.DriftConfig
}

// New creates a Monitor from validated configuration.
func New(cfg domain.DriftConfig) *Monitor {
	return &Monitor{cfg: cfg}
}

// Status classifies a PSI value against the configured thresholds.
func (m *Monitor) Status(psi float64) string {
	switch {
	case psi >= m.cfg.AlertPSI:
		return domain.DriftRetrain
	case psi >= m.cfg.WarnPSI:
		return domain.DriftMonitor
	default:
		return domain.DriftStable
	}
}

// Compare computes one PSI reading per feature column, with bin edges cut
// from the expected slice. Columns follow domain.FeatureNames. Returns nil
// when either slice is empty; readings keep feature order.
func (m *Monitor) Compare(expected, actual [][]float64) []domain.FeatureDrift {
	if len(expected) == 0 || len(actual) == 0 {
		return nil
	}

	width := len(expected[0])
	out := make([]domain.FeatureDrift, 0, width)
	for j := 0; j < width; j++ {
		exp := column(expected, j)
		act := column(actual, j)
		psi := PSI(exp, act)

		name := ""
		if j < len(domain.FeatureNames) {
			name = domain.FeatureNames[j]
		}
		out = append(out, domain.FeatureDrift{
			Feature: name,
			PSI:     psi,
			Status:  m.Status(psi),
		})
	}
	return out
}

// Alerting returns the readings at or above the retrain threshold.
func (m *Monitor) Alerting(readings []domain.FeatureDrift) []domain.FeatureDrift {
	var out []domain.FeatureDrift
	for _, r := range readings {
		if r.Status == domain.DriftRetrain {
			out = append(out, r)
		}
	}
	return out
}

func column(matrix [][]float64, j int) []float64 {
	out := make([]float64, 0, len(matrix))
	for _, row := range matrix {
		if j < len(row) {
			out = append(out, row[j])
		}
	}
	return out
}

// PSI computes the Population Stability Index of actual against expected:
// sum over bins of (a - e) * ln(a / e), with equal-frequency bin edges taken
// from the expected sample.
func PSI(expected, actual []float64) float64 {
	if len(expected) == 0 || len(actual) == 0 {
		return 0
	}

	edges := binEdges(expected)
	if len(edges) == 0 {
		return 0
	}

	expProps := proportions(expected, edges)
	actProps := proportions(actual, edges)

	psi := 0.0
	for i := range expProps {
		e := math.Max(expProps[i], minProportion)
		a := math.Max(actProps[i], minProportion)
		psi += (a - e) * math.Log(a/e)
	}
	return psi
}

// binEdges returns the interior quantile edges of the expected sample,
// deduplicated. A sample with no spread collapses to a single edge.
func binEdges(xs []float64) []float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	edges := make([]float64, 0, psiBins-1)
	for k := 1; k < psiBins; k++ {
		q := float64(k) / psiBins
		pos := q * float64(len(sorted)-1)
		lower := int(pos)
		frac := pos - float64(lower)
		v := sorted[lower]
		if lower+1 < len(sorted) {
			v = sorted[lower]*(1-frac) + sorted[lower+1]*frac
		}
		if len(edges) == 0 || v > edges[len(edges)-1] {
			edges = append(edges, v)
		}
	}
	return edges
}

// proportions counts the sample into the half-open bins defined by edges:
// bin i holds values in (edges[i-1], edges[i]], the first bin is unbounded
// below and the last unbounded above.
func proportions(xs []float64, edges []float64) []float64 {
	counts := make([]float64, len(edges)+1)
	for _, x := range xs {
		i := sort.SearchFloat64s(edges, x)
		// SearchFloat64s finds the first edge >= x, which is the inclusive
		// upper bound of x's bin.
		counts[i]++
	}
	n := float64(len(xs))
	for i := range counts {
		counts[i] /= n
	}
	return counts
}
