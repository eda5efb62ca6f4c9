package domain

import (
	"fmt"
	"sort"
)

// SMMLVByYear is the Colombian statutory monthly minimum wage in COP, by
// year. Procurement thresholds are published as multiples of this value, so
// every threshold-relative feature depends on the contract's signature year
// having an entry here.
var SMMLVByYear = map[int]float64{
	2019: 828116,
	2020: 877803,
	2021: 908526,
	2022: 1000000,
	2023: 1160000,
}

// Statutory threshold tiers as SMMLV multiples. These correspond to the
// contracting-regime boundaries (mínima cuantía at 10% of menor cuantía) for
// the mid-size agency band; splitting pressure concentrates just under them.
var thresholdMultiples = []float64{100, 280, 450, 1000}

// ThresholdTable resolves statutory contracting thresholds in COP for a
// given signature year. Lookups for years outside the table fail closed:
// callers get ErrMissingThresholdYear, never a silent zero.
type ThresholdTable struct {
	byYear map[int][]float64
}

// NewThresholdTable builds a table from an SMMLV schedule and a set of
// statutory multiples. Each year's thresholds are the schedule value times
// the multiples, sorted ascending.
func NewThresholdTable(smmlv map[int]float64, multiples []float64) *ThresholdTable {
	byYear := make(map[int][]float64, len(smmlv))
	for year, wage := range smmlv {
		amounts := make([]float64, len(multiples))
		for i, m := range multiples {
			amounts[i] = wage * m
		}
		sort.Float64s(amounts)
		byYear[year] = amounts
	}
	return &ThresholdTable{byYear: byYear}
}

// DefaultThresholdTable returns the table for the published SMMLV schedule
// and the standard statutory multiples.
func DefaultThresholdTable() *ThresholdTable {
	return NewThresholdTable(SMMLVByYear, thresholdMultiples)
}

// Years returns the sorted list of years the table covers.
func (t *ThresholdTable) Years() []int {
	years := make([]int, 0, len(t.byYear))
	for y := range t.byYear {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Amounts returns the ascending statutory thresholds for a year, or
// ErrMissingThresholdYear when the year is not covered.
func (t *ThresholdTable) Amounts(year int) ([]float64, error) {
	amounts, ok := t.byYear[year]
	if !ok {
		return nil, fmt.Errorf("thresholds for year %d: %w", year, ErrMissingThresholdYear)
	}
	return amounts, nil
}

// NearestAbove returns the smallest statutory threshold greater than or
// equal to value for the given year. ok is false when the value exceeds
// every threshold, in which case proximity features are undefined for the
// contract rather than clamped.
func (t *ThresholdTable) NearestAbove(year int, value float64) (float64, bool, error) {
	amounts, err := t.Amounts(year)
	if err != nil {
		return 0, false, err
	}
	idx := sort.SearchFloat64s(amounts, value)
	if idx == len(amounts) {
		return 0, false, nil
	}
	return amounts[idx], true, nil
}

// NearestBelow returns the largest statutory threshold less than or equal
// to value for the given year. ok is false when the value sits under every
// threshold.
func (t *ThresholdTable) NearestBelow(year int, value float64) (float64, bool, error) {
	amounts, err := t.Amounts(year)
	if err != nil {
		return 0, false, err
	}
	idx := sort.SearchFloat64s(amounts, value)
	if idx < len(amounts) && amounts[idx] == value {
		return amounts[idx], true, nil
	}
	if idx == 0 {
		return 0, false, nil
	}
	return amounts[idx-1], true, nil
}

// Proximity computes how close a contract value sits beneath its nearest
// statutory threshold, as (threshold-value)/threshold in [0,1]. The second
// return is false when no threshold at or above the value exists, or the
// value is non-positive.
func (t *ThresholdTable) Proximity(year int, value float64) (float64, bool, error) {
	if value <= 0 {
		return 0, false, nil
	}
	threshold, ok, err := t.NearestAbove(year, value)
	if err != nil || !ok {
		return 0, ok, err
	}
	return (threshold - value) / threshold, true, nil
}

// JustBelow reports whether the value lies within band (a fraction, e.g.
// 0.10) immediately beneath a statutory threshold for the year.
func (t *ThresholdTable) JustBelow(year int, value, band float64) (bool, error) {
	prox, ok, err := t.Proximity(year, value)
	if err != nil {
		return false, err
	}
	return ok && prox <= band, nil
}
