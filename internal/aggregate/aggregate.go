// Package aggregate folds scored contracts into the per-agency leaderboard.
// Pure aggregation: no randomness, no configuration beyond the inputs.
package aggregate

import (
	"sort"

	"github.com/auditlens/auditlens/internal/domain"
)

// Leaderboard builds one row per agency from the run's scored contracts.
// Value-at-risk sums contract value weighted by calibrated score over High
// and Medium tier contracts; Low tier contributes nothing. Sector and
// departamento are the modal values over the agency's contracts. Rows rank
// by mean calibrated score, ties by agency ID.
func Leaderboard(runID string, scores []*domain.RiskScore, names map[string]string) []*domain.AgencyLeaderboardRow {
	rows := make(map[string]*domain.AgencyLeaderboardRow)
	totals := make(map[string]float64)
	sectors := make(map[string]map[string]int)
	departamentos := make(map[string]map[string]int)

	for _, s := range scores {
		row := rows[s.AgencyID]
		if row == nil {
			row = &domain.AgencyLeaderboardRow{
				RunID:      runID,
				AgencyID:   s.AgencyID,
				AgencyName: names[s.AgencyID],
			}
			rows[s.AgencyID] = row
			sectors[s.AgencyID] = make(map[string]int)
			departamentos[s.AgencyID] = make(map[string]int)
		}
		row.Contracts++
		row.TotalValue += s.Value
		totals[s.AgencyID] += s.Calibrated
		sectors[s.AgencyID][s.Sector]++
		departamentos[s.AgencyID][s.Departamento]++
		if s.Calibrated > row.MaxScore {
			row.MaxScore = s.Calibrated
		}
		switch s.Tier {
		case domain.TierHigh:
			row.HighTier++
			row.ValueAtRisk += s.Value * s.Calibrated
		case domain.TierMedium:
			row.MediumTier++
			row.ValueAtRisk += s.Value * s.Calibrated
		default:
			row.LowTier++
		}
	}

	out := make([]*domain.AgencyLeaderboardRow, 0, len(rows))
	for agencyID, row := range rows {
		row.MeanScore = totals[agencyID] / float64(row.Contracts)
		row.Sector = modal(sectors[agencyID])
		row.Departamento = modal(departamentos[agencyID])
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MeanScore != out[j].MeanScore {
			return out[i].MeanScore > out[j].MeanScore
		}
		return out[i].AgencyID < out[j].AgencyID
	})
	for i, row := range out {
		row.Rank = i + 1
	}
	return out
}

// modal returns the most frequent key, ties broken by the smaller key.
func modal(counts map[string]int) string {
	best := ""
	bestCount := -1
	for k, n := range counts {
		if n > bestCount || (n == bestCount && k < best) {
			best = k
			bestCount = n
		}
	}
	return best
}
