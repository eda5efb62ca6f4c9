package domain

// AgencyLeaderboardRow is one agency's aggregate audit priority. Rows are
// ranked by mean calibrated score; ValueAtRisk is the sum of contract value
// weighted by calibrated score over High and Medium tier contracts only.
type AgencyLeaderboardRow struct {
	RunID      string `json:"run_id"`
	AgencyID   string `json:"codigo_entidad"`
	AgencyName string `json:"nombre_entidad"`
	Rank       int    `json:"rank"`

	// Sector and Departamento are the modal values over the agency's
	// contracts, kept for leaderboard filtering.
	Sector       string `json:"sector"`
	Departamento string `json:"departamento"`

	Contracts  int `json:"contracts"`
	HighTier   int `json:"high_tier"`
	MediumTier int `json:"medium_tier"`
	LowTier    int `json:"low_tier"`

	MeanScore   float64 `json:"mean_score"`
	MaxScore    float64 `json:"max_score"`
	TotalValue  float64 `json:"total_value"`
	ValueAtRisk float64 `json:"value_at_risk"`
}
