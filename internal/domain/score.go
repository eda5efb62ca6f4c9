package domain

import (
	"time"
)

// RiskTier is the discrete audit-priority category derived from the
// calibrated score. Tier boundaries are fixed configuration cut points;
// TierFor is the only place a tier is ever derived.
type RiskTier string

const (
	TierLow    RiskTier = "Low"
	TierMedium RiskTier = "Medium"
	TierHigh   RiskTier = "High"
)

// TierCuts holds the two ordered cut points separating the risk bands.
// Scores at or below Low map to TierLow, scores at or above High map to
// TierHigh, everything between is TierMedium.
type TierCuts struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

// TierFor maps a calibrated score onto its risk tier. It is a pure function
// of the score and the configured cuts.
func TierFor(score float64, cuts TierCuts) RiskTier {
	switch {
	case score >= cuts.High:
		return TierHigh
	case score > cuts.Low:
		return TierMedium
	default:
		return TierLow
	}
}

// SubScores carries the three independent detector scores for one contract,
// each in [0,1]. Sub-scores are comparable only within their own column and
// are combined exclusively through the configured weights.
type SubScores struct {
	ProcessAnomaly float64 `json:"process_anomaly_score"`
	Splitting      float64 `json:"splitting_score"`
	Network        float64 `json:"network_score"`
	Community      float64 `json:"community_signal"`

	// SplittingValid is false when the contract's year has no entry in the
	// statutory threshold table. The splitting score is then undefined, not
	// zero; the combiner renormalizes the remaining weights and the contract
	// is listed in the run diagnostics.
	SplittingValid bool `json:"splitting_valid"`
}

// Output-row flag values recorded alongside a risk score.
const (
	FlagMissingThresholdYear   = "missing_threshold_year"
	FlagInsufficientPopulation = "insufficient_population"
	FlagCalibrationFallback    = "calibration_fallback"
	FlagContaminationTail      = "contamination_tail"
)

// RiskScore is the scored output for one contract: the weighted raw
// combination, the calibrated score, and the derived tier.
type RiskScore struct {
	ContractID string    `json:"id_contrato"`
	RunID      string    `json:"run_id"`
	Sub        SubScores `json:"sub_scores"`

	Raw        float64  `json:"risk_score_raw"`
	Calibrated float64  `json:"risk_score_calibrated"`
	Tier       RiskTier `json:"risk_tier"`

	// Calibrated reports whether the calibration mapping was applied. When
	// the calibration fit fails (degenerate proxy-label population) every row
	// carries the raw score here and CalibratedApplied is false.
	CalibratedApplied bool `json:"calibrated"`

	// Flags carries per-row quality markers (see Flag* constants) plus any
	// audit flag rule hits.
	Flags []string `json:"flags,omitempty"`

	// Dimensional columns preserved for filtering on the outputs.
	AgencyID     string    `json:"codigo_entidad"`
	VendorID     string    `json:"codigo_proveedor"`
	Value        float64   `json:"valor_del_contrato"`
	Year         int       `json:"year"`
	Sector       string    `json:"sector"`
	Departamento string    `json:"departamento"`
	StartDate    time.Time `json:"fecha_de_inicio_del_contrato"`
	IsDirect     bool      `json:"is_direct"`
	IsModified   bool      `json:"is_modified"`
}

// HasFlag reports whether a quality or rule flag is present on the row.
func (s *RiskScore) HasFlag(flag string) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Weights is the fixed sub-score weighting of the composite. The four
// components must sum to 1 within 1e-9; Validate at startup is mandatory.
type Weights struct {
	ProcessAnomaly float64 `json:"process_anomaly" yaml:"process_anomaly"`
	Splitting      float64 `json:"splitting" yaml:"splitting"`
	Network        float64 `json:"network" yaml:"network"`
	Community      float64 `json:"community" yaml:"community"`
}

// Sum returns the total of the four weights.
func (w Weights) Sum() float64 {
	return w.ProcessAnomaly + w.Splitting + w.Network + w.Community
}
