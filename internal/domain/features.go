package domain

// FeatureNames is the canonical ordering of the behavioral features computed
// per contract. Every FeatureVector's Values slice follows this order; the
// anomaly detectors index into it positionally.
var FeatureNames = []string{
	// intrinsic
	"log_value",
	"duration_days",
	"extension_days",
	"extension_ratio",
	"is_direct",
	"is_modified",
	"start_month",
	"q4_start",
	"es_pyme",
	// categorical frequency encodings
	"sector_freq",
	"modalidad_freq",
	"tipo_contrato_freq",
	"departamento_freq",
	"orden_freq",
	// peer-relative
	"value_vs_sector_median",
	"duration_vs_sector_median",
	// vendor context
	"vendor_prior_count",
	"vendor_avg_value",
	"vendor_agency_count",
	"vendor_agency_dependence",
	"vendor_recent_30d",
	// agency context
	"agency_volume",
	"agency_vendor_hhi",
	"agency_direct_rate",
	"agency_top_vendor_share",
	// threshold proximity
	"threshold_proximity",
	"just_below_threshold",
}

// FeatureCount is the width of every feature vector.
var FeatureCount = len(FeatureNames)

// FeatureVector holds the derived features for one contract, one-to-one with
// the contract set of a scoring run. Values are deterministic given the full
// contract population and the run configuration; vectors are recomputed per
// run, never mutated in place.
type FeatureVector struct {
	ContractID string    `json:"contract_id"`
	Values     []float64 `json:"values"`

	// InsufficientPopulation marks vectors whose peer-relative features fell
	// back to global statistics because the sector peer group was too small.
	InsufficientPopulation bool `json:"insufficient_population,omitempty"`

	// MissingThresholdYear marks vectors whose threshold-proximity features
	// were imputed with the population median because the contract year has
	// no statutory threshold entry. The raw ratio is undefined, never zero.
	MissingThresholdYear bool `json:"missing_threshold_year,omitempty"`
}

// FeatureIndex returns the position of a named feature, or -1 when unknown.
func FeatureIndex(name string) int {
	for i, n := range FeatureNames {
		if n == name {
			return i
		}
	}
	return -1
}
