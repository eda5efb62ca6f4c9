package domain

// FlagRule defines an audit flag rule: a CEL boolean over a scored
// contract's variables. Matching rows get the rule's flag appended; rules
// never change scores or tiers.
type FlagRule struct {
	ID          string `json:"id"`
	Dataset     string `json:"dataset"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over the scored-row variables (valor, year, is_direct,
	// is_modified, sub-scores, calibrated score, tier, sector, departamento).
	Expression string `json:"expression"`

	// Flag is appended to the row's flags when the expression holds.
	Flag     string `json:"flag"`
	Severity string `json:"severity"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// FlagResult is the output of evaluating one rule against one scored row.
type FlagResult struct {
	RuleID     string `json:"ruleId"`
	Dataset    string `json:"dataset"`
	ContractID string `json:"contractId"`
	Matched    bool   `json:"matched"`
	Flag       string `json:"flag"`
	Severity   string `json:"severity"`
	Err        string `json:"err,omitempty"`
	ProcessMs  int64  `json:"processMs"` // Processing time in milliseconds
}

// Flag rule severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)
