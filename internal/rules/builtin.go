package rules

import "github.com/auditlens/auditlens/internal/domain"

// DefaultFlagRules returns the seed audit flag rules loaded when a dataset
// has no rules of its own. Operators replace or extend them through the
// rules API; the seeds cover the patterns auditors ask about first.
func DefaultFlagRules(dataset string) []*domain.FlagRule {
	return []*domain.FlagRule{
		{
			ID:          "direct-modified-high",
			Dataset:     dataset,
			Name:        "Direct award later modified, high risk",
			Description: "Direct award with at least one modification scoring in the high tier.",
			Version:     "1",
			Expression:  `is_direct && is_modified && risk_score_calibrated >= 0.6`,
			Flag:        "direct_modified_high",
			Severity:    domain.SeverityCritical,
			Enabled:     true,
		},
		{
			ID:          "splitting-suspect",
			Dataset:     dataset,
			Name:        "Suspected contract splitting",
			Description: "Splitting detector fired strongly for this contract's vendor-agency pair.",
			Version:     "1",
			Expression:  `splitting_score >= 0.8`,
			Flag:        "splitting_suspect",
			Severity:    domain.SeverityWarning,
			Enabled:     true,
		},
		{
			ID:          "q4-direct-award",
			Dataset:     dataset,
			Name:        "Fourth-quarter direct award",
			Description: "Direct award starting in October through December, the budget-execution rush window.",
			Version:     "1",
			Expression:  `is_direct && start_month >= 10`,
			Flag:        "q4_direct_award",
			Severity:    domain.SeverityInfo,
			Enabled:     true,
		},
		{
			ID:          "concentrated-direct",
			Dataset:     dataset,
			Name:        "Direct award inside a concentrated agency",
			Description: "Direct award at an agency whose spend concentrates on a single vendor.",
			Version:     "1",
			Expression:  `is_direct && network_score >= 0.6`,
			Flag:        "concentrated_direct",
			Severity:    domain.SeverityWarning,
			Enabled:     true,
		},
	}
}
