package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the scoring pipeline. Callers classify failures with
// errors.Is; wrapping preserves the class through layer boundaries.
var (
	// ErrSchemaViolation marks input that cannot be trusted: missing required
	// columns, unparseable values, malformed identifiers. Fatal for the
	// affected partition.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrMissingThresholdYear marks a contract year absent from the statutory
	// threshold table. Threshold-relative values are undefined for such
	// contracts, never zero.
	ErrMissingThresholdYear = errors.New("missing threshold year")

	// ErrInsufficientPopulation marks a peer group too small for stable
	// statistics; callers fall back to global statistics and flag the row.
	ErrInsufficientPopulation = errors.New("insufficient population")

	// ErrCalibrationFit marks a degenerate calibration population (proxy
	// labels all one class, or too few rows). The run proceeds on raw scores
	// with every row flagged.
	ErrCalibrationFit = errors.New("calibration fit failure")

	// ErrNotFound is returned by repositories for absent rows.
	ErrNotFound = errors.New("not found")

	// ErrRunConflict is returned when a scoring run ID is reused.
	ErrRunConflict = errors.New("run already exists")
)

// SchemaError describes a schema violation precisely enough to fix the
// source extract: which field, which contract, what was wrong.
type SchemaError struct {
	ContractID string
	Field      string
	Reason     string
}

func (e *SchemaError) Error() string {
	if e.ContractID == "" {
		return fmt.Sprintf("schema violation: field %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("schema violation: contract %s field %s: %s", e.ContractID, e.Field, e.Reason)
}

// Unwrap ties SchemaError into the sentinel taxonomy.
func (e *SchemaError) Unwrap() error { return ErrSchemaViolation }
