package domain

import (
	"time"
)

// RunStatus tracks a scoring run through its lifecycle.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	// RunDegraded means the run finished but with excluded partitions or a
	// calibration fallback; the diagnostics say exactly what degraded.
	RunDegraded RunStatus = "degraded"
	RunFailed   RunStatus = "failed"
)

// ScoringRun is one end-to-end scoring of a contract population. Runs are
// immutable once finished; re-scoring is a new run.
type ScoringRun struct {
	ID        string    `json:"run_id"`
	Dataset   string    `json:"dataset"`
	Status    RunStatus `json:"status"`
	Seed      int64     `json:"seed"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	Contracts int `json:"contracts"`
	Scored    int `json:"scored"`

	Diagnostics RunDiagnostics `json:"diagnostics"`
}

// PartitionFailure records one partition the run had to exclude, with the
// error class, a human-readable reason, and every contract ID that went
// unscored because of it. Other partitions proceed.
type PartitionFailure struct {
	Partition   string   `json:"partition"`
	Class       string   `json:"class"`
	Reason      string   `json:"reason"`
	Contracts   int      `json:"contracts"`
	ContractIDs []string `json:"contract_ids,omitempty"`
}

// FeatureDrift is one feature's population-stability reading between the
// train and validation slices of a run.
type FeatureDrift struct {
	Feature string  `json:"feature"`
	PSI     float64 `json:"psi"`
	Status  string  `json:"status"`
}

// Drift statuses, ordered by severity.
const (
	DriftStable  = "stable"
	DriftMonitor = "monitor"
	DriftRetrain = "retrain"
)

// RunDiagnostics enumerates everything a run excluded, flagged, or degraded.
// A clean run has zero-valued diagnostics; a degraded run is still usable
// because this report says exactly which rows to discount.
type RunDiagnostics struct {
	FailedPartitions []PartitionFailure `json:"failed_partitions,omitempty"`

	// MissingThresholdYears maps year to the number of contracts whose
	// splitting score was undefined because the year is not in the table.
	MissingThresholdYears map[int]int `json:"missing_threshold_years,omitempty"`

	// InsufficientPopulation counts rows scored against global fallback
	// statistics, keyed by the peer-group dimension that was too small.
	InsufficientPopulation map[string]int `json:"insufficient_population,omitempty"`

	// CalibrationApplied is false when the isotonic fit was degenerate and
	// the run fell back to raw scores.
	CalibrationApplied bool   `json:"calibration_applied"`
	CalibrationNote    string `json:"calibration_note,omitempty"`

	FlagCounts map[string]int `json:"flag_counts,omitempty"`

	// Drift holds the per-feature PSI readings between the train and
	// validation slices. Empty when either slice was empty. Drift is
	// advisory and never degrades the run on its own.
	Drift []FeatureDrift `json:"drift,omitempty"`
}

// AddFailure appends a partition failure.
func (d *RunDiagnostics) AddFailure(f PartitionFailure) {
	d.FailedPartitions = append(d.FailedPartitions, f)
}

// CountMissingYear tallies one contract with no threshold-table entry.
func (d *RunDiagnostics) CountMissingYear(year int) {
	if d.MissingThresholdYears == nil {
		d.MissingThresholdYears = make(map[int]int)
	}
	d.MissingThresholdYears[year]++
}

// CountInsufficient tallies one row scored on fallback statistics.
func (d *RunDiagnostics) CountInsufficient(dimension string) {
	if d.InsufficientPopulation == nil {
		d.InsufficientPopulation = make(map[string]int)
	}
	d.InsufficientPopulation[dimension]++
}

// CountFlag tallies one occurrence of a row flag.
func (d *RunDiagnostics) CountFlag(flag string) {
	if d.FlagCounts == nil {
		d.FlagCounts = make(map[string]int)
	}
	d.FlagCounts[flag]++
}

// Degraded reports whether anything in the run warrants RunDegraded.
func (d *RunDiagnostics) Degraded() bool {
	return len(d.FailedPartitions) > 0 || !d.CalibrationApplied || len(d.MissingThresholdYears) > 0
}
