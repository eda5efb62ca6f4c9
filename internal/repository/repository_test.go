package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/auditlens/auditlens/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "auditlens-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func sampleContract(id, vendorID, agencyID string, value float64, start time.Time) *domain.Contract {
	return &domain.Contract{
		ID:           id,
		Dataset:      "secop",
		AgencyID:     agencyID,
		AgencyName:   "Agency " + agencyID,
		Departamento: "Antioquia",
		Sector:       "salud",
		VendorID:     vendorID,
		VendorName:   "Vendor " + vendorID,
		Modalidad:    "Contratación directa",
		ContractType: "Prestación de servicios",
		Value:        value,
		SignedAt:     start.AddDate(0, 0, -3),
		StartDate:    start,
		EndDate:      start.AddDate(0, 6, 0),
		IsDirect:     true,
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	dataset := "secop"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetContracts", func(t *testing.T) {
		start := time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC)
		contracts := []*domain.Contract{
			sampleContract("CO-001", "VN-1", "AG-1", 50_000_000, start),
			sampleContract("CO-002", "VN-1", "AG-1", 75_000_000, start.AddDate(0, 1, 0)),
			sampleContract("CO-003", "VN-2", "AG-2", 120_000_000, start.AddDate(0, 2, 0)),
		}

		if err := repo.SaveContracts(ctx, dataset, contracts); err != nil {
			t.Fatalf("SaveContracts failed: %v", err)
		}

		got, err := repo.GetContract(ctx, dataset, "CO-001")
		if err != nil {
			t.Fatalf("GetContract failed: %v", err)
		}
		if got.VendorID != "VN-1" {
			t.Errorf("expected vendor VN-1, got %s", got.VendorID)
		}
		if got.Value != 50_000_000 {
			t.Errorf("expected value 50000000, got %.0f", got.Value)
		}
		if !got.IsDirect {
			t.Error("expected is_direct to round-trip")
		}
		if !got.StartDate.Equal(start) {
			t.Errorf("expected start %v, got %v", start, got.StartDate)
		}
	})

	t.Run("SaveContractsIsIdempotent", func(t *testing.T) {
		start := time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC)
		updated := sampleContract("CO-001", "VN-1", "AG-1", 55_000_000, start)
		updated.IsModified = true

		if err := repo.SaveContracts(ctx, dataset, []*domain.Contract{updated}); err != nil {
			t.Fatalf("re-save failed: %v", err)
		}

		count, err := repo.CountContracts(ctx, dataset)
		if err != nil {
			t.Fatalf("CountContracts failed: %v", err)
		}
		if count != 3 {
			t.Errorf("expected 3 contracts after upsert, got %d", count)
		}

		got, _ := repo.GetContract(ctx, dataset, "CO-001")
		if got.Value != 55_000_000 {
			t.Errorf("expected updated value 55000000, got %.0f", got.Value)
		}
		if !got.IsModified {
			t.Error("expected is_modified to be updated")
		}
	})

	t.Run("DatasetIsolation", func(t *testing.T) {
		_, err := repo.GetContract(ctx, "other", "CO-001")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for other dataset, got: %v", err)
		}

		if err := repo.SaveContracts(ctx, "", nil); err == nil {
			t.Error("expected error for empty dataset")
		}
	})

	t.Run("ListContracts", func(t *testing.T) {
		all, err := repo.ListContracts(ctx, dataset, domain.ContractFilter{})
		if err != nil {
			t.Fatalf("ListContracts failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 contracts, got %d", len(all))
		}
		// Deterministic ordering by start date.
		if all[0].ID != "CO-001" || all[2].ID != "CO-003" {
			t.Errorf("unexpected order: %s .. %s", all[0].ID, all[2].ID)
		}

		byAgency, err := repo.ListContracts(ctx, dataset, domain.ContractFilter{AgencyID: "AG-1"})
		if err != nil {
			t.Fatalf("ListContracts by agency failed: %v", err)
		}
		if len(byAgency) != 2 {
			t.Errorf("expected 2 contracts for AG-1, got %d", len(byAgency))
		}

		windowed, err := repo.ListContracts(ctx, dataset, domain.ContractFilter{
			From: time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("ListContracts by window failed: %v", err)
		}
		if len(windowed) != 1 || windowed[0].ID != "CO-002" {
			t.Errorf("expected only CO-002 in April window, got %d rows", len(windowed))
		}

		limited, err := repo.ListContracts(ctx, dataset, domain.ContractFilter{Limit: 2, Offset: 1})
		if err != nil {
			t.Fatalf("ListContracts with limit failed: %v", err)
		}
		if len(limited) != 2 || limited[0].ID != "CO-002" {
			t.Errorf("expected page starting at CO-002, got %d rows", len(limited))
		}
	})

	t.Run("RunLifecycle", func(t *testing.T) {
		run := &domain.ScoringRun{
			ID:        "run-001",
			Dataset:   dataset,
			Status:    domain.RunRunning,
			Seed:      42,
			StartedAt: time.Now().UTC(),
			Contracts: 3,
		}

		if err := repo.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		if err := repo.SaveRun(ctx, run); !errors.Is(err, domain.ErrRunConflict) {
			t.Errorf("expected ErrRunConflict on duplicate run ID, got: %v", err)
		}

		run.Status = domain.RunCompleted
		run.EndedAt = time.Now().UTC()
		run.Scored = 3
		run.Diagnostics.CalibrationApplied = true
		run.Diagnostics.CountMissingYear(2015)

		if err := repo.UpdateRun(ctx, run); err != nil {
			t.Fatalf("UpdateRun failed: %v", err)
		}

		got, err := repo.GetRun(ctx, "run-001")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got.Status != domain.RunCompleted {
			t.Errorf("expected completed, got %s", got.Status)
		}
		if got.Scored != 3 {
			t.Errorf("expected 3 scored, got %d", got.Scored)
		}
		if got.Diagnostics.MissingThresholdYears[2015] != 1 {
			t.Error("expected diagnostics to round-trip")
		}

		runs, err := repo.ListRuns(ctx, dataset, 10)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 1 {
			t.Errorf("expected 1 run, got %d", len(runs))
		}

		if err := repo.UpdateRun(ctx, &domain.ScoringRun{ID: "missing"}); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound updating missing run, got: %v", err)
		}
	})

	t.Run("ScoresRoundTrip", func(t *testing.T) {
		scores := []*domain.RiskScore{
			{
				ContractID: "CO-001",
				Sub: domain.SubScores{
					ProcessAnomaly: 0.8, Splitting: 0.6, Network: 0.3,
					Community: 0.1, SplittingValid: true,
				},
				Raw: 0.62, Calibrated: 0.71, Tier: domain.TierHigh,
				CalibratedApplied: true,
				Flags:             []string{domain.FlagContaminationTail},
				AgencyID:          "AG-1", VendorID: "VN-1",
				Value: 55_000_000, Year: 2021, Sector: "salud",
				Departamento: "Antioquia",
				StartDate:    time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC),
				IsDirect:     true, IsModified: true,
			},
			{
				ContractID: "CO-002",
				Sub: domain.SubScores{
					ProcessAnomaly: 0.2, Splitting: 0.1, Network: 0.3,
					Community: 0.0, SplittingValid: true,
				},
				Raw: 0.18, Calibrated: 0.22, Tier: domain.TierLow,
				CalibratedApplied: true,
				AgencyID:          "AG-1", VendorID: "VN-1",
				Value: 75_000_000, Year: 2021, Sector: "salud",
				Departamento: "Antioquia",
				StartDate:    time.Date(2021, 4, 15, 0, 0, 0, 0, time.UTC),
				IsDirect:     true,
			},
		}

		if err := repo.SaveScores(ctx, "run-001", scores); err != nil {
			t.Fatalf("SaveScores failed: %v", err)
		}

		got, err := repo.GetScore(ctx, "run-001", "CO-001")
		if err != nil {
			t.Fatalf("GetScore failed: %v", err)
		}
		if got.Calibrated != 0.71 {
			t.Errorf("expected calibrated 0.71, got %.2f", got.Calibrated)
		}
		if got.Tier != domain.TierHigh {
			t.Errorf("expected High tier, got %s", got.Tier)
		}
		if !got.HasFlag(domain.FlagContaminationTail) {
			t.Error("expected flags to round-trip")
		}
		if !got.Sub.SplittingValid {
			t.Error("expected splitting_valid to round-trip")
		}

		listed, err := repo.ListScores(ctx, "run-001", domain.ScoreFilter{})
		if err != nil {
			t.Fatalf("ListScores failed: %v", err)
		}
		if len(listed) != 2 {
			t.Fatalf("expected 2 scores, got %d", len(listed))
		}
		if listed[0].ContractID != "CO-001" {
			t.Errorf("expected highest calibrated first, got %s", listed[0].ContractID)
		}

		high, err := repo.ListScores(ctx, "run-001", domain.ScoreFilter{Tier: domain.TierHigh})
		if err != nil {
			t.Fatalf("ListScores by tier failed: %v", err)
		}
		if len(high) != 1 || high[0].ContractID != "CO-001" {
			t.Errorf("expected only CO-001 in High tier, got %d rows", len(high))
		}
	})

	t.Run("Leaderboard", func(t *testing.T) {
		rows := []*domain.AgencyLeaderboardRow{
			{AgencyID: "AG-1", AgencyName: "Agency AG-1", Rank: 1,
				Sector: "Salud", Departamento: "Antioquia", Contracts: 2,
				HighTier: 1, LowTier: 1, MeanScore: 0.465, MaxScore: 0.71,
				TotalValue: 130_000_000, ValueAtRisk: 39_050_000},
			{AgencyID: "AG-2", AgencyName: "Agency AG-2", Rank: 2,
				Sector: "Transporte", Departamento: "Cundinamarca", Contracts: 1,
				LowTier: 1, MeanScore: 0.2, MaxScore: 0.2,
				TotalValue: 120_000_000},
		}

		if err := repo.SaveLeaderboard(ctx, "run-001", rows); err != nil {
			t.Fatalf("SaveLeaderboard failed: %v", err)
		}

		got, err := repo.GetLeaderboard(ctx, "run-001", 0)
		if err != nil {
			t.Fatalf("GetLeaderboard failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(got))
		}
		if got[0].AgencyID != "AG-1" || got[0].Rank != 1 {
			t.Errorf("expected AG-1 ranked first, got %s rank %d", got[0].AgencyID, got[0].Rank)
		}
		if got[0].ValueAtRisk != 39_050_000 {
			t.Errorf("expected value at risk 39050000, got %.0f", got[0].ValueAtRisk)
		}
		if got[0].Sector != "Salud" || got[0].Departamento != "Antioquia" {
			t.Errorf("expected modal dimensions to round-trip, got %q/%q", got[0].Sector, got[0].Departamento)
		}

		top1, err := repo.GetLeaderboard(ctx, "run-001", 1)
		if err != nil {
			t.Fatalf("GetLeaderboard with limit failed: %v", err)
		}
		if len(top1) != 1 {
			t.Errorf("expected 1 row with limit, got %d", len(top1))
		}
	})

	t.Run("FlagRules", func(t *testing.T) {
		rule := &domain.FlagRule{
			ID:         "q4-direct",
			Name:       "Q4 Direct",
			Version:    "1",
			Expression: "is_direct && start_month >= 10",
			Flag:       "q4_direct",
			Severity:   domain.SeverityInfo,
			Enabled:    true,
		}

		if err := repo.SaveFlagRule(ctx, dataset, rule); err != nil {
			t.Fatalf("SaveFlagRule failed: %v", err)
		}

		got, err := repo.GetFlagRule(ctx, dataset, "q4-direct")
		if err != nil {
			t.Fatalf("GetFlagRule failed: %v", err)
		}
		if got.Expression != rule.Expression {
			t.Errorf("expression mismatch: %s", got.Expression)
		}

		rules, err := repo.ListFlagRules(ctx, dataset)
		if err != nil {
			t.Fatalf("ListFlagRules failed: %v", err)
		}
		if len(rules) != 1 {
			t.Errorf("expected 1 rule, got %d", len(rules))
		}

		if err := repo.DeleteFlagRule(ctx, dataset, "q4-direct"); err != nil {
			t.Fatalf("DeleteFlagRule failed: %v", err)
		}
		if _, err := repo.GetFlagRule(ctx, dataset, "q4-direct"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}
		if err := repo.DeleteFlagRule(ctx, dataset, "never-existed"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting missing rule, got: %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetContract(ctx, dataset, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetRun(ctx, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetScore(ctx, "run-001", "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
