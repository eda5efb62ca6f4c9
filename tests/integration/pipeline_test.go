//go:build integration
// +build integration

// Package integration exercises the scoring pipeline end to end against a
// real SQLite repository: contracts shaped like the SECOP II extract go in,
// calibrated risk scores, per-row quality flags, and an agency leaderboard
// come out.
//
// The population is synthetic but fully deterministic. Dates, values, and
// award modalities are derived from row indexes, not from a random source, so
// every scenario below is reproducible by arithmetic: contract values sit
// safely between statutory thresholds except for one designed splitting
// cluster, one agency buys from a single vendor, and one sector is too small
// to form a peer group. Every eighth row per agency is a direct award that
// was later modified, which keeps the calibration label population two-class.
//
// Run with: go test -tags=integration -v ./tests/integration/...
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/auditlens/auditlens/internal/api"
	"github.com/auditlens/auditlens/internal/artifacts"
	"github.com/auditlens/auditlens/internal/bus"
	"github.com/auditlens/auditlens/internal/cache"
	"github.com/auditlens/auditlens/internal/domain"
	"github.com/auditlens/auditlens/internal/pipeline"
	"github.com/auditlens/auditlens/internal/repository"
	"github.com/auditlens/auditlens/internal/rules"
	"github.com/auditlens/auditlens/internal/worker"
)

var (
	sectors       = []string{"Salud y Protección Social", "Educación Nacional", "Transporte"}
	departamentos = []string{"Bogotá D.C.", "Antioquia", "Valle del Cauca", "Santander"}
)

// populationStart anchors the deterministic date scatter. Offsets run 0..1307
// days, covering 2019-01-01 through 2022-07-31: both the calibration train
// window and the validation window receive rows.
var populationStart = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *domain.Config {
	t.Helper()
	cfg := domain.DefaultConfig()
	cfg.Repository.SQLitePath = filepath.Join(t.TempDir(), "auditlens.db")
	cfg.Artifacts.Dir = filepath.Join(t.TempDir(), "artifacts")
	return cfg
}

func openRepo(t *testing.T, cfg *domain.Config) domain.Repository {
	t.Helper()
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// safeValue returns a contract value strictly between two statutory
// thresholds for the year, never closer than 15% beneath the upper one. The
// splitting proximity band is 10%, so rows built here cannot trigger the
// splitting detector no matter how their dates fall.
func safeValue(t *testing.T, table *domain.ThresholdTable, year, interval, step int) float64 {
	t.Helper()
	amounts, err := table.Amounts(year)
	if err != nil {
		t.Fatalf("no thresholds for year %d: %v", year, err)
	}
	idx := interval % len(amounts)
	lo := 0.0
	if idx > 0 {
		lo = amounts[idx-1]
	}
	g := 0.15 + 0.05*float64(step%9) // 0.15 .. 0.55 of the gap
	return lo + g*(amounts[idx]-lo)
}

// seedContracts writes perAgency deterministic contracts for each of n
// agencies. When labelled is true every fourth row per agency is a direct
// award and every eighth a direct award with added days, which is exactly the
// calibration proxy label; otherwise all awards are competitive and
// unmodified, leaving the label population single-class.
func seedContracts(t *testing.T, repo domain.Repository, dataset string, n, perAgency int, labelled bool) int {
	t.Helper()
	table := domain.DefaultThresholdTable()

	var batch []*domain.Contract
	for i := 0; i < n; i++ {
		agencyID := fmt.Sprintf("AG-%03d", i+1)
		sector := sectors[i%len(sectors)]
		dept := departamentos[i%len(departamentos)]
		for j := 0; j < perAgency; j++ {
			start := populationStart.AddDate(0, 0, (i*263+j*97)%1308)

			direct := labelled && j%4 == 0
			modified := labelled && (j%8 == 0 || (j%4 != 0 && j%10 == 3))
			modalidad := "Licitación pública"
			switch {
			case direct:
				modalidad = "Contratación Directa"
			case j%3 == 1:
				modalidad = "Selección abreviada menor cuantía"
			}
			added := 0.0
			if modified {
				added = float64(45 + j%90)
			}

			batch = append(batch, &domain.Contract{
				ID:           fmt.Sprintf("C-%03d-%03d", i+1, j+1),
				AgencyID:     agencyID,
				AgencyName:   fmt.Sprintf("Entidad %03d", i+1),
				VendorID:     fmt.Sprintf("VN-%03d-%d", i+1, j%5+1),
				VendorName:   fmt.Sprintf("Proveedor %03d-%d", i+1, j%5+1),
				Sector:       sector,
				Departamento: dept,
				Modalidad:    modalidad,
				ContractType: "Prestación de servicios",
				Value:        safeValue(t, table, start.Year(), i+j, i*7+j*11),
				SignedAt:     start,
				StartDate:    start,
				EndDate:      start.AddDate(0, 0, 60+(j%10)*30),
				AddedDays:    added,
				EsPyme:       j%3 == 0,
				IsDirect:     direct,
				IsModified:   modified,
			})
		}
	}
	if err := repo.SaveContracts(context.Background(), dataset, batch); err != nil {
		t.Fatalf("failed to seed contracts: %v", err)
	}
	return len(batch)
}

// seedSplittingCluster writes six contracts between AG-001 and a dedicated
// vendor, four days apart, each at 95% of the 280-SMMLV threshold for 2021.
// Every one sits inside the proximity band; from the second contract onward
// each 30/60/90-day window holds at least two of them summing over the
// threshold with no single contract crossing it. That makes contracts two
// through six score exactly 0.5*0.5 + 0.3*1.0 + 0.2*1.0 = 0.75 and leaves
// the first at zero.
func seedSplittingCluster(t *testing.T, repo domain.Repository, dataset string) []string {
	t.Helper()
	threshold := domain.SMMLVByYear[2021] * 280
	value := threshold * 0.95

	ids := make([]string, 6)
	batch := make([]*domain.Contract, 6)
	for i := range batch {
		start := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 4*i)
		ids[i] = fmt.Sprintf("C-SPLIT-%d", i+1)
		batch[i] = &domain.Contract{
			ID:           ids[i],
			AgencyID:     "AG-001",
			AgencyName:   "Entidad 001",
			VendorID:     "VN-SPLIT",
			VendorName:   "Proveedor Fraccionado",
			Sector:       sectors[0],
			Departamento: departamentos[0],
			Modalidad:    "Contratación Directa",
			ContractType: "Prestación de servicios",
			Value:        value,
			SignedAt:     start,
			StartDate:    start,
			EndDate:      start.AddDate(0, 0, 90),
			IsDirect:     true,
		}
	}
	if err := repo.SaveContracts(context.Background(), dataset, batch); err != nil {
		t.Fatalf("failed to seed splitting cluster: %v", err)
	}
	return ids
}

// seedMonoVendorAgency writes twelve contracts for an agency that only ever
// buys from one vendor, evenly spaced across the population window. The
// agency's top vendor share is exactly 1.0. The sector is one of the large
// shared sectors so no peer-population flag interferes.
func seedMonoVendorAgency(t *testing.T, repo domain.Repository, dataset string) []string {
	t.Helper()
	table := domain.DefaultThresholdTable()

	ids := make([]string, 12)
	batch := make([]*domain.Contract, 12)
	for i := range batch {
		start := populationStart.AddDate(0, 0, i*109)
		ids[i] = fmt.Sprintf("C-MONO-%02d", i+1)
		batch[i] = &domain.Contract{
			ID:           ids[i],
			AgencyID:     "AG-MONO",
			AgencyName:   "Entidad Monoproveedor",
			VendorID:     "VN-MONO",
			VendorName:   "Proveedor Único",
			Sector:       sectors[1],
			Departamento: departamentos[1],
			Modalidad:    "Licitación pública",
			ContractType: "Obra",
			Value:        safeValue(t, table, start.Year(), i, i*13),
			SignedAt:     start,
			StartDate:    start,
			EndDate:      start.AddDate(0, 0, 180),
		}
	}
	if err := repo.SaveContracts(context.Background(), dataset, batch); err != nil {
		t.Fatalf("failed to seed mono-vendor agency: %v", err)
	}
	return ids
}

// seedNicheSector writes five contracts in a sector nothing else uses. Five
// rows sit under the minimum peer population of thirty, so each must be
// scored against global fallback statistics and flagged.
func seedNicheSector(t *testing.T, repo domain.Repository, dataset string) []string {
	t.Helper()
	table := domain.DefaultThresholdTable()

	ids := make([]string, 5)
	batch := make([]*domain.Contract, 5)
	for i := range batch {
		start := time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i*70)
		ids[i] = fmt.Sprintf("C-NICHE-%d", i+1)
		batch[i] = &domain.Contract{
			ID:           ids[i],
			AgencyID:     "AG-NICHE",
			AgencyName:   "Entidad Minera",
			VendorID:     fmt.Sprintf("VN-NICHE-%d", i+1),
			VendorName:   fmt.Sprintf("Proveedor Minero %d", i+1),
			Sector:       "Minería y Energía",
			Departamento: departamentos[2],
			Modalidad:    "Licitación pública",
			ContractType: "Suministro",
			Value:        safeValue(t, table, start.Year(), i+1, i*17),
			SignedAt:     start,
			StartDate:    start,
			EndDate:      start.AddDate(0, 0, 120),
		}
	}
	if err := repo.SaveContracts(context.Background(), dataset, batch); err != nil {
		t.Fatalf("failed to seed niche sector: %v", err)
	}
	return ids
}

// seedLegacyContracts writes two 2018 contracts. The statutory threshold
// table starts at 2019, so their splitting scores are undefined.
func seedLegacyContracts(t *testing.T, repo domain.Repository, dataset string) []string {
	t.Helper()
	batch := []*domain.Contract{
		{
			ID:           "C-OLD-1",
			AgencyID:     "AG-001",
			AgencyName:   "Entidad 001",
			VendorID:     "VN-OLD",
			VendorName:   "Proveedor Antiguo",
			Sector:       sectors[0],
			Departamento: departamentos[0],
			Modalidad:    "Licitación pública",
			ContractType: "Suministro",
			Value:        150_000_000,
			SignedAt:     time.Date(2018, 6, 15, 0, 0, 0, 0, time.UTC),
			StartDate:    time.Date(2018, 6, 15, 0, 0, 0, 0, time.UTC),
			EndDate:      time.Date(2018, 12, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:           "C-OLD-2",
			AgencyID:     "AG-001",
			AgencyName:   "Entidad 001",
			VendorID:     "VN-OLD",
			VendorName:   "Proveedor Antiguo",
			Sector:       sectors[0],
			Departamento: departamentos[0],
			Modalidad:    "Licitación pública",
			ContractType: "Suministro",
			Value:        95_000_000,
			SignedAt:     time.Date(2018, 9, 20, 0, 0, 0, 0, time.UTC),
			StartDate:    time.Date(2018, 9, 20, 0, 0, 0, 0, time.UTC),
			EndDate:      time.Date(2019, 3, 20, 0, 0, 0, 0, time.UTC),
		},
	}
	if err := repo.SaveContracts(context.Background(), dataset, batch); err != nil {
		t.Fatalf("failed to seed legacy contracts: %v", err)
	}
	ids := make([]string, len(batch))
	for i, c := range batch {
		ids[i] = c.ID
	}
	return ids
}

func listAllScores(t *testing.T, repo domain.Repository, runID string) []*domain.RiskScore {
	t.Helper()
	scores, err := repo.ListScores(context.Background(), runID, domain.ScoreFilter{})
	if err != nil {
		t.Fatalf("failed to list scores for run %s: %v", runID, err)
	}
	return scores
}

func scoresByID(scores []*domain.RiskScore) map[string]*domain.RiskScore {
	m := make(map[string]*domain.RiskScore, len(scores))
	for _, s := range scores {
		m[s.ContractID] = s
	}
	return m
}

// ============================================================
// SCENARIO 1: Full pipeline over a mixed population
// ============================================================

func TestPipelineEndToEnd(t *testing.T) {
	/*
		SCENARIO: 583 contracts across ten agencies: 560 unremarkable rows,
		a six-contract splitting cluster, a single-vendor agency, and a
		five-row niche sector. One CEL audit rule is loaded. The run goes
		through the real repository, event bus, rule engine, and Parquet
		writer.

		EXPECTED BEHAVIOR: the run completes cleanly, every contract is
		scored, the designed signals surface exactly where they were
		planted, the leaderboard is internally consistent with the scored
		rows, artifacts land on disk, and the completion event reaches a
		subscriber.

		WHY THIS MATTERS: this is the deployment path. An auditor trusts
		the leaderboard only if every number on it can be recomputed from
		the scored rows underneath.
	*/
	cfg := testConfig(t)
	repo := openRepo(t, cfg)
	ctx := context.Background()
	dataset := "secop-e2e"

	total := seedContracts(t, repo, dataset, 8, 70, true)
	clusterIDs := seedSplittingCluster(t, repo, dataset)
	monoIDs := seedMonoVendorAgency(t, repo, dataset)
	nicheIDs := seedNicheSector(t, repo, dataset)
	total += len(clusterIDs) + len(monoIDs) + len(nicheIDs)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		t.Fatalf("failed to create event bus: %v", err)
	}
	defer busImpl.Close()

	completedCh := make(chan domain.RunEvent, 1)
	if _, err := busImpl.Subscribe(ctx, dataset, domain.TopicRunCompleted, func(_ context.Context, msg *domain.Message) error {
		var ev domain.RunEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return err
		}
		select {
		case completedCh <- ev:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("failed to subscribe to completion events: %v", err)
	}

	engine, err := rules.NewEngine(10)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	if err := engine.LoadRules([]*domain.FlagRule{{
		ID:         "direct-high-value",
		Dataset:    dataset,
		Name:       "Direct award above 400M COP",
		Expression: "is_direct && valor > 400000000.0",
		Flag:       "direct_high_value",
		Severity:   "high",
		Enabled:    true,
	}}); err != nil {
		t.Fatalf("failed to load flag rules: %v", err)
	}

	runner, err := pipeline.NewRunner(cfg, repo, busImpl, engine, artifacts.NewWriter(cfg.Artifacts))
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}

	run, err := runner.Run(ctx, "run-e2e", dataset)
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}

	scores := listAllScores(t, repo, run.ID)
	byID := scoresByID(scores)

	t.Run("run completes cleanly", func(t *testing.T) {
		if run.Status != domain.RunCompleted {
			t.Fatalf("expected status %q, got %q (note: %s)",
				domain.RunCompleted, run.Status, run.Diagnostics.CalibrationNote)
		}
		if run.Contracts != total {
			t.Errorf("expected %d contracts, got %d", total, run.Contracts)
		}
		if run.Scored != total {
			t.Errorf("expected %d scored, got %d", total, run.Scored)
		}
		if len(run.Diagnostics.FailedPartitions) != 0 {
			t.Errorf("unexpected failed partitions: %+v", run.Diagnostics.FailedPartitions)
		}
		if len(run.Diagnostics.MissingThresholdYears) != 0 {
			t.Errorf("unexpected missing threshold years: %v", run.Diagnostics.MissingThresholdYears)
		}
		if !run.Diagnostics.CalibrationApplied {
			t.Errorf("expected calibration to be applied: %s", run.Diagnostics.CalibrationNote)
		}
		t.Logf("✓ run %s completed: %d contracts scored", run.ID, run.Scored)
	})

	t.Run("run record persisted", func(t *testing.T) {
		stored, err := repo.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("failed to load run: %v", err)
		}
		if stored.Status != domain.RunCompleted {
			t.Errorf("stored status = %q, want %q", stored.Status, domain.RunCompleted)
		}
		if !stored.EndedAt.After(stored.StartedAt) {
			t.Errorf("ended %v not after started %v", stored.EndedAt, stored.StartedAt)
		}
		t.Logf("✓ run record persisted with diagnostics")
	})

	t.Run("scores bounded and tiered consistently", func(t *testing.T) {
		if len(scores) != total {
			t.Fatalf("expected %d scored rows, got %d", total, len(scores))
		}
		prev := math.Inf(1)
		for _, s := range scores {
			if s.Raw < 0 || s.Raw > 1 {
				t.Errorf("%s: raw score %.6f out of [0,1]", s.ContractID, s.Raw)
			}
			if s.Calibrated < 0 || s.Calibrated > 1 {
				t.Errorf("%s: calibrated score %.6f out of [0,1]", s.ContractID, s.Calibrated)
			}
			if !s.CalibratedApplied {
				t.Errorf("%s: expected calibrated row", s.ContractID)
			}
			if got, want := s.Tier, domain.TierFor(s.Calibrated, cfg.Scoring.Cuts); got != want {
				t.Errorf("%s: tier %q inconsistent with score %.4f (want %q)",
					s.ContractID, got, s.Calibrated, want)
			}
			if s.Calibrated > prev {
				t.Errorf("listing not ordered by calibrated score: %.6f after %.6f", s.Calibrated, prev)
			}
			prev = s.Calibrated
		}
		t.Logf("✓ %d rows bounded, tiered, and ordered", len(scores))
	})

	t.Run("splitting cluster detected", func(t *testing.T) {
		first, ok := byID[clusterIDs[0]]
		if !ok {
			t.Fatalf("cluster contract %s not scored", clusterIDs[0])
		}
		if first.Sub.Splitting != 0 {
			t.Errorf("first cluster contract: splitting %.4f, want 0 (no window behind it)", first.Sub.Splitting)
		}
		for _, id := range clusterIDs[1:] {
			s, ok := byID[id]
			if !ok {
				t.Fatalf("cluster contract %s not scored", id)
			}
			if !s.Sub.SplittingValid {
				t.Errorf("%s: splitting unexpectedly invalid", id)
			}
			if math.Abs(s.Sub.Splitting-0.75) > 1e-9 {
				t.Errorf("%s: splitting score %.6f, want 0.75", id, s.Sub.Splitting)
			}
		}
		t.Logf("✓ cluster scored 0.75 on contracts 2..6, 0 on contract 1")
	})

	t.Run("single vendor agency concentration", func(t *testing.T) {
		for _, id := range monoIDs {
			s, ok := byID[id]
			if !ok {
				t.Fatalf("mono-vendor contract %s not scored", id)
			}
			if s.Sub.Network != 1.0 {
				t.Errorf("%s: network score %.6f, want exactly 1.0", id, s.Sub.Network)
			}
		}
		t.Logf("✓ all %d mono-vendor rows carry full concentration", len(monoIDs))
	})

	t.Run("small peer group flagged", func(t *testing.T) {
		for _, id := range nicheIDs {
			s, ok := byID[id]
			if !ok {
				t.Fatalf("niche contract %s not scored", id)
			}
			if !s.HasFlag(domain.FlagInsufficientPopulation) {
				t.Errorf("%s: expected %s flag, got %v", id, domain.FlagInsufficientPopulation, s.Flags)
			}
		}
		if got := run.Diagnostics.InsufficientPopulation["Minería y Energía"]; got != len(nicheIDs) {
			t.Errorf("diagnostics count %d rows in the niche sector, want %d", got, len(nicheIDs))
		}
		t.Logf("✓ niche sector rows scored on fallback statistics and flagged")
	})

	t.Run("audit flag rule applied", func(t *testing.T) {
		// Agency 4, row 1 is a direct award whose value lands in the top
		// threshold interval, above 440M COP for every covered year.
		s, ok := byID["C-004-001"]
		if !ok {
			t.Fatal("contract C-004-001 not scored")
		}
		if !s.HasFlag("direct_high_value") {
			t.Errorf("C-004-001 (direct, %.0f COP): expected rule flag, got %v", s.Value, s.Flags)
		}
		if run.Diagnostics.FlagCounts["direct_high_value"] == 0 {
			t.Error("expected at least one direct_high_value hit in the flag counts")
		}
		t.Logf("✓ CEL rule flagged %d rows", run.Diagnostics.FlagCounts["direct_high_value"])
	})

	t.Run("contamination tail flagged", func(t *testing.T) {
		if run.Diagnostics.FlagCounts[domain.FlagContaminationTail] == 0 {
			t.Error("expected the anomaly tail to flag at least one row")
		}
	})

	t.Run("leaderboard consistent with scores", func(t *testing.T) {
		board, err := repo.GetLeaderboard(ctx, run.ID, 0)
		if err != nil {
			t.Fatalf("failed to load leaderboard: %v", err)
		}
		if len(board) != 10 {
			t.Fatalf("expected 10 agencies on the leaderboard, got %d", len(board))
		}

		byAgency := make(map[string][]*domain.RiskScore)
		for _, s := range scores {
			byAgency[s.AgencyID] = append(byAgency[s.AgencyID], s)
		}

		contractsTotal := 0
		for k, row := range board {
			if row.Rank != k+1 {
				t.Errorf("row %d: rank %d, want %d", k, row.Rank, k+1)
			}
			if k > 0 {
				prev := board[k-1]
				if row.MeanScore > prev.MeanScore+1e-12 {
					t.Errorf("leaderboard not ordered: %s (%.6f) after %s (%.6f)",
						row.AgencyID, row.MeanScore, prev.AgencyID, prev.MeanScore)
				}
				if row.MeanScore == prev.MeanScore && row.AgencyID < prev.AgencyID {
					t.Errorf("tie between %s and %s not broken by agency ID", prev.AgencyID, row.AgencyID)
				}
			}
			contractsTotal += row.Contracts

			rows := byAgency[row.AgencyID]
			if len(rows) != row.Contracts {
				t.Errorf("%s: leaderboard says %d contracts, scores say %d",
					row.AgencyID, row.Contracts, len(rows))
				continue
			}
			if row.HighTier+row.MediumTier+row.LowTier != row.Contracts {
				t.Errorf("%s: tier counts %d+%d+%d do not sum to %d",
					row.AgencyID, row.HighTier, row.MediumTier, row.LowTier, row.Contracts)
			}

			var wantVaR, wantTotal, wantMax float64
			for _, s := range rows {
				wantTotal += s.Value
				if s.Tier == domain.TierHigh || s.Tier == domain.TierMedium {
					wantVaR += s.Value * s.Calibrated
				}
				if s.Calibrated > wantMax {
					wantMax = s.Calibrated
				}
			}
			if !closeEnough(row.ValueAtRisk, wantVaR) {
				t.Errorf("%s: value at risk %.2f, recomputed %.2f", row.AgencyID, row.ValueAtRisk, wantVaR)
			}
			if !closeEnough(row.TotalValue, wantTotal) {
				t.Errorf("%s: total value %.2f, recomputed %.2f", row.AgencyID, row.TotalValue, wantTotal)
			}
			if row.MaxScore != wantMax {
				t.Errorf("%s: max score %.6f, recomputed %.6f", row.AgencyID, row.MaxScore, wantMax)
			}
		}
		if contractsTotal != total {
			t.Errorf("leaderboard covers %d contracts, want %d", contractsTotal, total)
		}
		t.Logf("✓ leaderboard of %d agencies recomputes from the scored rows", len(board))
	})

	t.Run("artifacts written", func(t *testing.T) {
		for _, name := range []string{artifacts.ScoresFile, artifacts.LeaderboardFile} {
			path := filepath.Join(cfg.Artifacts.Dir, run.ID, name)
			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("artifact %s missing: %v", name, err)
			}
			if info.Size() == 0 {
				t.Errorf("artifact %s is empty", name)
			}
		}
		t.Logf("✓ Parquet artifacts written under %s", filepath.Join(cfg.Artifacts.Dir, run.ID))
	})

	t.Run("completion event published", func(t *testing.T) {
		select {
		case ev := <-completedCh:
			if ev.RunID != run.ID {
				t.Errorf("event run ID %q, want %q", ev.RunID, run.ID)
			}
			if ev.Status != run.Status {
				t.Errorf("event status %q, want %q", ev.Status, run.Status)
			}
			if ev.Scored != total {
				t.Errorf("event scored %d, want %d", ev.Scored, total)
			}
			t.Logf("✓ completion event received for run %s", ev.RunID)
		case <-time.After(5 * time.Second):
			t.Fatal("no completion event within 5s")
		}
	})

	t.Run("single score lookup", func(t *testing.T) {
		s, err := repo.GetScore(ctx, run.ID, "C-001-001")
		if err != nil {
			t.Fatalf("failed to load score: %v", err)
		}
		if s.ContractID != "C-001-001" || s.RunID != run.ID {
			t.Errorf("loaded wrong row: %s / %s", s.ContractID, s.RunID)
		}
		if _, err := repo.GetScore(ctx, run.ID, "C-MISSING"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown contract, got %v", err)
		}
	})
}

// closeEnough compares aggregates computed over the same rows in different
// summation orders.
func closeEnough(got, want float64) bool {
	tol := 1e-6 * math.Max(1, math.Abs(want))
	return math.Abs(got-want) <= tol
}

// ============================================================
// SCENARIO 2: Re-running a dataset reproduces every number
// ============================================================

func TestPipelineDeterministicReruns(t *testing.T) {
	/*
		SCENARIO: the same 120 stored contracts are scored twice under
		different run IDs with the same seed.

		EXPECTED BEHAVIOR: every raw score, calibrated score, sub-score,
		tier, flag list, and leaderboard row is bit-for-bit identical
		between the two runs.

		WHY THIS MATTERS: audit findings must be reproducible. A ranking
		that shifts between identical runs cannot be defended to the
		flagged agency.
	*/
	cfg := testConfig(t)
	repo := openRepo(t, cfg)
	ctx := context.Background()
	dataset := "secop-det"

	seedContracts(t, repo, dataset, 3, 40, true)

	runner, err := pipeline.NewRunner(cfg, repo, nil, nil, nil)
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}

	first, err := runner.Run(ctx, "det-a", dataset)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := runner.Run(ctx, "det-b", dataset)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if first.Status != second.Status {
		t.Fatalf("statuses differ: %q vs %q", first.Status, second.Status)
	}

	scoresA := listAllScores(t, repo, first.ID)
	scoresB := scoresByID(listAllScores(t, repo, second.ID))
	if len(scoresA) != len(scoresB) {
		t.Fatalf("row counts differ: %d vs %d", len(scoresA), len(scoresB))
	}

	for _, a := range scoresA {
		b, ok := scoresB[a.ContractID]
		if !ok {
			t.Fatalf("contract %s missing from second run", a.ContractID)
		}
		if math.Float64bits(a.Raw) != math.Float64bits(b.Raw) {
			t.Errorf("%s: raw %v vs %v", a.ContractID, a.Raw, b.Raw)
		}
		if math.Float64bits(a.Calibrated) != math.Float64bits(b.Calibrated) {
			t.Errorf("%s: calibrated %v vs %v", a.ContractID, a.Calibrated, b.Calibrated)
		}
		if math.Float64bits(a.Sub.ProcessAnomaly) != math.Float64bits(b.Sub.ProcessAnomaly) {
			t.Errorf("%s: anomaly %v vs %v", a.ContractID, a.Sub.ProcessAnomaly, b.Sub.ProcessAnomaly)
		}
		if math.Float64bits(a.Sub.Splitting) != math.Float64bits(b.Sub.Splitting) {
			t.Errorf("%s: splitting %v vs %v", a.ContractID, a.Sub.Splitting, b.Sub.Splitting)
		}
		if math.Float64bits(a.Sub.Network) != math.Float64bits(b.Sub.Network) {
			t.Errorf("%s: network %v vs %v", a.ContractID, a.Sub.Network, b.Sub.Network)
		}
		if math.Float64bits(a.Sub.Community) != math.Float64bits(b.Sub.Community) {
			t.Errorf("%s: community %v vs %v", a.ContractID, a.Sub.Community, b.Sub.Community)
		}
		if a.Tier != b.Tier {
			t.Errorf("%s: tier %q vs %q", a.ContractID, a.Tier, b.Tier)
		}
		if a.Sub.SplittingValid != b.Sub.SplittingValid {
			t.Errorf("%s: splitting validity differs", a.ContractID)
		}
		if strings.Join(a.Flags, ",") != strings.Join(b.Flags, ",") {
			t.Errorf("%s: flags %v vs %v", a.ContractID, a.Flags, b.Flags)
		}
	}

	boardA, err := repo.GetLeaderboard(ctx, first.ID, 0)
	if err != nil {
		t.Fatalf("failed to load first leaderboard: %v", err)
	}
	boardB, err := repo.GetLeaderboard(ctx, second.ID, 0)
	if err != nil {
		t.Fatalf("failed to load second leaderboard: %v", err)
	}
	if len(boardA) != len(boardB) {
		t.Fatalf("leaderboard lengths differ: %d vs %d", len(boardA), len(boardB))
	}
	for i := range boardA {
		a, b := boardA[i], boardB[i]
		if a.AgencyID != b.AgencyID || a.Rank != b.Rank {
			t.Errorf("row %d: %s rank %d vs %s rank %d", i, a.AgencyID, a.Rank, b.AgencyID, b.Rank)
		}
		if math.Float64bits(a.MeanScore) != math.Float64bits(b.MeanScore) {
			t.Errorf("%s: mean score %v vs %v", a.AgencyID, a.MeanScore, b.MeanScore)
		}
		if math.Float64bits(a.ValueAtRisk) != math.Float64bits(b.ValueAtRisk) {
			t.Errorf("%s: value at risk %v vs %v", a.AgencyID, a.ValueAtRisk, b.ValueAtRisk)
		}
	}
	t.Logf("✓ %d rows and %d leaderboard entries bit-identical across reruns", len(scoresA), len(boardA))
}

// ============================================================
// SCENARIO 3: Contracts outside the threshold table degrade the run
// ============================================================

func TestMissingThresholdYearDegradesRun(t *testing.T) {
	/*
		SCENARIO: 120 ordinary contracts plus two signed in 2018, one year
		before the statutory threshold table begins.

		EXPECTED BEHAVIOR: the run finishes in the degraded state. The
		2018 rows are still scored, but their splitting component is
		marked invalid, they carry the missing_threshold_year flag, and
		the diagnostics count exactly two such rows under 2018.

		WHY THIS MATTERS: a missing statute must never read as "no
		splitting risk". The row stays in the ranking with the remaining
		detectors, and the run says out loud which years it could not
		assess.
	*/
	cfg := testConfig(t)
	repo := openRepo(t, cfg)
	ctx := context.Background()
	dataset := "secop-edge"

	total := seedContracts(t, repo, dataset, 3, 40, true)
	oldIDs := seedLegacyContracts(t, repo, dataset)
	total += len(oldIDs)

	runner, err := pipeline.NewRunner(cfg, repo, nil, nil, nil)
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}
	run, err := runner.Run(ctx, "edge-run", dataset)
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}

	if run.Status != domain.RunDegraded {
		t.Fatalf("expected status %q, got %q", domain.RunDegraded, run.Status)
	}
	if run.Scored != total {
		t.Errorf("expected all %d rows scored, got %d", total, run.Scored)
	}
	if got := run.Diagnostics.MissingThresholdYears[2018]; got != len(oldIDs) {
		t.Errorf("diagnostics count %d contracts for 2018, want %d", got, len(oldIDs))
	}
	if !run.Diagnostics.CalibrationApplied {
		t.Errorf("calibration should still apply: %s", run.Diagnostics.CalibrationNote)
	}
	if got := run.Diagnostics.FlagCounts[domain.FlagMissingThresholdYear]; got != len(oldIDs) {
		t.Errorf("%d rows flagged for the missing year, want %d", got, len(oldIDs))
	}

	byID := scoresByID(listAllScores(t, repo, run.ID))
	for _, id := range oldIDs {
		s, ok := byID[id]
		if !ok {
			t.Fatalf("legacy contract %s not scored", id)
		}
		if s.Sub.SplittingValid {
			t.Errorf("%s: splitting should be invalid for 2018", id)
		}
		if !s.HasFlag(domain.FlagMissingThresholdYear) {
			t.Errorf("%s: expected %s flag, got %v", id, domain.FlagMissingThresholdYear, s.Flags)
		}
		if s.Raw < 0 || s.Raw > 1 {
			t.Errorf("%s: renormalized raw score %.6f out of [0,1]", id, s.Raw)
		}
	}
	for id, s := range byID {
		if s.Year != 2018 && !s.Sub.SplittingValid {
			t.Errorf("%s (year %d): splitting unexpectedly invalid", id, s.Year)
		}
	}
	t.Logf("✓ degraded run kept %d rows scored, %d without a splitting verdict", run.Scored, len(oldIDs))
}

// ============================================================
// SCENARIO 4: Degenerate label population falls back to raw scores
// ============================================================

func TestCalibrationFallbackOnSingleClassLabels(t *testing.T) {
	/*
		SCENARIO: 80 contracts, none of which is a modified direct award,
		so the calibration label has a single class.

		EXPECTED BEHAVIOR: the isotonic fit is rejected, the run degrades,
		every row keeps its raw score as the calibrated value and carries
		the calibration_fallback flag, and the diagnostics name the cause.

		WHY THIS MATTERS: a curve fitted to one class would silently
		flatten the ranking. Falling back to raw scores keeps the relative
		order honest and visibly marks the output as uncalibrated.
	*/
	cfg := testConfig(t)
	repo := openRepo(t, cfg)
	ctx := context.Background()
	dataset := "secop-flat"

	total := seedContracts(t, repo, dataset, 2, 40, false)

	runner, err := pipeline.NewRunner(cfg, repo, nil, nil, nil)
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}
	run, err := runner.Run(ctx, "flat-run", dataset)
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}

	if run.Status != domain.RunDegraded {
		t.Fatalf("expected status %q, got %q", domain.RunDegraded, run.Status)
	}
	if run.Diagnostics.CalibrationApplied {
		t.Error("calibration should not apply to a single-class population")
	}
	if run.Diagnostics.CalibrationNote == "" {
		t.Error("expected a calibration note naming the cause")
	}
	if got := run.Diagnostics.FlagCounts[domain.FlagCalibrationFallback]; got != total {
		t.Errorf("%d rows flagged for the fallback, want %d", got, total)
	}

	scores := listAllScores(t, repo, run.ID)
	if len(scores) != total {
		t.Fatalf("expected %d rows, got %d", total, len(scores))
	}
	for _, s := range scores {
		if s.CalibratedApplied {
			t.Errorf("%s: row marked calibrated in a fallback run", s.ContractID)
		}
		if math.Float64bits(s.Calibrated) != math.Float64bits(s.Raw) {
			t.Errorf("%s: calibrated %.6f differs from raw %.6f", s.ContractID, s.Calibrated, s.Raw)
		}
		if !s.HasFlag(domain.FlagCalibrationFallback) {
			t.Errorf("%s: expected %s flag, got %v", s.ContractID, domain.FlagCalibrationFallback, s.Flags)
		}
	}
	t.Logf("✓ fallback run kept raw scores on all %d rows: %s", total, run.Diagnostics.CalibrationNote)
}

// ============================================================
// SCENARIO 5: A run requested over HTTP lands on the worker
// ============================================================

func TestRunRequestOverAPI(t *testing.T) {
	/*
		SCENARIO: the full serving stack is assembled the way the serve
		command wires it: repository, cache, channel bus, rule engine,
		runner, run worker, and the chi router. A run is requested with
		POST /runs and observed through the read endpoints.

		EXPECTED BEHAVIOR: the request is acknowledged with 202, the
		worker picks it off the bus and executes it, polling GET /runs/:id
		eventually reports completion, and the scores and leaderboard
		endpoints serve the results.

		WHY THIS MATTERS: the API is asynchronous by design. This is the
		contract an operator scripts against: request, poll, read.
	*/
	cfg := testConfig(t)
	repo := openRepo(t, cfg)
	ctx := context.Background()
	dataset := "secop-api"

	total := seedContracts(t, repo, dataset, 2, 40, true)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		t.Fatalf("failed to create event bus: %v", err)
	}
	defer busImpl.Close()
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defer cacheImpl.Close()
	engine, err := rules.NewEngine(10)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}

	runner, err := pipeline.NewRunner(cfg, repo, busImpl, engine, nil)
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}
	runWorker := worker.NewWorker(busImpl, repo, runner, cacheImpl)
	if err := runWorker.Start(worker.Config{Datasets: []string{dataset}, CacheTTL: time.Minute}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer runWorker.Stop()

	srv := api.NewServer(cfg.Server, dataset, repo, cacheImpl, busImpl, engine, "integration-test")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	client := ts.Client()
	do := func(method, path string, body string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, ts.URL+path, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set(api.DatasetHeader, dataset)
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		return client.Do(req)
	}

	// Request the run.
	resp, err := do(http.MethodPost, "/runs", `{"runId":"api-e2e-run"}`)
	if err != nil {
		t.Fatalf("POST /runs failed: %v", err)
	}
	var accepted struct {
		RunID string `json:"runId"`
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /runs status %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("failed to decode acceptance: %v", err)
	}
	resp.Body.Close()
	if accepted.RunID != "api-e2e-run" {
		t.Fatalf("acknowledged run ID %q, want api-e2e-run", accepted.RunID)
	}

	// Poll until the worker finishes. The run record does not exist until
	// the worker picks the request up, so 404 means keep waiting.
	var run domain.ScoringRun
	deadline := time.Now().Add(60 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("run %s did not finish in time (last status %q)", accepted.RunID, run.Status)
		}
		time.Sleep(200 * time.Millisecond)

		resp, err := do(http.MethodGet, "/runs/"+accepted.RunID, "")
		if err != nil {
			t.Fatalf("GET /runs/%s failed: %v", accepted.RunID, err)
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET /runs/%s status %d", accepted.RunID, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
			t.Fatalf("failed to decode run: %v", err)
		}
		resp.Body.Close()
		if run.Status == domain.RunCompleted || run.Status == domain.RunDegraded || run.Status == domain.RunFailed {
			break
		}
	}
	if run.Status != domain.RunCompleted {
		t.Fatalf("run finished as %q, want %q (note: %s)",
			run.Status, domain.RunCompleted, run.Diagnostics.CalibrationNote)
	}
	if run.Scored != total {
		t.Errorf("run scored %d rows, want %d", run.Scored, total)
	}
	t.Logf("✓ worker completed run %s after the HTTP request", run.ID)

	// Read the results back through the API.
	resp, err = do(http.MethodGet, "/scores?limit=200", "")
	if err != nil {
		t.Fatalf("GET /scores failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /scores status %d", resp.StatusCode)
	}
	var scoresPage struct {
		RunID  string              `json:"runId"`
		Scores []*domain.RiskScore `json:"scores"`
		Count  int                 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&scoresPage); err != nil {
		t.Fatalf("failed to decode scores: %v", err)
	}
	resp.Body.Close()
	if scoresPage.RunID != run.ID {
		t.Errorf("scores served for run %q, want %q", scoresPage.RunID, run.ID)
	}
	if scoresPage.Count != total {
		t.Errorf("scores count %d, want %d", scoresPage.Count, total)
	}

	resp, err = do(http.MethodGet, "/leaderboard", "")
	if err != nil {
		t.Fatalf("GET /leaderboard failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /leaderboard status %d", resp.StatusCode)
	}
	var boardPage struct {
		Leaderboard []*domain.AgencyLeaderboardRow `json:"leaderboard"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&boardPage); err != nil {
		t.Fatalf("failed to decode leaderboard: %v", err)
	}
	resp.Body.Close()
	if len(boardPage.Leaderboard) != 2 {
		t.Fatalf("leaderboard has %d agencies, want 2", len(boardPage.Leaderboard))
	}
	for i, row := range boardPage.Leaderboard {
		if row.Rank != i+1 {
			t.Errorf("row %d: rank %d, want %d", i, row.Rank, i+1)
		}
	}

	resp, err = do(http.MethodGet, "/runs/"+run.ID+"/diagnostics", "")
	if err != nil {
		t.Fatalf("GET diagnostics failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET diagnostics status %d", resp.StatusCode)
	}
	resp.Body.Close()
	t.Logf("✓ scores, leaderboard, and diagnostics served for %d contracts", total)
}
