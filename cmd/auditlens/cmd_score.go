package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/auditlens/auditlens/internal/artifacts"
	"github.com/auditlens/auditlens/internal/config"
	"github.com/auditlens/auditlens/internal/domain"
	"github.com/auditlens/auditlens/internal/pipeline"
	"github.com/auditlens/auditlens/internal/repository"
	"github.com/auditlens/auditlens/internal/rules"
)

// scoreCmd executes one scoring run straight from the command line.
var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Execute one scoring run over the stored contracts",
	Long: `Run the scoring pipeline once over the contracts stored for a dataset:
features, anomaly detection, splitting, network analysis, calibration,
tiering, and the agency leaderboard. Results are persisted under a new
run ID and written as Parquet artifacts.

Example usage:
  auditlens score
  auditlens score --dataset secop-test
  auditlens score --run-id backfill-2022-08`,
	RunE: runScore,
}

// Command-line flags for score
var (
	scoreDataset string
	scoreRunID   string
)

func init() {
	rootCmd.AddCommand(scoreCmd)

	scoreCmd.Flags().StringVar(&scoreDataset, "dataset", "", "Dataset scope (defaults to the configured dataset)")
	scoreCmd.Flags().StringVar(&scoreRunID, "run-id", "", "Run ID (defaults to a generated UUID)")
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	config.NewLogger(cfg.Logging)

	dataset := scoreDataset
	if dataset == "" {
		dataset = cfg.Dataset
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, err := rules.NewEngine(100)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	if err := loadFlagRules(ctx, dataset, repo, engine); err != nil {
		return fmt.Errorf("failed to load flag rules: %w", err)
	}

	writer := artifacts.NewWriter(cfg.Artifacts)
	runner, err := pipeline.NewRunner(cfg, repo, nil, engine, writer)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	slog.Info("starting scoring run",
		"dataset", dataset,
		"seed", cfg.Scoring.Seed,
	)

	run, err := runner.Run(ctx, scoreRunID, dataset)
	if err != nil {
		return fmt.Errorf("scoring run failed: %w", err)
	}

	displayRunSummary(run)
	return nil
}

// displayRunSummary prints the run outcome and its diagnostics headline.
func displayRunSummary(run *domain.ScoringRun) {
	fmt.Printf("\nScoring run %s\n", run.ID)
	fmt.Printf("  Status:     %s\n", run.Status)
	fmt.Printf("  Dataset:    %s\n", run.Dataset)
	fmt.Printf("  Contracts:  %d\n", run.Contracts)
	fmt.Printf("  Scored:     %d\n", run.Scored)
	fmt.Printf("  Duration:   %s\n", run.EndedAt.Sub(run.StartedAt).Round(time.Millisecond))

	d := run.Diagnostics
	fmt.Printf("  Calibrated: %t\n", d.CalibrationApplied)
	if d.CalibrationNote != "" {
		fmt.Printf("  Note:       %s\n", d.CalibrationNote)
	}
	if len(d.FailedPartitions) > 0 {
		fmt.Printf("  Excluded partitions: %d\n", len(d.FailedPartitions))
	}
	if len(d.MissingThresholdYears) > 0 {
		fmt.Printf("  Missing threshold years: %v\n", sortedKeys(d.MissingThresholdYears))
	}
	if len(d.FlagCounts) > 0 {
		fmt.Println("  Flags:")
		flags := make([]string, 0, len(d.FlagCounts))
		for f := range d.FlagCounts {
			flags = append(flags, f)
		}
		sort.Strings(flags)
		for _, f := range flags {
			fmt.Printf("    %-28s %d\n", f, d.FlagCounts[f])
		}
	}
	for _, fd := range d.Drift {
		if fd.Status != domain.DriftStable {
			fmt.Printf("  Drift %s: PSI %.3f (%s)\n", fd.Feature, fd.PSI, fd.Status)
		}
	}
	fmt.Println()
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
