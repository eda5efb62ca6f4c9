package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/auditlens/auditlens/internal/config"
	"github.com/auditlens/auditlens/internal/domain"
	"github.com/auditlens/auditlens/internal/ingest"
	"github.com/auditlens/auditlens/internal/repository"
)

// ingestCmd pulls contracts from the SECOP source API into the repository.
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Pull contracts from the SECOP source API",
	Long: `Fetch contract pages from the configured SECOP endpoint, clean them,
and persist them to the repository. Rows that fail cleaning are skipped
and counted; duplicate contract IDs abort the pull.

Example usage:
  auditlens ingest --max-rows 100000
  auditlens ingest --from 2019-01-01 --to 2022-08-06
  auditlens ingest --dataset secop-test --max-rows 5000`,
	RunE: runIngest,
}

// Command-line flags for ingest
var (
	ingestDataset string
	ingestMaxRows int
	ingestFrom    string
	ingestTo      string
)

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestDataset, "dataset", "", "Dataset scope (defaults to the configured dataset)")
	ingestCmd.Flags().IntVar(&ingestMaxRows, "max-rows", 0, "Maximum rows to fetch (0 = until the source is exhausted)")
	ingestCmd.Flags().StringVar(&ingestFrom, "from", "", "Earliest contract start date (YYYY-MM-DD)")
	ingestCmd.Flags().StringVar(&ingestTo, "to", "", "Latest contract start date (YYYY-MM-DD)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	config.NewLogger(cfg.Logging)

	dataset := ingestDataset
	if dataset == "" {
		dataset = cfg.Dataset
	}

	opts := ingest.PullOptions{MaxRows: ingestMaxRows}
	if ingestFrom != "" {
		opts.From, err = time.Parse(domain.DateLayout, ingestFrom)
		if err != nil {
			return fmt.Errorf("invalid --from date: %w", err)
		}
	}
	if ingestTo != "" {
		opts.To, err = time.Parse(domain.DateLayout, ingestTo)
		if err != nil {
			return fmt.Errorf("invalid --to date: %w", err)
		}
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := ingest.NewClient(cfg.Ingest, repo, nil)

	slog.Info("starting ingest",
		"dataset", dataset,
		"endpoint", cfg.Ingest.Endpoint,
		"max_rows", ingestMaxRows,
	)

	start := time.Now()
	res, err := client.Pull(ctx, dataset, opts)
	if err != nil {
		return fmt.Errorf("ingest failed after %d pages: %w", res.Pages, err)
	}

	fmt.Printf("\nIngest complete in %s\n", time.Since(start).Round(time.Second))
	fmt.Printf("  Pages:    %d\n", res.Pages)
	fmt.Printf("  Fetched:  %d\n", res.Fetched)
	fmt.Printf("  Saved:    %d\n", res.Saved)
	fmt.Printf("  Skipped:  %d\n", res.Skipped)
	if total, err := repo.CountContracts(ctx, dataset); err == nil {
		fmt.Printf("  Dataset:  %d contracts total\n", total)
	}
	return nil
}
