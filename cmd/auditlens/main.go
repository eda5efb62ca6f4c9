package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/auditlens/auditlens/internal/domain"
	"github.com/auditlens/auditlens/internal/rules"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// configPath is shared by every subcommand; empty falls back to the
// AUDITLENS_CONFIG environment variable, then the built-in defaults.
var configPath string

// rootCmd is the base command for the AuditLens CLI
var rootCmd = &cobra.Command{
	Use:   "auditlens",
	Short: "AuditLens procurement audit prioritization",
	Long: `AuditLens scores public procurement contracts for audit prioritization.
Each contract gets a calibrated risk score combining process anomalies,
contract splitting near statutory thresholds, and agency-vendor network
concentration, rolled up into an agency leaderboard with value at risk.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("AuditLens %s\n", Version)
		fmt.Println("Use 'auditlens serve' to start the API server and run worker")
		fmt.Println("Use 'auditlens ingest' to pull contracts from the SECOP source")
		fmt.Println("Use 'auditlens score' to execute one scoring run")
	},
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadFlagRules loads flag rules from the database into the engine. A
// dataset without any stored rules is seeded with the built-in defaults,
// which operators can then replace via POST /rules.
func loadFlagRules(ctx context.Context, dataset string, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListFlagRules(ctx, dataset)
	if err != nil {
		slog.Warn("failed to list flag rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading flag rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	seeds := rules.DefaultFlagRules(dataset)
	for _, rule := range seeds {
		if err := repo.SaveFlagRule(ctx, dataset, rule); err != nil {
			slog.Warn("failed to persist seed flag rule", "rule", rule.ID, "error", err)
		}
	}
	slog.Info("seeded default flag rules", "count", len(seeds))
	return engine.LoadRules(seeds)
}
