package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/auditlens/auditlens/internal/api"
	"github.com/auditlens/auditlens/internal/artifacts"
	"github.com/auditlens/auditlens/internal/bus"
	"github.com/auditlens/auditlens/internal/cache"
	"github.com/auditlens/auditlens/internal/config"
	"github.com/auditlens/auditlens/internal/domain"
	"github.com/auditlens/auditlens/internal/pipeline"
	"github.com/auditlens/auditlens/internal/repository"
	"github.com/auditlens/auditlens/internal/rules"
	"github.com/auditlens/auditlens/internal/worker"
)

// serveCmd starts the HTTP API server together with the run worker.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and run worker",
	Long: `Start the HTTP API server together with the event-driven run worker.

The server exposes scoring runs, scored contracts, the agency leaderboard,
drift readings, and flag rule management. Runs requested over POST /runs
are picked up by the worker listening on the event bus.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	config.NewLogger(cfg.Logging)

	// Log startup
	slog.Info("starting auditlens",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"mode", cfg.Mode,
		"dataset", cfg.Dataset,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Flag Rule Engine
	engine, err := rules.NewEngine(100)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}

	// Load flag rules, seeding the built-in set on first start
	if err := loadFlagRules(ctx, cfg.Dataset, repo, engine); err != nil {
		return fmt.Errorf("failed to load flag rules: %w", err)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize Pipeline Runner
	writer := artifacts.NewWriter(cfg.Artifacts)
	runner, err := pipeline.NewRunner(cfg, repo, busImpl, engine, writer)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	slog.Info("pipeline runner initialized",
		"seed", cfg.Scoring.Seed,
		"partition_by", cfg.Pipeline.PartitionBy,
	)

	// Initialize run Worker
	runWorker := worker.NewWorker(busImpl, repo, runner, cacheImpl)
	workerCfg := worker.Config{
		Datasets: []string{cfg.Dataset},
		CacheTTL: cfg.Cache.LocalTTL,
	}
	if err := runWorker.Start(workerCfg); err != nil {
		return fmt.Errorf("failed to start run worker: %w", err)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, cfg.Dataset, repo, cacheImpl, busImpl, engine, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("auditlens is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the run worker first so in-flight runs wind down
	if err := runWorker.Stop(); err != nil {
		slog.Error("failed to stop run worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("auditlens shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║              🔎 AUDITLENS                 ║")
	fmt.Println("  ║     Procurement Risk Scoring Engine       ║")
	fmt.Println("  ║      Audit where it matters most.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Mode:     %s\n", cfg.Mode)
	fmt.Printf("  Dataset:  %s\n", cfg.Dataset)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /runs                  - Request a scoring run")
	fmt.Println("    GET  /runs                  - List scoring runs")
	fmt.Println("    GET  /runs/{id}             - Get a run with diagnostics")
	fmt.Println("    GET  /runs/{id}/diagnostics - Get run diagnostics only")
	fmt.Println("    GET  /scores                - List scored contracts")
	fmt.Println("    GET  /contracts/{id}/score  - Get one contract's score")
	fmt.Println("    GET  /leaderboard           - Agency leaderboard")
	fmt.Println("    GET  /drift/{id}            - Feature drift for a run")
	fmt.Println("    GET  /rules                 - List flag rules")
	fmt.Println("    POST /rules                 - Create a flag rule")
	fmt.Println("    POST /rules/reload          - Hot-reload rules from database")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
