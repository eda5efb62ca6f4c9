// Package worker executes scoring runs requested over the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/auditlens/auditlens/internal/cache"
	"github.com/auditlens/auditlens/internal/domain"
)

// Runner executes one scoring run over a dataset. *pipeline.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, runID, dataset string) (*domain.ScoringRun, error)
}

// Worker listens for run requests on the EventBus and drives the pipeline.
// Lifecycle events (run.started, run.completed, run.failed) are published by
// the runner itself; the worker keeps the cache in step with finished runs.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	runner Runner
	cache  domain.Cache

	cacheTTL time.Duration

	mu       sync.Mutex
	inflight map[string]bool

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Datasets is the list of datasets to listen on. At least one is required.
	Datasets []string

	// CacheTTL bounds the lifetime of entries the worker warms after a run.
	// Zero keeps the default of 15 minutes.
	CacheTTL time.Duration
}

// NewWorker creates a run worker. The cache may be nil, in which case
// finished runs leave no cache entries behind.
func NewWorker(bus domain.EventBus, repo domain.Repository, runner Runner, c domain.Cache) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		runner:   runner,
		cache:    c,
		cacheTTL: 15 * time.Minute,
		inflight: make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes the run-request handler for every configured dataset.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.Datasets) == 0 {
		return fmt.Errorf("worker requires at least one dataset")
	}
	if cfg.CacheTTL > 0 {
		w.cacheTTL = cfg.CacheTTL
	}

	for _, dataset := range cfg.Datasets {
		if err := w.startDatasetWorker(dataset); err != nil {
			slog.Error("failed to start worker for dataset",
				"dataset", dataset,
				"error", err,
			)
			continue
		}
	}

	if len(w.subscriptions) == 0 {
		return fmt.Errorf("no dataset subscription could be established")
	}

	slog.Info("workers started",
		"dataset_count", len(w.subscriptions),
	)

	return nil
}

// startDatasetWorker subscribes to the run-requested topic for one dataset.
func (w *Worker) startDatasetWorker(dataset string) error {
	sub, err := w.bus.Subscribe(w.ctx, dataset, domain.TopicRunRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.handleRequest(ctx, dataset, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("dataset worker started",
		"dataset", dataset,
		"topic", domain.TopicRunRequested,
	)

	return nil
}

// handleRequest executes one requested scoring run.
func (w *Worker) handleRequest(ctx context.Context, dataset string, msg *domain.Message) error {
	start := time.Now()

	var req domain.RunRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse run request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use the payload dataset if provided
	if req.Dataset != "" {
		dataset = req.Dataset
	}

	if !w.acquire(dataset) {
		slog.Warn("run already in flight for dataset, skipping request",
			"dataset", dataset,
			"run_id", req.RunID,
		)
		return nil
	}
	w.wg.Add(1)
	defer func() {
		w.release(dataset)
		w.wg.Done()
	}()

	slog.Debug("executing requested run",
		"run_id", req.RunID,
		"dataset", dataset,
	)

	run, err := w.runner.Run(ctx, req.RunID, dataset)
	if err != nil {
		// The runner has already recorded and published the failure.
		slog.Error("requested run failed",
			"run_id", req.RunID,
			"dataset", dataset,
			"error", err,
		)
		return err
	}

	w.refreshCache(ctx, dataset, run.ID)

	slog.Info("requested run finished",
		"run_id", run.ID,
		"dataset", dataset,
		"status", run.Status,
		"scored", run.Scored,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// acquire marks a dataset as having a run in flight. Returns false when one
// is already running, so overlapping requests collapse into a single run.
func (w *Worker) acquire(dataset string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inflight[dataset] {
		return false
	}
	w.inflight[dataset] = true
	return true
}

func (w *Worker) release(dataset string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, dataset)
}

// refreshCache repoints the latest-run key and warms the leaderboard so the
// first API reads after a run do not all fall through to the repository.
func (w *Worker) refreshCache(ctx context.Context, dataset, runID string) {
	if w.cache == nil {
		return
	}

	if err := w.cache.Set(ctx, dataset, cache.KeyLatestRun, []byte(runID), w.cacheTTL); err != nil {
		slog.Error("failed to update latest run key",
			"run_id", runID,
			"error", err,
		)
	}

	if w.repo == nil {
		return
	}
	rows, err := w.repo.GetLeaderboard(ctx, runID, 0)
	if err != nil {
		slog.Error("failed to load leaderboard for cache",
			"run_id", runID,
			"error", err,
		)
		return
	}
	if err := w.cache.SetLeaderboard(ctx, dataset, runID, rows, w.cacheTTL); err != nil {
		slog.Error("failed to cache leaderboard",
			"run_id", runID,
			"error", err,
		)
	}
}

// Stop stops all workers. In-flight runs are canceled through the
// subscription context before the handler goroutines are awaited.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	inflight := len(w.inflight)
	w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          inflight,
	}
}
