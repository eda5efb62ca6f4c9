package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/auditlens/auditlens/internal/cache"
	"github.com/auditlens/auditlens/internal/domain"
	"github.com/auditlens/auditlens/internal/rules"
)

// Cache lifetimes for API reads. Leaderboards and score pages are immutable
// per run; the latest-run pointer is refreshed by the worker when a run
// finishes.
const (
	leaderboardTTL = 15 * time.Minute
	latestRunTTL   = 15 * time.Minute
	scoresTTL      = 5 * time.Minute
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *rules.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, c domain.Cache, bus domain.EventBus, engine *rules.Engine, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   c,
		bus:     bus,
		engine:  engine,
		version: version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// TriggerRunRequest is the request body for POST /runs. All fields are
// optional; an absent run ID is generated server-side.
type TriggerRunRequest struct {
	RunID string `json:"runId"`
}

// TriggerRun requests a new scoring run over the dataset. The run executes
// asynchronously on the worker; the response only acknowledges the request.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dataset := GetDataset(ctx)

	var req TriggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	payload, _ := json.Marshal(domain.RunRequest{RunID: runID, Dataset: dataset})
	if err := h.bus.Publish(ctx, dataset, domain.TopicRunRequested, payload); err != nil {
		slog.Error("failed to publish run request", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to request run",
		})
		return
	}

	slog.Info("run requested", "run_id", runID, "dataset", dataset)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"runId":   runID,
		"dataset": dataset,
		"status":  "requested",
	})
}

// ListRuns returns recent scoring runs for the dataset, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dataset := GetDataset(ctx)

	limit := queryInt(r, "limit", 20)

	runs, err := h.repo.ListRuns(ctx, dataset, limit)
	if err != nil {
		slog.Error("failed to list runs", "dataset", dataset, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list runs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun retrieves a scoring run by ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetRunDiagnostics retrieves only the diagnostics block of a run: excluded
// partitions, missing threshold years, calibration state, flag counts, drift.
func (h *Handler) GetRunDiagnostics(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runId":       run.ID,
		"status":      run.Status,
		"diagnostics": run.Diagnostics,
	})
}

// GetDrift returns the per-feature PSI readings of a run.
func (h *Handler) GetDrift(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runId": run.ID,
		"drift": run.Diagnostics.Drift,
		"count": len(run.Diagnostics.Drift),
	})
}

// loadRun fetches the run named by the {id} URL parameter, writing the error
// response itself when the run cannot be served.
func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*domain.ScoringRun, bool) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run id is required",
		})
		return nil, false
	}

	run, err := h.repo.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "run not found",
			})
			return nil, false
		}
		slog.Error("failed to get run", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get run",
		})
		return nil, false
	}

	return run, true
}

// ListScores returns scored rows of a run, highest calibrated score first.
// With no run_id parameter the latest finished run is used. Filters: tier,
// agency_id, vendor_id, sector, departamento, year_from, year_to, min_score,
// limit, offset.
func (h *Handler) ListScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dataset := GetDataset(ctx)

	runID, ok := h.resolveRunID(w, r, dataset)
	if !ok {
		return
	}

	filter := domain.ScoreFilter{
		Tier:         domain.RiskTier(r.URL.Query().Get("tier")),
		AgencyID:     r.URL.Query().Get("agency_id"),
		VendorID:     r.URL.Query().Get("vendor_id"),
		Sector:       r.URL.Query().Get("sector"),
		Departamento: r.URL.Query().Get("departamento"),
		YearFrom:     queryInt(r, "year_from", 0),
		YearTo:       queryInt(r, "year_to", 0),
		MinScore:     queryFloat(r, "min_score", 0),
		Limit:        queryInt(r, "limit", 100),
		Offset:       queryInt(r, "offset", 0),
	}

	// Rows are immutable once a run finishes, so responses cache per
	// resolved run and query. A new latest run changes the key.
	key := cache.KeyScoresPrefix + runID + ":" + r.URL.RawQuery
	if h.cache != nil {
		if raw, err := h.cache.Get(ctx, dataset, key); err == nil && len(raw) > 0 {
			var scores []*domain.RiskScore
			if json.Unmarshal(raw, &scores) == nil {
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"runId":  runID,
					"scores": scores,
					"count":  len(scores),
				})
				return
			}
		}
	}

	scores, err := h.repo.ListScores(ctx, runID, filter)
	if err != nil {
		slog.Error("failed to list scores", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list scores",
		})
		return
	}

	if h.cache != nil {
		if raw, err := json.Marshal(scores); err == nil {
			if err := h.cache.Set(ctx, dataset, key, raw, scoresTTL); err != nil {
				slog.Warn("failed to cache scores page", "run_id", runID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runId":  runID,
		"scores": scores,
		"count":  len(scores),
	})
}

// GetContractScore retrieves one contract's scored row. With no run_id
// parameter the latest finished run is used.
func (h *Handler) GetContractScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dataset := GetDataset(ctx)

	contractID := chi.URLParam(r, "id")
	if contractID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "contract id is required",
		})
		return
	}

	runID, ok := h.resolveRunID(w, r, dataset)
	if !ok {
		return
	}

	score, err := h.repo.GetScore(ctx, runID, contractID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "score not found",
			})
			return
		}
		slog.Error("failed to get score", "run_id", runID, "contract_id", contractID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get score",
		})
		return
	}

	writeJSON(w, http.StatusOK, score)
}

// GetLeaderboard returns the agency leaderboard of a run ranked by value at
// risk, optionally filtered by sector or departamento and truncated to the
// top N. With no run_id parameter the latest finished run is used.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dataset := GetDataset(ctx)

	runID, ok := h.resolveRunID(w, r, dataset)
	if !ok {
		return
	}

	rows, err := h.loadLeaderboard(ctx, dataset, runID)
	if err != nil {
		slog.Error("failed to load leaderboard", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load leaderboard",
		})
		return
	}

	sector := r.URL.Query().Get("sector")
	departamento := r.URL.Query().Get("departamento")
	if sector != "" || departamento != "" {
		filtered := rows[:0:0]
		for _, row := range rows {
			if sector != "" && row.Sector != sector {
				continue
			}
			if departamento != "" && row.Departamento != departamento {
				continue
			}
			filtered = append(filtered, row)
		}
		rows = filtered
	}

	limit := queryInt(r, "limit", 20)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runId":       runID,
		"leaderboard": rows,
		"count":       len(rows),
	})
}

// loadLeaderboard serves the full board from cache when possible, falling
// back to the repository and caching the result.
func (h *Handler) loadLeaderboard(ctx context.Context, dataset, runID string) ([]*domain.AgencyLeaderboardRow, error) {
	if h.cache != nil {
		rows, err := h.cache.GetLeaderboard(ctx, dataset, runID)
		if err == nil && rows != nil {
			return rows, nil
		}
	}

	rows, err := h.repo.GetLeaderboard(ctx, runID, 0)
	if err != nil {
		return nil, err
	}

	if h.cache != nil && len(rows) > 0 {
		if err := h.cache.SetLeaderboard(ctx, dataset, runID, rows, leaderboardTTL); err != nil {
			slog.Warn("failed to cache leaderboard", "run_id", runID, "error", err)
		}
	}

	return rows, nil
}

// resolveRunID picks the run to read from: the run_id query parameter when
// present, otherwise the latest finished run of the dataset. Writes the error
// response itself when no run can be resolved.
func (h *Handler) resolveRunID(w http.ResponseWriter, r *http.Request, dataset string) (string, bool) {
	if runID := r.URL.Query().Get("run_id"); runID != "" {
		return runID, true
	}

	runID, err := h.latestRunID(r.Context(), dataset)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no finished run for dataset",
			})
			return "", false
		}
		slog.Error("failed to resolve latest run", "dataset", dataset, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to resolve latest run",
		})
		return "", false
	}

	return runID, true
}

// latestRunID resolves the most recent completed or degraded run, checking
// the cache key maintained by the worker before going to the repository.
func (h *Handler) latestRunID(ctx context.Context, dataset string) (string, error) {
	if h.cache != nil {
		if v, err := h.cache.Get(ctx, dataset, cache.KeyLatestRun); err == nil && len(v) > 0 {
			return string(v), nil
		}
	}

	runs, err := h.repo.ListRuns(ctx, dataset, 10)
	if err != nil {
		return "", err
	}
	for _, run := range runs {
		if run.Status == domain.RunCompleted || run.Status == domain.RunDegraded {
			if h.cache != nil {
				_ = h.cache.Set(ctx, dataset, cache.KeyLatestRun, []byte(run.ID), latestRunTTL)
			}
			return run.ID, nil
		}
	}

	return "", domain.ErrNotFound
}

// ListRules returns all loaded flag rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.Rules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a flag rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.Rules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a flag rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Flag        string `json:"flag"`
	Severity    string `json:"severity,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// CreateRule validates and saves a new flag rule for the dataset.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dataset := GetDataset(ctx)

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if req.ID == "" || req.Name == "" || req.Expression == "" || req.Flag == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, expression, and flag are required",
		})
		return
	}

	severity := req.Severity
	if severity == "" {
		severity = domain.SeverityInfo
	}
	if severity != domain.SeverityInfo && severity != domain.SeverityWarning && severity != domain.SeverityCritical {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "severity must be info, warning, or critical",
		})
		return
	}

	rule := &domain.FlagRule{
		ID:          req.ID,
		Dataset:     dataset,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Flag:        req.Flag,
		Severity:    severity,
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression without mutating loaded rules
	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveFlagRule(ctx, dataset, rule); err != nil {
			slog.Error("failed to save flag rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("flag rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule deletes a flag rule and auto-reloads the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dataset := GetDataset(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteFlagRule(ctx, dataset, ruleID); err != nil {
			slog.Error("failed to delete flag rule", "id", ruleID, "error", err)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}

		// Auto-reload the engine after delete
		dbRules, err := h.repo.ListFlagRules(ctx, dataset)
		if err != nil {
			slog.Error("failed to reload rules after delete", "error", err)
		} else if err := h.engine.ReloadRules(dbRules); err != nil {
			slog.Error("failed to reload rules into engine", "error", err)
		} else {
			slog.Info("rules auto-reloaded after delete", "count", len(dbRules))
		}
	}

	slog.Info("flag rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Rule deleted and engine reloaded.",
	})
}

// ReloadRules reloads all flag rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dataset := GetDataset(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListFlagRules(ctx, dataset)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryFloat(r *http.Request, name string, def float64) float64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
