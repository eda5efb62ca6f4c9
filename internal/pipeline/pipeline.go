// Package pipeline orchestrates one scoring run end to end: population
// load, feature build, the three detectors, score combination, calibration,
// audit flag rules, aggregation, drift, and persistence. Stages run in the
// order the data dependencies demand; the network detector and the combiner
// are barriers, everything between them parallelizes internally.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/auditlens/auditlens/internal/aggregate"
	"github.com/auditlens/auditlens/internal/anomaly"
	"github.com/auditlens/auditlens/internal/composite"
	"github.com/auditlens/auditlens/internal/domain"
	"github.com/auditlens/auditlens/internal/drift"
	"github.com/auditlens/auditlens/internal/features"
	"github.com/auditlens/auditlens/internal/network"
	"github.com/auditlens/auditlens/internal/rules"
	"github.com/auditlens/auditlens/internal/splitting"
)

var tracer = otel.Tracer("auditlens-pipeline")

// ArtifactWriter persists a run's columnar outputs.
type ArtifactWriter interface {
	WriteScores(runID string, scores []*domain.RiskScore) (string, error)
	WriteLeaderboard(runID string, rows []*domain.AgencyLeaderboardRow) (string, error)
}

// Runner executes scoring runs. It is safe for concurrent use as long as the
// repository serializes run IDs; two runs of the same ID conflict at SaveRun.
type Runner struct {
	cfg    *domain.Config
	repo   domain.Repository
	bus    domain.EventBus
	engine *rules.Engine
	writer ArtifactWriter

	label   *rules.LabelProgram
	monitor *drift.Monitor
	table   *domain.ThresholdTable

	maxWorkers int
}

// NewRunner wires a Runner from validated configuration. The bus, flag rule
// engine, and artifact writer are optional: a nil bus publishes nothing, a
// nil engine skips flag rules, a nil writer skips artifacts.
func NewRunner(cfg *domain.Config, repo domain.Repository, bus domain.EventBus, engine *rules.Engine, writer ArtifactWriter) (*Runner, error) {
	label, err := rules.CompileLabel(cfg.Scoring.Calibration.LabelExpression)
	if err != nil {
		return nil, fmt.Errorf("calibration label: %w", err)
	}

	workers := cfg.Pipeline.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	return &Runner{
		cfg:        cfg,
		repo:       repo,
		bus:        bus,
		engine:     engine,
		writer:     writer,
		label:      label,
		monitor:    drift.New(cfg.Drift),
		table:      cfg.Thresholds.Table(),
		maxWorkers: workers,
	}, nil
}

// Run executes one scoring run over the dataset's full contract population.
// An empty runID generates one; an empty dataset uses the configured
// default. The returned run carries the final status and diagnostics even
// when err is non-nil.
func (r *Runner) Run(ctx context.Context, runID, dataset string) (*domain.ScoringRun, error) {
	if dataset == "" {
		dataset = r.cfg.Dataset
	}
	if runID == "" {
		runID = uuid.New().String()
	}

	ctx, span := tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("dataset", dataset),
		),
	)
	defer span.End()

	run := &domain.ScoringRun{
		ID:        runID,
		Dataset:   dataset,
		Status:    domain.RunRunning,
		Seed:      r.cfg.Scoring.Seed,
		StartedAt: time.Now().UTC(),
		Diagnostics: domain.RunDiagnostics{
			CalibrationApplied: true,
		},
	}
	if err := r.repo.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to register run: %w", err)
	}
	r.publish(ctx, dataset, domain.TopicRunStarted, domain.RunEvent{
		RunID: runID, Dataset: dataset, Status: domain.RunRunning,
	})

	start := time.Now()
	scored, err := r.execute(ctx, run)
	run.EndedAt = time.Now().UTC()

	if err != nil {
		run.Status = domain.RunFailed
		if uerr := r.repo.UpdateRun(ctx, run); uerr != nil {
			slog.Error("failed to record run failure",
				"run_id", runID,
				"error", uerr,
			)
		}
		r.publish(ctx, dataset, domain.TopicRunFailed, domain.RunEvent{
			RunID: runID, Dataset: dataset, Status: domain.RunFailed, Error: err.Error(),
		})
		return run, err
	}

	run.Scored = scored
	run.Status = domain.RunCompleted
	if run.Diagnostics.Degraded() {
		run.Status = domain.RunDegraded
	}
	if err := r.repo.UpdateRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to finalize run: %w", err)
	}
	r.publish(ctx, dataset, domain.TopicRunCompleted, domain.RunEvent{
		RunID: runID, Dataset: dataset, Status: run.Status, Scored: scored,
	})

	slog.Info("scoring run finished",
		"run_id", runID,
		"dataset", dataset,
		"status", run.Status,
		"contracts", run.Contracts,
		"scored", scored,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return run, nil
}

// execute runs the scoring stages in dependency order. Fatal errors abort
// the run; everything recoverable lands in the diagnostics instead.
func (r *Runner) execute(ctx context.Context, run *domain.ScoringRun) (int, error) {
	step := stageTimer(run.ID)

	contracts, err := r.loadPopulation(ctx, run)
	if err != nil {
		return 0, err
	}
	step("load")

	contracts, vectors := r.buildFeatures(ctx, run, contracts)
	if len(contracts) == 0 {
		return 0, fmt.Errorf("every partition failed feature assembly")
	}
	step("features")

	anomalyRes, err := r.scoreAnomaly(ctx, vectors)
	if err != nil {
		return 0, err
	}
	step("anomaly")

	splitRes := r.scoreSplitting(ctx, contracts)
	step("splitting")

	netRes := r.scoreNetwork(ctx, contracts)
	step("network")

	scores := r.combine(ctx, run, contracts, vectors, anomalyRes, splitRes, netRes)
	if err := r.calibrate(ctx, run, contracts, scores); err != nil {
		return 0, err
	}
	step("combine")

	r.applyFlagRules(ctx, run, contracts, scores)
	step("rules")

	board := r.aggregateBoard(ctx, run, contracts, scores)
	r.computeDrift(ctx, run, contracts, vectors)
	step("aggregate")

	if err := r.persist(ctx, run, scores, board); err != nil {
		return 0, err
	}
	step("persist")

	return len(scores), nil
}

// loadPopulation fetches the dataset's contracts and enforces the ingestion
// guarantees before any scoring. A violation is fatal for the whole run.
func (r *Runner) loadPopulation(ctx context.Context, run *domain.ScoringRun) ([]*domain.Contract, error) {
	ctx, span := tracer.Start(ctx, "pipeline.load")
	defer span.End()

	contracts, err := r.repo.ListContracts(ctx, run.Dataset, domain.ContractFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load contracts: %w", err)
	}
	if len(contracts) == 0 {
		return nil, fmt.Errorf("dataset %q has no contracts", run.Dataset)
	}
	run.Contracts = len(contracts)

	seen := make(map[string]struct{}, len(contracts))
	for _, c := range contracts {
		switch {
		case c.ID == "":
			return nil, &domain.SchemaError{Field: "id_contrato", Reason: "empty contract id"}
		case c.Value <= 0:
			return nil, &domain.SchemaError{ContractID: c.ID, Field: "valor_del_contrato",
				Reason: fmt.Sprintf("non-positive value %v", c.Value)}
		case c.StartDate.IsZero():
			return nil, &domain.SchemaError{ContractID: c.ID, Field: "fecha_de_inicio_del_contrato",
				Reason: "missing start date"}
		}
		if _, dup := seen[c.ID]; dup {
			return nil, &domain.SchemaError{ContractID: c.ID, Field: "id_contrato",
				Reason: "duplicate contract id"}
		}
		seen[c.ID] = struct{}{}
	}
	return contracts, nil
}

// partitionKey groups contracts for the parallel feature stage.
func (r *Runner) partitionKey(c *domain.Contract) string {
	if r.cfg.Pipeline.PartitionBy == "vendor" {
		return "vendor:" + c.VendorID
	}
	return "agency:" + c.AgencyID
}

// buildFeatures computes the population context serially, then assembles
// vectors across partitions. A panicking partition is excluded and recorded
// with its contract IDs; the remaining partitions proceed. Returns the kept
// contracts and their vectors, parallel and in input order.
func (r *Runner) buildFeatures(ctx context.Context, run *domain.ScoringRun, contracts []*domain.Contract) ([]*domain.Contract, []domain.FeatureVector) {
	_, span := tracer.Start(ctx, "pipeline.features")
	defer span.End()

	builder := features.NewBuilder(r.cfg.Features, r.cfg.Splitting.ProximityBand, r.table)
	fctx := builder.BuildContext(contracts)

	partitions := make(map[string][]int)
	for i, c := range contracts {
		key := r.partitionKey(c)
		partitions[key] = append(partitions[key], i)
	}
	keys := make([]string, 0, len(partitions))
	for k := range partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vectors := make([]domain.FeatureVector, len(contracts))
	failures := make([]*domain.PartitionFailure, len(keys))

	var wg sync.WaitGroup
	sem := make(chan struct{}, r.maxWorkers)
	for i, key := range keys {
		wg.Add(1)
		go func(idx int, key string) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			members := partitions[key]
			defer func() {
				if rec := recover(); rec != nil {
					ids := make([]string, len(members))
					for j, m := range members {
						ids[j] = contracts[m].ID
					}
					failures[idx] = &domain.PartitionFailure{
						Partition:   key,
						Class:       "feature_panic",
						Reason:      fmt.Sprintf("%v", rec),
						Contracts:   len(members),
						ContractIDs: ids,
					}
				}
			}()
			for _, m := range members {
				vectors[m] = fctx.Vector(contracts[m])
			}
		}(i, key)
	}
	wg.Wait()

	excluded := make(map[int]struct{})
	for i, f := range failures {
		if f == nil {
			continue
		}
		run.Diagnostics.AddFailure(*f)
		slog.Warn("partition excluded from run",
			"run_id", run.ID,
			"partition", f.Partition,
			"contracts", f.Contracts,
			"reason", f.Reason,
		)
		for _, m := range partitions[keys[i]] {
			excluded[m] = struct{}{}
		}
	}
	if len(excluded) == 0 {
		return contracts, vectors
	}

	kept := make([]*domain.Contract, 0, len(contracts)-len(excluded))
	keptVectors := make([]domain.FeatureVector, 0, len(contracts)-len(excluded))
	for i := range contracts {
		if _, skip := excluded[i]; skip {
			continue
		}
		kept = append(kept, contracts[i])
		keptVectors = append(keptVectors, vectors[i])
	}
	return kept, keptVectors
}

func (r *Runner) scoreAnomaly(ctx context.Context, vectors []domain.FeatureVector) (*anomaly.Result, error) {
	_, span := tracer.Start(ctx, "pipeline.anomaly")
	defer span.End()

	matrix := make([][]float64, len(vectors))
	for i, v := range vectors {
		matrix[i] = v.Values
	}
	res, err := anomaly.New(r.cfg.Anomaly, r.cfg.Scoring.Seed).FitScore(matrix)
	if err != nil {
		return nil, fmt.Errorf("process anomaly detector: %w", err)
	}
	return res, nil
}

func (r *Runner) scoreSplitting(ctx context.Context, contracts []*domain.Contract) *splitting.Result {
	_, span := tracer.Start(ctx, "pipeline.splitting")
	defer span.End()

	return splitting.New(r.cfg.Splitting, r.table).Score(contracts)
}

func (r *Runner) scoreNetwork(ctx context.Context, contracts []*domain.Contract) *network.Result {
	_, span := tracer.Start(ctx, "pipeline.network")
	defer span.End()

	return network.New(r.cfg.Network, r.cfg.Scoring.Seed).Analyze(contracts)
}

// combine assembles the scored rows from the three detector results and
// appends the per-row quality flags. Rows keep the input order, so repeated
// runs produce identical output.
func (r *Runner) combine(ctx context.Context, run *domain.ScoringRun, contracts []*domain.Contract, vectors []domain.FeatureVector, anomalyRes *anomaly.Result, splitRes *splitting.Result, netRes *network.Result) []*domain.RiskScore {
	_, span := tracer.Start(ctx, "pipeline.combine")
	defer span.End()

	combiner := composite.NewCombiner(r.cfg.Scoring.Weights, r.cfg.Scoring.Cuts)
	scores := make([]*domain.RiskScore, len(contracts))
	for i, c := range contracts {
		netScore, community := netRes.ContractScore(c)
		sub := domain.SubScores{
			ProcessAnomaly: anomalyRes.Scores[i],
			Splitting:      splitRes.Scores[i],
			Network:        netScore,
			Community:      community,
			SplittingValid: splitRes.Valid[i],
		}
		s := &domain.RiskScore{
			ContractID:   c.ID,
			RunID:        run.ID,
			Sub:          sub,
			Raw:          combiner.Raw(sub),
			AgencyID:     c.AgencyID,
			VendorID:     c.VendorID,
			Value:        c.Value,
			Year:         c.Year(),
			Sector:       c.Sector,
			Departamento: c.Departamento,
			StartDate:    c.StartDate,
			IsDirect:     c.IsDirect,
			IsModified:   c.IsModified,
		}
		if !sub.SplittingValid {
			r.flag(run, s, domain.FlagMissingThresholdYear)
			run.Diagnostics.CountMissingYear(c.Year())
		}
		if vectors[i].InsufficientPopulation {
			r.flag(run, s, domain.FlagInsufficientPopulation)
			run.Diagnostics.CountInsufficient(c.Sector)
		}
		if anomalyRes.Scores[i] >= anomalyRes.TailCut {
			r.flag(run, s, domain.FlagContaminationTail)
		}
		scores[i] = s
	}
	return scores
}

// flag appends a row flag once and tallies it in the diagnostics.
func (r *Runner) flag(run *domain.ScoringRun, s *domain.RiskScore, flag string) {
	if s.HasFlag(flag) {
		return
	}
	s.Flags = append(s.Flags, flag)
	run.Diagnostics.CountFlag(flag)
}

// calibrate fits the isotonic curve on the train split, or the full
// population when the split is empty, and applies it to every row. A
// degenerate fit falls back to raw scores and flags every row.
func (r *Runner) calibrate(ctx context.Context, run *domain.ScoringRun, contracts []*domain.Contract, scores []*domain.RiskScore) error {
	_, span := tracer.Start(ctx, "pipeline.calibrate")
	defer span.End()

	cal := r.cfg.Scoring.Calibration
	trainStart, trainEnd, bounded, err := cal.TrainRange()
	if err != nil {
		return err
	}

	fitScores, fitLabels, err := r.fitSample(contracts, scores, trainStart, trainEnd, bounded)
	if err != nil {
		return err
	}
	if bounded && len(fitScores) == 0 {
		slog.Warn("empty train split, calibrating on full population", "run_id", run.ID)
		fitScores, fitLabels, err = r.fitSample(contracts, scores, time.Time{}, time.Time{}, false)
		if err != nil {
			return err
		}
	}

	calibrator, err := composite.FitIsotonic(fitScores, fitLabels, cal.MinSamples)
	if err != nil {
		if !errors.Is(err, domain.ErrCalibrationFit) {
			return err
		}
		run.Diagnostics.CalibrationApplied = false
		run.Diagnostics.CalibrationNote = err.Error()
		for _, s := range scores {
			s.Calibrated = s.Raw
			s.CalibratedApplied = false
			s.Tier = domain.TierFor(s.Calibrated, r.cfg.Scoring.Cuts)
			r.flag(run, s, domain.FlagCalibrationFallback)
		}
		slog.Warn("calibration fell back to raw scores",
			"run_id", run.ID,
			"reason", err.Error(),
		)
		return nil
	}

	run.Diagnostics.CalibrationApplied = true
	for _, s := range scores {
		s.Calibrated = calibrator.Predict(s.Raw)
		s.CalibratedApplied = true
		s.Tier = domain.TierFor(s.Calibrated, r.cfg.Scoring.Cuts)
	}
	slog.Debug("calibration fitted",
		"run_id", run.ID,
		"samples", calibrator.Samples,
	)
	return nil
}

// fitSample collects the (raw score, proxy label) pairs of rows inside the
// date range, or of all rows when unbounded.
func (r *Runner) fitSample(contracts []*domain.Contract, scores []*domain.RiskScore, start, end time.Time, bounded bool) ([]float64, []bool, error) {
	var fitScores []float64
	var fitLabels []bool
	for i, c := range contracts {
		if bounded && (c.StartDate.Before(start) || c.StartDate.After(end)) {
			continue
		}
		label, err := r.label.Evaluate(c)
		if err != nil {
			return nil, nil, err
		}
		fitScores = append(fitScores, scores[i].Raw)
		fitLabels = append(fitLabels, label)
	}
	return fitScores, fitLabels, nil
}

// applyFlagRules appends audit flag rule hits to each scored row. Rule
// evaluation errors are logged per rule, never fatal for the run.
func (r *Runner) applyFlagRules(ctx context.Context, run *domain.ScoringRun, contracts []*domain.Contract, scores []*domain.RiskScore) {
	if r.engine == nil || r.engine.RulesCount() == 0 {
		return
	}
	ctx, span := tracer.Start(ctx, "pipeline.rules")
	defer span.End()

	for i, c := range contracts {
		results, err := r.engine.EvaluateAll(ctx, c, scores[i])
		if err != nil {
			slog.Error("flag rule evaluation failed",
				"run_id", run.ID,
				"contract_id", c.ID,
				"error", err,
			)
			continue
		}
		for _, res := range results {
			if res.Err != "" {
				slog.Warn("flag rule errored",
					"rule_id", res.RuleID,
					"contract_id", c.ID,
					"error", res.Err,
				)
				continue
			}
			if res.Matched && res.Flag != "" {
				r.flag(run, scores[i], res.Flag)
			}
		}
	}
}

func (r *Runner) aggregateBoard(ctx context.Context, run *domain.ScoringRun, contracts []*domain.Contract, scores []*domain.RiskScore) []*domain.AgencyLeaderboardRow {
	_, span := tracer.Start(ctx, "pipeline.aggregate")
	defer span.End()

	names := make(map[string]string)
	for _, c := range contracts {
		if c.AgencyName != "" {
			names[c.AgencyID] = c.AgencyName
		}
	}
	return aggregate.Leaderboard(run.ID, scores, names)
}

// computeDrift compares feature distributions between the train and
// validation slices and raises a bus alert when any feature crosses the
// retrain threshold. Skipped when either slice is unset or empty.
func (r *Runner) computeDrift(ctx context.Context, run *domain.ScoringRun, contracts []*domain.Contract, vectors []domain.FeatureVector) {
	cal := r.cfg.Scoring.Calibration
	trainStart, trainEnd, trainOK, err := cal.TrainRange()
	if err != nil || !trainOK {
		return
	}
	validStart, validEnd, validOK, err := cal.ValidRange()
	if err != nil || !validOK {
		return
	}

	ctx, span := tracer.Start(ctx, "pipeline.drift")
	defer span.End()

	var train, valid [][]float64
	for i, c := range contracts {
		switch {
		case !c.StartDate.Before(trainStart) && !c.StartDate.After(trainEnd):
			train = append(train, vectors[i].Values)
		case !c.StartDate.Before(validStart) && !c.StartDate.After(validEnd):
			valid = append(valid, vectors[i].Values)
		}
	}

	readings := r.monitor.Compare(train, valid)
	if len(readings) == 0 {
		return
	}
	run.Diagnostics.Drift = readings

	alerting := r.monitor.Alerting(readings)
	if len(alerting) == 0 {
		return
	}
	slog.Warn("feature drift beyond retrain threshold",
		"run_id", run.ID,
		"features", len(alerting),
	)
	r.publish(ctx, run.Dataset, domain.TopicDriftAlert, domain.DriftAlert{
		RunID: run.ID, Dataset: run.Dataset, Features: alerting,
	})
}

// persist writes the run outputs. Repository writes are fatal; artifact
// writes only log, the database already holds the outputs.
func (r *Runner) persist(ctx context.Context, run *domain.ScoringRun, scores []*domain.RiskScore, board []*domain.AgencyLeaderboardRow) error {
	ctx, span := tracer.Start(ctx, "pipeline.persist")
	defer span.End()

	if err := r.repo.SaveScores(ctx, run.ID, scores); err != nil {
		return fmt.Errorf("failed to persist scores: %w", err)
	}
	if err := r.repo.SaveLeaderboard(ctx, run.ID, board); err != nil {
		return fmt.Errorf("failed to persist leaderboard: %w", err)
	}

	if r.writer == nil {
		return nil
	}
	if path, err := r.writer.WriteScores(run.ID, scores); err != nil {
		slog.Error("failed to write scores artifact", "run_id", run.ID, "error", err)
	} else {
		slog.Debug("scores artifact written", "run_id", run.ID, "path", path)
	}
	if path, err := r.writer.WriteLeaderboard(run.ID, board); err != nil {
		slog.Error("failed to write leaderboard artifact", "run_id", run.ID, "error", err)
	} else {
		slog.Debug("leaderboard artifact written", "run_id", run.ID, "path", path)
	}
	return nil
}

// publish sends a bus event, logging rather than failing on error. Scoring
// outcomes never depend on bus availability.
func (r *Runner) publish(ctx context.Context, dataset, topic string, payload any) {
	if r.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := r.bus.Publish(ctx, dataset, topic, data); err != nil {
		slog.Warn("failed to publish event",
			"topic", topic,
			"dataset", dataset,
			"error", err,
		)
	}
}

// stageTimer returns a closure logging each stage's elapsed time since the
// previous one.
func stageTimer(runID string) func(string) {
	last := time.Now()
	return func(stage string) {
		slog.Debug("stage complete",
			"run_id", runID,
			"stage", stage,
			"duration_ms", time.Since(last).Milliseconds(),
		)
		last = time.Now()
	}
}
