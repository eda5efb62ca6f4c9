// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/auditlens/auditlens/internal/domain"
)

var ErrInvalidInput = errors.New("invalid input")

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const contractColumns = `id, dataset, agency_id, agency_nit, agency_name, departamento,
	city, orden, sector, rama, vendor_id, vendor_name, modalidad, contract_type,
	status, category_code, valor, signed_at, start_date, end_date, added_days,
	es_pyme, is_direct, is_modified, created_at`

// SaveContracts upserts a batch of contracts in one transaction. Re-ingesting
// a snapshot page overwrites rows in place, so repeated pulls are idempotent.
func (r *SQLRepository) SaveContracts(ctx context.Context, dataset string, contracts []*domain.Contract) error {
	if dataset == "" {
		return fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}
	if len(contracts) == 0 {
		return nil
	}

	query := `
		INSERT INTO contracts (` + contractColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, dataset) DO UPDATE SET
			agency_id = excluded.agency_id,
			agency_nit = excluded.agency_nit,
			agency_name = excluded.agency_name,
			departamento = excluded.departamento,
			city = excluded.city,
			orden = excluded.orden,
			sector = excluded.sector,
			rama = excluded.rama,
			vendor_id = excluded.vendor_id,
			vendor_name = excluded.vendor_name,
			modalidad = excluded.modalidad,
			contract_type = excluded.contract_type,
			status = excluded.status,
			category_code = excluded.category_code,
			valor = excluded.valor,
			signed_at = excluded.signed_at,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			added_days = excluded.added_days,
			es_pyme = excluded.es_pyme,
			is_direct = excluded.is_direct,
			is_modified = excluded.is_modified
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range contracts {
		if c.ID == "" {
			return fmt.Errorf("%w: contract ID is required", ErrInvalidInput)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		if _, err := stmt.ExecContext(ctx,
			c.ID, dataset, c.AgencyID, c.AgencyNIT, c.AgencyName, c.Departamento,
			c.City, c.Orden, c.Sector, c.Rama, c.VendorID, c.VendorName,
			c.Modalidad, c.ContractType, c.Status, c.CategoryCode,
			c.Value, c.SignedAt, c.StartDate, c.EndDate, c.AddedDays,
			boolInt(c.EsPyme), boolInt(c.IsDirect), boolInt(c.IsModified),
			createdAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetContract retrieves a contract by ID within a dataset.
func (r *SQLRepository) GetContract(ctx context.Context, dataset string, contractID string) (*domain.Contract, error) {
	if dataset == "" {
		return nil, fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}

	query := `SELECT ` + contractColumns + ` FROM contracts WHERE dataset = ? AND id = ?`

	c, err := scanContract(r.db.QueryRowContext(ctx, r.rebind(query), dataset, contractID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// ListContracts retrieves contracts in deterministic start-date order.
func (r *SQLRepository) ListContracts(ctx context.Context, dataset string, filter domain.ContractFilter) ([]*domain.Contract, error) {
	if dataset == "" {
		return nil, fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}

	query := `SELECT ` + contractColumns + ` FROM contracts WHERE dataset = ?`
	args := []any{dataset}

	if !filter.From.IsZero() {
		query += ` AND start_date >= ?`
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		query += ` AND start_date < ?`
		args = append(args, filter.To)
	}
	if filter.AgencyID != "" {
		query += ` AND agency_id = ?`
		args = append(args, filter.AgencyID)
	}
	if filter.VendorID != "" {
		query += ` AND vendor_id = ?`
		args = append(args, filter.VendorID)
	}

	query += ` ORDER BY start_date, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []*domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}

	return contracts, rows.Err()
}

// CountContracts returns the number of contracts in a dataset.
func (r *SQLRepository) CountContracts(ctx context.Context, dataset string) (int, error) {
	if dataset == "" {
		return 0, fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}

	var count int
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT COUNT(1) FROM contracts WHERE dataset = ?`), dataset,
	).Scan(&count)
	return count, err
}

// SaveRun stores a new scoring run. Run IDs are write-once.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.ScoringRun) error {
	if run.ID == "" {
		return fmt.Errorf("%w: run ID is required", ErrInvalidInput)
	}

	var exists int
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT COUNT(1) FROM scoring_runs WHERE id = ?`), run.ID,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", domain.ErrRunConflict, run.ID)
	}

	diagnostics, _ := json.Marshal(run.Diagnostics)

	query := `
		INSERT INTO scoring_runs (
			id, dataset, status, seed, started_at, ended_at, contracts, scored, diagnostics
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		run.ID, run.Dataset, string(run.Status), run.Seed,
		run.StartedAt, run.EndedAt, run.Contracts, run.Scored,
		string(diagnostics),
	)
	return err
}

// UpdateRun updates a run's status, counters, and diagnostics.
func (r *SQLRepository) UpdateRun(ctx context.Context, run *domain.ScoringRun) error {
	if run.ID == "" {
		return fmt.Errorf("%w: run ID is required", ErrInvalidInput)
	}

	diagnostics, _ := json.Marshal(run.Diagnostics)

	query := `
		UPDATE scoring_runs
		SET status = ?, ended_at = ?, contracts = ?, scored = ?, diagnostics = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(run.Status), run.EndedAt, run.Contracts, run.Scored,
		string(diagnostics), run.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// GetRun retrieves a scoring run by ID.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.ScoringRun, error) {
	query := `
		SELECT id, dataset, status, seed, started_at, ended_at, contracts, scored, diagnostics
		FROM scoring_runs
		WHERE id = ?
	`

	var run domain.ScoringRun
	var status, diagnostics string

	err := r.db.QueryRowContext(ctx, r.rebind(query), runID).Scan(
		&run.ID, &run.Dataset, &status, &run.Seed,
		&run.StartedAt, &run.EndedAt, &run.Contracts, &run.Scored,
		&diagnostics,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	if diagnostics != "" {
		json.Unmarshal([]byte(diagnostics), &run.Diagnostics)
	}

	return &run, nil
}

// ListRuns retrieves the most recent runs for a dataset.
func (r *SQLRepository) ListRuns(ctx context.Context, dataset string, limit int) ([]*domain.ScoringRun, error) {
	if dataset == "" {
		return nil, fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, dataset, status, seed, started_at, ended_at, contracts, scored, diagnostics
		FROM scoring_runs
		WHERE dataset = ?
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), dataset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.ScoringRun
	for rows.Next() {
		var run domain.ScoringRun
		var status, diagnostics string

		if err := rows.Scan(
			&run.ID, &run.Dataset, &status, &run.Seed,
			&run.StartedAt, &run.EndedAt, &run.Contracts, &run.Scored,
			&diagnostics,
		); err != nil {
			return nil, err
		}

		run.Status = domain.RunStatus(status)
		if diagnostics != "" {
			json.Unmarshal([]byte(diagnostics), &run.Diagnostics)
		}
		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

const scoreColumns = `run_id, contract_id, process_anomaly, splitting, splitting_valid,
	network, community, raw_score, calibrated, tier, calibrated_applied, flags,
	agency_id, vendor_id, valor, year, sector, departamento, start_date,
	is_direct, is_modified`

// SaveScores stores all scored rows of a run in one transaction.
func (r *SQLRepository) SaveScores(ctx context.Context, runID string, scores []*domain.RiskScore) error {
	if runID == "" {
		return fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}
	if len(scores) == 0 {
		return nil
	}

	query := `
		INSERT INTO risk_scores (` + scoreColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range scores {
		flags, _ := json.Marshal(s.Flags)

		if _, err := stmt.ExecContext(ctx,
			runID, s.ContractID,
			s.Sub.ProcessAnomaly, s.Sub.Splitting, boolInt(s.Sub.SplittingValid),
			s.Sub.Network, s.Sub.Community,
			s.Raw, s.Calibrated, string(s.Tier), boolInt(s.CalibratedApplied),
			string(flags),
			s.AgencyID, s.VendorID, s.Value, s.Year, s.Sector, s.Departamento,
			s.StartDate, boolInt(s.IsDirect), boolInt(s.IsModified),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetScore retrieves one scored row of a run.
func (r *SQLRepository) GetScore(ctx context.Context, runID string, contractID string) (*domain.RiskScore, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	query := `SELECT ` + scoreColumns + ` FROM risk_scores WHERE run_id = ? AND contract_id = ?`

	s, err := scanScore(r.db.QueryRowContext(ctx, r.rebind(query), runID, contractID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return s, err
}

// ListScores retrieves scored rows for a run, highest calibrated score first.
func (r *SQLRepository) ListScores(ctx context.Context, runID string, filter domain.ScoreFilter) ([]*domain.RiskScore, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	query := `SELECT ` + scoreColumns + ` FROM risk_scores WHERE run_id = ?`
	args := []any{runID}

	if filter.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(filter.Tier))
	}
	if filter.AgencyID != "" {
		query += ` AND agency_id = ?`
		args = append(args, filter.AgencyID)
	}
	if filter.VendorID != "" {
		query += ` AND vendor_id = ?`
		args = append(args, filter.VendorID)
	}
	if filter.Sector != "" {
		query += ` AND sector = ?`
		args = append(args, filter.Sector)
	}
	if filter.Departamento != "" {
		query += ` AND departamento = ?`
		args = append(args, filter.Departamento)
	}
	if filter.YearFrom > 0 {
		query += ` AND year >= ?`
		args = append(args, filter.YearFrom)
	}
	if filter.YearTo > 0 {
		query += ` AND year <= ?`
		args = append(args, filter.YearTo)
	}
	if filter.MinScore > 0 {
		query += ` AND calibrated >= ?`
		args = append(args, filter.MinScore)
	}

	query += ` ORDER BY calibrated DESC, contract_id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []*domain.RiskScore
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}

	return scores, rows.Err()
}

// SaveLeaderboard upserts the agency leaderboard of a run.
func (r *SQLRepository) SaveLeaderboard(ctx context.Context, runID string, rows []*domain.AgencyLeaderboardRow) error {
	if runID == "" {
		return fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO agency_leaderboard (
			run_id, agency_id, agency_name, rank, sector, departamento, contracts,
			high_tier, medium_tier, low_tier,
			mean_score, max_score, total_value, value_at_risk
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, agency_id) DO UPDATE SET
			agency_name = excluded.agency_name,
			rank = excluded.rank,
			sector = excluded.sector,
			departamento = excluded.departamento,
			contracts = excluded.contracts,
			high_tier = excluded.high_tier,
			medium_tier = excluded.medium_tier,
			low_tier = excluded.low_tier,
			mean_score = excluded.mean_score,
			max_score = excluded.max_score,
			total_value = excluded.total_value,
			value_at_risk = excluded.value_at_risk
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			runID, row.AgencyID, row.AgencyName, row.Rank, row.Sector, row.Departamento, row.Contracts,
			row.HighTier, row.MediumTier, row.LowTier,
			row.MeanScore, row.MaxScore, row.TotalValue, row.ValueAtRisk,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetLeaderboard retrieves the ranked agency leaderboard of a run.
func (r *SQLRepository) GetLeaderboard(ctx context.Context, runID string, limit int) ([]*domain.AgencyLeaderboardRow, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	query := `
		SELECT run_id, agency_id, agency_name, rank, sector, departamento, contracts,
			   high_tier, medium_tier, low_tier,
			   mean_score, max_score, total_value, value_at_risk
		FROM agency_leaderboard
		WHERE run_id = ?
		ORDER BY rank
	`
	args := []any{runID}

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var board []*domain.AgencyLeaderboardRow
	for rows.Next() {
		var row domain.AgencyLeaderboardRow
		if err := rows.Scan(
			&row.RunID, &row.AgencyID, &row.AgencyName, &row.Rank, &row.Sector, &row.Departamento, &row.Contracts,
			&row.HighTier, &row.MediumTier, &row.LowTier,
			&row.MeanScore, &row.MaxScore, &row.TotalValue, &row.ValueAtRisk,
		); err != nil {
			return nil, err
		}
		board = append(board, &row)
	}

	return board, rows.Err()
}

// SaveFlagRule stores a flag rule with dataset isolation.
func (r *SQLRepository) SaveFlagRule(ctx context.Context, dataset string, rule *domain.FlagRule) error {
	if dataset == "" {
		return fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO flag_rules (
			id, dataset, name, description, version, expression, flag, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, dataset, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			flag = excluded.flag,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, dataset, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Flag, rule.Severity,
		boolInt(rule.Enabled), now, now,
	)
	return err
}

// GetFlagRule retrieves the latest enabled version of a flag rule.
func (r *SQLRepository) GetFlagRule(ctx context.Context, dataset string, ruleID string) (*domain.FlagRule, error) {
	if dataset == "" {
		return nil, fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}

	query := `
		SELECT id, dataset, name, description, version, expression, flag, severity, enabled
		FROM flag_rules
		WHERE dataset = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var rule domain.FlagRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), dataset, ruleID).Scan(
		&rule.ID, &rule.Dataset, &rule.Name, &rule.Description,
		&rule.Version, &rule.Expression, &rule.Flag, &rule.Severity, &enabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	return &rule, nil
}

// ListFlagRules retrieves all enabled flag rules for a dataset.
func (r *SQLRepository) ListFlagRules(ctx context.Context, dataset string) ([]*domain.FlagRule, error) {
	if dataset == "" {
		return nil, fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}

	query := `
		SELECT id, dataset, name, description, version, expression, flag, severity, enabled
		FROM flag_rules
		WHERE dataset = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), dataset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FlagRule
	for rows.Next() {
		var rule domain.FlagRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Dataset, &rule.Name, &rule.Description,
			&rule.Version, &rule.Expression, &rule.Flag, &rule.Severity, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteFlagRule soft-deletes a flag rule by setting enabled = 0.
func (r *SQLRepository) DeleteFlagRule(ctx context.Context, dataset string, ruleID string) error {
	if dataset == "" {
		return fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}

	query := `
		UPDATE flag_rules
		SET enabled = 0, updated_at = ?
		WHERE dataset = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), dataset, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*domain.Contract, error) {
	var c domain.Contract
	var esPyme, isDirect, isModified int

	err := row.Scan(
		&c.ID, &c.Dataset, &c.AgencyID, &c.AgencyNIT, &c.AgencyName, &c.Departamento,
		&c.City, &c.Orden, &c.Sector, &c.Rama, &c.VendorID, &c.VendorName,
		&c.Modalidad, &c.ContractType, &c.Status, &c.CategoryCode,
		&c.Value, &c.SignedAt, &c.StartDate, &c.EndDate, &c.AddedDays,
		&esPyme, &isDirect, &isModified, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.EsPyme = esPyme == 1
	c.IsDirect = isDirect == 1
	c.IsModified = isModified == 1
	return &c, nil
}

func scanScore(row rowScanner) (*domain.RiskScore, error) {
	var s domain.RiskScore
	var splittingValid, calibratedApplied, isDirect, isModified int
	var tier, flags string

	err := row.Scan(
		&s.RunID, &s.ContractID,
		&s.Sub.ProcessAnomaly, &s.Sub.Splitting, &splittingValid,
		&s.Sub.Network, &s.Sub.Community,
		&s.Raw, &s.Calibrated, &tier, &calibratedApplied, &flags,
		&s.AgencyID, &s.VendorID, &s.Value, &s.Year, &s.Sector, &s.Departamento,
		&s.StartDate, &isDirect, &isModified,
	)
	if err != nil {
		return nil, err
	}

	s.Sub.SplittingValid = splittingValid == 1
	s.CalibratedApplied = calibratedApplied == 1
	s.Tier = domain.RiskTier(tier)
	s.IsDirect = isDirect == 1
	s.IsModified = isModified == 1
	if flags != "" && flags != "null" {
		json.Unmarshal([]byte(flags), &s.Flags)
	}

	return &s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
