package repository

// Schema definitions for the AuditLens database.
// Compatible with both SQLite and PostgreSQL.

const schemaContracts = `
CREATE TABLE IF NOT EXISTS contracts (
    id TEXT NOT NULL,
    dataset TEXT NOT NULL,
    agency_id TEXT NOT NULL,
    agency_nit TEXT,
    agency_name TEXT,
    departamento TEXT,
    city TEXT,
    orden TEXT,
    sector TEXT,
    rama TEXT,
    vendor_id TEXT NOT NULL,
    vendor_name TEXT,
    modalidad TEXT,
    contract_type TEXT,
    status TEXT,
    category_code TEXT,
    valor REAL NOT NULL,
    signed_at TIMESTAMP,
    start_date TIMESTAMP,
    end_date TIMESTAMP,
    added_days REAL NOT NULL DEFAULT 0,
    es_pyme INTEGER NOT NULL DEFAULT 0,
    is_direct INTEGER NOT NULL DEFAULT 0,
    is_modified INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, dataset)
);

CREATE INDEX IF NOT EXISTS idx_contracts_dataset ON contracts(dataset);
CREATE INDEX IF NOT EXISTS idx_contracts_vendor ON contracts(dataset, vendor_id);
CREATE INDEX IF NOT EXISTS idx_contracts_agency ON contracts(dataset, agency_id);
CREATE INDEX IF NOT EXISTS idx_contracts_start ON contracts(dataset, start_date);
`

const schemaRuns = `
CREATE TABLE IF NOT EXISTS scoring_runs (
    id TEXT PRIMARY KEY,
    dataset TEXT NOT NULL,
    status TEXT NOT NULL,
    seed INTEGER NOT NULL,
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP,
    contracts INTEGER NOT NULL DEFAULT 0,
    scored INTEGER NOT NULL DEFAULT 0,
    diagnostics TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_dataset ON scoring_runs(dataset, started_at);
`

const schemaScores = `
CREATE TABLE IF NOT EXISTS risk_scores (
    run_id TEXT NOT NULL,
    contract_id TEXT NOT NULL,
    process_anomaly REAL NOT NULL,
    splitting REAL NOT NULL,
    splitting_valid INTEGER NOT NULL DEFAULT 1,
    network REAL NOT NULL,
    community REAL NOT NULL,
    raw_score REAL NOT NULL,
    calibrated REAL NOT NULL,
    tier TEXT NOT NULL,
    calibrated_applied INTEGER NOT NULL DEFAULT 1,
    flags TEXT,
    agency_id TEXT NOT NULL,
    vendor_id TEXT NOT NULL,
    valor REAL NOT NULL,
    year INTEGER NOT NULL,
    sector TEXT,
    departamento TEXT,
    start_date TIMESTAMP,
    is_direct INTEGER NOT NULL DEFAULT 0,
    is_modified INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, contract_id)
);

CREATE INDEX IF NOT EXISTS idx_scores_tier ON risk_scores(run_id, tier);
CREATE INDEX IF NOT EXISTS idx_scores_agency ON risk_scores(run_id, agency_id);
CREATE INDEX IF NOT EXISTS idx_scores_calibrated ON risk_scores(run_id, calibrated);
`

const schemaLeaderboard = `
CREATE TABLE IF NOT EXISTS agency_leaderboard (
    run_id TEXT NOT NULL,
    agency_id TEXT NOT NULL,
    agency_name TEXT,
    rank INTEGER NOT NULL,
    sector TEXT,
    departamento TEXT,
    contracts INTEGER NOT NULL,
    high_tier INTEGER NOT NULL,
    medium_tier INTEGER NOT NULL,
    low_tier INTEGER NOT NULL,
    mean_score REAL NOT NULL,
    max_score REAL NOT NULL,
    total_value REAL NOT NULL,
    value_at_risk REAL NOT NULL,
    PRIMARY KEY (run_id, agency_id)
);

CREATE INDEX IF NOT EXISTS idx_leaderboard_rank ON agency_leaderboard(run_id, rank);
`

const schemaFlagRules = `
CREATE TABLE IF NOT EXISTS flag_rules (
    id TEXT NOT NULL,
    dataset TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    flag TEXT NOT NULL,
    severity TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, dataset, version)
);

CREATE INDEX IF NOT EXISTS idx_flag_rules_dataset ON flag_rules(dataset);
CREATE INDEX IF NOT EXISTS idx_flag_rules_enabled ON flag_rules(dataset, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaContracts,
		schemaRuns,
		schemaScores,
		schemaLeaderboard,
		schemaFlagRules,
	}
}
