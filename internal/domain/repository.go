// Package domain defines the core interfaces and types for AuditLens.
package domain

import (
	"context"
	"time"
)

// ContractFilter narrows contract listings. Zero values mean "no filter".
type ContractFilter struct {
	From     time.Time
	To       time.Time
	AgencyID string
	VendorID string
	Limit    int
	Offset   int
}

// ScoreFilter narrows scored-row listings for a run. Zero values mean
// "no filter"; YearFrom/YearTo bound the contract year inclusively.
type ScoreFilter struct {
	Tier         RiskTier
	AgencyID     string
	VendorID     string
	Sector       string
	Departamento string
	YearFrom     int
	YearTo       int
	MinScore     float64
	Limit        int
	Offset       int
}

// Repository defines the interface for data persistence.
// All contract methods take the dataset scope; runs and their outputs are
// keyed by run ID and carry their dataset.
type Repository interface {
	// Contract operations
	SaveContracts(ctx context.Context, dataset string, contracts []*Contract) error
	GetContract(ctx context.Context, dataset string, contractID string) (*Contract, error)
	ListContracts(ctx context.Context, dataset string, filter ContractFilter) ([]*Contract, error)
	CountContracts(ctx context.Context, dataset string) (int, error)

	// Scoring run lifecycle
	SaveRun(ctx context.Context, run *ScoringRun) error
	UpdateRun(ctx context.Context, run *ScoringRun) error
	GetRun(ctx context.Context, runID string) (*ScoringRun, error)
	ListRuns(ctx context.Context, dataset string, limit int) ([]*ScoringRun, error)

	// Scored outputs
	SaveScores(ctx context.Context, runID string, scores []*RiskScore) error
	GetScore(ctx context.Context, runID string, contractID string) (*RiskScore, error)
	ListScores(ctx context.Context, runID string, filter ScoreFilter) ([]*RiskScore, error)

	// Leaderboard
	SaveLeaderboard(ctx context.Context, runID string, rows []*AgencyLeaderboardRow) error
	GetLeaderboard(ctx context.Context, runID string, limit int) ([]*AgencyLeaderboardRow, error)

	// Audit flag rule operations
	SaveFlagRule(ctx context.Context, dataset string, rule *FlagRule) error
	GetFlagRule(ctx context.Context, dataset string, ruleID string) (*FlagRule, error)
	ListFlagRules(ctx context.Context, dataset string) ([]*FlagRule, error)
	DeleteFlagRule(ctx context.Context, dataset string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user"`
	PostgresPassword string `json:"postgresPassword" yaml:"postgres_password"`
	PostgresDB       string `json:"postgresDb" yaml:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgres_ssl_mode"`

	// Connection pool settings. ConnMaxLifetime is decoded from the config
	// file as a duration string by the loader.
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"-"`
}
