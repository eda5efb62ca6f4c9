package domain

import (
	"fmt"
	"math"
	"time"
)

// Config holds the complete AuditLens configuration. Every algorithm
// parameter is supplied here and validated at startup; nothing in the
// scoring packages hardcodes weights, cuts, windows, or seeds.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Mode determines the backing services:
	// - "local": SQLite + in-process LRU + channel bus, single binary
	// - "warehouse": PostgreSQL + Redis + NATS, shared deployment
	Mode Mode `json:"mode" yaml:"mode"`

	// Dataset is the default dataset scope for runs and API requests.
	Dataset string `json:"dataset" yaml:"dataset"`

	// Scoring pipeline parameters
	Scoring    ScoringConfig    `json:"scoring" yaml:"scoring"`
	Anomaly    AnomalyConfig    `json:"anomaly" yaml:"anomaly"`
	Splitting  SplittingConfig  `json:"splitting" yaml:"splitting"`
	Network    NetworkConfig    `json:"network" yaml:"network"`
	Features   FeaturesConfig   `json:"features" yaml:"features"`
	Thresholds ThresholdsConfig `json:"thresholds" yaml:"thresholds"`
	Pipeline   PipelineConfig   `json:"pipeline" yaml:"pipeline"`
	Drift      DriftConfig      `json:"drift" yaml:"drift"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"event_bus"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Artifacts  ArtifactsConfig  `json:"artifacts" yaml:"artifacts"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// Mode selects the deployment profile.
type Mode string

const (
	// ModeLocal runs everything in-process: SQLite, LRU cache, channel bus.
	ModeLocal Mode = "local"

	// ModeWarehouse targets shared infrastructure: Postgres, Redis, NATS.
	ModeWarehouse Mode = "warehouse"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"write_timeout"` // seconds
}

// ScoringConfig holds the combiner and calibration parameters.
type ScoringConfig struct {
	Weights     Weights           `json:"weights" yaml:"weights"`
	Cuts        TierCuts          `json:"tierCuts" yaml:"tier_cuts"`
	Seed        int64             `json:"seed" yaml:"seed"`
	Calibration CalibrationConfig `json:"calibration" yaml:"calibration"`
}

// CalibrationConfig controls the isotonic fit of raw scores against the
// proxy label. Dates are date-only (2006-01-02); an empty train range means
// fit on the full population.
type CalibrationConfig struct {
	// LabelExpression is a CEL boolean over the scored row; rows where it
	// holds are the positive class of the proxy label.
	LabelExpression string `json:"labelExpression" yaml:"label_expression"`

	// MinSamples is the smallest population (with both classes present) the
	// fit accepts before declaring ErrCalibrationFit.
	MinSamples int `json:"minSamples" yaml:"min_samples"`

	TrainStart string `json:"trainStart" yaml:"train_start"`
	TrainEnd   string `json:"trainEnd" yaml:"train_end"`
	ValidStart string `json:"validStart" yaml:"valid_start"`
	ValidEnd   string `json:"validEnd" yaml:"valid_end"`
}

// DateLayout is the date-only layout used throughout configuration.
const DateLayout = "2006-01-02"

// TrainRange parses the training window. ok is false when no range is set.
func (c CalibrationConfig) TrainRange() (start, end time.Time, ok bool, err error) {
	if c.TrainStart == "" || c.TrainEnd == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	start, err = time.Parse(DateLayout, c.TrainStart)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("train start: %w", err)
	}
	end, err = time.Parse(DateLayout, c.TrainEnd)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("train end: %w", err)
	}
	return start, end, true, nil
}

// ValidRange parses the validation window. ok is false when no range is set.
func (c CalibrationConfig) ValidRange() (start, end time.Time, ok bool, err error) {
	if c.ValidStart == "" || c.ValidEnd == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	start, err = time.Parse(DateLayout, c.ValidStart)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("valid start: %w", err)
	}
	end, err = time.Parse(DateLayout, c.ValidEnd)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("valid end: %w", err)
	}
	return start, end, true, nil
}

// AnomalyConfig holds the process-anomaly ensemble parameters.
type AnomalyConfig struct {
	Trees         int     `json:"trees" yaml:"trees"`
	SampleSize    int     `json:"sampleSize" yaml:"sample_size"`
	Contamination float64 `json:"contamination" yaml:"contamination"`
	// ForestWeight is the isolation-forest share of the ensemble; HBOS gets
	// the remainder.
	ForestWeight float64 `json:"forestWeight" yaml:"forest_weight"`
	// Normalization is "minmax" or "rank".
	Normalization string `json:"normalization" yaml:"normalization"`
}

// Normalization modes for detector outputs.
const (
	NormalizeMinMax = "minmax"
	NormalizeRank   = "rank"
)

// SplittingConfig holds the rolling-window splitting detector parameters.
type SplittingConfig struct {
	// WindowsDays are the rolling window lengths, in days, ending at each
	// contract's start date.
	WindowsDays []int `json:"windowsDays" yaml:"windows_days"`

	// ProximityBand is the fraction beneath a statutory threshold that
	// counts as "just below" (0.10 = within 10%).
	ProximityBand float64 `json:"proximityBand" yaml:"proximity_band"`

	// MinWindowContracts is the minimum number of contracts in a window for
	// it to count as a cluster.
	MinWindowContracts int `json:"minWindowContracts" yaml:"min_window_contracts"`
}

// NetworkConfig holds the concentration and community parameters.
type NetworkConfig struct {
	// ConcentrationCutoff flags agencies whose top-vendor spend share
	// reaches it.
	ConcentrationCutoff float64 `json:"concentrationCutoff" yaml:"concentration_cutoff"`

	Community CommunityConfig `json:"community" yaml:"community"`
}

// CommunityConfig holds the label-propagation community detection knobs.
type CommunityConfig struct {
	MinSize       int     `json:"minSize" yaml:"min_size"`
	DensityCutoff float64 `json:"densityCutoff" yaml:"density_cutoff"`
	MaxIterations int     `json:"maxIterations" yaml:"max_iterations"`
}

// FeaturesConfig holds feature-builder parameters.
type FeaturesConfig struct {
	// MinPeerPopulation is the smallest sector peer group used for relative
	// statistics; smaller groups fall back to the global population and the
	// row is flagged.
	MinPeerPopulation int `json:"minPeerPopulation" yaml:"min_peer_population"`

	// RecentWindowDays is the lookback for the vendor recent-activity count.
	RecentWindowDays int `json:"recentWindowDays" yaml:"recent_window_days"`
}

// ThresholdsConfig carries the statutory threshold inputs. Empty values
// fall back to the published schedule.
type ThresholdsConfig struct {
	SMMLV     map[int]float64 `json:"smmlv" yaml:"smmlv"`
	Multiples []float64       `json:"multiples" yaml:"multiples"`
}

// Table builds the threshold table from the configured schedule, falling
// back to the published defaults.
func (c ThresholdsConfig) Table() *ThresholdTable {
	smmlv := c.SMMLV
	if len(smmlv) == 0 {
		smmlv = SMMLVByYear
	}
	multiples := c.Multiples
	if len(multiples) == 0 {
		multiples = thresholdMultiples
	}
	return NewThresholdTable(smmlv, multiples)
}

// PipelineConfig holds run execution settings.
type PipelineConfig struct {
	// Workers bounds the per-partition parallelism; 0 means GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers"`

	// PartitionBy is the partition key for the parallel stages: "agency" or
	// "vendor".
	PartitionBy string `json:"partitionBy" yaml:"partition_by"`
}

// DriftConfig holds PSI drift monitoring thresholds.
type DriftConfig struct {
	WarnPSI  float64 `json:"warnPsi" yaml:"warn_psi"`
	AlertPSI float64 `json:"alertPsi" yaml:"alert_psi"`
}

// IngestConfig holds the SECOP source client settings.
type IngestConfig struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	AppToken string `json:"appToken" yaml:"app_token"`
	PageSize int    `json:"pageSize" yaml:"page_size"`
	// MaxPages caps a single ingest; 0 means fetch until an empty page.
	MaxPages int `json:"maxPages" yaml:"max_pages"`
	// RatePerSec throttles requests to the source API.
	RatePerSec float64 `json:"ratePerSec" yaml:"rate_per_sec"`
	Burst      int     `json:"burst" yaml:"burst"`
	TimeoutSec int     `json:"timeoutSec" yaml:"timeout_sec"`
}

// ArtifactsConfig holds columnar output settings.
type ArtifactsConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	ServiceName  string `json:"serviceName" yaml:"service_name"`
	ExporterType string `json:"exporterType" yaml:"exporter_type"` // stdout, otlp
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the local-mode configuration with the published
// scoring constants.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Mode:    ModeLocal,
		Dataset: "secop",
		Scoring: ScoringConfig{
			Weights: Weights{
				ProcessAnomaly: 0.55,
				Splitting:      0.25,
				Network:        0.10,
				Community:      0.10,
			},
			Cuts: TierCuts{Low: 0.3, High: 0.6},
			Seed: 42,
			Calibration: CalibrationConfig{
				LabelExpression: "is_direct && is_modified",
				MinSamples:      50,
				TrainStart:      "2019-01-01",
				TrainEnd:        "2021-12-31",
				ValidStart:      "2022-01-01",
				ValidEnd:        "2022-08-06",
			},
		},
		Anomaly: AnomalyConfig{
			Trees:         100,
			SampleSize:    256,
			Contamination: 0.05,
			ForestWeight:  0.5,
			Normalization: NormalizeMinMax,
		},
		Splitting: SplittingConfig{
			WindowsDays:        []int{30, 60, 90},
			ProximityBand:      0.10,
			MinWindowContracts: 2,
		},
		Network: NetworkConfig{
			ConcentrationCutoff: 0.6,
			Community: CommunityConfig{
				MinSize:       4,
				DensityCutoff: 0.5,
				MaxIterations: 20,
			},
		},
		Features: FeaturesConfig{
			MinPeerPopulation: 30,
			RecentWindowDays:  30,
		},
		Pipeline: PipelineConfig{
			Workers:     0,
			PartitionBy: "agency",
		},
		Drift: DriftConfig{
			WarnPSI:  0.10,
			AlertPSI: 0.20,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./auditlens.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Ingest: IngestConfig{
			Endpoint:   "https://www.datos.gov.co/resource/jbjy-vk9h.json",
			PageSize:   50000,
			RatePerSec: 2,
			Burst:      1,
			TimeoutSec: 120,
		},
		Artifacts: ArtifactsConfig{
			Dir: "./artifacts",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "auditlens",
		},
	}
}

// WarehouseConfig returns the shared-infrastructure configuration.
func WarehouseConfig() *Config {
	cfg := DefaultConfig()
	cfg.Mode = ModeWarehouse
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "auditlens",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

const weightTolerance = 1e-9

// Validate checks every algorithm parameter once, at startup. A config that
// passes here is safe for the whole pipeline.
func (c *Config) Validate() error {
	if c.Mode != ModeLocal && c.Mode != ModeWarehouse {
		return fmt.Errorf("mode %q: must be %q or %q", c.Mode, ModeLocal, ModeWarehouse)
	}
	if c.Dataset == "" {
		return fmt.Errorf("dataset must not be empty")
	}

	w := c.Scoring.Weights
	for name, v := range map[string]float64{
		"process_anomaly": w.ProcessAnomaly,
		"splitting":       w.Splitting,
		"network":         w.Network,
		"community":       w.Community,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("weight %s = %v: must be in [0,1]", name, v)
		}
	}
	if diff := math.Abs(w.Sum() - 1); diff > weightTolerance {
		return fmt.Errorf("weights sum to %v: must sum to 1 within %v", w.Sum(), weightTolerance)
	}

	cuts := c.Scoring.Cuts
	if !(cuts.Low > 0 && cuts.Low < cuts.High && cuts.High < 1) {
		return fmt.Errorf("tier cuts (%v, %v): need 0 < low < high < 1", cuts.Low, cuts.High)
	}

	if c.Scoring.Calibration.LabelExpression == "" {
		return fmt.Errorf("calibration label expression must not be empty")
	}
	if c.Scoring.Calibration.MinSamples < 2 {
		return fmt.Errorf("calibration min samples %d: must be at least 2", c.Scoring.Calibration.MinSamples)
	}
	if _, _, _, err := c.Scoring.Calibration.TrainRange(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	if _, _, _, err := c.Scoring.Calibration.ValidRange(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}

	if c.Anomaly.Trees <= 0 {
		return fmt.Errorf("anomaly trees %d: must be positive", c.Anomaly.Trees)
	}
	if c.Anomaly.SampleSize < 2 {
		return fmt.Errorf("anomaly sample size %d: must be at least 2", c.Anomaly.SampleSize)
	}
	if c.Anomaly.Contamination <= 0 || c.Anomaly.Contamination >= 1 {
		return fmt.Errorf("contamination %v: must be in (0,1)", c.Anomaly.Contamination)
	}
	if c.Anomaly.ForestWeight < 0 || c.Anomaly.ForestWeight > 1 {
		return fmt.Errorf("forest weight %v: must be in [0,1]", c.Anomaly.ForestWeight)
	}
	if n := c.Anomaly.Normalization; n != NormalizeMinMax && n != NormalizeRank {
		return fmt.Errorf("normalization %q: must be %q or %q", n, NormalizeMinMax, NormalizeRank)
	}

	if len(c.Splitting.WindowsDays) == 0 {
		return fmt.Errorf("splitting windows must not be empty")
	}
	for _, d := range c.Splitting.WindowsDays {
		if d <= 0 {
			return fmt.Errorf("splitting window %d days: must be positive", d)
		}
	}
	if p := c.Splitting.ProximityBand; p <= 0 || p >= 1 {
		return fmt.Errorf("proximity band %v: must be in (0,1)", p)
	}
	if c.Splitting.MinWindowContracts < 2 {
		return fmt.Errorf("min window contracts %d: must be at least 2", c.Splitting.MinWindowContracts)
	}

	if cc := c.Network.ConcentrationCutoff; cc <= 0 || cc > 1 {
		return fmt.Errorf("concentration cutoff %v: must be in (0,1]", cc)
	}
	if c.Network.Community.MinSize < 2 {
		return fmt.Errorf("community min size %d: must be at least 2", c.Network.Community.MinSize)
	}
	if d := c.Network.Community.DensityCutoff; d <= 0 || d > 1 {
		return fmt.Errorf("community density cutoff %v: must be in (0,1]", d)
	}
	if c.Network.Community.MaxIterations <= 0 {
		return fmt.Errorf("community max iterations %d: must be positive", c.Network.Community.MaxIterations)
	}

	if c.Features.MinPeerPopulation <= 0 {
		return fmt.Errorf("min peer population %d: must be positive", c.Features.MinPeerPopulation)
	}
	if c.Features.RecentWindowDays <= 0 {
		return fmt.Errorf("recent window days %d: must be positive", c.Features.RecentWindowDays)
	}

	if pb := c.Pipeline.PartitionBy; pb != "agency" && pb != "vendor" {
		return fmt.Errorf("partition by %q: must be \"agency\" or \"vendor\"", pb)
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("workers %d: must not be negative", c.Pipeline.Workers)
	}

	if c.Drift.WarnPSI <= 0 || c.Drift.AlertPSI <= c.Drift.WarnPSI {
		return fmt.Errorf("drift thresholds (%v, %v): need 0 < warn < alert", c.Drift.WarnPSI, c.Drift.AlertPSI)
	}

	if c.Ingest.PageSize <= 0 {
		return fmt.Errorf("ingest page size %d: must be positive", c.Ingest.PageSize)
	}
	if c.Ingest.RatePerSec <= 0 {
		return fmt.Errorf("ingest rate %v: must be positive", c.Ingest.RatePerSec)
	}

	return nil
}
