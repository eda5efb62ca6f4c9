// Package config loads the AuditLens configuration: mode defaults, an
// optional YAML file layered on top, then environment overrides, then
// validation. Secrets (database passwords, the Socrata app token) are
// expected from the environment so config files stay committable.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/auditlens/auditlens/internal/domain"
)

// Load builds the configuration. An empty path falls back to
// AUDITLENS_CONFIG; when neither is set the mode defaults apply as-is.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if os.Getenv("AUDITLENS_MODE") == string(domain.ModeWarehouse) {
		cfg = domain.WarehouseConfig()
	}

	if path == "" {
		path = os.Getenv("AUDITLENS_CONFIG")
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFile overlays the YAML file onto cfg. Duration fields are strings in
// the file ("5m", "300s") and are converted here; YAML cannot decode them
// into time.Duration directly.
func loadFile(path string, cfg *domain.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	var durations struct {
		Cache struct {
			LocalTTL string `yaml:"local_ttl"`
		} `yaml:"cache"`
		Repository struct {
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"repository"`
	}
	if err := yaml.Unmarshal(data, &durations); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if v := durations.Cache.LocalTTL; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("cache local_ttl: %w", err)
		}
		cfg.Cache.LocalTTL = d
	}
	if v := durations.Repository.ConnMaxLifetime; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("repository conn_max_lifetime: %w", err)
		}
		cfg.Repository.ConnMaxLifetime = d
	}
	return nil
}

// applyEnv overlays AUDITLENS_* variables onto the configuration.
func applyEnv(cfg *domain.Config) {
	setString((*string)(&cfg.Mode), "AUDITLENS_MODE")
	setString(&cfg.Dataset, "AUDITLENS_DATASET")
	setString(&cfg.Server.Host, "AUDITLENS_HOST")
	setInt(&cfg.Server.Port, "AUDITLENS_PORT")

	setString(&cfg.Repository.Driver, "AUDITLENS_DB_DRIVER")
	setString(&cfg.Repository.SQLitePath, "AUDITLENS_SQLITE_PATH")
	setString(&cfg.Repository.PostgresHost, "AUDITLENS_POSTGRES_HOST")
	setInt(&cfg.Repository.PostgresPort, "AUDITLENS_POSTGRES_PORT")
	setString(&cfg.Repository.PostgresUser, "AUDITLENS_POSTGRES_USER")
	setString(&cfg.Repository.PostgresPassword, "AUDITLENS_POSTGRES_PASSWORD")
	setString(&cfg.Repository.PostgresDB, "AUDITLENS_POSTGRES_DB")

	setString(&cfg.Cache.Type, "AUDITLENS_CACHE")
	setString(&cfg.Cache.RedisAddr, "AUDITLENS_REDIS_ADDR")
	setString(&cfg.Cache.RedisPassword, "AUDITLENS_REDIS_PASSWORD")

	setString(&cfg.EventBus.Type, "AUDITLENS_BUS")
	setString(&cfg.EventBus.NATSUrl, "AUDITLENS_NATS_URL")
	setString(&cfg.EventBus.NATSToken, "AUDITLENS_NATS_TOKEN")

	setString(&cfg.Ingest.Endpoint, "AUDITLENS_SECOP_ENDPOINT")
	setString(&cfg.Ingest.AppToken, "AUDITLENS_SOCRATA_TOKEN")

	setString(&cfg.Artifacts.Dir, "AUDITLENS_ARTIFACTS_DIR")
	setString(&cfg.Logging.Level, "AUDITLENS_LOG_LEVEL")
	setString(&cfg.Logging.Format, "AUDITLENS_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-integer environment override", "key", key, "value", v)
		return
	}
	*dst = n
}

// NewLogger builds the process logger from the logging settings and installs
// it as the slog default.
func NewLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
