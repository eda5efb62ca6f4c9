package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/auditlens/auditlens/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "auditlens.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Mode != domain.ModeLocal {
		t.Errorf("expected local mode, got %s", cfg.Mode)
	}
	if cfg.Dataset != "secop" {
		t.Errorf("expected dataset secop, got %s", cfg.Dataset)
	}
	if cfg.Scoring.Weights.ProcessAnomaly != 0.55 {
		t.Errorf("expected anomaly weight 0.55, got %v", cfg.Scoring.Weights.ProcessAnomaly)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Repository.Driver)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
dataset: secop-antioquia
server:
  port: 9090
scoring:
  tier_cuts:
    low: 0.25
    high: 0.65
cache:
  local_ttl: 2m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Dataset != "secop-antioquia" {
		t.Errorf("expected dataset override, got %s", cfg.Dataset)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Scoring.Cuts.Low != 0.25 || cfg.Scoring.Cuts.High != 0.65 {
		t.Errorf("expected cuts 0.25/0.65, got %v/%v", cfg.Scoring.Cuts.Low, cfg.Scoring.Cuts.High)
	}
	if cfg.Cache.LocalTTL != 2*time.Minute {
		t.Errorf("expected local TTL 2m, got %v", cfg.Cache.LocalTTL)
	}

	// Untouched settings keep their defaults.
	if cfg.Scoring.Weights.Splitting != 0.25 {
		t.Errorf("expected default splitting weight, got %v", cfg.Scoring.Weights.Splitting)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host, got %s", cfg.Server.Host)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "dataset: from-file\n")
	t.Setenv("AUDITLENS_DATASET", "from-env")
	t.Setenv("AUDITLENS_PORT", "7070")
	t.Setenv("AUDITLENS_SQLITE_PATH", "/tmp/auditlens-test.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Dataset != "from-env" {
		t.Errorf("environment should win over file, got %s", cfg.Dataset)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Repository.SQLitePath != "/tmp/auditlens-test.db" {
		t.Errorf("expected sqlite path override, got %s", cfg.Repository.SQLitePath)
	}
}

func TestLoadWarehouseMode(t *testing.T) {
	t.Setenv("AUDITLENS_MODE", "warehouse")
	t.Setenv("AUDITLENS_POSTGRES_PASSWORD", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Mode != domain.ModeWarehouse {
		t.Errorf("expected warehouse mode, got %s", cfg.Mode)
	}
	if cfg.Repository.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %s", cfg.Repository.Driver)
	}
	if cfg.Cache.Type != "redis" {
		t.Errorf("expected redis cache, got %s", cfg.Cache.Type)
	}
	if cfg.EventBus.Type != "nats" {
		t.Errorf("expected nats bus, got %s", cfg.EventBus.Type)
	}
	if cfg.Repository.PostgresPassword != "secret" {
		t.Error("expected postgres password from environment")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Run("BadWeights", func(t *testing.T) {
		path := writeConfig(t, `
scoring:
  weights:
    process_anomaly: 0.9
    splitting: 0.9
    network: 0.1
    community: 0.1
`)
		if _, err := Load(path); err == nil {
			t.Error("expected weight validation error")
		}
	})

	t.Run("BadDuration", func(t *testing.T) {
		path := writeConfig(t, "cache:\n  local_ttl: soon\n")
		if _, err := Load(path); err == nil {
			t.Error("expected duration parse error")
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		path := writeConfig(t, "dataset: [\n")
		if _, err := Load(path); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()

	logger := NewLogger(domain.LoggingConfig{Level: "debug", Format: "json"})
	if logger == nil {
		t.Fatal("expected logger")
	}
	if !logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("expected debug level enabled")
	}

	logger = NewLogger(domain.LoggingConfig{Level: "error", Format: "text"})
	if logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("expected info suppressed at error level")
	}
}
