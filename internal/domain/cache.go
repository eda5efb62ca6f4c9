package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (local mode) + Redis (warehouse).
// All methods take the dataset scope so datasets never share entries.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, dataset string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, dataset string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, dataset string, key string) error

	// GetLeaderboard retrieves a cached leaderboard for a run.
	// Returns nil, nil on a miss.
	GetLeaderboard(ctx context.Context, dataset string, runID string) ([]*AgencyLeaderboardRow, error)

	// SetLeaderboard caches a run's leaderboard for API reads.
	SetLeaderboard(ctx context.Context, dataset string, runID string, rows []*AgencyLeaderboardRow, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" yaml:"type"`

	// Local LRU cache settings (local mode). LocalTTL is decoded from the
	// config file as a duration string by the loader.
	LocalMaxSize int           `json:"localMaxSize" yaml:"local_max_size"`
	LocalTTL     time.Duration `json:"localTtl" yaml:"-"`

	// Redis settings (warehouse mode)
	RedisAddr     string `json:"redisAddr" yaml:"redis_addr"`
	RedisPassword string `json:"redisPassword" yaml:"redis_password"`
	RedisDB       int    `json:"redisDb" yaml:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enable_two_phase"` // If true, check local first, then Redis
}
