package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/auditlens/auditlens/internal/domain"
)

// KeyLatestRun is the per-dataset cache key holding the ID of the most
// recently finished scoring run. The worker overwrites it when a run
// completes; API reads resolve "latest" through it before hitting the
// repository.
const KeyLatestRun = "runs:latest"

// KeyScoresPrefix prefixes cached score-listing responses. Keys append the
// resolved run ID and the request's query string; scored rows never change
// once a run finishes, so entries are safe until TTL eviction.
const KeyScoresPrefix = "scores:"

// New creates a new cache based on configuration.
// For local mode: returns LRU cache.
// For warehouse mode with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For warehouse mode without two-phase: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis for distributed caching and persistence
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	local := NewLRUCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, dataset string, key string) ([]byte, error) {
	// Check L1 first
	val, err := c.local.Get(ctx, dataset, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	// Check L2
	val, err = c.remote.Get(ctx, dataset, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		// Populate L1 for future reads
		_ = c.local.Set(ctx, dataset, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, dataset string, key string, value []byte, ttl time.Duration) error {
	// Write to L1 with shorter TTL
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, dataset, key, value, l1TTL); err != nil {
		return err
	}

	// Write to L2 with full TTL
	return c.remote.Set(ctx, dataset, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, dataset string, key string) error {
	if err := c.local.Delete(ctx, dataset, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, dataset, key)
}

// GetLeaderboard retrieves a cached leaderboard, L1 first.
func (c *TwoPhaseCache) GetLeaderboard(ctx context.Context, dataset string, runID string) ([]*domain.AgencyLeaderboardRow, error) {
	rows, err := c.local.GetLeaderboard(ctx, dataset, runID)
	if err != nil {
		return nil, err
	}
	if rows != nil {
		return rows, nil
	}

	rows, err = c.remote.GetLeaderboard(ctx, dataset, runID)
	if err != nil {
		return nil, err
	}
	if rows != nil {
		// Populate L1
		_ = c.local.SetLeaderboard(ctx, dataset, runID, rows, c.l1TTL)
	}

	return rows, nil
}

// SetLeaderboard caches a leaderboard in both L1 and L2.
func (c *TwoPhaseCache) SetLeaderboard(ctx context.Context, dataset string, runID string, rows []*domain.AgencyLeaderboardRow, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.SetLeaderboard(ctx, dataset, runID, rows, l1TTL); err != nil {
		return err
	}
	return c.remote.SetLeaderboard(ctx, dataset, runID, rows, ttl)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
