package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/auditlens/auditlens/internal/domain"
)

// RedisCache implements Cache using Redis.
// Used as the warehouse mode cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, dataset string, key string) ([]byte, error) {
	if dataset == "" {
		return nil, fmt.Errorf("dataset is required")
	}

	fullKey := c.makeKey(dataset, key)
	val, err := c.client.Get(ctx, fullKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, dataset string, key string, value []byte, ttl time.Duration) error {
	if dataset == "" {
		return fmt.Errorf("dataset is required")
	}

	fullKey := c.makeKey(dataset, key)
	return c.client.Set(ctx, fullKey, value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, dataset string, key string) error {
	if dataset == "" {
		return fmt.Errorf("dataset is required")
	}

	fullKey := c.makeKey(dataset, key)
	return c.client.Del(ctx, fullKey).Err()
}

// GetLeaderboard retrieves a cached leaderboard for a run.
func (c *RedisCache) GetLeaderboard(ctx context.Context, dataset string, runID string) ([]*domain.AgencyLeaderboardRow, error) {
	data, err := c.Get(ctx, dataset, "leaderboard:"+runID)
	if err != nil || data == nil {
		return nil, err
	}

	var rows []*domain.AgencyLeaderboardRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// SetLeaderboard caches a run's leaderboard.
func (c *RedisCache) SetLeaderboard(ctx context.Context, dataset string, runID string, rows []*domain.AgencyLeaderboardRow, ttl time.Duration) error {
	bytes, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return c.Set(ctx, dataset, "leaderboard:"+runID, bytes, ttl)
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) makeKey(dataset, key string) string {
	return "auditlens:" + dataset + ":" + key
}
