package cache

import (
	"context"
	"testing"
	"time"

	"github.com/auditlens/auditlens/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	dataset := "secop"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, dataset, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, dataset, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, dataset, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, dataset, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, dataset, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, dataset, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, dataset, "expiring", []byte("temp"), 10*time.Millisecond)

		// Should be available immediately
		val, _ := cache.Get(ctx, dataset, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		// Wait for expiration
		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, dataset, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, dataset, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, dataset, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, dataset, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, dataset, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, dataset, "d", []byte("4"), time.Minute)

		// 'b' should be evicted
		val, _ := smallCache.Get(ctx, dataset, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		// 'a' should still be there
		val, _ = smallCache.Get(ctx, dataset, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("DatasetIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "secop", "shared-key", []byte("secop-value"), time.Minute)
		_ = cache.Set(ctx, "secop-i", "shared-key", []byte("secop-i-value"), time.Minute)

		val1, _ := cache.Get(ctx, "secop", "shared-key")
		val2, _ := cache.Get(ctx, "secop-i", "shared-key")

		if string(val1) != "secop-value" {
			t.Errorf("expected 'secop-value', got '%s'", string(val1))
		}
		if string(val2) != "secop-i-value" {
			t.Errorf("expected 'secop-i-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresDataset", func(t *testing.T) {
		err := cache.Set(ctx, "", "key", []byte("value"), time.Minute)
		if err == nil {
			t.Error("expected error for empty dataset")
		}

		_, err = cache.Get(ctx, "", "key")
		if err == nil {
			t.Error("expected error for empty dataset")
		}
	})

	t.Run("LeaderboardCache", func(t *testing.T) {
		rows := []*domain.AgencyLeaderboardRow{
			{RunID: "run-001", AgencyID: "AG-1", Rank: 1, Contracts: 12,
				MeanScore: 0.61, ValueAtRisk: 90_000_000},
			{RunID: "run-001", AgencyID: "AG-2", Rank: 2, Contracts: 8,
				MeanScore: 0.44, ValueAtRisk: 12_000_000},
		}

		err := cache.SetLeaderboard(ctx, dataset, "run-001", rows, time.Minute)
		if err != nil {
			t.Fatalf("SetLeaderboard failed: %v", err)
		}

		retrieved, err := cache.GetLeaderboard(ctx, dataset, "run-001")
		if err != nil {
			t.Fatalf("GetLeaderboard failed: %v", err)
		}

		if len(retrieved) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(retrieved))
		}
		if retrieved[0].AgencyID != "AG-1" {
			t.Errorf("expected AG-1 first, got %s", retrieved[0].AgencyID)
		}
		if retrieved[0].ValueAtRisk != 90_000_000 {
			t.Errorf("expected value at risk to round-trip, got %.0f", retrieved[0].ValueAtRisk)
		}

		miss, err := cache.GetLeaderboard(ctx, dataset, "run-missing")
		if err != nil {
			t.Fatalf("GetLeaderboard miss failed: %v", err)
		}
		if miss != nil {
			t.Error("expected nil on leaderboard miss")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, dataset, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, dataset, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, dataset, "k", []byte("v"), time.Minute)

		err := testCache.Close()
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}

		// Cache should be empty after close
		val, _ := testCache.Get(ctx, dataset, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		_, ok := cache.(*LRUCache)
		if !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
