package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stoppable interface {
	core.CacheRepository
	Stop()
}

func caches(t *testing.T, now func() time.Time) map[string]stoppable {
	t.Helper()

	mem := NewMemoryCache(zap.NewNop(), 0)
	mem.now = now

	lite, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"), zap.NewNop(), 0)
	require.NoError(t, err)
	lite.now = now

	return map[string]stoppable{"memory": mem, "sqlite": lite}
}

func TestCacheRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	next := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	for name, c := range caches(t, clock) {
		t.Run(name, func(t *testing.T) {
			defer c.Stop()
			ctx := context.Background()

			_, err := c.Get(ctx, "m1")
			assert.ErrorIs(t, err, core.ErrNotFound)

			require.NoError(t, c.Set(ctx, &core.CacheEntry{
				MessageID: "m1",
				Result: &core.ParsedSubscription{
					ServiceName:     "Netflix",
					Amount:          15.99,
					Currency:        "USD",
					BillingCycle:    core.CycleMonthly,
					NextBillingDate: &next,
					Confidence:      0.8,
					Source:          core.SourceAIBatch,
				},
				CachedAt:  now,
				ExpiresAt: now.Add(time.Hour),
			}))
			require.NoError(t, c.Set(ctx, &core.CacheEntry{
				MessageID: "negative",
				CachedAt:  now,
				ExpiresAt: now.Add(time.Hour),
			}))
			require.NoError(t, c.Set(ctx, &core.CacheEntry{
				MessageID: "stale",
				CachedAt:  now.Add(-2 * time.Hour),
				ExpiresAt: now.Add(-time.Hour),
			}))

			entry, err := c.Get(ctx, "m1")
			require.NoError(t, err)
			require.NotNil(t, entry.Result)
			assert.Equal(t, "Netflix", entry.Result.ServiceName)
			assert.Equal(t, 15.99, entry.Result.Amount)
			assert.Equal(t, core.SourceAIBatch, entry.Result.Source)
			require.NotNil(t, entry.Result.NextBillingDate)
			assert.True(t, next.Equal(*entry.Result.NextBillingDate))
			assert.True(t, now.Add(time.Hour).Equal(entry.ExpiresAt))

			entry, err = c.Get(ctx, "negative")
			require.NoError(t, err)
			assert.Nil(t, entry.Result)

			_, err = c.Get(ctx, "stale")
			assert.ErrorIs(t, err, core.ErrNotFound)

			require.NoError(t, c.Cleanup(ctx))
			require.NoError(t, c.Delete(ctx, "m1"))
			_, err = c.Get(ctx, "m1")
			assert.ErrorIs(t, err, core.ErrNotFound)

			_, err = c.Get(ctx, "negative")
			assert.NoError(t, err)
		})
	}
}

func TestMemoryCacheIsolation(t *testing.T) {
	c := NewMemoryCache(zap.NewNop(), 0)
	defer c.Stop()
	ctx := context.Background()

	p := &core.ParsedSubscription{ServiceName: "Spotify", Amount: 9.99}
	require.NoError(t, c.Set(ctx, &core.CacheEntry{MessageID: "m", Result: p, ExpiresAt: time.Now().Add(time.Hour)}))
	p.Amount = 0

	entry, err := c.Get(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, 9.99, entry.Result.Amount)

	entry.Result.ServiceName = "changed"
	again, err := c.Get(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, "Spotify", again.Result.ServiceName)
}

func TestMemoryCacheCleanup(t *testing.T) {
	now := time.Now()
	c := NewMemoryCache(zap.NewNop(), 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, &core.CacheEntry{MessageID: "old", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, c.Set(ctx, &core.CacheEntry{MessageID: "new", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, c.Cleanup(ctx))
	assert.Equal(t, 1, c.Len())
	c.Stop()
	c.Stop()
}

func TestSQLCacheOverwrite(t *testing.T) {
	c, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"), zap.NewNop(), 0)
	require.NoError(t, err)
	defer c.Stop()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, c.Set(ctx, &core.CacheEntry{MessageID: "m", CachedAt: now, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, c.Set(ctx, &core.CacheEntry{
		MessageID: "m",
		Result:    &core.ParsedSubscription{ServiceName: "Hulu", Amount: 7.99},
		CachedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}))

	entry, err := c.Get(ctx, "m")
	require.NoError(t, err)
	require.NotNil(t, entry.Result)
	assert.Equal(t, "Hulu", entry.Result.ServiceName)
	c.Stop()
}

func TestMySQLCacheUnreachable(t *testing.T) {
	_, err := NewMySQLCache("user:pw@tcp(127.0.0.1:1)/none?timeout=200ms", zap.NewNop(), 0)
	assert.Error(t, err)
}
