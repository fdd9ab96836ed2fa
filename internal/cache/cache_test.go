package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fxquote/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	c := newTTLCache[string, int](func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()

	_, ok = c.Get("a")
	assert.False(t, ok)
	v, ok = c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestMemoryRateCachePurgeDerived(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryRateCache(time.Hour)
	observed := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, c.Set(ctx, "EUR", "USD", RateEntry{Value: decimal.RequireFromString("1.1627"), ObservedAt: observed}))
	require.NoError(t, c.Set(ctx, "usd", "kes", RateEntry{Value: decimal.RequireFromString("129.2872"), ObservedAt: observed, Derived: true}))
	require.NoError(t, c.Set(ctx, "EUR", "GBP", RateEntry{Value: decimal.Zero}))

	entry, ok, err := c.Get(ctx, "USD", "KES")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, entry.Derived)

	_, ok, _ = c.Get(ctx, "EUR", "GBP")
	assert.False(t, ok, "non-positive rates are never cached")

	purged, err := c.PurgeDerived(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, ok, _ = c.Get(ctx, "USD", "KES")
	assert.False(t, ok)
	entry, ok, _ = c.Get(ctx, "EUR", "USD")
	require.True(t, ok)
	assert.True(t, entry.Value.Equal(decimal.RequireFromString("1.1627")))

	require.NoError(t, c.Delete(ctx, "EUR", "USD"))
	_, ok, _ = c.Get(ctx, "EUR", "USD")
	assert.False(t, ok)
}

func TestMemoryRateCacheConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryRateCache(time.Hour)

	var wg sync.WaitGroup
	for i := 1; i <= 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = c.Set(ctx, "EUR", "USD", RateEntry{Value: decimal.NewFromInt(int64(i))})
			_, _, _ = c.Get(ctx, "EUR", "USD")
		}(i)
	}
	wg.Wait()

	_, ok, err := c.Get(ctx, "EUR", "USD")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewRateCacheBackendSelection(t *testing.T) {
	cfg := config.Config{Cache: config.CacheConfig{Backend: BackendMemory, TTL: time.Minute}}
	c, err := NewRateCache(Params{Cfg: cfg, Log: zap.NewNop()})
	require.NoError(t, err)
	assert.NotNil(t, c)

	cfg.Cache.Backend = BackendRedis
	_, err = NewRateCache(Params{Cfg: cfg, Log: zap.NewNop()})
	assert.Error(t, err)

	cfg.Cache.Backend = "memcached"
	_, err = NewRateCache(Params{Cfg: cfg, Log: zap.NewNop()})
	assert.Error(t, err)
}
