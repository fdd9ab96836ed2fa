package cache

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const defaultRateTTL = time.Hour

// RateEntry is a cached rate for an ordered pair. Derived entries were
// computed from other pairs and never exist in the rate store.
type RateEntry struct {
	Value      decimal.Decimal `json:"value"`
	ObservedAt time.Time       `json:"observed_at"`
	Derived    bool            `json:"derived"`
}

// RateCache fronts the rate store. Writes are last-writer-wins per pair.
type RateCache interface {
	Get(ctx context.Context, base, target string) (RateEntry, bool, error)
	Set(ctx context.Context, base, target string, entry RateEntry) error
	Delete(ctx context.Context, base, target string) error
	// PurgeDerived drops every derived entry, typically after new legs land.
	PurgeDerived(ctx context.Context) (int, error)
}

type memoryRateCache struct {
	rates Cache[string, RateEntry]
	ttl   time.Duration
}

// NewMemoryRateCache returns a process-local rate cache.
func NewMemoryRateCache(ttl time.Duration) RateCache {
	if ttl <= 0 {
		ttl = defaultRateTTL
	}
	return &memoryRateCache{
		rates: NewTTLCache[string, RateEntry](),
		ttl:   ttl,
	}
}

func (c *memoryRateCache) Get(_ context.Context, base, target string) (RateEntry, bool, error) {
	entry, ok := c.rates.Get(pairKey(base, target))
	return entry, ok, nil
}

func (c *memoryRateCache) Set(_ context.Context, base, target string, entry RateEntry) error {
	if !entry.Value.IsPositive() {
		return nil
	}
	c.rates.Set(pairKey(base, target), entry, c.ttl)
	return nil
}

func (c *memoryRateCache) Delete(_ context.Context, base, target string) error {
	c.rates.Delete(pairKey(base, target))
	return nil
}

func (c *memoryRateCache) PurgeDerived(_ context.Context) (int, error) {
	return c.rates.DeleteFunc(func(_ string, entry RateEntry) bool {
		return entry.Derived
	}), nil
}

func pairKey(base, target string) string {
	return strings.ToUpper(strings.TrimSpace(base)) + ":" + strings.ToUpper(strings.TrimSpace(target))
}
