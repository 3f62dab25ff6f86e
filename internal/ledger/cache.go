package ledger

import (
	"context"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/shopspring/decimal"
)

// capitalCache is a disposable projection of available capital. It is
// never the system of record: every mutation that changes a portfolio's
// committed balance deletes the key in the same call path, before the
// mutation returns.
type capitalCache struct {
	cache *bigcache.BigCache
}

func newCapitalCache(ttl time.Duration) (*capitalCache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.CleanWindow = ttl
	cache, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return &capitalCache{cache: cache}, nil
}

func (c *capitalCache) Get(portfolioID string) (decimal.Decimal, bool) {
	raw, err := c.cache.Get(portfolioID)
	if err != nil {
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}

func (c *capitalCache) Set(portfolioID string, value decimal.Decimal) {
	// Best effort; a failed write just means the next read recomputes.
	_ = c.cache.Set(portfolioID, []byte(value.String()))
}

func (c *capitalCache) Invalidate(portfolioID string) {
	// ErrEntryNotFound is the common case; the TTL bounds staleness for
	// anything else.
	_ = c.cache.Delete(portfolioID)
}
