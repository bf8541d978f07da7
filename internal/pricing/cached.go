package pricing

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cached memoizes successful quotes per symbol for a TTL.
// Failures are never cached.
type Cached struct {
	next  Source
	cache *gocache.Cache
}

func NewCached(next Source, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: gocache.New(ttl, 2*ttl)}
}

func (c *Cached) Price(ctx context.Context, symbol string) (Quote, error) {
	key := normalize(symbol)
	if v, ok := c.cache.Get(key); ok {
		if q, ok := v.(Quote); ok {
			return q, nil
		}
	}
	q, err := c.next.Price(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}
	if q.Price.IsPositive() {
		c.cache.SetDefault(key, q)
	}
	return q, nil
}

// Flush drops every cached quote.
func (c *Cached) Flush() { c.cache.Flush() }
