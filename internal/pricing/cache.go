package pricing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/wonny/scorebt/internal/contracts"
)

// DefaultWorkers bounds concurrent provider calls during Prefetch
const DefaultWorkers = 8

type entry struct {
	price decimal.Decimal
	ok    bool
}

// Stats counts cache activity over its lifetime
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	ProviderCalls int64 `json:"provider_calls"`
	Entries       int   `json:"entries"`
}

// Cache memoizes (symbol, date) price lookups for one run.
// Absent prices are stored too; provider errors are not.
// ⭐ SSOT: the only shared mutable state of a backtest
type Cache struct {
	provider contracts.PriceProvider
	workers  int

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	calls  atomic.Int64
}

// NewCache creates a cache in front of provider. workers <= 0 uses DefaultWorkers.
func NewCache(provider contracts.PriceProvider, workers int) *Cache {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Cache{
		provider: provider,
		workers:  workers,
		entries:  make(map[string]entry),
	}
}

func cacheKey(symbol string, date time.Time) string {
	return symbol + "|" + date.Format(contracts.DateLayout)
}

func (c *Cache) lookup(key string) (entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, found := c.entries[key]
	return e, found
}

// Get returns the price of symbol on date, calling the provider at most once per key.
// Provider errors are returned unmodified.
func (c *Cache) Get(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error) {
	key := cacheKey(symbol, date)
	if e, found := c.lookup(key); found {
		c.hits.Add(1)
		return e.price, e.ok, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A concurrent flight may have filled the key between lookup and Do
		if e, found := c.lookup(key); found {
			return e, nil
		}

		c.calls.Add(1)
		price, ok, err := c.provider.Price(ctx, symbol, date)
		if err != nil {
			return nil, err
		}

		e := entry{price: price, ok: ok}
		c.mu.Lock()
		c.entries[key] = e
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return decimal.Zero, false, err
	}

	e := v.(entry)
	return e.price, e.ok, nil
}

// Price implements contracts.PriceProvider so a Cache can stand in for its provider
func (c *Cache) Price(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error) {
	return c.Get(ctx, symbol, date)
}

// Prefetch resolves every symbol on date concurrently and keeps the answers.
// The first provider error cancels the remaining lookups and is returned.
func (c *Cache) Prefetch(ctx context.Context, date time.Time, symbols []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	seen := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}

		if _, found := c.lookup(cacheKey(symbol, date)); found {
			continue
		}

		symbol := symbol
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, _, err := c.Get(gctx, symbol, date)
			return err
		})
	}

	return g.Wait()
}

// Stats returns a snapshot of the counters
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		ProviderCalls: c.calls.Load(),
		Entries:       n,
	}
}
