package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/pkg/logger"
	"github.com/wonny/scorebt/pkg/redis"
)

// cachedPrice is the JSON value stored per (symbol, date).
// Absent prices are stored so repeated runs skip known gaps.
type cachedPrice struct {
	Price decimal.Decimal `json:"price"`
	OK    bool            `json:"ok"`
}

// RedisStore is a read-through cross-run cache in front of a slower provider.
// Redis failures degrade to the wrapped provider with a warning.
type RedisStore struct {
	next   contracts.PriceProvider
	cache  *redis.Cache
	ttl    time.Duration
	logger *logger.Logger
}

// NewRedisStore wraps next. ttl <= 0 uses redis.TTLHistorical.
func NewRedisStore(next contracts.PriceProvider, cache *redis.Cache, ttl time.Duration, log *logger.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = redis.TTLHistorical
	}
	return &RedisStore{next: next, cache: cache, ttl: ttl, logger: log}
}

// Price implements contracts.PriceProvider
func (s *RedisStore) Price(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error) {
	key := redis.PriceKey(symbol, date.Format(contracts.DateLayout))

	var cached cachedPrice
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Price cache read failed")
	}
	if found {
		return cached.Price, cached.OK, nil
	}

	price, ok, err := s.next.Price(ctx, symbol, date)
	if err != nil {
		return decimal.Zero, false, err
	}

	if err := s.cache.Set(ctx, key, cachedPrice{Price: price, OK: ok}, s.ttl); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Price cache write failed")
	}
	return price, ok, nil
}

// RedisRangeStore caches whole close series, as used by the benchmark and the
// price importer. Errors from the wrapped provider are never cached.
type RedisRangeStore struct {
	next   contracts.RangeProvider
	cache  *redis.Cache
	ttl    time.Duration
	logger *logger.Logger
}

// NewRedisRangeStore wraps next. ttl <= 0 uses redis.TTLHistorical.
func NewRedisRangeStore(next contracts.RangeProvider, cache *redis.Cache, ttl time.Duration, log *logger.Logger) *RedisRangeStore {
	if ttl <= 0 {
		ttl = redis.TTLHistorical
	}
	return &RedisRangeStore{next: next, cache: cache, ttl: ttl, logger: log}
}

// Range implements contracts.RangeProvider
func (s *RedisRangeStore) Range(ctx context.Context, symbol string, from, to time.Time) (map[string]decimal.Decimal, error) {
	key := redis.RangeKey(symbol, from.Format(contracts.DateLayout), to.Format(contracts.DateLayout))

	var cached map[string]decimal.Decimal
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Range cache read failed")
	}
	if found {
		if cached == nil {
			cached = map[string]decimal.Decimal{}
		}
		return cached, nil
	}

	closes, err := s.next.Range(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, closes, s.ttl); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Range cache write failed")
	}
	return closes, nil
}
