package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/internal/data"
	"github.com/wonny/scorebt/internal/data/repos"
	"github.com/wonny/scorebt/internal/external/fmp"
	"github.com/wonny/scorebt/internal/pricing"
	"github.com/wonny/scorebt/internal/snapshot"
	"github.com/wonny/scorebt/pkg/config"
	"github.com/wonny/scorebt/pkg/database"
	"github.com/wonny/scorebt/pkg/httputil"
	"github.com/wonny/scorebt/pkg/logger"
	"github.com/wonny/scorebt/pkg/redis"
)

// PriceSource selects where closes come from
type PriceSource string

const (
	PriceSourceFMP      PriceSource = "fmp"
	PriceSourcePostgres PriceSource = "postgres"
	PriceSourceFile     PriceSource = "file"
)

// ParsePriceSource validates a price source name
func ParsePriceSource(s string) (PriceSource, error) {
	switch PriceSource(s) {
	case PriceSourceFMP, PriceSourcePostgres, PriceSourceFile:
		return PriceSource(s), nil
	default:
		return "", fmt.Errorf("unknown price source %q (want fmp, postgres or file)", s)
	}
}

// Resources holds the shared connections of a process
type Resources struct {
	Config *config.Config
	DB     *database.DB // nil when DATABASE_URL is empty
	Redis  *redis.Client
	logger *logger.Logger
}

// NewResources wraps already opened connections. db may be nil.
func NewResources(cfg *config.Config, db *database.DB, rc *redis.Client, log *logger.Logger) *Resources {
	return &Resources{Config: cfg, DB: db, Redis: rc, logger: log}
}

// Open connects to the optional database and Redis.
// A missing DATABASE_URL is not an error; Postgres features are then unavailable.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Resources, error) {
	res := NewResources(cfg, nil, nil, log)

	db, err := database.New(ctx, cfg)
	switch {
	case errors.Is(err, database.ErrNotConfigured):
		log.Debug("DATABASE_URL not set, Postgres features disabled")
	case err != nil:
		return nil, fmt.Errorf("connect to database: %w", err)
	default:
		if err := data.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		res.DB = db
	}

	rc, err := redis.New(cfg)
	if err != nil {
		res.Close()
		return nil, err
	}
	res.Redis = rc

	log.WithFields(map[string]interface{}{
		"postgres": res.DB != nil,
		"redis":    rc.Enabled(),
	}).Info("Resources opened")

	return res, nil
}

// Close releases every connection
func (r *Resources) Close() {
	r.DB.Close()
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			r.logger.WithError(err).Warn("Redis close failed")
		}
	}
}

// Prices is the pair of providers a run needs: per-day closes for the simulator
// and ranges for the benchmark.
type Prices struct {
	Provider contracts.PriceProvider
	Ranges   contracts.RangeProvider
}

// Prices builds the price providers for source. priceFile is only read for PriceSourceFile.
// When Redis is enabled per-day lookups go through the cross-run Redis store.
func (r *Resources) Prices(source PriceSource, priceFile string) (*Prices, error) {
	var p Prices

	switch source {
	case PriceSourceFMP:
		if r.Config.FMP.APIKey == "" {
			return nil, errors.New("FMP_API_KEY is required for the fmp price source")
		}
		client := fmp.NewClient(httputil.New(r.logger), r.Config.FMP, r.logger)
		if r.Redis.Enabled() {
			limiter := redis.NewRateLimiter(r.Redis, "scorebt")
			client.WithLimiter(limiter.For(redis.FMPRateLimit(r.Config.FMP.RateLimit)))
		}
		p.Provider, p.Ranges = client, client

	case PriceSourcePostgres:
		if r.DB == nil {
			return nil, fmt.Errorf("postgres price source: %w", database.ErrNotConfigured)
		}
		repo := repos.NewPriceRepository(r.DB.Pool)
		p.Provider, p.Ranges = repo, repo

	case PriceSourceFile:
		if priceFile == "" {
			return nil, errors.New("a price file is required for the file price source")
		}
		m, err := pricing.LoadFile(priceFile)
		if err != nil {
			return nil, err
		}
		p.Provider, p.Ranges = m, m

	default:
		return nil, fmt.Errorf("unknown price source %q", source)
	}

	// File prices are already local
	if r.Redis.Enabled() && source != PriceSourceFile {
		cache := redis.NewCache(r.Redis, "scorebt")
		p.Provider = pricing.NewRedisStore(p.Provider, cache, r.Config.Redis.PriceTTL, r.logger)
		p.Ranges = pricing.NewRedisRangeStore(p.Ranges, cache, r.Config.Redis.PriceTTL, r.logger)
	}

	return &p, nil
}

// Snapshots picks the snapshot source: a JSON file when path is set, else Postgres.
func (r *Resources) Snapshots(path string) (contracts.SnapshotSource, error) {
	if path != "" {
		return snapshot.FileSource{Path: path}, nil
	}
	if r.DB == nil {
		return nil, errors.New("no snapshot file given and DATABASE_URL is not set")
	}
	return repos.NewSnapshotRepository(r.DB.Pool), nil
}
