package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/internal/selection"
	"github.com/wonny/scorebt/internal/snapshot"
	"github.com/wonny/scorebt/pkg/config"
	"github.com/wonny/scorebt/pkg/logger"
)

// PriceStore persists daily closes, e.g. repos.PriceRepository
type PriceStore interface {
	SavePrices(ctx context.Context, symbol string, closes map[string]decimal.Decimal) (int, error)
}

// ImportJob copies closes from a remote provider into a local store for every
// symbol a backtest over Source can trade.
type ImportJob struct {
	Source    contracts.SnapshotSource
	Ranges    contracts.RangeProvider
	Store     PriceStore
	Backtest  config.BacktestConfig
	Benchmark string
	Workers   int
}

// ImportStats reports what an import stored
type ImportStats struct {
	Symbols int    `json:"symbols"`
	Rows    int    `json:"rows"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// ImportPrices fetches [first, last eligible date] for every symbol that reaches the
// top N on an eligible date, plus the benchmark, and saves the closes.
func ImportPrices(ctx context.Context, job ImportJob, log *logger.Logger) (*ImportStats, error) {
	if job.Source == nil || job.Ranges == nil || job.Store == nil {
		return nil, errors.New("import needs a snapshot source, a range provider and a store")
	}

	snapshots, err := job.Source.Snapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	dates := snapshot.EligibleDates(snapshots, job.Backtest.MinBreadth)
	if len(dates) == 0 {
		return nil, fmt.Errorf("no snapshot reaches breadth %d", job.Backtest.MinBreadth)
	}

	ranker, err := selection.NewRanker(job.Backtest.TopN, log)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{})
	for i := range snapshots {
		if !snapshots[i].IsEligible(job.Backtest.MinBreadth) {
			continue
		}
		for _, sym := range ranker.Select(&snapshots[i]) {
			wanted[sym] = struct{}{}
		}
	}
	if job.Benchmark != "" {
		wanted[job.Benchmark] = struct{}{}
	}

	symbols := make([]string, 0, len(wanted))
	for sym := range wanted {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	from, to := dates[0], dates[len(dates)-1]
	stats := &ImportStats{
		Symbols: len(symbols),
		From:    from.Format(contracts.DateLayout),
		To:      to.Format(contracts.DateLayout),
	}

	workers := job.Workers
	if workers <= 0 {
		workers = 4
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			closes, err := job.Ranges.Range(gctx, sym, from, to)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", sym, err)
			}
			n, err := job.Store.SavePrices(gctx, sym, closes)
			if err != nil {
				return fmt.Errorf("save %s: %w", sym, err)
			}

			mu.Lock()
			stats.Rows += n
			mu.Unlock()

			log.WithFields(map[string]interface{}{
				"symbol": sym,
				"rows":   n,
			}).Debug("Prices imported")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}

	log.WithFields(map[string]interface{}{
		"symbols": stats.Symbols,
		"rows":    stats.Rows,
		"from":    stats.From,
		"to":      stats.To,
	}).Info("Price import completed")

	return stats, nil
}
