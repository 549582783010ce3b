package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/internal/pricing"
	"github.com/wonny/scorebt/internal/selection"
	"github.com/wonny/scorebt/pkg/logger"
)

// ErrNoEligibleSnapshots is returned when no snapshot reaches the breadth threshold
var ErrNoEligibleSnapshots = errors.New("no eligible snapshots")

// ErrDuplicateDate is returned when two snapshots share a date
var ErrDuplicateDate = errors.New("duplicate snapshot date")

// Observer receives every committed step, in order
type Observer func(step Step)

// Eligibility summarizes the breadth filter of a run
type Eligibility struct {
	Snapshots     int `json:"snapshots"`
	Eligible      int `json:"eligible"`
	MinBreadth    int `json:"min_breadth"`
	WidestBreadth int `json:"widest_breadth"`
}

// Result holds everything a run produced. On error it holds what was committed
// before the failing date.
type Result struct {
	StartingCash decimal.Decimal         `json:"starting_cash"`
	Transactions []contracts.Transaction `json:"transactions"`
	Valuations   []contracts.Valuation   `json:"valuations"`
	FinalCash    decimal.Decimal         `json:"final_cash"`
	Unliquidated []contracts.Position    `json:"unliquidated,omitempty"`
	Eligibility  Eligibility             `json:"eligibility"`
	Metrics      Metrics                 `json:"metrics"`
	CacheStats   pricing.Stats           `json:"cache_stats"`
	Completed    bool                    `json:"completed"`
}

// Ledger returns the transactions and valuations as a sink input
func (r *Result) Ledger(runID string) *contracts.Ledger {
	return &contracts.Ledger{
		RunID:        runID,
		Transactions: r.Transactions,
		Valuations:   r.Valuations,
	}
}

// Dates returns the valuation dates of the run
func (r *Result) Dates() []time.Time {
	dates := make([]time.Time, len(r.Valuations))
	for i, v := range r.Valuations {
		dates[i] = v.Date
	}
	return dates
}

// Engine drives a Simulator over a snapshot sequence
// ⭐ SSOT: backtest runs are executed here only
type Engine struct {
	ranker     *selection.Ranker
	cache      *pricing.Cache
	opts       Options
	minBreadth int
	observer   Observer
	logger     *logger.Logger
}

// NewEngine creates a new backtest engine
func NewEngine(ranker *selection.Ranker, cache *pricing.Cache, opts Options, minBreadth int, log *logger.Logger) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if minBreadth < 0 {
		return nil, fmt.Errorf("%w: min breadth %d is negative", ErrInvalidOptions, minBreadth)
	}
	return &Engine{
		ranker:     ranker,
		cache:      cache,
		opts:       opts,
		minBreadth: minBreadth,
		logger:     log,
	}, nil
}

// WithObserver registers a callback for committed steps
func (e *Engine) WithObserver(observer Observer) *Engine {
	e.observer = observer
	return e
}

// Eligible sorts snapshots by date and drops those below the breadth threshold
func (e *Engine) Eligible(snapshots []contracts.Snapshot) ([]contracts.Snapshot, Eligibility, error) {
	sorted := make([]contracts.Snapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	stats := Eligibility{Snapshots: len(sorted), MinBreadth: e.minBreadth}
	eligible := make([]contracts.Snapshot, 0, len(sorted))
	for i := range sorted {
		snap := &sorted[i]
		if i > 0 && snap.Date.Equal(sorted[i-1].Date) {
			return nil, stats, fmt.Errorf("%w: %s", ErrDuplicateDate, snap.Day())
		}
		if snap.Breadth() > stats.WidestBreadth {
			stats.WidestBreadth = snap.Breadth()
		}
		if !snap.IsEligible(e.minBreadth) {
			e.logger.WithFields(map[string]interface{}{
				"date":        snap.Day(),
				"breadth":     snap.Breadth(),
				"min_breadth": e.minBreadth,
			}).Debug("Skipping ineligible snapshot")
			continue
		}
		eligible = append(eligible, *snap)
	}
	stats.Eligible = len(eligible)

	return eligible, stats, nil
}

// Run rebalances at every eligible snapshot and liquidates at the last one.
// On a provider error or cancellation the returned Result holds everything
// committed before the failing date.
func (e *Engine) Run(ctx context.Context, snapshots []contracts.Snapshot) (*Result, error) {
	eligible, stats, err := e.Eligible(snapshots)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: %d snapshots, min breadth %d, widest breadth %d",
			ErrNoEligibleSnapshots, stats.Snapshots, stats.MinBreadth, stats.WidestBreadth)
	}

	sim, err := NewSimulator(e.cache, e.opts, e.logger)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"snapshots":     stats.Snapshots,
		"eligible":      stats.Eligible,
		"first":         eligible[0].Day(),
		"last":          eligible[len(eligible)-1].Day(),
		"top_n":         e.ranker.TopN(),
		"starting_cash": e.opts.StartingCash.String(),
		"allocation":    e.opts.Allocation,
		"valuation":     e.opts.Valuation,
	}).Info("Starting backtest")

	startTime := time.Now()
	result := &Result{
		StartingCash: e.opts.StartingCash,
		Transactions: make([]contracts.Transaction, 0),
		Valuations:   make([]contracts.Valuation, 0, len(eligible)),
		Eligibility:  stats,
	}

	for i := range eligible {
		snap := &eligible[i]
		if err := ctx.Err(); err != nil {
			e.finish(result, sim)
			return result, fmt.Errorf("backtest stopped at %s: %w", snap.Day(), err)
		}

		top := e.ranker.Select(snap)
		step, err := sim.Rebalance(ctx, snap.Date, top)
		if err != nil {
			e.finish(result, sim)
			return result, fmt.Errorf("rebalance %s: %w", snap.Day(), err)
		}

		result.Transactions = append(result.Transactions, step.Transactions...)
		result.Valuations = append(result.Valuations, step.Valuation)

		if len(step.Unpriced) > 0 {
			e.logger.WithFields(map[string]interface{}{
				"date":     snap.Day(),
				"unpriced": step.Unpriced,
			}).Debug("Holdings valued without a price")
		}
		if e.observer != nil {
			e.observer(step)
		}
	}

	last := eligible[len(eligible)-1]
	liq, err := sim.Liquidate(ctx, last.Date)
	if err != nil {
		e.finish(result, sim)
		return result, fmt.Errorf("liquidation %s: %w", last.Day(), err)
	}
	result.Transactions = append(result.Transactions, liq.Transactions...)
	result.Unliquidated = liq.Unliquidated

	for _, pos := range liq.Unliquidated {
		e.logger.WithFields(map[string]interface{}{
			"date":     last.Day(),
			"symbol":   pos.Symbol,
			"quantity": pos.Quantity,
		}).Warn("Position left unliquidated, no price")
	}

	result.Completed = true
	e.finish(result, sim)

	e.logger.WithFields(map[string]interface{}{
		"duration":     time.Since(startTime).String(),
		"transactions": len(result.Transactions),
		"valuations":   len(result.Valuations),
		"final_cash":   result.FinalCash.StringFixed(2),
		"total_return": fmt.Sprintf("%.2f%%", result.Metrics.TotalReturn*100),
		"max_drawdown": fmt.Sprintf("%.2f%%", result.Metrics.MaxDrawdown*100),
		"price_calls":  result.CacheStats.ProviderCalls,
	}).Info("Backtest completed")

	return result, nil
}

func (e *Engine) finish(result *Result, sim *Simulator) {
	result.FinalCash = sim.Cash()
	result.Metrics = ComputeMetrics(result.StartingCash, result.Valuations, result.Transactions)
	result.CacheStats = e.cache.Stats()
}
