package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/internal/pricing"
	"github.com/wonny/scorebt/pkg/config"
	"github.com/wonny/scorebt/pkg/logger"
)

// Allocation selects how the buy phase splits cash across new candidates
type Allocation string

const (
	// AllocationSequential divides current cash by the candidates left, counting
	// every processed candidate whether or not it was bought.
	AllocationSequential Allocation = "sequential"
	// AllocationPricedOnly is sequential but only priced candidates count as processed.
	AllocationPricedOnly Allocation = "priced-only"
	// AllocationEqual gives every candidate the same share of the cash at the start
	// of the buy phase.
	AllocationEqual Allocation = "equal"
)

// ValuationPolicy selects how holdings without a price are valued
type ValuationPolicy string

const (
	// ValuationZero values unpriced holdings at 0 for that valuation only
	ValuationZero ValuationPolicy = "zero"
	// ValuationStale values unpriced holdings at the last price seen for the symbol
	ValuationStale ValuationPolicy = "stale"
)

// ErrInvalidOptions wraps every Options validation failure
var ErrInvalidOptions = errors.New("invalid backtest options")

// Options configures one Simulator
type Options struct {
	StartingCash decimal.Decimal
	Allocation   Allocation
	Valuation    ValuationPolicy
}

// DefaultOptions returns 100000 starting cash, sequential allocation, zero valuation
func DefaultOptions() Options {
	return Options{
		StartingCash: decimal.NewFromInt(100000),
		Allocation:   AllocationSequential,
		Valuation:    ValuationZero,
	}
}

// Validate checks the options
func (o Options) Validate() error {
	if o.StartingCash.IsNegative() {
		return fmt.Errorf("%w: starting cash %s is negative", ErrInvalidOptions, o.StartingCash)
	}
	switch o.Allocation {
	case AllocationSequential, AllocationPricedOnly, AllocationEqual:
	default:
		return fmt.Errorf("%w: unknown allocation %q", ErrInvalidOptions, o.Allocation)
	}
	switch o.Valuation {
	case ValuationZero, ValuationStale:
	default:
		return fmt.Errorf("%w: unknown valuation policy %q", ErrInvalidOptions, o.Valuation)
	}
	return nil
}

// OptionsFromConfig converts the env/profile backtest section
func OptionsFromConfig(cfg config.BacktestConfig) (Options, error) {
	cash, err := decimal.NewFromString(cfg.StartingCash)
	if err != nil {
		return Options{}, fmt.Errorf("%w: starting cash %q: %v", ErrInvalidOptions, cfg.StartingCash, err)
	}
	opts := Options{
		StartingCash: cash,
		Allocation:   Allocation(cfg.Allocation),
		Valuation:    ValuationPolicy(cfg.Valuation),
	}
	return opts, opts.Validate()
}

// Step is the committed outcome of one rebalance
type Step struct {
	Date         time.Time               `json:"date"`
	Transactions []contracts.Transaction `json:"transactions"`
	Valuation    contracts.Valuation     `json:"valuation"`
	Holdings     int                     `json:"holdings"`
	// Unpriced lists holdings that had no price at valuation time
	Unpriced []string `json:"unpriced,omitempty"`
}

// Liquidation is the outcome of the final sell-off
type Liquidation struct {
	Date         time.Time
	Transactions []contracts.Transaction
	Unliquidated []contracts.Position
}

// state is the mutable part of the simulator, copied before every step
type state struct {
	portfolio contracts.Portfolio
	cash      decimal.Decimal
	lastPrice map[string]decimal.Decimal
}

func (s *state) clone() *state {
	last := make(map[string]decimal.Decimal, len(s.lastPrice))
	for k, v := range s.lastPrice {
		last[k] = v
	}
	return &state{
		portfolio: s.portfolio.Clone(),
		cash:      s.cash,
		lastPrice: last,
	}
}

// Simulator holds the portfolio and cash of one run and applies rebalances to them.
// Every step runs on a copy and commits only when it completes, so a provider error
// or cancellation leaves the committed state untouched.
// ⭐ SSOT: portfolio state transitions happen here only
type Simulator struct {
	cache  *pricing.Cache
	opts   Options
	logger *logger.Logger

	st *state
}

// NewSimulator creates a simulator with StartingCash and an empty portfolio
func NewSimulator(cache *pricing.Cache, opts Options, log *logger.Logger) (*Simulator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Simulator{
		cache:  cache,
		opts:   opts,
		logger: log,
		st: &state{
			portfolio: contracts.Portfolio{},
			cash:      opts.StartingCash,
			lastPrice: make(map[string]decimal.Decimal),
		},
	}, nil
}

// Cash returns the committed cash balance
func (s *Simulator) Cash() decimal.Decimal {
	return s.st.cash
}

// Portfolio returns a copy of the committed holdings
func (s *Simulator) Portfolio() contracts.Portfolio {
	return s.st.portfolio.Clone()
}

// price resolves a price through the cache. Non-positive prices count as absent.
// Resolved prices are remembered in w for the stale valuation policy.
func (s *Simulator) price(ctx context.Context, w *state, symbol string, date time.Time) (decimal.Decimal, bool, error) {
	price, ok, err := s.cache.Get(ctx, symbol, date)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("price %s: %w", symbol, err)
	}
	if !ok || !price.IsPositive() {
		return decimal.Zero, false, nil
	}
	w.lastPrice[symbol] = price
	return price, true, nil
}

// Rebalance sells holdings that left top, buys new members of top and values the result.
// top is in rank order.
func (s *Simulator) Rebalance(ctx context.Context, date time.Time, top []string) (Step, error) {
	if err := ctx.Err(); err != nil {
		return Step{}, err
	}

	w := s.st.clone()
	step := Step{Date: date}

	held := w.portfolio.Symbols()
	inTop := make(map[string]bool, len(top))
	var candidates []string
	for _, symbol := range top {
		if inTop[symbol] {
			continue
		}
		inTop[symbol] = true
		if _, owned := w.portfolio[symbol]; !owned {
			candidates = append(candidates, symbol)
		}
	}

	if err := s.cache.Prefetch(ctx, date, append(append([]string{}, held...), candidates...)); err != nil {
		return Step{}, fmt.Errorf("prefetch: %w", err)
	}

	// Sell phase
	for _, symbol := range held {
		if inTop[symbol] {
			continue
		}
		price, ok, err := s.price(ctx, w, symbol, date)
		if err != nil {
			return Step{}, err
		}
		if !ok {
			s.logger.WithFields(map[string]interface{}{
				"date":   date.Format(contracts.DateLayout),
				"symbol": symbol,
			}).Debug("No price, holding position")
			continue
		}
		tx := contracts.NewTransaction(date, contracts.ActionSell, symbol, w.portfolio[symbol], price)
		w.cash = w.cash.Add(tx.Amount)
		delete(w.portfolio, symbol)
		step.Transactions = append(step.Transactions, tx)
	}

	// Buy phase
	buys, err := s.buy(ctx, w, date, candidates)
	if err != nil {
		return Step{}, err
	}
	step.Transactions = append(step.Transactions, buys...)

	// Valuation
	value, unpriced, err := s.value(ctx, w, date)
	if err != nil {
		return Step{}, err
	}

	if err := ctx.Err(); err != nil {
		return Step{}, err
	}

	step.Valuation = contracts.NewValuation(date, value, w.cash)
	step.Holdings = len(w.portfolio)
	step.Unpriced = unpriced
	s.st = w

	return step, nil
}

func (s *Simulator) buy(ctx context.Context, w *state, date time.Time, candidates []string) ([]contracts.Transaction, error) {
	var txs []contracts.Transaction
	if len(candidates) == 0 {
		return txs, nil
	}

	remaining := int64(len(candidates))
	startCash := w.cash

	for _, symbol := range candidates {
		price, ok, err := s.price(ctx, w, symbol, date)
		if err != nil {
			return nil, err
		}
		if !ok {
			if s.opts.Allocation == AllocationSequential {
				remaining--
			}
			continue
		}

		// qty = floor(budget / price) with budget = pool / slots, computed as one exact division
		pool, slots := w.cash, remaining
		if s.opts.Allocation == AllocationEqual {
			pool, slots = startCash, int64(len(candidates))
		}
		qty := floorDiv(pool, price.Mul(decimal.NewFromInt(slots)))

		if qty > 0 {
			tx := contracts.NewTransaction(date, contracts.ActionBuy, symbol, qty, price)
			w.cash = w.cash.Sub(tx.Amount)
			w.portfolio[symbol] += qty
			txs = append(txs, tx)
		}
		remaining--
	}

	return txs, nil
}

func (s *Simulator) value(ctx context.Context, w *state, date time.Time) (decimal.Decimal, []string, error) {
	total := decimal.Zero
	var unpriced []string

	for _, symbol := range w.portfolio.Symbols() {
		qty := decimal.NewFromInt(w.portfolio[symbol])
		price, ok, err := s.price(ctx, w, symbol, date)
		if err != nil {
			return decimal.Zero, nil, err
		}
		if ok {
			total = total.Add(qty.Mul(price))
			continue
		}

		unpriced = append(unpriced, symbol)
		if s.opts.Valuation == ValuationStale {
			if last, seen := w.lastPrice[symbol]; seen {
				total = total.Add(qty.Mul(last))
			}
		}
	}

	return total, unpriced, nil
}

// Liquidate sells every holding with a price on date. Holdings without one stay
// in the portfolio and are reported as unliquidated.
func (s *Simulator) Liquidate(ctx context.Context, date time.Time) (Liquidation, error) {
	if err := ctx.Err(); err != nil {
		return Liquidation{}, err
	}

	w := s.st.clone()
	out := Liquidation{Date: date}
	held := w.portfolio.Symbols()

	if err := s.cache.Prefetch(ctx, date, held); err != nil {
		return Liquidation{}, fmt.Errorf("prefetch: %w", err)
	}

	for _, symbol := range held {
		price, ok, err := s.price(ctx, w, symbol, date)
		if err != nil {
			return Liquidation{}, err
		}
		if !ok {
			out.Unliquidated = append(out.Unliquidated, contracts.Position{Symbol: symbol, Quantity: w.portfolio[symbol]})
			continue
		}
		tx := contracts.NewTransaction(date, contracts.ActionSell, symbol, w.portfolio[symbol], price)
		w.cash = w.cash.Add(tx.Amount)
		delete(w.portfolio, symbol)
		out.Transactions = append(out.Transactions, tx)
	}

	if err := ctx.Err(); err != nil {
		return Liquidation{}, err
	}
	s.st = w
	return out, nil
}

// floorDiv returns floor(a / b) for positive b
func floorDiv(a, b decimal.Decimal) int64 {
	q, _ := a.QuoRem(b, 0)
	return q.IntPart()
}
