package backtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/internal/pricing"
	"github.com/wonny/scorebt/internal/selection"
	"github.com/wonny/scorebt/pkg/logger"
)

func date(s string) time.Time {
	d, err := time.Parse(contracts.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// prices builds a MapProvider from "SYMBOL@YYYY-MM-DD" → price
func prices(m map[string]string) pricing.MapProvider {
	p := pricing.MapProvider{}
	for key, v := range m {
		var symbol, day string
		for i := len(key) - 1; i >= 0; i-- {
			if key[i] == '@' {
				symbol, day = key[:i], key[i+1:]
				break
			}
		}
		p.Set(symbol, day, dec(v))
	}
	return p
}

// snapshot builds a snapshot with the given scored symbols followed by filler
// unscored assets, so breadth can be controlled independently of the ranking.
func snapshot(day string, filler int, scored ...interface{}) contracts.Snapshot {
	s := contracts.Snapshot{Date: date(day)}
	for i := 0; i+1 < len(scored); i += 2 {
		s.Assets = append(s.Assets, contracts.ScoredAsset{
			Symbol: scored[i].(string),
			Score:  contracts.Score(scored[i+1].(float64)),
		})
	}
	for i := 0; i < filler; i++ {
		s.Assets = append(s.Assets, contracts.ScoredAsset{Symbol: fmt.Sprintf("FILL%03d", i)})
	}
	return s
}

// failing wraps a provider and returns err for one symbol on one day
func failing(next contracts.PriceProvider, symbol, day string, err error) contracts.PriceProvider {
	return contracts.PriceProviderFunc(func(ctx context.Context, s string, d time.Time) (decimal.Decimal, bool, error) {
		if s == symbol && d.Format(contracts.DateLayout) == day {
			return decimal.Zero, false, err
		}
		return next.Price(ctx, s, d)
	})
}

func newSimulator(t *testing.T, provider contracts.PriceProvider, opts Options) *Simulator {
	t.Helper()
	sim, err := NewSimulator(pricing.NewCache(provider, 4), opts, logger.Nop())
	require.NoError(t, err)
	return sim
}

func newEngine(t *testing.T, provider contracts.PriceProvider, topN, minBreadth int, opts Options) *Engine {
	t.Helper()
	ranker, err := selection.NewRanker(topN, logger.Nop())
	require.NoError(t, err)
	engine, err := NewEngine(ranker, pricing.NewCache(provider, 4), opts, minBreadth, logger.Nop())
	require.NoError(t, err)
	return engine
}

func withCash(cash string) Options {
	opts := DefaultOptions()
	opts.StartingCash = dec(cash)
	return opts
}
