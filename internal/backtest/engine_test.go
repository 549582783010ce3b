package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/scorebt/internal/contracts"
)

func TestEngine_SwitchScenario(t *testing.T) {
	provider := prices(map[string]string{
		"A@2024-01-02": "100",
		"A@2024-01-09": "110",
		"B@2024-01-09": "50",
	})
	engine := newEngine(t, provider, 1, 1, withCash("1000"))

	result, err := engine.Run(context.Background(), []contracts.Snapshot{
		snapshot("2024-01-09", 0, "B", 0.9, "A", 0.5),
		snapshot("2024-01-02", 0, "A", 0.9),
	})
	require.NoError(t, err)
	require.True(t, result.Completed)

	require.Len(t, result.Transactions, 4)
	want := []struct {
		action contracts.Action
		symbol string
		qty    int64
		amount string
	}{
		{contracts.ActionBuy, "A", 10, "1000"},
		{contracts.ActionSell, "A", 10, "1100"},
		{contracts.ActionBuy, "B", 22, "1100"},
		{contracts.ActionSell, "B", 22, "1100"},
	}
	for i, w := range want {
		tx := result.Transactions[i]
		assert.Equal(t, w.action, tx.Action, "tx %d", i)
		assert.Equal(t, w.symbol, tx.Symbol, "tx %d", i)
		assert.Equal(t, w.qty, tx.Quantity, "tx %d", i)
		assert.True(t, tx.Amount.Equal(dec(w.amount)), "tx %d amount %s", i, tx.Amount)
	}
	assert.Equal(t, date("2024-01-09"), result.Transactions[3].Date, "liquidation happens on the last eligible date")

	require.Len(t, result.Valuations, 2)
	assert.True(t, result.Valuations[0].TotalValue.Equal(dec("1000")))
	assert.True(t, result.Valuations[1].TotalValue.Equal(dec("1100")))
	assert.True(t, result.FinalCash.Equal(dec("1100")))
	assert.Empty(t, result.Unliquidated)

	assert.InDelta(t, 0.1, result.Metrics.TotalReturn, 1e-9)
	assert.Equal(t, 2, result.Metrics.Buys)
	assert.Equal(t, 2, result.Metrics.Sells)
}

func TestEngine_BreadthFilter(t *testing.T) {
	provider := prices(map[string]string{
		"A@2024-01-02": "10",
		"X@2024-01-05": "1",
		"A@2024-01-09": "10",
	})
	engine := newEngine(t, provider, 1, 400, withCash("100"))

	var steps []Step
	engine.WithObserver(func(s Step) { steps = append(steps, s) })

	result, err := engine.Run(context.Background(), []contracts.Snapshot{
		snapshot("2024-01-02", 399, "A", 0.9),
		// only 50 assets: skipped entirely even though X would outrank A
		snapshot("2024-01-05", 49, "X", 5.0),
		snapshot("2024-01-09", 399, "A", 0.9),
	})
	require.NoError(t, err)

	assert.Equal(t, Eligibility{Snapshots: 3, Eligible: 2, MinBreadth: 400, WidestBreadth: 400}, result.Eligibility)
	require.Len(t, result.Valuations, 2)
	assert.Equal(t, date("2024-01-02"), result.Valuations[0].Date)
	assert.Equal(t, date("2024-01-09"), result.Valuations[1].Date)
	for _, tx := range result.Transactions {
		assert.NotEqual(t, "X", tx.Symbol)
	}

	// A is carried from the first to the last eligible snapshot untouched
	require.Len(t, steps, 2)
	assert.Empty(t, steps[1].Transactions)
	assert.Equal(t, 1, steps[1].Holdings)
}

func TestEngine_NoEligibleSnapshots(t *testing.T) {
	engine := newEngine(t, prices(nil), 40, 400, DefaultOptions())

	result, err := engine.Run(context.Background(), []contracts.Snapshot{
		snapshot("2024-01-02", 50),
		snapshot("2024-01-09", 120),
	})
	assert.Nil(t, result)
	require.ErrorIs(t, err, ErrNoEligibleSnapshots)
	assert.Contains(t, err.Error(), "2 snapshots")
	assert.Contains(t, err.Error(), "widest breadth 120")

	_, err = engine.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoEligibleSnapshots)
}

func TestEngine_DuplicateDates(t *testing.T) {
	engine := newEngine(t, prices(nil), 1, 0, DefaultOptions())

	_, err := engine.Run(context.Background(), []contracts.Snapshot{
		snapshot("2024-01-02", 1),
		snapshot("2024-01-02", 1),
	})
	assert.ErrorIs(t, err, ErrDuplicateDate)
}

func TestEngine_ProviderErrorReturnsPartialResult(t *testing.T) {
	boom := errors.New("rate limited")
	base := prices(map[string]string{
		"A@2024-01-02": "10",
		"B@2024-01-09": "10",
	})
	engine := newEngine(t, failing(base, "B", "2024-01-09", boom), 1, 1, withCash("100"))

	result, err := engine.Run(context.Background(), []contracts.Snapshot{
		snapshot("2024-01-02", 0, "A", 1.0),
		snapshot("2024-01-09", 0, "B", 1.0),
		snapshot("2024-01-16", 0, "B", 1.0),
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "2024-01-09")

	require.NotNil(t, result)
	assert.False(t, result.Completed)
	require.Len(t, result.Valuations, 1)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "A", result.Transactions[0].Symbol)
	assert.True(t, result.FinalCash.IsZero())
}

func TestEngine_CancelKeepsCommittedSteps(t *testing.T) {
	provider := prices(map[string]string{
		"A@2024-01-02": "10",
		"A@2024-01-09": "10",
		"A@2024-01-16": "10",
	})
	engine := newEngine(t, provider, 1, 1, withCash("100"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.WithObserver(func(Step) { cancel() })

	result, err := engine.Run(ctx, []contracts.Snapshot{
		snapshot("2024-01-02", 0, "A", 1.0),
		snapshot("2024-01-09", 0, "A", 1.0),
		snapshot("2024-01-16", 0, "A", 1.0),
	})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Len(t, result.Valuations, 1)
	assert.Len(t, result.Transactions, 1, "no liquidation after cancel")
}

func TestEngine_Unliquidated(t *testing.T) {
	provider := prices(map[string]string{
		"A@2024-01-02": "10",
		"B@2024-01-02": "10",
		"A@2024-01-09": "12",
	})
	engine := newEngine(t, provider, 2, 1, withCash("100"))

	result, err := engine.Run(context.Background(), []contracts.Snapshot{
		snapshot("2024-01-02", 0, "A", 1.0, "B", 0.5),
		snapshot("2024-01-09", 0, "A", 1.0, "B", 0.5),
	})
	require.NoError(t, err)

	assert.Equal(t, []contracts.Position{{Symbol: "B", Quantity: 5}}, result.Unliquidated)
	last := result.Transactions[len(result.Transactions)-1]
	assert.Equal(t, contracts.ActionSell, last.Action)
	assert.Equal(t, "A", last.Symbol)
	assert.True(t, result.FinalCash.Equal(dec("60")))
}

func TestEngine_IdempotentRerun(t *testing.T) {
	provider := prices(map[string]string{
		"A@2024-01-02": "10.5", "B@2024-01-02": "20.25", "C@2024-01-02": "7",
		"A@2024-01-09": "11", "B@2024-01-09": "19", "C@2024-01-09": "7.5",
		"A@2024-01-16": "12", "C@2024-01-16": "8",
	})
	snapshots := []contracts.Snapshot{
		snapshot("2024-01-02", 0, "A", 0.3, "B", 0.2, "C", 0.1),
		snapshot("2024-01-09", 0, "C", 0.3, "A", 0.2, "B", 0.1),
		snapshot("2024-01-16", 0, "B", 0.3, "C", 0.2, "A", 0.1),
	}

	run := func() *Result {
		result, err := newEngine(t, provider, 2, 1, withCash("1000")).Run(context.Background(), snapshots)
		require.NoError(t, err)
		return result
	}

	first, second := run(), run()
	assert.Equal(t, first.Transactions, second.Transactions)
	assert.Equal(t, first.Valuations, second.Valuations)
	assert.True(t, first.FinalCash.Equal(second.FinalCash))
}

func TestEngine_PriceCallsAreMemoized(t *testing.T) {
	provider := prices(map[string]string{
		"A@2024-01-02": "10",
		"A@2024-01-09": "10",
	})
	engine := newEngine(t, provider, 1, 1, withCash("100"))

	result, err := engine.Run(context.Background(), []contracts.Snapshot{
		snapshot("2024-01-02", 0, "A", 1.0),
		snapshot("2024-01-09", 0, "A", 1.0),
	})
	require.NoError(t, err)

	// one call per (symbol, date) even though valuation and liquidation re-read prices
	assert.Equal(t, int64(2), result.CacheStats.ProviderCalls)
}

func TestResult_Ledger(t *testing.T) {
	r := &Result{
		Transactions: []contracts.Transaction{contracts.NewTransaction(date("2024-01-02"), contracts.ActionBuy, "A", 1, dec("1"))},
		Valuations:   []contracts.Valuation{contracts.NewValuation(date("2024-01-02"), dec("1"), dec("0"))},
	}
	ledger := r.Ledger("run-1")
	assert.Equal(t, "run-1", ledger.RunID)
	assert.Len(t, ledger.Transactions, 1)
	assert.Equal(t, []time.Time{date("2024-01-02")}, r.Dates())
}
