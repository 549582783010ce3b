package repos

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/internal/data"
	"github.com/wonny/scorebt/pkg/config"
	"github.com/wonny/scorebt/pkg/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if testing.Short() || url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	db, err := database.New(ctx, &config.Config{Database: config.DatabaseConfig{URL: url}})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, data.EnsureSchema(ctx, db))
	return db
}

func TestNumeric_IsExact(t *testing.T) {
	n := numeric(decimal.RequireFromString("185.6400"))
	assert.True(t, n.Valid)
	assert.Equal(t, "1856400", n.Int.String())
	assert.Equal(t, int32(-4), n.Exp)
}

func TestPriceRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewPriceRepository(db.Pool)
	symbol := "TEST-" + time.Now().Format("150405.000")
	t.Cleanup(func() {
		db.Pool.Exec(ctx, `DELETE FROM market.daily_prices WHERE symbol = $1`, symbol)
	})

	n, err := repo.SavePrices(ctx, symbol, map[string]decimal.Decimal{
		"2024-01-02": decimal.RequireFromString("185.64"),
		"2024-01-03": decimal.RequireFromString("184.25"),
		"2024-01-04": decimal.Zero,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	price, ok, err := repo.Price(ctx, symbol, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "185.64", price.String())

	_, ok, err = repo.Price(ctx, symbol, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok, "missing rows are absent prices")

	series, err := repo.Range(ctx, symbol,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, series, 2)
}

func TestLedgerRepository_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewLedgerRepository(db)

	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	ledger := &contracts.Ledger{
		Transactions: []contracts.Transaction{
			contracts.NewTransaction(d, contracts.ActionBuy, "AAPL", 5, decimal.RequireFromString("185.64")),
		},
		Valuations: []contracts.Valuation{
			contracts.NewValuation(d, decimal.RequireFromString("928.2"), decimal.RequireFromString("71.8")),
		},
	}

	require.NoError(t, repo.Write(ctx, ledger))
	require.NotEmpty(t, ledger.RunID)
	t.Cleanup(func() {
		db.Pool.Exec(ctx, `DELETE FROM backtest.runs WHERE run_id = $1`, ledger.RunID)
	})

	loaded, err := repo.Load(ctx, ledger.RunID)
	require.NoError(t, err)
	require.Len(t, loaded.Transactions, 1)
	assert.True(t, loaded.Transactions[0].Amount.Equal(ledger.Transactions[0].Amount))
	require.Len(t, loaded.Valuations, 1)
	assert.True(t, loaded.Valuations[0].TotalValue.Equal(decimal.NewFromInt(1000)))

	_, err = repo.Load(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestLedgerRepository_RejectsNonUUID(t *testing.T) {
	repo := NewLedgerRepository(nil)
	err := repo.Write(context.Background(), &contracts.Ledger{RunID: "not-a-uuid"})
	assert.Error(t, err)
}

func TestSnapshotRepository_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewSnapshotRepository(db.Pool)

	d := time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC)
	t.Cleanup(func() {
		db.Pool.Exec(ctx, `DELETE FROM scores.snapshots WHERE snap_date = $1`, d)
	})

	require.NoError(t, repo.Save(ctx, []contracts.Snapshot{{
		Date: d,
		Assets: []contracts.ScoredAsset{
			{Symbol: "B", Score: contracts.Score(0.5)},
			{Symbol: "A", Score: nil},
		},
	}}))

	all, err := repo.Snapshots(ctx)
	require.NoError(t, err)

	var found *contracts.Snapshot
	for i := range all {
		if all[i].Date.Equal(d) {
			found = &all[i]
		}
	}
	require.NotNil(t, found)
	require.Len(t, found.Assets, 2)
	assert.Equal(t, "B", found.Assets[0].Symbol)
	assert.Nil(t, found.Assets[1].Score)
}
