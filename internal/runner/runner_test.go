package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/scorebt/internal/backtest"
	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/internal/pricing"
	"github.com/wonny/scorebt/internal/snapshot"
	"github.com/wonny/scorebt/pkg/config"
	"github.com/wonny/scorebt/pkg/database"
	"github.com/wonny/scorebt/pkg/logger"
	"github.com/wonny/scorebt/pkg/redis"
)

func date(day string) time.Time {
	t, err := time.Parse(contracts.DateLayout, day)
	if err != nil {
		panic(err)
	}
	return t
}

func switchScenario() (snapshot.StaticSource, pricing.MapProvider) {
	source := snapshot.StaticSource{
		{Date: date("2024-01-02"), Assets: []contracts.ScoredAsset{
			{Symbol: "A", Score: contracts.Score(0.9)},
			{Symbol: "B", Score: contracts.Score(0.1)},
		}},
		{Date: date("2024-02-01"), Assets: []contracts.ScoredAsset{
			{Symbol: "A", Score: contracts.Score(0.1)},
			{Symbol: "B", Score: contracts.Score(0.9)},
		}},
	}
	prices := pricing.MapProvider{}
	prices.Set("A", "2024-01-02", decimal.NewFromInt(100))
	prices.Set("A", "2024-02-01", decimal.NewFromInt(110))
	prices.Set("B", "2024-02-01", decimal.NewFromInt(50))
	prices.Set("^GSPC", "2024-01-02", decimal.RequireFromString("4742.83"))
	prices.Set("^GSPC", "2024-02-01", decimal.RequireFromString("4906.19"))
	return source, prices
}

func job(t *testing.T) Job {
	source, prices := switchScenario()
	bt := config.DefaultBacktestConfig()
	bt.MinBreadth = 1
	bt.TopN = 1
	bt.StartingCash = "1000"
	return Job{
		Backtest:  bt,
		Source:    source,
		Prices:    &Prices{Provider: prices, Ranges: prices},
		Benchmark: "^GSPC",
		OutputDir: t.TempDir(),
		Prefix:    "analyst-",
	}
}

func TestParseFormats(t *testing.T) {
	tests := []struct {
		input   string
		want    []Format
		wantErr bool
	}{
		{input: "", want: nil},
		{input: "csv", want: []Format{FormatCSV}},
		{input: "csv, xlsx,chart", want: []Format{FormatCSV, FormatXLSX, FormatChart}},
		{input: "postgres", want: []Format{FormatPostgres}},
		{input: "csv,pdf", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormats(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePriceSource(t *testing.T) {
	src, err := ParsePriceSource("file")
	require.NoError(t, err)
	assert.Equal(t, PriceSourceFile, src)

	_, err = ParsePriceSource("yahoo")
	assert.Error(t, err)
}

func TestRunner_Run(t *testing.T) {
	j := job(t)
	j.Formats = []Format{FormatCSV, FormatXLSX, FormatChart}

	var mu sync.Mutex
	var steps []backtest.Step
	j.Observer = func(step backtest.Step) {
		mu.Lock()
		defer mu.Unlock()
		steps = append(steps, step)
	}

	report, err := New(nil, logger.Nop()).Run(context.Background(), j)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Summary.Eligible)
	require.NotNil(t, report.Result)
	assert.True(t, report.Result.Completed)
	assert.True(t, report.Result.FinalCash.Equal(decimal.NewFromInt(1100)), report.Result.FinalCash.String())
	assert.Len(t, steps, 2)

	require.NotNil(t, report.Benchmark)
	assert.Len(t, report.Benchmark.Points, 2)

	for _, name := range []string{
		"analyst-transactions.csv",
		"analyst-valuations.csv",
		"analyst-benchmark.csv",
		"analyst-report.xlsx",
		"analyst-equity.png",
	} {
		path := filepath.Join(j.OutputDir, name)
		assert.Contains(t, report.Outputs, path)
		_, err := os.Stat(path)
		assert.NoError(t, err, name)
	}
}

func TestRunner_KeepsGivenRunID(t *testing.T) {
	j := job(t)
	j.RunID = "nightly-1"

	report, err := New(nil, logger.Nop()).Run(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, "nightly-1", report.RunID)
	assert.Empty(t, report.Outputs)
}

func TestRunner_MissingBenchmarkIsNotFatal(t *testing.T) {
	j := job(t)
	j.Benchmark = "^NDX"

	report, err := New(nil, logger.Nop()).Run(context.Background(), j)
	require.NoError(t, err)
	assert.NotNil(t, report.Benchmark)
	assert.Empty(t, report.Benchmark.Points)
}

func TestRunner_NoEligibleSnapshots(t *testing.T) {
	j := job(t)
	j.Backtest.MinBreadth = 10

	report, err := New(nil, logger.Nop()).Run(context.Background(), j)
	require.Error(t, err)
	assert.True(t, errors.Is(err, backtest.ErrNoEligibleSnapshots))
	require.NotNil(t, report)
	assert.Nil(t, report.Result)
	assert.Equal(t, 0, report.Summary.Eligible)
}

func TestRunner_PostgresWithoutDatabase(t *testing.T) {
	j := job(t)
	j.Formats = []Format{FormatPostgres}

	_, err := New(nil, logger.Nop()).Run(context.Background(), j)
	assert.ErrorIs(t, err, database.ErrNotConfigured)
}

func TestRunner_ProviderFailure(t *testing.T) {
	j := job(t)
	boom := errors.New("provider down")
	j.Prices = &Prices{Provider: contracts.PriceProviderFunc(func(context.Context, string, time.Time) (decimal.Decimal, bool, error) {
		return decimal.Zero, false, boom
	})}

	report, err := New(nil, logger.Nop()).Run(context.Background(), j)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, report.Result)
	assert.False(t, report.Result.Completed)
	assert.Empty(t, report.Result.Valuations)
}

func TestRunner_RequiresInputs(t *testing.T) {
	_, err := New(nil, logger.Nop()).Run(context.Background(), Job{})
	assert.Error(t, err)
}

func testResources(t *testing.T) *Resources {
	cfg := &config.Config{Backtest: config.DefaultBacktestConfig()}
	rc, err := redis.New(cfg)
	require.NoError(t, err)
	return NewResources(cfg, nil, rc, logger.Nop())
}

func TestResources_Prices(t *testing.T) {
	res := testResources(t)

	path := filepath.Join(t.TempDir(), "prices.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"AAPL":{"2024-01-02":185.64}}`), 0o600))

	p, err := res.Prices(PriceSourceFile, path)
	require.NoError(t, err)
	price, ok, err := p.Provider.Price(context.Background(), "AAPL", date("2024-01-02"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "185.64", price.String())

	_, err = res.Prices(PriceSourceFile, "")
	assert.Error(t, err)

	_, err = res.Prices(PriceSourceFMP, "")
	assert.Error(t, err, "fmp needs an API key")

	_, err = res.Prices(PriceSourcePostgres, "")
	assert.ErrorIs(t, err, database.ErrNotConfigured)
}

func TestResources_Snapshots(t *testing.T) {
	res := testResources(t)

	src, err := res.Snapshots("scores.json")
	require.NoError(t, err)
	assert.Equal(t, snapshot.FileSource{Path: "scores.json"}, src)

	_, err = res.Snapshots("")
	assert.Error(t, err)
}
