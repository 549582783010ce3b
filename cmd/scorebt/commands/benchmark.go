package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wonny/scorebt/internal/benchmark"
	"github.com/wonny/scorebt/internal/export"
	"github.com/wonny/scorebt/internal/runner"
	"github.com/wonny/scorebt/internal/snapshot"
)

// benchmarkCmd exports the reference index over the eligible snapshot dates
var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Export the benchmark index for the eligible snapshot dates",
	Long: `Fetches the benchmark index once over the eligible date range and writes
one row per eligible date. Dates without a close reuse the last known close.

Example:
  go run ./cmd/scorebt benchmark --snapshots snapshots.json
  go run ./cmd/scorebt benchmark --snapshots snapshots.json --benchmark ^NDX --out reports`,
	RunE: runBenchmark,
}

func init() {
	rootCmd.AddCommand(benchmarkCmd)

	addSourceFlags(benchmarkCmd)
	benchmarkCmd.Flags().IntVar(&btMinBreadth, "min-breadth", 0, "minimum snapshot size (default MIN_BREADTH)")
	benchmarkCmd.Flags().StringVar(&btBenchmark, "benchmark", "", "index symbol (default BENCHMARK_SYMBOL)")
	benchmarkCmd.Flags().StringVar(&btOutputDir, "out", "", "output directory (default OUTPUT_DIR)")
	benchmarkCmd.Flags().StringVar(&btPrefix, "prefix", "analyst-", "output file name prefix")
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if err := applyParameterFlags(cmd, cfg); err != nil {
		return err
	}
	priceSource, err := runner.ParsePriceSource(btPriceSource)
	if err != nil {
		return err
	}

	res, err := runner.Open(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer res.Close()

	source, err := res.Snapshots(cfg.SnapshotFile)
	if err != nil {
		return err
	}
	snapshots, err := source.Snapshots(cmd.Context())
	if err != nil {
		return err
	}
	prices, err := res.Prices(priceSource, btPriceFile)
	if err != nil {
		return err
	}

	symbol := cfg.BenchmarkSymbol
	if btBenchmark != "" {
		symbol = btBenchmark
	}

	dates := snapshot.EligibleDates(snapshots, cfg.Backtest.MinBreadth)
	series, err := benchmark.NewBuilder(prices.Ranges, symbol, log).Build(cmd.Context(), dates)
	if err != nil {
		return err
	}

	outDir := cfg.OutputDir
	if btOutputDir != "" {
		outDir = btOutputDir
	}
	path := filepath.Join(outDir, btPrefix+"benchmark.csv")
	if err := export.WriteRows(path, series.Columns(), series.Rows()); err != nil {
		return err
	}

	stale := 0
	for _, p := range series.Points {
		if p.Stale {
			stale++
		}
	}
	PrintSuccess(fmt.Sprintf("Wrote %d %s points (%d carried forward) to %s", len(series.Points), symbol, stale, path))
	return nil
}
