package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/scorebt/internal/backtest"
	"github.com/wonny/scorebt/internal/runner"
	"github.com/wonny/scorebt/pkg/config"
)

// backtestCmd represents the backtest command
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run score-driven backtests",
	Long: `Replays score snapshots as a periodic rebalance.

On every snapshot with at least --min-breadth assets the top --top-n
scored symbols are held: symbols leaving the top set are sold, new ones
are bought with whole shares, and the portfolio is valued. Everything
is sold at the last eligible date.

Example:
  go run ./cmd/scorebt backtest run --snapshots snapshots.json
  go run ./cmd/scorebt backtest run --snapshots snapshots.json --price-source file --prices prices.json
  go run ./cmd/scorebt backtest run --top-n 20 --allocation equal --format csv,xlsx,chart`,
}

var (
	backtestRunCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a backtest",
		Long: `Runs one backtest and exports the ledger.

Flags left unset fall back to the environment (.env) and the --profile.

Example:
  go run ./cmd/scorebt backtest run --snapshots snapshots.json
  go run ./cmd/scorebt backtest run --snapshots snapshots.json --starting-cash 250000 --valuation stale
  go run ./cmd/scorebt backtest run --price-source postgres --format postgres`,
		RunE: runBacktest,
	}

	// Flags
	btSnapshots    string
	btPriceSource  string
	btPriceFile    string
	btTopN         int
	btMinBreadth   int
	btStartingCash string
	btAllocation   string
	btValuation    string
	btWorkers      int
	btBenchmark    string
	btNoBenchmark  bool
	btOutputDir    string
	btPrefix       string
	btFormats      string
)

func init() {
	rootCmd.AddCommand(backtestCmd)
	backtestCmd.AddCommand(backtestRunCmd)

	addSourceFlags(backtestRunCmd)
	addParameterFlags(backtestRunCmd)

	backtestRunCmd.Flags().StringVar(&btBenchmark, "benchmark", "", "benchmark index symbol (default BENCHMARK_SYMBOL)")
	backtestRunCmd.Flags().BoolVar(&btNoBenchmark, "no-benchmark", false, "skip the benchmark series")
	backtestRunCmd.Flags().StringVar(&btOutputDir, "out", "", "output directory (default OUTPUT_DIR)")
	backtestRunCmd.Flags().StringVar(&btPrefix, "prefix", "analyst-", "output file name prefix")
	backtestRunCmd.Flags().StringVar(&btFormats, "format", "csv,xlsx,chart", "output formats: csv, xlsx, chart, postgres")
}

// addSourceFlags registers where snapshots and prices come from
func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&btSnapshots, "snapshots", "", "snapshot JSON file (default SNAPSHOT_FILE, else Postgres)")
	cmd.Flags().StringVar(&btPriceSource, "price-source", "fmp", "price source: fmp, postgres, file")
	cmd.Flags().StringVar(&btPriceFile, "prices", "", "price JSON file for --price-source file")
}

// addParameterFlags registers the simulation parameters
func addParameterFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&btTopN, "top-n", 0, "number of symbols to hold (default TOP_N)")
	cmd.Flags().IntVar(&btMinBreadth, "min-breadth", 0, "minimum snapshot size (default MIN_BREADTH)")
	cmd.Flags().StringVar(&btStartingCash, "starting-cash", "", "starting cash (default STARTING_CASH)")
	cmd.Flags().StringVar(&btAllocation, "allocation", "", "sequential, priced-only or equal")
	cmd.Flags().StringVar(&btValuation, "valuation", "", "zero or stale")
	cmd.Flags().IntVar(&btWorkers, "workers", 0, "concurrent price lookups (default PREFETCH_WORKERS)")
}

// applyParameterFlags overrides cfg with the flags the user actually set
func applyParameterFlags(cmd *cobra.Command, cfg *config.Config) error {
	b := &cfg.Backtest
	flags := cmd.Flags()
	if flags.Changed("top-n") {
		b.TopN = btTopN
	}
	if flags.Changed("min-breadth") {
		b.MinBreadth = btMinBreadth
	}
	if flags.Changed("starting-cash") {
		b.StartingCash = btStartingCash
	}
	if flags.Changed("allocation") {
		b.Allocation = btAllocation
	}
	if flags.Changed("valuation") {
		b.Valuation = btValuation
	}
	if flags.Changed("workers") {
		b.PrefetchWorkers = btWorkers
	}
	if flags.Changed("snapshots") {
		cfg.SnapshotFile = btSnapshots
	}
	return b.Validate()
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if err := applyParameterFlags(cmd, cfg); err != nil {
		return err
	}

	formats, err := runner.ParseFormats(btFormats)
	if err != nil {
		return err
	}
	priceSource, err := runner.ParsePriceSource(btPriceSource)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := runner.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer res.Close()

	source, err := res.Snapshots(cfg.SnapshotFile)
	if err != nil {
		return err
	}
	prices, err := res.Prices(priceSource, btPriceFile)
	if err != nil {
		return err
	}

	bench := cfg.BenchmarkSymbol
	if btBenchmark != "" {
		bench = btBenchmark
	}
	if btNoBenchmark {
		bench = ""
	}
	outDir := cfg.OutputDir
	if btOutputDir != "" {
		outDir = btOutputDir
	}

	PrintHeader("Score Backtest")
	PrintKeyValue("Top N", fmt.Sprint(cfg.Backtest.TopN), 14)
	PrintKeyValue("Min breadth", fmt.Sprint(cfg.Backtest.MinBreadth), 14)
	PrintKeyValue("Starting cash", cfg.Backtest.StartingCash, 14)
	PrintKeyValue("Allocation", cfg.Backtest.Allocation, 14)
	PrintKeyValue("Valuation", cfg.Backtest.Valuation, 14)
	PrintKeyValue("Prices", string(priceSource), 14)
	PrintSeparator()

	report, err := runner.New(res.DB, log).Run(ctx, runner.Job{
		Backtest:  cfg.Backtest,
		Source:    source,
		Prices:    prices,
		Benchmark: bench,
		OutputDir: outDir,
		Prefix:    btPrefix,
		Formats:   formats,
	})
	if report != nil {
		printReport(report)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			PrintWarning("Backtest interrupted, partial results shown above were not exported")
		}
		if errors.Is(err, backtest.ErrNoEligibleSnapshots) {
			PrintError("No snapshot reaches the breadth threshold, lower --min-breadth")
		}
		return err
	}

	PrintSuccess(fmt.Sprintf("Backtest %s completed in %s", report.RunID, report.Duration.Round(time.Millisecond)))
	return nil
}

func printReport(report *runner.Report) {
	s := report.Summary
	fmt.Println()
	fmt.Println("📅 Snapshots")
	PrintKeyValue("Total", fmt.Sprint(s.Total), 14)
	PrintKeyValue("Eligible", fmt.Sprintf("%d (breadth ≥ %d)", s.Eligible, s.MinBreadth), 14)
	if s.Eligible > 0 {
		PrintKeyValue("Period", s.FirstEligible.Format("2006-01-02")+" ~ "+s.LastEligible.Format("2006-01-02"), 14)
	}

	r := report.Result
	if r == nil {
		return
	}
	m := r.Metrics

	fmt.Println()
	fmt.Println("💰 Performance")
	PrintKeyValue("Starting cash", formatMoney(r.StartingCash), 14)
	PrintKeyValue("Final value", formatMoney(m.FinalValue), 14)
	PrintKeyValue("Final cash", formatMoney(r.FinalCash), 14)
	PrintKeyValue("Total return", formatPercent(m.TotalReturn), 14)
	PrintKeyValue("CAGR", formatPercent(m.CAGR), 14)
	PrintKeyValue("Volatility", fmt.Sprintf("%.2f%%", m.Volatility*100), 14)
	PrintKeyValue("Max drawdown", fmt.Sprintf("%.2f%%", m.MaxDrawdown*100), 14)

	fmt.Println()
	fmt.Println("💹 Trading")
	PrintKeyValue("Rebalances", fmt.Sprint(m.Periods), 14)
	PrintKeyValue("Buys / Sells", fmt.Sprintf("%d / %d", m.Buys, m.Sells), 14)
	PrintKeyValue("Price lookups", fmt.Sprintf("%d (%d cached)", r.CacheStats.ProviderCalls, r.CacheStats.Hits), 14)
	if len(r.Unliquidated) > 0 {
		PrintWarning(fmt.Sprintf("%d positions had no price at the final date and were not sold", len(r.Unliquidated)))
	}

	if report.Benchmark != nil && len(report.Benchmark.Points) > 1 {
		pts := report.Benchmark.Points
		first, last := pts[0].Value, pts[len(pts)-1].Value
		if first.IsPositive() {
			ret, _ := last.Div(first).Sub(decimalOne).Float64()
			PrintKeyValue(report.Benchmark.Symbol, formatPercent(ret), 14)
		}
	}

	// Last valuations
	if n := len(r.Valuations); n > 0 {
		fmt.Println()
		fmt.Println("📈 Valuations (last 10)")
		widths := []int{10, 16, 16, 16}
		PrintTableHeader([]string{"Date", "Portfolio", "Cash", "Total"}, widths)
		start := n - 10
		if start < 0 {
			start = 0
		}
		for _, v := range r.Valuations[start:] {
			PrintTableRow([]string{
				v.Date.Format("2006-01-02"),
				formatMoney(v.PortfolioValue),
				formatMoney(v.Cash),
				formatMoney(v.TotalValue),
			}, widths)
		}
	}

	if len(report.Outputs) > 0 {
		fmt.Println()
		fmt.Println("📁 Outputs")
		PrintList(report.Outputs)
	}
	fmt.Println()
}
