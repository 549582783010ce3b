package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/scorebt/internal/data/repos"
	"github.com/wonny/scorebt/internal/runner"
	"github.com/wonny/scorebt/pkg/database"
)

// pricesCmd groups price utilities
var pricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Manage the local price table",
}

var pricesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Copy closes from FMP into Postgres",
	Long: `Fetches daily closes over the eligible date range for every symbol that
reaches the top N on an eligible snapshot, plus the benchmark, and stores
them in market.daily_prices. Later runs can use --price-source postgres.

Example:
  go run ./cmd/scorebt prices import --snapshots snapshots.json
  go run ./cmd/scorebt prices import --snapshots snapshots.json --top-n 20`,
	RunE: runPricesImport,
}

func init() {
	rootCmd.AddCommand(pricesCmd)
	pricesCmd.AddCommand(pricesImportCmd)

	pricesImportCmd.Flags().StringVar(&btSnapshots, "snapshots", "", "snapshot JSON file (default SNAPSHOT_FILE, else Postgres)")
	pricesImportCmd.Flags().IntVar(&btTopN, "top-n", 0, "ranking depth (default TOP_N)")
	pricesImportCmd.Flags().IntVar(&btMinBreadth, "min-breadth", 0, "minimum snapshot size (default MIN_BREADTH)")
	pricesImportCmd.Flags().IntVar(&btWorkers, "workers", 0, "concurrent symbol fetches (default PREFETCH_WORKERS)")
}

func runPricesImport(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if err := applyParameterFlags(cmd, cfg); err != nil {
		return err
	}

	res, err := runner.Open(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer res.Close()
	if res.DB == nil {
		return fmt.Errorf("prices import: %w", database.ErrNotConfigured)
	}

	source, err := res.Snapshots(cfg.SnapshotFile)
	if err != nil {
		return err
	}
	remote, err := res.Prices(runner.PriceSourceFMP, "")
	if err != nil {
		return err
	}

	stats, err := runner.ImportPrices(cmd.Context(), runner.ImportJob{
		Source:    source,
		Ranges:    remote.Ranges,
		Store:     repos.NewPriceRepository(res.DB.Pool),
		Backtest:  cfg.Backtest,
		Benchmark: cfg.BenchmarkSymbol,
		Workers:   cfg.Backtest.PrefetchWorkers,
	}, log)
	if err != nil {
		return err
	}

	PrintSuccess(fmt.Sprintf("Imported %d closes for %d symbols (%s ~ %s)", stats.Rows, stats.Symbols, stats.From, stats.To))
	return nil
}
