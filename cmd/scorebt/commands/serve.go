package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/scorebt/internal/api"
	"github.com/wonny/scorebt/internal/api/handlers"
	"github.com/wonny/scorebt/internal/data/repos"
	"github.com/wonny/scorebt/internal/runner"
	"github.com/wonny/scorebt/internal/scheduler"
	"github.com/wonny/scorebt/internal/scheduler/jobs"
	"github.com/wonny/scorebt/pkg/config"
	"github.com/wonny/scorebt/pkg/logger"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server (and the scheduler when SCHEDULE is set)",
	Long: `Starts the REST API. When SCHEDULE holds a cron expression the configured
backtest is re-run on that schedule. With --price-source postgres the
price table is also refreshed from FMP every day at 06:00.

Endpoints:
  GET    /health
  POST   /api/backtests                   - start a run
  GET    /api/backtests                   - list runs
  GET    /api/backtests/{id}              - status and metrics
  GET    /api/backtests/{id}/transactions - ledger
  GET    /api/backtests/{id}/valuations   - valuation series
  DELETE /api/backtests/{id}              - cancel a run
  GET    /ws/backtests/{id}               - stream committed steps

Example:
  go run ./cmd/scorebt serve
  go run ./cmd/scorebt serve --port 9000 --schedule "30 22 * * 1-5"`,
	RunE: runServe,
}

var (
	servePort     string
	serveSchedule string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "API server port (default PORT)")
	serveCmd.Flags().StringVar(&serveSchedule, "schedule", "", "cron schedule for the backtest job (default SCHEDULE)")
	serveCmd.Flags().StringVar(&btPriceSource, "price-source", "fmp", "price source of scheduled runs: fmp, postgres, file")
	serveCmd.Flags().StringVar(&btPriceFile, "prices", "", "price JSON file for --price-source file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Port = servePort
	}
	if serveSchedule != "" {
		cfg.Schedule = serveSchedule
	}

	res, err := runner.Open(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer res.Close()

	run := runner.New(res.DB, log)
	registry := handlers.NewRegistry()

	var ledgers handlers.LedgerStore
	var health api.HealthChecker
	if res.DB != nil {
		ledgers = repos.NewLedgerRepository(res.DB)
		health = res.DB
	}

	bt := handlers.NewBacktestHandler(run, res, registry, ledgers, log)
	stream := handlers.NewStreamHandler(registry, log)
	server := api.New(cfg, log, api.NewRouter(bt, stream, health, log), registry)

	var sched *scheduler.Scheduler
	if cfg.Schedule != "" {
		sched, err = buildScheduler(cfg, res, run, log)
		if err != nil {
			return err
		}
		sched.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", cfg.Port)
	if sched != nil {
		fmt.Printf("⏰ Backtest scheduled: %s\n", cfg.Schedule)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal or a failed listener
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("Shutting down server...")

	if sched != nil {
		sched.Stop()
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped")
	return nil
}

// buildScheduler registers the nightly backtest and, with Postgres, the price import
func buildScheduler(cfg *config.Config, res *runner.Resources, run *runner.Runner, log *logger.Logger) (*scheduler.Scheduler, error) {
	source, err := res.Snapshots(cfg.SnapshotFile)
	if err != nil {
		return nil, fmt.Errorf("scheduled backtest: %w", err)
	}
	priceSource, err := runner.ParsePriceSource(btPriceSource)
	if err != nil {
		return nil, err
	}
	prices, err := res.Prices(priceSource, btPriceFile)
	if err != nil {
		return nil, err
	}

	formats := []runner.Format{runner.FormatCSV, runner.FormatXLSX, runner.FormatChart}
	if res.DB != nil {
		formats = append(formats, runner.FormatPostgres)
	}

	sched := scheduler.New(log, scheduler.WithRetry(3, time.Minute))

	if err := sched.AddJob(jobs.NewBacktestJob(run, runner.Job{
		Backtest:  cfg.Backtest,
		Source:    source,
		Prices:    prices,
		Benchmark: cfg.BenchmarkSymbol,
		OutputDir: cfg.OutputDir,
		Prefix:    "analyst-",
		Formats:   formats,
	}, cfg.Schedule, log)); err != nil {
		return nil, err
	}

	// Keep the local price table fresh when runs read from it
	if res.DB != nil && priceSource == runner.PriceSourcePostgres && cfg.FMP.APIKey != "" {
		remote, err := res.Prices(runner.PriceSourceFMP, "")
		if err != nil {
			return nil, err
		}
		importJob := jobs.NewPriceImportJob(runner.ImportJob{
			Source:    source,
			Ranges:    remote.Ranges,
			Store:     repos.NewPriceRepository(res.DB.Pool),
			Backtest:  cfg.Backtest,
			Benchmark: cfg.BenchmarkSymbol,
			Workers:   cfg.Backtest.PrefetchWorkers,
		}, "0 6 * * *", log)
		if err := sched.AddJob(importJob); err != nil {
			return nil, err
		}
	}

	return sched, nil
}
