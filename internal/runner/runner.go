package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/scorebt/internal/backtest"
	"github.com/wonny/scorebt/internal/benchmark"
	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/internal/data/repos"
	"github.com/wonny/scorebt/internal/export"
	"github.com/wonny/scorebt/internal/pricing"
	"github.com/wonny/scorebt/internal/selection"
	"github.com/wonny/scorebt/internal/snapshot"
	"github.com/wonny/scorebt/pkg/config"
	"github.com/wonny/scorebt/pkg/database"
	"github.com/wonny/scorebt/pkg/logger"
)

// Format is an output format of a run
type Format string

const (
	FormatCSV      Format = "csv"
	FormatXLSX     Format = "xlsx"
	FormatChart    Format = "chart"
	FormatPostgres Format = "postgres"
)

// ParseFormats splits a comma separated format list
func ParseFormats(s string) ([]Format, error) {
	var formats []Format
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch f := Format(part); f {
		case FormatCSV, FormatXLSX, FormatChart, FormatPostgres:
			formats = append(formats, f)
		default:
			return nil, fmt.Errorf("unknown output format %q", part)
		}
	}
	return formats, nil
}

// Job describes one backtest run
type Job struct {
	RunID     string // generated when empty
	Backtest  config.BacktestConfig
	Source    contracts.SnapshotSource
	Prices    *Prices
	Benchmark string // index symbol, empty skips the benchmark
	OutputDir string
	Prefix    string // output file name prefix
	Formats   []Format
	Observer  backtest.Observer
}

// Report is everything a finished (or stopped) run produced
type Report struct {
	RunID     string            `json:"run_id"`
	Summary   snapshot.Summary  `json:"summary"`
	Result    *backtest.Result  `json:"result,omitempty"`
	Benchmark *benchmark.Series `json:"benchmark,omitempty"`
	Outputs   []string          `json:"outputs,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}

// Runner wires a snapshot source, price providers and sinks into one backtest run
// ⭐ SSOT: CLI, API and scheduler all run backtests through Runner.Run
type Runner struct {
	db     *database.DB
	logger *logger.Logger
}

// New creates a runner. db may be nil; the postgres format then fails.
func New(db *database.DB, log *logger.Logger) *Runner {
	return &Runner{db: db, logger: log}
}

// Run loads the snapshots, runs the engine, builds the benchmark and writes every
// requested format. A stopped run returns its partial Report and the error; nothing
// is exported for it.
func (r *Runner) Run(ctx context.Context, job Job) (*Report, error) {
	if job.Source == nil || job.Prices == nil || job.Prices.Provider == nil {
		return nil, errors.New("job needs a snapshot source and a price provider")
	}

	report := &Report{RunID: job.RunID, StartedAt: time.Now()}
	if report.RunID == "" {
		report.RunID = uuid.NewString()
	}
	log := r.logger.WithField("run_id", report.RunID)

	snapshots, err := job.Source.Snapshots(ctx)
	if err != nil {
		return report, fmt.Errorf("load snapshots: %w", err)
	}
	report.Summary = snapshot.Summarize(snapshots, job.Backtest.MinBreadth)

	engine, cache, err := r.engine(job, log)
	if err != nil {
		return report, err
	}

	result, err := engine.Run(ctx, snapshots)
	report.Result = result
	report.Duration = time.Since(report.StartedAt)
	if err != nil {
		return report, err
	}

	log.WithFields(map[string]interface{}{
		"cache_hits":   cache.Stats().Hits,
		"cache_misses": cache.Stats().Misses,
	}).Debug("Price cache stats")

	if job.Benchmark != "" && job.Prices.Ranges != nil {
		series, err := benchmark.NewBuilder(job.Prices.Ranges, job.Benchmark, log).Build(ctx, result.Dates())
		if err != nil {
			// A missing index does not fail the run
			log.WithError(err).WithField("symbol", job.Benchmark).Warn("Benchmark unavailable")
		} else {
			report.Benchmark = series
		}
	}

	outputs, err := r.export(ctx, job, report, log)
	report.Outputs = outputs
	if err != nil {
		return report, fmt.Errorf("export: %w", err)
	}

	return report, nil
}

func (r *Runner) engine(job Job, log *logger.Logger) (*backtest.Engine, *pricing.Cache, error) {
	opts, err := backtest.OptionsFromConfig(job.Backtest)
	if err != nil {
		return nil, nil, err
	}
	ranker, err := selection.NewRanker(job.Backtest.TopN, log)
	if err != nil {
		return nil, nil, err
	}
	cache := pricing.NewCache(job.Prices.Provider, job.Backtest.PrefetchWorkers)
	engine, err := backtest.NewEngine(ranker, cache, opts, job.Backtest.MinBreadth, log)
	if err != nil {
		return nil, nil, err
	}
	if job.Observer != nil {
		engine.WithObserver(job.Observer)
	}
	return engine, cache, nil
}

// export writes the ledger to every requested format and returns what was written
func (r *Runner) export(ctx context.Context, job Job, report *Report, log *logger.Logger) ([]string, error) {
	if len(job.Formats) == 0 {
		return nil, nil
	}

	multi := export.NewMulti(log)
	var outputs []string
	path := func(name string) string {
		p := filepath.Join(job.OutputDir, job.Prefix+name)
		outputs = append(outputs, p)
		return p
	}

	for _, f := range job.Formats {
		switch f {
		case FormatCSV:
			multi.Add(&export.CSVSink{Dir: job.OutputDir, Prefix: job.Prefix})
			path("transactions.csv")
			path("valuations.csv")
			if report.Benchmark != nil {
				if err := export.WriteRows(path("benchmark.csv"), report.Benchmark.Columns(), report.Benchmark.Rows()); err != nil {
					return outputs, err
				}
			}
		case FormatXLSX:
			multi.Add(&export.XLSXSink{Path: path("report.xlsx"), Benchmark: report.Benchmark})
		case FormatChart:
			if len(report.Result.Valuations) < 2 {
				log.Warn("Fewer than two valuations, skipping chart")
				continue
			}
			multi.Add(&export.ChartSink{Path: path("equity.png"), Benchmark: report.Benchmark})
		case FormatPostgres:
			if r.db == nil {
				return outputs, fmt.Errorf("postgres output: %w", database.ErrNotConfigured)
			}
			multi.Add(repos.NewLedgerRepository(r.db))
			outputs = append(outputs, "postgres:"+report.RunID)
		}
	}

	return outputs, multi.Write(ctx, report.Result.Ledger(report.RunID))
}
