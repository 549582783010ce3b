package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/wonny/scorebt/internal/backtest"
	"github.com/wonny/scorebt/internal/runner"
	"github.com/wonny/scorebt/internal/scheduler"
	"github.com/wonny/scorebt/pkg/logger"
)

// BacktestJob re-runs a configured backtest, e.g. after the nightly score refresh.
// Each run writes into <OutputDir>/<YYYY-MM-DD>.
type BacktestJob struct {
	runner   *runner.Runner
	template runner.Job
	schedule string
	logger   *logger.Logger
	now      func() time.Time

	mu   sync.Mutex
	last *runner.Report
}

// NewBacktestJob creates a new scheduled backtest
func NewBacktestJob(r *runner.Runner, template runner.Job, schedule string, log *logger.Logger) *BacktestJob {
	return &BacktestJob{
		runner:   r,
		template: template,
		schedule: schedule,
		logger:   log,
		now:      time.Now,
	}
}

// Name returns the job name
func (j *BacktestJob) Name() string {
	return "backtest"
}

// Schedule returns the cron schedule
func (j *BacktestJob) Schedule() string {
	return j.schedule
}

// Run executes one backtest
func (j *BacktestJob) Run(ctx context.Context) error {
	job := j.template
	job.RunID = ""
	job.OutputDir = filepath.Join(j.template.OutputDir, j.now().Format("2006-01-02"))

	report, err := j.runner.Run(ctx, job)
	if errors.Is(err, backtest.ErrNoEligibleSnapshots) {
		// Same input, same answer
		return scheduler.Permanent(err)
	}
	if err != nil {
		return err
	}

	j.mu.Lock()
	j.last = report
	j.mu.Unlock()

	j.logger.WithFields(map[string]interface{}{
		"run_id":       report.RunID,
		"final_value":  report.Result.Metrics.FinalValue.StringFixed(2),
		"total_return": report.Result.Metrics.TotalReturn,
		"outputs":      len(report.Outputs),
	}).Info("Scheduled backtest finished")

	return nil
}

// LastReport returns the report of the last successful run
func (j *BacktestJob) LastReport() *runner.Report {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}
