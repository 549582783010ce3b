package jobs

import (
	"context"

	"github.com/wonny/scorebt/internal/runner"
	"github.com/wonny/scorebt/pkg/logger"
)

// PriceImportJob refreshes the local price table from the remote provider
type PriceImportJob struct {
	job      runner.ImportJob
	schedule string
	logger   *logger.Logger
}

// NewPriceImportJob creates a new scheduled price import
func NewPriceImportJob(job runner.ImportJob, schedule string, log *logger.Logger) *PriceImportJob {
	return &PriceImportJob{job: job, schedule: schedule, logger: log}
}

// Name returns the job name
func (j *PriceImportJob) Name() string {
	return "price_import"
}

// Schedule returns the cron schedule
func (j *PriceImportJob) Schedule() string {
	return j.schedule
}

// Run executes the import
func (j *PriceImportJob) Run(ctx context.Context) error {
	_, err := runner.ImportPrices(ctx, j.job, j.logger)
	return err
}
