package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/internal/data/repos"
	"github.com/wonny/scorebt/internal/runner"
	"github.com/wonny/scorebt/internal/snapshot"
	"github.com/wonny/scorebt/pkg/config"
	"github.com/wonny/scorebt/pkg/logger"
)

// LedgerStore loads runs persisted by earlier processes
type LedgerStore interface {
	Load(ctx context.Context, runID string) (*contracts.Ledger, error)
}

// BacktestHandler handles backtest API endpoints
// ⭐ SSOT: backtest API handlers live in this struct only
type BacktestHandler struct {
	runner    *runner.Runner
	resources *runner.Resources
	registry  *Registry
	ledgers   LedgerStore // nil without Postgres
	logger    *logger.Logger
}

// NewBacktestHandler creates a new backtest handler. ledgers may be nil.
func NewBacktestHandler(
	run *runner.Runner,
	res *runner.Resources,
	registry *Registry,
	ledgers LedgerStore,
	log *logger.Logger,
) *BacktestHandler {
	return &BacktestHandler{
		runner:    run,
		resources: res,
		registry:  registry,
		ledgers:   ledgers,
		logger:    log,
	}
}

// BacktestRequest starts a run. Zero values fall back to the server configuration.
type BacktestRequest struct {
	SnapshotFile string          `json:"snapshot_file"`
	Snapshots    json.RawMessage `json:"snapshots"` // inline snapshot document
	PriceSource  string          `json:"price_source"`
	PriceFile    string          `json:"price_file"`
	TopN         int             `json:"top_n"`
	MinBreadth   *int            `json:"min_breadth"`
	StartingCash string          `json:"starting_cash"`
	Allocation   string          `json:"allocation"`
	Valuation    string          `json:"valuation"`
	Benchmark    *string         `json:"benchmark"`
	Formats      string          `json:"formats"`
}

// StartResponse is returned when a run was accepted
type StartResponse struct {
	ID     string    `json:"id"`
	Status RunStatus `json:"status"`
}

// Start launches a backtest in the background
// POST /api/backtests
func (h *BacktestHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job, err := h.buildJob(&req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := newRun(job.RunID, cancel)
	job.Observer = run.publish
	h.registry.add(run)

	go func() {
		defer cancel()
		report, err := h.runner.Run(ctx, job)
		if err != nil {
			h.logger.WithError(err).WithField("run_id", run.ID).Warn("API backtest ended with error")
		}
		run.finish(report, err)
	}()

	h.logger.WithField("run_id", run.ID).Info("API backtest started")
	respondJSON(w, http.StatusAccepted, StartResponse{ID: run.ID, Status: StatusRunning})
}

// hasInline reports whether the request carries an inline snapshot document.
// An absent field and a JSON null both mean "no inline snapshots".
func hasInline(doc json.RawMessage) bool {
	doc = bytes.TrimSpace(doc)
	return len(doc) > 0 && !bytes.Equal(doc, []byte("null"))
}

// buildJob merges request overrides into the configured defaults
func (h *BacktestHandler) buildJob(req *BacktestRequest) (runner.Job, error) {
	cfg := h.resources.Config
	bt := cfg.Backtest
	if req.TopN != 0 {
		bt.TopN = req.TopN
	}
	if req.MinBreadth != nil {
		bt.MinBreadth = *req.MinBreadth
	}
	if req.StartingCash != "" {
		bt.StartingCash = req.StartingCash
	}
	if req.Allocation != "" {
		bt.Allocation = req.Allocation
	}
	if req.Valuation != "" {
		bt.Valuation = req.Valuation
	}
	if err := bt.Validate(); err != nil {
		return runner.Job{}, err
	}

	var source contracts.SnapshotSource
	switch {
	case hasInline(req.Snapshots):
		snapshots, err := snapshot.Decode(bytes.NewReader(req.Snapshots))
		if err != nil {
			return runner.Job{}, err
		}
		source = snapshot.StaticSource(snapshots)
	default:
		path := req.SnapshotFile
		if path == "" {
			path = cfg.SnapshotFile
		}
		src, err := h.resources.Snapshots(path)
		if err != nil {
			return runner.Job{}, err
		}
		source = src
	}

	ps := req.PriceSource
	if ps == "" {
		ps = string(runner.PriceSourceFMP)
		if req.PriceFile != "" {
			ps = string(runner.PriceSourceFile)
		}
	}
	priceSource, err := runner.ParsePriceSource(ps)
	if err != nil {
		return runner.Job{}, err
	}
	prices, err := h.resources.Prices(priceSource, req.PriceFile)
	if err != nil {
		return runner.Job{}, err
	}

	formats, err := runner.ParseFormats(req.Formats)
	if err != nil {
		return runner.Job{}, err
	}

	bench := cfg.BenchmarkSymbol
	if req.Benchmark != nil {
		bench = *req.Benchmark
	}

	id := uuid.NewString()
	return runner.Job{
		RunID:     id,
		Backtest:  bt,
		Source:    source,
		Prices:    prices,
		Benchmark: bench,
		OutputDir: outputDir(cfg, id),
		Formats:   formats,
	}, nil
}

func outputDir(cfg *config.Config, id string) string {
	return filepath.Join(cfg.OutputDir, id)
}

// List returns every run of this process
// GET /api/backtests
func (h *BacktestHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.registry.List())
}

// Get returns status and metrics of a run
// GET /api/backtests/{id}
func (h *BacktestHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.registry.Get(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}
	respondJSON(w, http.StatusOK, run.View())
}

// Transactions returns the ledger entries of a finished run
// GET /api/backtests/{id}/transactions
func (h *BacktestHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	ledger, status, msg := h.ledger(r)
	if ledger == nil {
		respondError(w, status, msg)
		return
	}
	respondJSON(w, http.StatusOK, ledger.Transactions)
}

// Valuations returns the valuation series of a finished run
// GET /api/backtests/{id}/valuations
func (h *BacktestHandler) Valuations(w http.ResponseWriter, r *http.Request) {
	ledger, status, msg := h.ledger(r)
	if ledger == nil {
		respondError(w, status, msg)
		return
	}
	respondJSON(w, http.StatusOK, ledger.Valuations)
}

// ledger resolves a run from memory first, then from Postgres
func (h *BacktestHandler) ledger(r *http.Request) (*contracts.Ledger, int, string) {
	id := mux.Vars(r)["id"]

	if run, ok := h.registry.Get(id); ok {
		report := run.Report()
		if report == nil || report.Result == nil {
			return nil, http.StatusConflict, "Run has no results yet"
		}
		return report.Result.Ledger(report.RunID), http.StatusOK, ""
	}

	if _, err := uuid.Parse(id); err != nil || h.ledgers == nil {
		return nil, http.StatusNotFound, "Run not found"
	}

	ledger, err := h.ledgers.Load(r.Context(), id)
	switch {
	case errors.Is(err, repos.ErrRunNotFound):
		return nil, http.StatusNotFound, "Run not found"
	case err != nil:
		h.logger.WithError(err).WithField("run_id", id).Error("Failed to load stored run")
		return nil, http.StatusInternalServerError, "Failed to load run"
	}
	return ledger, http.StatusOK, ""
}

// Cancel stops a running backtest
// DELETE /api/backtests/{id}
func (h *BacktestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	run, ok := h.registry.Get(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}

	run.Cancel()
	<-run.Done()

	respondJSON(w, http.StatusOK, run.View())
}
