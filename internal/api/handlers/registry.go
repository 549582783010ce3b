package handlers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wonny/scorebt/internal/backtest"
	"github.com/wonny/scorebt/internal/runner"
)

// RunStatus is the lifecycle state of an API-started run
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Run tracks one asynchronous backtest and fans its steps out to subscribers
type Run struct {
	ID        string
	StartedAt time.Time

	mu         sync.Mutex
	status     RunStatus
	finishedAt time.Time
	err        error
	report     *runner.Report
	steps      []backtest.Step
	subs       map[chan backtest.Step]struct{}
	cancel     context.CancelFunc
	done       chan struct{}
}

// RunView is the JSON status of a run
type RunView struct {
	ID         string            `json:"id"`
	Status     RunStatus         `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Steps      int               `json:"steps"`
	Error      string            `json:"error,omitempty"`
	Metrics    *backtest.Metrics `json:"metrics,omitempty"`
	FinalCash  string            `json:"final_cash,omitempty"`
	Outputs    []string          `json:"outputs,omitempty"`
}

func newRun(id string, cancel context.CancelFunc) *Run {
	return &Run{
		ID:        id,
		StartedAt: time.Now(),
		status:    StatusRunning,
		subs:      make(map[chan backtest.Step]struct{}),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// publish records a committed step and forwards it to every subscriber.
// Slow subscribers lose steps rather than block the engine.
func (r *Run) publish(step backtest.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.steps = append(r.steps, step)
	for ch := range r.subs {
		select {
		case ch <- step:
		default:
		}
	}
}

// finish stores the outcome and closes every subscription
func (r *Run) finish(report *runner.Report, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report = report
	r.err = err
	r.finishedAt = time.Now()
	switch {
	case err == nil:
		r.status = StatusCompleted
	case errors.Is(err, context.Canceled):
		r.status = StatusCancelled
	default:
		r.status = StatusFailed
	}

	for ch := range r.subs {
		close(ch)
	}
	r.subs = nil
	close(r.done)
}

// Subscribe returns the steps committed so far and a channel of later steps.
// The channel is closed when the run ends; call the returned func to leave early.
func (r *Run) Subscribe(buffer int) ([]backtest.Step, <-chan backtest.Step, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	replay := make([]backtest.Step, len(r.steps))
	copy(replay, r.steps)

	ch := make(chan backtest.Step, buffer)
	if r.subs == nil {
		close(ch)
		return replay, ch, func() {}
	}
	r.subs[ch] = struct{}{}

	return replay, ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
	}
}

// Cancel stops the run. The step in progress is not committed.
func (r *Run) Cancel() {
	r.cancel()
}

// Done is closed when the run has finished
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Report returns the report once finished, nil while running
func (r *Run) Report() *runner.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}

// View snapshots the run state
func (r *Run) View() RunView {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := RunView{
		ID:        r.ID,
		Status:    r.status,
		StartedAt: r.StartedAt,
		Steps:     len(r.steps),
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		v.FinishedAt = &t
	}
	if r.err != nil {
		v.Error = r.err.Error()
	}
	if r.report != nil {
		v.Outputs = r.report.Outputs
		if res := r.report.Result; res != nil {
			m := res.Metrics
			v.Metrics = &m
			v.FinalCash = res.FinalCash.StringFixed(2)
		}
	}
	return v
}

// Registry keeps every run started by this process
// ⭐ SSOT: in-memory run state for the API lives here
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

func (g *Registry) add(run *Run) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runs[run.ID] = run
}

// Get finds a run by id
func (g *Registry) Get(id string) (*Run, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	run, ok := g.runs[id]
	return run, ok
}

// List returns every run, newest first
func (g *Registry) List() []RunView {
	g.mu.RLock()
	runs := make([]*Run, 0, len(g.runs))
	for _, run := range g.runs {
		runs = append(runs, run)
	}
	g.mu.RUnlock()

	views := make([]RunView, len(runs))
	for i, run := range runs {
		views[i] = run.View()
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].StartedAt.After(views[j].StartedAt)
	})
	return views
}

// CancelAll cancels every running run, used on shutdown
func (g *Registry) CancelAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, run := range g.runs {
		run.Cancel()
	}
}
