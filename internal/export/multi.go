package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/pkg/logger"
)

// Multi fans a ledger out to several sinks. Every sink is attempted; failures are
// joined into one error.
type Multi struct {
	sinks  []contracts.Sink
	logger *logger.Logger
}

// NewMulti creates a fan-out sink
func NewMulti(log *logger.Logger, sinks ...contracts.Sink) *Multi {
	return &Multi{sinks: sinks, logger: log}
}

// Add appends a sink
func (m *Multi) Add(sink contracts.Sink) {
	m.sinks = append(m.sinks, sink)
}

// Len returns the number of sinks
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Name implements contracts.Sink
func (m *Multi) Name() string {
	return "multi"
}

// Write implements contracts.Sink
func (m *Multi) Write(ctx context.Context, ledger *contracts.Ledger) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Write(ctx, ledger); err != nil {
			m.logger.WithError(err).WithField("sink", sink.Name()).Error("Sink write failed")
			errs = append(errs, fmt.Errorf("%s sink: %w", sink.Name(), err))
			continue
		}
		m.logger.WithFields(map[string]interface{}{
			"sink":         sink.Name(),
			"run_id":       ledger.RunID,
			"transactions": len(ledger.Transactions),
			"valuations":   len(ledger.Valuations),
		}).Info("Ledger exported")
	}
	return errors.Join(errs...)
}
