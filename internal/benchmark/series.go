package benchmark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/pkg/logger"
)

// ErrNoDates is returned when there is nothing to build a series for
var ErrNoDates = errors.New("no dates for benchmark series")

// Point is one benchmark observation
type Point struct {
	Date time.Time       `json:"date"`
	// Value is the index close, or the last known close when the day has none
	Value decimal.Decimal `json:"value"`
	Stale bool            `json:"stale,omitempty"`
}

// Series is an index level aligned to the valuation dates of a run
type Series struct {
	Symbol string  `json:"symbol"`
	Points []Point `json:"points"`
}

// Builder fetches a reference index once over a date span
type Builder struct {
	provider contracts.RangeProvider
	symbol   string
	logger   *logger.Logger
}

// NewBuilder creates a benchmark builder for symbol (e.g. ^GSPC)
func NewBuilder(provider contracts.RangeProvider, symbol string, log *logger.Logger) *Builder {
	return &Builder{provider: provider, symbol: symbol, logger: log}
}

// Build fetches [first, last] of dates in one request and emits one point per date.
// Days without a close reuse the last known close; days before any close are skipped.
// dates must be sorted ascending.
func (b *Builder) Build(ctx context.Context, dates []time.Time) (*Series, error) {
	if len(dates) == 0 {
		return nil, ErrNoDates
	}

	closes, err := b.provider.Range(ctx, b.symbol, dates[0], dates[len(dates)-1])
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", b.symbol, err)
	}

	series := &Series{Symbol: b.symbol, Points: make([]Point, 0, len(dates))}
	var last decimal.Decimal
	known := false

	for _, date := range dates {
		day := date.Format(contracts.DateLayout)
		if price, ok := closes[day]; ok {
			last, known = price, true
			series.Points = append(series.Points, Point{Date: date, Value: price})
			continue
		}

		if !known {
			b.logger.WithFields(map[string]interface{}{
				"symbol": b.symbol,
				"date":   day,
			}).Warn("No benchmark price and no earlier price, skipping date")
			continue
		}

		b.logger.WithFields(map[string]interface{}{
			"symbol": b.symbol,
			"date":   day,
		}).Debug("Using last known benchmark price")
		series.Points = append(series.Points, Point{Date: date, Value: last, Stale: true})
	}

	return series, nil
}

// Rebased scales the series so its first point equals base, for plotting next
// to a portfolio that started with base in cash.
func (s *Series) Rebased(base decimal.Decimal) []Point {
	if len(s.Points) == 0 || s.Points[0].Value.IsZero() {
		return nil
	}
	first := s.Points[0].Value
	out := make([]Point, len(s.Points))
	for i, p := range s.Points {
		out[i] = Point{Date: p.Date, Value: p.Value.Mul(base).Div(first), Stale: p.Stale}
	}
	return out
}

// Columns are the exported benchmark columns
func (s *Series) Columns() []string {
	return []string{"Date", s.Symbol}
}

// Rows renders the series as export rows
func (s *Series) Rows() [][]string {
	rows := make([][]string, len(s.Points))
	for i, p := range s.Points {
		rows[i] = []string{p.Date.Format(contracts.DateLayout), p.Value.StringFixed(2)}
	}
	return rows
}
