package contracts

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceProvider resolves the closing price of a symbol on a calendar day.
// ok is false when the provider has no price for that day; err is reserved for
// provider failures (network, database) and must not be used for missing data.
type PriceProvider interface {
	Price(ctx context.Context, symbol string, date time.Time) (price decimal.Decimal, ok bool, err error)
}

// PriceProviderFunc adapts a function to PriceProvider
type PriceProviderFunc func(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error)

// Price implements PriceProvider
func (f PriceProviderFunc) Price(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error) {
	return f(ctx, symbol, date)
}

// RangeProvider returns every close between from and to inclusive, keyed by YYYY-MM-DD.
type RangeProvider interface {
	Range(ctx context.Context, symbol string, from, to time.Time) (map[string]decimal.Decimal, error)
}

// Ledger is the output of one run: the append-only transactions and the valuations.
type Ledger struct {
	RunID        string        `json:"run_id,omitempty"`
	Transactions []Transaction `json:"transactions"`
	Valuations   []Valuation   `json:"valuations"`
}

// Sink consumes a finished ledger
// ⭐ SSOT: every export format implements this interface
type Sink interface {
	Name() string
	Write(ctx context.Context, ledger *Ledger) error
}
