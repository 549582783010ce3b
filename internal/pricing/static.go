package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/scorebt/internal/contracts"
)

// MapProvider serves prices from memory: symbol → YYYY-MM-DD → close.
// Used for offline runs and tests.
type MapProvider map[string]map[string]decimal.Decimal

// Price implements contracts.PriceProvider
func (m MapProvider) Price(_ context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error) {
	byDate, ok := m[symbol]
	if !ok {
		return decimal.Zero, false, nil
	}
	price, ok := byDate[date.Format(contracts.DateLayout)]
	if !ok || !price.IsPositive() {
		return decimal.Zero, false, nil
	}
	return price, true, nil
}

// Range implements contracts.RangeProvider
func (m MapProvider) Range(_ context.Context, symbol string, from, to time.Time) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	lo, hi := from.Format(contracts.DateLayout), to.Format(contracts.DateLayout)
	for day, price := range m[symbol] {
		if day >= lo && day <= hi && price.IsPositive() {
			out[day] = price
		}
	}
	return out, nil
}

// Set adds or replaces one price
func (m MapProvider) Set(symbol string, day string, price decimal.Decimal) {
	if m[symbol] == nil {
		m[symbol] = make(map[string]decimal.Decimal)
	}
	m[symbol][day] = price
}

// LoadFile reads a JSON price file of the form {"AAPL": {"2024-01-02": 185.64}}.
// Prices may be JSON numbers or strings.
func LoadFile(path string) (MapProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price file: %w", err)
	}

	var m MapProvider
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse price file %s: %w", path, err)
	}

	for symbol, byDate := range m {
		for day := range byDate {
			if _, err := time.Parse(contracts.DateLayout, day); err != nil {
				return nil, fmt.Errorf("price file %s: symbol %s: bad date %q", path, symbol, day)
			}
		}
	}
	return m, nil
}
