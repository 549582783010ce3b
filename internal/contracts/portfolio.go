package contracts

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Position is a held quantity of one symbol
type Position struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

// Portfolio maps symbol to a strictly positive share quantity.
// A symbol with no shares is absent, never stored with zero.
type Portfolio map[string]int64

// Clone returns an independent copy
func (p Portfolio) Clone() Portfolio {
	out := make(Portfolio, len(p))
	for sym, qty := range p {
		out[sym] = qty
	}
	return out
}

// Symbols returns the held symbols in lexical order.
func (p Portfolio) Symbols() []string {
	symbols := make([]string, 0, len(p))
	for sym := range p {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// Positions returns the holdings in lexical symbol order.
func (p Portfolio) Positions() []Position {
	out := make([]Position, 0, len(p))
	for _, sym := range p.Symbols() {
		out = append(out, Position{Symbol: sym, Quantity: p[sym]})
	}
	return out
}

// Valuation is the dated worth of the portfolio after a rebalance.
// ⭐ SSOT: simulator → sink valuation record
type Valuation struct {
	Date           time.Time       `json:"date"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Cash           decimal.Decimal `json:"cash"`
	TotalValue     decimal.Decimal `json:"total_value"`
}

// NewValuation builds a valuation with TotalValue = PortfolioValue + Cash.
func NewValuation(date time.Time, portfolioValue, cash decimal.Decimal) Valuation {
	return Valuation{
		Date:           date,
		PortfolioValue: portfolioValue,
		Cash:           cash,
		TotalValue:     portfolioValue.Add(cash),
	}
}

// ValuationColumns are the exported valuation columns, in order.
var ValuationColumns = []string{"Date", "Portfolio Value", "Cash", "Total Value"}

// Row renders the valuation with ValuationColumns ordering.
func (v *Valuation) Row() []string {
	return []string{
		v.Date.Format(DateLayout),
		v.PortfolioValue.String(),
		v.Cash.String(),
		v.TotalValue.String(),
	}
}
