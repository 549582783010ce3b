package backtest

import (
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/wonny/scorebt/internal/contracts"
)

// Metrics summarizes a valuation series
type Metrics struct {
	FinalValue  decimal.Decimal `json:"final_value"`
	TotalReturn float64         `json:"total_return"`
	CAGR        float64         `json:"cagr"`
	// MeanReturn and Volatility are over rebalance periods, not annualized
	MeanReturn  float64 `json:"mean_return"`
	Volatility  float64 `json:"volatility"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Periods     int     `json:"periods"`
	Buys        int     `json:"buys"`
	Sells       int     `json:"sells"`
}

// ComputeMetrics derives return and risk figures from the valuations of a run.
// The starting cash is the value before the first valuation.
func ComputeMetrics(startingCash decimal.Decimal, valuations []contracts.Valuation, txs []contracts.Transaction) Metrics {
	var m Metrics
	for i := range txs {
		if txs[i].IsBuy() {
			m.Buys++
		} else {
			m.Sells++
		}
	}

	m.Periods = len(valuations)
	if len(valuations) == 0 {
		m.FinalValue = startingCash
		return m
	}

	start := startingCash.InexactFloat64()
	m.FinalValue = valuations[len(valuations)-1].TotalValue
	end := m.FinalValue.InexactFloat64()

	if start > 0 {
		m.TotalReturn = end/start - 1

		years := valuations[len(valuations)-1].Date.Sub(valuations[0].Date).Hours() / 24 / 365.25
		if years > 0 && end > 0 {
			m.CAGR = math.Pow(end/start, 1/years) - 1
		}
	}

	values := make([]float64, len(valuations))
	for i, v := range valuations {
		values[i] = v.TotalValue.InexactFloat64()
	}

	returns := make([]float64, 0, len(values))
	for i := 1; i < len(values); i++ {
		if values[i-1] > 0 {
			returns = append(returns, values[i]/values[i-1]-1)
		}
	}
	if len(returns) > 0 {
		m.MeanReturn = stat.Mean(returns, nil)
	}
	if len(returns) > 1 {
		m.Volatility = stat.StdDev(returns, nil)
	}

	m.MaxDrawdown = maxDrawdown(values)
	return m
}

// maxDrawdown returns the largest peak-to-trough fall as a fraction of the peak
func maxDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	maxDD := 0.0
	peak := values[0]
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
