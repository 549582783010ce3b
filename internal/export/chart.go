package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/wonny/scorebt/internal/benchmark"
	"github.com/wonny/scorebt/internal/contracts"
)

// RenderEquityChart renders total value over time as a PNG. When bench is non-empty
// it is drawn as a dashed second line, rebased to the first total value.
func RenderEquityChart(valuations []contracts.Valuation, bench *benchmark.Series) ([]byte, error) {
	if len(valuations) < 2 {
		return nil, fmt.Errorf("need at least 2 valuations, got %d", len(valuations))
	}

	xValues := make([]time.Time, len(valuations))
	totalY := make([]float64, len(valuations))
	cashY := make([]float64, len(valuations))
	for i, v := range valuations {
		xValues[i] = v.Date
		totalY[i] = v.TotalValue.InexactFloat64()
		cashY[i] = v.Cash.InexactFloat64()
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name: "Total Value",
			Style: chart.Style{
				StrokeColor: drawing.ColorFromHex("2563eb"),
				StrokeWidth: 2.5,
			},
			XValues: xValues,
			YValues: totalY,
		},
		chart.TimeSeries{
			Name: "Cash",
			Style: chart.Style{
				StrokeColor: drawing.ColorFromHex("9ca3af"),
				StrokeWidth: 1,
			},
			XValues: xValues,
			YValues: cashY,
		},
	}

	if bench != nil {
		rebased := bench.Rebased(valuations[0].TotalValue)
		if len(rebased) >= 2 {
			bx := make([]time.Time, len(rebased))
			by := make([]float64, len(rebased))
			for i, p := range rebased {
				bx[i] = p.Date
				by[i] = p.Value.InexactFloat64()
			}
			series = append(series, chart.TimeSeries{
				Name: bench.Symbol,
				Style: chart.Style{
					StrokeColor:     drawing.ColorFromHex("dc2626"),
					StrokeWidth:     1.5,
					StrokeDashArray: []float64{5.0, 3.0},
				},
				XValues: bx,
				YValues: by,
			})
		}
	}

	graph := chart.Chart{
		Title:  "Backtest Equity",
		Width:  1000,
		Height: 450,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format("Jan 06")
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return decimal.NewFromFloat(f / 1000).StringFixed(0) + "k"
				}
				return ""
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{
		chart.LegendLeft(&graph),
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}
	return buf.Bytes(), nil
}

// ChartSink writes the equity chart PNG to Path
type ChartSink struct {
	Path      string
	Benchmark *benchmark.Series
}

// Name implements contracts.Sink
func (s *ChartSink) Name() string {
	return "chart"
}

// Write implements contracts.Sink
func (s *ChartSink) Write(_ context.Context, ledger *contracts.Ledger) error {
	png, err := RenderEquityChart(ledger.Valuations, s.Benchmark)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(s.Path, png, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.Path, err)
	}
	return nil
}
