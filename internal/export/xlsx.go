package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/wonny/scorebt/internal/benchmark"
	"github.com/wonny/scorebt/internal/contracts"
)

// Sheet names of the workbook
const (
	SheetTransactions = "Transactions"
	SheetValuations   = "Portfolio Values"
	SheetBenchmark    = "Benchmark"
)

// XLSXSink writes one workbook with a transactions sheet, a valuations sheet and,
// when Benchmark is set, a benchmark sheet.
type XLSXSink struct {
	Path      string
	Benchmark *benchmark.Series
}

// Name implements contracts.Sink
func (s *XLSXSink) Name() string {
	return "xlsx"
}

// Write implements contracts.Sink
func (s *XLSXSink) Write(ctx context.Context, ledger *contracts.Ledger) error {
	f := excelize.NewFile()
	defer f.Close()

	money, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	if err := f.SetSheetName("Sheet1", SheetTransactions); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	txRows := make([][]interface{}, len(ledger.Transactions))
	for i, t := range ledger.Transactions {
		txRows[i] = []interface{}{
			t.Date.Format(contracts.DateLayout),
			string(t.Action),
			t.Symbol,
			t.Quantity,
			t.Price.InexactFloat64(),
			t.Amount.InexactFloat64(),
		}
	}
	if err := writeSheet(f, SheetTransactions, contracts.TransactionColumns, txRows, money, 5); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	valRows := make([][]interface{}, len(ledger.Valuations))
	for i, v := range ledger.Valuations {
		valRows[i] = []interface{}{
			v.Date.Format(contracts.DateLayout),
			v.PortfolioValue.InexactFloat64(),
			v.Cash.InexactFloat64(),
			v.TotalValue.InexactFloat64(),
		}
	}
	if err := writeSheet(f, SheetValuations, contracts.ValuationColumns, valRows, money, 2); err != nil {
		return err
	}

	if s.Benchmark != nil {
		rows := make([][]interface{}, len(s.Benchmark.Points))
		for i, p := range s.Benchmark.Points {
			rows[i] = []interface{}{p.Date.Format(contracts.DateLayout), p.Value.InexactFloat64()}
		}
		if err := writeSheet(f, SheetBenchmark, s.Benchmark.Columns(), rows, money, 2); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := f.SaveAs(s.Path); err != nil {
		return fmt.Errorf("save %s: %w", s.Path, err)
	}
	return nil
}

// writeSheet fills a sheet with a header row and data rows. Columns from
// firstMoneyCol (1-based) onwards get the money number format.
func writeSheet(f *excelize.File, sheet string, header []string, rows [][]interface{}, money, firstMoneyCol int) error {
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet, err)
		}
	}

	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}

	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
	}

	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 16); err != nil {
		return fmt.Errorf("set %s widths: %w", sheet, err)
	}

	if len(rows) > 0 && firstMoneyCol <= len(header) {
		from, _ := excelize.CoordinatesToCellName(firstMoneyCol, 2)
		to, _ := excelize.CoordinatesToCellName(len(header), len(rows)+1)
		if err := f.SetCellStyle(sheet, from, to, money); err != nil {
			return fmt.Errorf("style %s: %w", sheet, err)
		}
	}
	return nil
}
