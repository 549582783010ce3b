package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wonny/scorebt/internal/contracts"
)

// CSVSink writes <prefix>transactions.csv and <prefix>valuations.csv into Dir
type CSVSink struct {
	Dir    string
	Prefix string
}

// Name implements contracts.Sink
func (s *CSVSink) Name() string {
	return "csv"
}

// Write implements contracts.Sink
func (s *CSVSink) Write(ctx context.Context, ledger *contracts.Ledger) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	txRows := make([][]string, len(ledger.Transactions))
	for i := range ledger.Transactions {
		txRows[i] = ledger.Transactions[i].Row()
	}
	if err := writeCSV(filepath.Join(s.Dir, s.Prefix+"transactions.csv"), contracts.TransactionColumns, txRows); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	valRows := make([][]string, len(ledger.Valuations))
	for i := range ledger.Valuations {
		valRows[i] = ledger.Valuations[i].Row()
	}
	return writeCSV(filepath.Join(s.Dir, s.Prefix+"valuations.csv"), contracts.ValuationColumns, valRows)
}

// WriteRows writes one CSV file with a header row
func WriteRows(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return writeCSV(path, header, rows)
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
