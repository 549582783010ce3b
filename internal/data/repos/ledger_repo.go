package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/pkg/database"
)

// ErrRunNotFound is returned by Load for an unknown run id
var ErrRunNotFound = errors.New("run not found")

// LedgerRepository persists finished runs to backtest.runs, backtest.transactions
// and backtest.valuations. It implements contracts.Sink.
type LedgerRepository struct {
	db *database.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Name implements contracts.Sink
func (r *LedgerRepository) Name() string {
	return "postgres"
}

// Write stores the ledger in one transaction. An empty RunID gets a fresh UUID,
// which is written back to the ledger.
func (r *LedgerRepository) Write(ctx context.Context, ledger *contracts.Ledger) error {
	if ledger.RunID == "" {
		ledger.RunID = uuid.NewString()
	}
	runID, err := uuid.Parse(ledger.RunID)
	if err != nil {
		return fmt.Errorf("run id %q is not a uuid: %w", ledger.RunID, err)
	}

	var finalValue pgtype.Numeric
	if n := len(ledger.Valuations); n > 0 {
		finalValue = numeric(ledger.Valuations[n-1].TotalValue)
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO backtest.runs (run_id, transactions, valuations, final_value)
			VALUES ($1, $2, $3, $4)
		`, runID, len(ledger.Transactions), len(ledger.Valuations), finalValue)
		if err != nil {
			return fmt.Errorf("failed to save run %s: %w", runID, err)
		}

		txRows := make([][]interface{}, len(ledger.Transactions))
		for i, t := range ledger.Transactions {
			txRows[i] = []interface{}{runID, i, t.Date, string(t.Action), t.Symbol, t.Quantity, numeric(t.Price), numeric(t.Amount)}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"backtest", "transactions"},
			[]string{"run_id", "seq", "trade_date", "action", "symbol", "quantity", "price", "amount"},
			pgx.CopyFromRows(txRows),
		); err != nil {
			return fmt.Errorf("failed to save transactions: %w", err)
		}

		valRows := make([][]interface{}, len(ledger.Valuations))
		for i, v := range ledger.Valuations {
			valRows[i] = []interface{}{runID, v.Date, numeric(v.PortfolioValue), numeric(v.Cash), numeric(v.TotalValue)}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"backtest", "valuations"},
			[]string{"run_id", "val_date", "portfolio_value", "cash", "total_value"},
			pgx.CopyFromRows(valRows),
		); err != nil {
			return fmt.Errorf("failed to save valuations: %w", err)
		}

		return nil
	})
}

// Load reads a stored run back
func (r *LedgerRepository) Load(ctx context.Context, runID string) (*contracts.Ledger, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("run id %q is not a uuid: %w", runID, err)
	}

	var exists bool
	if err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM backtest.runs WHERE run_id = $1)`, id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up run: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	ledger := &contracts.Ledger{RunID: id.String()}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT trade_date, action, symbol, quantity, price::text
		FROM backtest.transactions
		WHERE run_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	for rows.Next() {
		var date time.Time
		var action, symbol, price string
		var qty int64
		if err := rows.Scan(&date, &action, &symbol, &qty, &price); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("bad stored price %s: %w", price, err)
		}
		ledger.Transactions = append(ledger.Transactions, contracts.NewTransaction(date, contracts.Action(action), symbol, qty, p))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	rows, err = r.db.Pool.Query(ctx, `
		SELECT val_date, portfolio_value::text, cash::text
		FROM backtest.valuations
		WHERE run_id = $1
		ORDER BY val_date
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query valuations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var date time.Time
		var pv, cash string
		if err := rows.Scan(&date, &pv, &cash); err != nil {
			return nil, fmt.Errorf("failed to scan valuation: %w", err)
		}
		pvDec, err := decimal.NewFromString(pv)
		if err != nil {
			return nil, fmt.Errorf("bad stored value %s: %w", pv, err)
		}
		cashDec, err := decimal.NewFromString(cash)
		if err != nil {
			return nil, fmt.Errorf("bad stored cash %s: %w", cash, err)
		}
		ledger.Valuations = append(ledger.Valuations, contracts.NewValuation(date, pvDec, cashDec))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating valuations: %w", err)
	}

	return ledger, nil
}
