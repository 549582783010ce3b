package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wonny/scorebt/internal/contracts"
)

// PriceRepository implements contracts.PriceProvider and contracts.RangeProvider
// over market.daily_prices
// ⭐ SSOT: stored daily closes are read and written here only
type PriceRepository struct {
	pool *pgxpool.Pool
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(pool *pgxpool.Pool) *PriceRepository {
	return &PriceRepository{pool: pool}
}

// Price returns the stored close. A missing row is an absent price, not an error.
func (r *PriceRepository) Price(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error) {
	query := `
		SELECT close::text
		FROM market.daily_prices
		WHERE symbol = $1 AND trade_date = $2
	`

	var raw string
	err := r.pool.QueryRow(ctx, query, symbol, date).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to get price %s %s: %w", symbol, date.Format(contracts.DateLayout), err)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("bad stored price %s: %w", raw, err)
	}
	return price, true, nil
}

// Range returns every stored close of symbol within [from, to]
func (r *PriceRepository) Range(ctx context.Context, symbol string, from, to time.Time) (map[string]decimal.Decimal, error) {
	query := `
		SELECT trade_date, close::text
		FROM market.daily_prices
		WHERE symbol = $1 AND trade_date BETWEEN $2 AND $3
		ORDER BY trade_date
	`

	rows, err := r.pool.Query(ctx, query, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var day time.Time
		var raw string
		if err := rows.Scan(&day, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("bad stored price %s: %w", raw, err)
		}
		out[day.Format(contracts.DateLayout)] = price
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// SavePrices upserts a date → close series for one symbol. Returns rows written.
func (r *PriceRepository) SavePrices(ctx context.Context, symbol string, closes map[string]decimal.Decimal) (int, error) {
	query := `
		INSERT INTO market.daily_prices (symbol, trade_date, close)
		VALUES ($1, $2, $3)
		ON CONFLICT (symbol, trade_date) DO UPDATE SET
			close = EXCLUDED.close,
			updated_at = NOW()
	`

	batch := &pgx.Batch{}
	for day, price := range closes {
		date, err := time.Parse(contracts.DateLayout, day)
		if err != nil {
			return 0, fmt.Errorf("bad date %q for %s: %w", day, symbol, err)
		}
		if !price.IsPositive() {
			continue
		}
		batch.Queue(query, symbol, date, numeric(price))
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return i, fmt.Errorf("failed to save prices for %s: %w", symbol, err)
		}
	}
	return batch.Len(), nil
}

// numeric converts a decimal into the exact pgx NUMERIC representation
func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}
