package data

import (
	"context"
	"fmt"

	"github.com/wonny/scorebt/pkg/database"
)

// Schema creates every table the repositories use. Statements are idempotent.
const Schema = `
CREATE SCHEMA IF NOT EXISTS market;
CREATE SCHEMA IF NOT EXISTS scores;
CREATE SCHEMA IF NOT EXISTS backtest;

CREATE TABLE IF NOT EXISTS market.daily_prices (
	symbol     TEXT    NOT NULL,
	trade_date DATE    NOT NULL,
	close      NUMERIC NOT NULL CHECK (close > 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (symbol, trade_date)
);

CREATE TABLE IF NOT EXISTS scores.snapshots (
	snap_date DATE    NOT NULL,
	position  INTEGER NOT NULL,
	symbol    TEXT    NOT NULL,
	score     DOUBLE PRECISION,
	PRIMARY KEY (snap_date, position)
);

CREATE TABLE IF NOT EXISTS backtest.runs (
	run_id       UUID PRIMARY KEY,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	transactions INTEGER NOT NULL,
	valuations   INTEGER NOT NULL,
	final_value  NUMERIC
);

CREATE TABLE IF NOT EXISTS backtest.transactions (
	run_id     UUID    NOT NULL REFERENCES backtest.runs (run_id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	trade_date DATE    NOT NULL,
	action     TEXT    NOT NULL CHECK (action IN ('Buy', 'Sell')),
	symbol     TEXT    NOT NULL,
	quantity   BIGINT  NOT NULL CHECK (quantity > 0),
	price      NUMERIC NOT NULL,
	amount     NUMERIC NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS backtest.valuations (
	run_id          UUID    NOT NULL REFERENCES backtest.runs (run_id) ON DELETE CASCADE,
	val_date        DATE    NOT NULL,
	portfolio_value NUMERIC NOT NULL,
	cash            NUMERIC NOT NULL,
	total_value     NUMERIC NOT NULL,
	PRIMARY KEY (run_id, val_date)
);
`

// EnsureSchema applies Schema
func EnsureSchema(ctx context.Context, db *database.DB) error {
	if _, err := db.Pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
