package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/scorebt/internal/contracts"
)

// SnapshotRepository implements contracts.SnapshotSource over scores.snapshots
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Snapshots loads every stored snapshot, ascending by date, assets in stored order
func (r *SnapshotRepository) Snapshots(ctx context.Context) ([]contracts.Snapshot, error) {
	query := `
		SELECT snap_date, symbol, score
		FROM scores.snapshots
		ORDER BY snap_date, position
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []contracts.Snapshot
	for rows.Next() {
		var date time.Time
		var symbol string
		var score *float64
		if err := rows.Scan(&date, &symbol, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if n := len(snapshots); n == 0 || !snapshots[n-1].Date.Equal(date) {
			snapshots = append(snapshots, contracts.Snapshot{Date: date})
		}
		last := &snapshots[len(snapshots)-1]
		last.Assets = append(last.Assets, contracts.ScoredAsset{Symbol: symbol, Score: score})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return snapshots, nil
}

// Save replaces the stored snapshots of every date present in the input
func (r *SnapshotRepository) Save(ctx context.Context, snapshots []contracts.Snapshot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, snap := range snapshots {
		if _, err := tx.Exec(ctx, `DELETE FROM scores.snapshots WHERE snap_date = $1`, snap.Date); err != nil {
			return fmt.Errorf("failed to clear snapshot %s: %w", snap.Day(), err)
		}

		rows := make([][]interface{}, len(snap.Assets))
		for i, asset := range snap.Assets {
			rows[i] = []interface{}{snap.Date, i, asset.Symbol, asset.Score}
		}

		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"scores", "snapshots"},
			[]string{"snap_date", "position", "symbol", "score"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to save snapshot %s: %w", snap.Day(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
