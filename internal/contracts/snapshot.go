package contracts

import (
	"context"
	"time"
)

// DateLayout is the ISO calendar day format used for snapshot keys, prices and exports.
const DateLayout = "2006-01-02"

// ScoredAsset is one scored symbol inside a snapshot.
// Score is nil when the score provider had no value for the symbol.
type ScoredAsset struct {
	Symbol string   `json:"symbol"`
	Score  *float64 `json:"score"`
}

// HasScore reports whether the asset can take part in ranking.
func (a ScoredAsset) HasScore() bool {
	return a.Score != nil
}

// Snapshot holds every scored asset observed on one date.
// ⭐ SSOT: score provider → backtest driver input
type Snapshot struct {
	Date   time.Time     `json:"date"`
	Assets []ScoredAsset `json:"assets"`
}

// Breadth returns the number of assets in the snapshot, scored or not.
func (s *Snapshot) Breadth() int {
	return len(s.Assets)
}

// IsEligible checks the snapshot against the minimum breadth threshold.
func (s *Snapshot) IsEligible(minBreadth int) bool {
	return s.Breadth() >= minBreadth
}

// Day formats the snapshot date as YYYY-MM-DD.
func (s *Snapshot) Day() string {
	return s.Date.Format(DateLayout)
}

// SnapshotSource supplies the snapshot stream of a run.
type SnapshotSource interface {
	Snapshots(ctx context.Context) ([]Snapshot, error)
}

// Score is a convenience constructor for optional scores.
func Score(v float64) *float64 {
	return &v
}
