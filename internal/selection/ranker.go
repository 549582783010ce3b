package selection

import (
	"errors"
	"fmt"
	"sort"

	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/pkg/logger"
)

// ErrInvalidTopN is returned when the ranker is configured with a non-positive size
var ErrInvalidTopN = errors.New("top n must be positive")

// RankedAsset is a scored symbol with its 1-based rank
type RankedAsset struct {
	Rank   int     `json:"rank"`
	Symbol string  `json:"symbol"`
	Score  float64 `json:"score"`
}

// Ranker picks the top-N scored symbols of a snapshot
// ⭐ SSOT: ranking logic lives here only
type Ranker struct {
	topN   int
	logger *logger.Logger
}

// NewRanker creates a new ranker
func NewRanker(topN int, log *logger.Logger) (*Ranker, error) {
	if topN <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopN, topN)
	}
	return &Ranker{
		topN:   topN,
		logger: log,
	}, nil
}

// TopN returns the configured selection size
func (r *Ranker) TopN() int {
	return r.topN
}

// Rank drops unscored assets and orders the rest by score descending.
// Equal scores keep their input order. A symbol listed more than once counts
// with its first listing only. The result is truncated to TopN.
func (r *Ranker) Rank(snapshot *contracts.Snapshot) []RankedAsset {
	ranked := make([]RankedAsset, 0, len(snapshot.Assets))
	seen := make(map[string]struct{}, len(snapshot.Assets))
	for _, asset := range snapshot.Assets {
		if _, dup := seen[asset.Symbol]; dup {
			continue
		}
		seen[asset.Symbol] = struct{}{}
		if !asset.HasScore() {
			continue
		}
		ranked = append(ranked, RankedAsset{Symbol: asset.Symbol, Score: *asset.Score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if len(ranked) > r.topN {
		ranked = ranked[:r.topN]
	}

	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	if len(ranked) > 0 {
		r.logger.WithFields(map[string]interface{}{
			"date":      snapshot.Day(),
			"breadth":   snapshot.Breadth(),
			"selected":  len(ranked),
			"top_score": ranked[0].Score,
			"top":       ranked[0].Symbol,
		}).Debug("Ranking completed")
	}

	return ranked
}

// Select returns the top-N symbols in rank order
func (r *Ranker) Select(snapshot *contracts.Snapshot) []string {
	ranked := r.Rank(snapshot)
	symbols := make([]string, len(ranked))
	for i, asset := range ranked {
		symbols[i] = asset.Symbol
	}
	return symbols
}
