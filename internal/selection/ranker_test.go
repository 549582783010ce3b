package selection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/scorebt/internal/contracts"
	"github.com/wonny/scorebt/pkg/logger"
)

func snapshotOf(assets ...contracts.ScoredAsset) *contracts.Snapshot {
	return &contracts.Snapshot{
		Date:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Assets: assets,
	}
}

func asset(symbol string, score *float64) contracts.ScoredAsset {
	return contracts.ScoredAsset{Symbol: symbol, Score: score}
}

func TestNewRanker_RejectsNonPositive(t *testing.T) {
	for _, n := range []int{0, -3} {
		_, err := NewRanker(n, logger.Nop())
		assert.ErrorIs(t, err, ErrInvalidTopN)
	}
}

func TestRanker_Select(t *testing.T) {
	s := contracts.Score

	tests := []struct {
		name     string
		topN     int
		snapshot *contracts.Snapshot
		want     []string
	}{
		{
			name:     "empty snapshot",
			topN:     3,
			snapshot: snapshotOf(),
			want:     []string{},
		},
		{
			name:     "orders by score descending",
			topN:     3,
			snapshot: snapshotOf(asset("A", s(0.1)), asset("B", s(0.9)), asset("C", s(0.5))),
			want:     []string{"B", "C", "A"},
		},
		{
			name:     "drops nil scores",
			topN:     5,
			snapshot: snapshotOf(asset("A", nil), asset("B", s(0.2)), asset("C", nil)),
			want:     []string{"B"},
		},
		{
			name:     "duplicate symbol keeps first listing",
			topN:     2,
			snapshot: snapshotOf(asset("A", s(0.5)), asset("A", s(0.9)), asset("B", s(0.3)), asset("C", s(0.1))),
			want:     []string{"A", "B"},
		},
		{
			name:     "duplicate after nil score stays unscored",
			topN:     2,
			snapshot: snapshotOf(asset("A", nil), asset("B", s(0.4)), asset("A", s(0.9))),
			want:     []string{"B"},
		},
		{
			name:     "truncates to top n",
			topN:     2,
			snapshot: snapshotOf(asset("A", s(3)), asset("B", s(2)), asset("C", s(1))),
			want:     []string{"A", "B"},
		},
		{
			name:     "ties keep input order",
			topN:     4,
			snapshot: snapshotOf(asset("Z", s(1)), asset("Y", s(2)), asset("X", s(1)), asset("W", s(1))),
			want:     []string{"Y", "Z", "X", "W"},
		},
		{
			name:     "negative scores still rank",
			topN:     2,
			snapshot: snapshotOf(asset("A", s(-1)), asset("B", s(-0.5))),
			want:     []string{"B", "A"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ranker, err := NewRanker(tt.topN, logger.Nop())
			require.NoError(t, err)

			assert.Equal(t, tt.want, ranker.Select(tt.snapshot))
		})
	}
}

func TestRanker_RankAssignsPositions(t *testing.T) {
	ranker, err := NewRanker(2, logger.Nop())
	require.NoError(t, err)

	ranked := ranker.Rank(snapshotOf(
		asset("A", contracts.Score(0.3)),
		asset("B", contracts.Score(0.7)),
		asset("C", contracts.Score(0.5)),
	))

	require.Len(t, ranked, 2)
	assert.Equal(t, RankedAsset{Rank: 1, Symbol: "B", Score: 0.7}, ranked[0])
	assert.Equal(t, RankedAsset{Rank: 2, Symbol: "C", Score: 0.5}, ranked[1])
}
