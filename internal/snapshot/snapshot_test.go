package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/scorebt/internal/contracts"
)

const sample = `{
	"2024-04-01": [
		{"symbol": "MSFT", "score": 0.4, "content": "ignored", "historical_eps": [1.1, 1.2]},
		{"symbol": "AAPL", "score": null}
	],
	"2024-01-02": [
		{"symbol": "AAPL", "score": 0.9, "year": 2023, "quarter": 4}
	]
}`

func TestDecode(t *testing.T) {
	snapshots, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, snapshots, 2)

	assert.Equal(t, "2024-01-02", snapshots[0].Day())
	assert.Equal(t, "2024-04-01", snapshots[1].Day())

	assets := snapshots[1].Assets
	require.Len(t, assets, 2)
	assert.Equal(t, "MSFT", assets[0].Symbol)
	assert.InDelta(t, 0.4, *assets[0].Score, 1e-12)
	assert.Nil(t, assets[1].Score)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		errPart string
	}{
		{"not json", `[`, "decode"},
		{"bad date", `{"04/01/2024": []}`, "04/01/2024"},
		{"empty symbol", `{"2024-01-02": [{"symbol": "", "score": 1}]}`, "2024-01-02"},
		{"missing symbol", `{"2024-01-02": [{"score": 1}]}`, "entry 0"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestDecode_EmptyDocument(t *testing.T) {
	for _, input := range []string{`null`, `{}`, " null\n"} {
		_, err := Decode(strings.NewReader(input))
		assert.ErrorIs(t, err, ErrEmptyDocument, input)
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	var src contracts.SnapshotSource = FileSource{Path: path}
	snapshots, err := src.Snapshots(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "missing.json")}.Snapshots(context.Background())
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	d := func(s string) time.Time {
		v, _ := time.Parse(contracts.DateLayout, s)
		return v
	}
	asset := func(score *float64) contracts.ScoredAsset {
		return contracts.ScoredAsset{Symbol: "X", Score: score}
	}

	snapshots := []contracts.Snapshot{
		{Date: d("2024-03-01"), Assets: []contracts.ScoredAsset{asset(contracts.Score(1)), asset(nil), asset(nil)}},
		{Date: d("2024-01-01"), Assets: []contracts.ScoredAsset{asset(contracts.Score(1))}},
		{Date: d("2024-02-01"), Assets: []contracts.ScoredAsset{asset(contracts.Score(1)), asset(contracts.Score(2))}},
	}

	s := Summarize(snapshots, 2)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Eligible)
	assert.Equal(t, 3, s.WidestBreadth)
	assert.Equal(t, 3, s.Scored)
	assert.Equal(t, d("2024-02-01"), s.FirstEligible)
	assert.Equal(t, d("2024-03-01"), s.LastEligible)

	assert.Equal(t, []time.Time{d("2024-02-01"), d("2024-03-01")}, EligibleDates(snapshots, 2))

	empty := Summarize(snapshots, 10)
	assert.Zero(t, empty.Eligible)
	assert.True(t, empty.FirstEligible.IsZero())
}
