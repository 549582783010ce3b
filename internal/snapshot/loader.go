package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/wonny/scorebt/internal/contracts"
)

// ErrEmptyDocument is returned for a null or empty top-level snapshot document
var ErrEmptyDocument = errors.New("snapshot document has no dates")

// record is one scored entry of the snapshot file. Other fields
// (content, eps history, ...) are ignored.
type record struct {
	Symbol string   `json:"symbol"`
	Score  *float64 `json:"score"`
}

// Decode reads {"YYYY-MM-DD": [{"symbol": "...", "score": 0.9 | null}, ...]}
// and returns the snapshots in ascending date order, assets in file order.
func Decode(r io.Reader) ([]contracts.Snapshot, error) {
	var raw map[string][]record
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode snapshots: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyDocument
	}

	snapshots := make([]contracts.Snapshot, 0, len(raw))
	for key, records := range raw {
		date, err := time.Parse(contracts.DateLayout, key)
		if err != nil {
			return nil, fmt.Errorf("snapshot %q: date must be YYYY-MM-DD", key)
		}

		assets := make([]contracts.ScoredAsset, len(records))
		for i, rec := range records {
			if rec.Symbol == "" {
				return nil, fmt.Errorf("snapshot %s: entry %d has no symbol", key, i)
			}
			assets[i] = contracts.ScoredAsset{Symbol: rec.Symbol, Score: rec.Score}
		}
		snapshots = append(snapshots, contracts.Snapshot{Date: date, Assets: assets})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Date.Before(snapshots[j].Date)
	})
	return snapshots, nil
}

// Load decodes a snapshot file
func Load(path string) ([]contracts.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()

	snapshots, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snapshots, nil
}

// FileSource implements contracts.SnapshotSource for a JSON file
type FileSource struct {
	Path string
}

// Snapshots implements contracts.SnapshotSource. The file is re-read on every call.
func (f FileSource) Snapshots(ctx context.Context) ([]contracts.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Load(f.Path)
}

// StaticSource implements contracts.SnapshotSource for snapshots already in memory
type StaticSource []contracts.Snapshot

// Snapshots implements contracts.SnapshotSource
func (s StaticSource) Snapshots(context.Context) ([]contracts.Snapshot, error) {
	return []contracts.Snapshot(s), nil
}
