package snapshot

import (
	"sort"
	"time"

	"github.com/wonny/scorebt/internal/contracts"
)

// Summary describes how a snapshot set fares against a breadth threshold
type Summary struct {
	Total         int       `json:"total"`
	Eligible      int       `json:"eligible"`
	MinBreadth    int       `json:"min_breadth"`
	WidestBreadth int       `json:"widest_breadth"`
	Scored        int       `json:"scored"`
	FirstEligible time.Time `json:"first_eligible,omitempty"`
	LastEligible  time.Time `json:"last_eligible,omitempty"`
}

// Summarize counts eligible snapshots and finds the eligible date range.
// Scored counts assets with a score across eligible snapshots.
func Summarize(snapshots []contracts.Snapshot, minBreadth int) Summary {
	s := Summary{Total: len(snapshots), MinBreadth: minBreadth}

	for i := range snapshots {
		snap := &snapshots[i]
		if snap.Breadth() > s.WidestBreadth {
			s.WidestBreadth = snap.Breadth()
		}
		if !snap.IsEligible(minBreadth) {
			continue
		}

		s.Eligible++
		for _, a := range snap.Assets {
			if a.HasScore() {
				s.Scored++
			}
		}
		if s.FirstEligible.IsZero() || snap.Date.Before(s.FirstEligible) {
			s.FirstEligible = snap.Date
		}
		if snap.Date.After(s.LastEligible) {
			s.LastEligible = snap.Date
		}
	}
	return s
}

// EligibleDates returns the sorted dates of the snapshots meeting minBreadth
func EligibleDates(snapshots []contracts.Snapshot, minBreadth int) []time.Time {
	var dates []time.Time
	for i := range snapshots {
		if snapshots[i].IsEligible(minBreadth) {
			dates = append(dates, snapshots[i].Date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}
