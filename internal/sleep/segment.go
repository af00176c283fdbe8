// Package sleep groups normalized intervals into nightly sessions, scores
// them and turns them into calendar event candidates.
package sleep

import (
	"slices"
	"time"

	"sleepcal/internal/model"
)

const (
	// MaxOverlap is how far an interval may start before the current
	// session end and still join it.
	MaxOverlap = 30 * time.Minute
	// MaxGap is the longest break still treated as the same night.
	MaxGap = 2 * time.Hour
)

// Segment groups intervals into sessions. Intervals are sorted by start and
// an interval joins the open session when start - sessionEnd lies within
// [-MaxOverlap, MaxGap]. The input slice is left untouched.
func Segment(intervals []model.Interval) []model.Session {
	if len(intervals) == 0 {
		return nil
	}

	sorted := slices.Clone(intervals)
	slices.SortStableFunc(sorted, compareIntervals)

	var (
		sessions []model.Session
		cur      = newSession(sorted[0])
	)
	for _, iv := range sorted[1:] {
		gap := iv.Start.Sub(cur.End)
		if gap >= -MaxOverlap && gap <= MaxGap {
			cur.Intervals = append(cur.Intervals, iv)
			if iv.End.After(cur.End) {
				cur.End = iv.End
			}
			continue
		}
		sessions = append(sessions, cur)
		cur = newSession(iv)
	}
	return append(sessions, cur)
}

func newSession(iv model.Interval) model.Session {
	return model.Session{
		Intervals: []model.Interval{iv},
		Start:     iv.Start,
		End:       iv.End,
	}
}

// compareIntervals orders by start, then end, then stage so that shuffled
// input always yields the same sessions.
func compareIntervals(a, b model.Interval) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	if c := a.End.Compare(b.End); c != 0 {
		return c
	}
	switch {
	case a.Stage < b.Stage:
		return -1
	case a.Stage > b.Stage:
		return 1
	}
	switch {
	case a.Source < b.Source:
		return -1
	case a.Source > b.Source:
		return 1
	}
	return 0
}
