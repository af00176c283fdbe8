package model

import (
	"fmt"
	"strings"
	"time"
)

// RawSample is one sleep-analysis record as it arrives from an export or a
// Shortcuts payload. Field names and value types vary between producers, so
// it is kept as a loose map and only interpreted by the normalizer.
type RawSample map[string]any

// String returns the trimmed string form of the first non-empty key.
// Non-string scalars are formatted with fmt; nil and empty values are skipped.
func (s RawSample) String(keys ...string) string {
	for _, k := range keys {
		v, ok := s[k]
		if !ok || v == nil {
			continue
		}
		var str string
		switch t := v.(type) {
		case string:
			str = t
		case fmt.Stringer:
			str = t.String()
		default:
			str = fmt.Sprint(t)
		}
		if str = strings.TrimSpace(str); str != "" {
			return str
		}
	}
	return ""
}

// Interval is a single normalized sleep-stage span. Start and End are in the
// configured target zone and Start is never after End.
type Interval struct {
	Start  time.Time
	End    time.Time
	Stage  string
	Source string
}

// Duration returns End - Start.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Session is one night's sleep: a maximal run of intervals joined by the
// gap-tolerance rule. Intervals are sorted by Start.
type Session struct {
	Intervals []Interval
	Start     time.Time
	End       time.Time
}

// StageAggregate maps a stage label to its cumulative duration in a session.
type StageAggregate map[string]time.Duration

// Tier is the coarse quality bucket derived from a score.
type Tier string

const (
	TierGood Tier = "Good"
	TierFair Tier = "Fair"
	TierPoor Tier = "Poor"
)

// Score is the result of the scoring curve for one session.
type Score struct {
	Value  int
	Tier   Tier
	Symbol string
}

// CandidateKind distinguishes the nightly summary event from per-interval ones.
type CandidateKind int

const (
	KindAggregate CandidateKind = iota
	KindStage
)

func (k CandidateKind) String() string {
	switch k {
	case KindAggregate:
		return "aggregate"
	case KindStage:
		return "stage"
	default:
		return "unknown"
	}
}

// Candidate is an event the pipeline wants to exist in the calendar. It has
// not been checked against the store yet.
type Candidate struct {
	Kind CandidateKind
	// Stage is set for KindStage candidates.
	Stage       string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// NewEvent is the payload handed to a store on insert.
type NewEvent struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	// TimeZone is the IANA zone name the event should be displayed in.
	TimeZone string
}

// StoredEvent is an event as returned by a store listing. For recurring
// events each occurrence is returned separately.
type StoredEvent struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Overlaps reports whether the event intersects the half-open window
// [timeMin, timeMax).
func (e StoredEvent) Overlaps(timeMin, timeMax time.Time) bool {
	return e.End.After(timeMin) && e.Start.Before(timeMax)
}

// Calendar identifies a calendar in a store.
type Calendar struct {
	ID   string
	Name string
}
