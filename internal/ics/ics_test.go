package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//sleepcal//test
X-WR-CALNAME:Sleep Data
BEGIN:VEVENT
UID:single
DTSTAMP:20240101T000000Z
DTSTART:20240110T105600Z
DTEND:20240110T112100Z
SUMMARY:💙 Core (0.4h)
DESCRIPTION:Stage: Core\nDuration: 25 min (0.4 hours)\nSource: Watch
END:VEVENT
BEGIN:VEVENT
UID:nightly
DTSTAMP:20240101T000000Z
DTSTART;TZID=America/Los_Angeles:20240108T230000
DTEND;TZID=America/Los_Angeles:20240109T070000
RRULE:FREQ=DAILY;COUNT=5
EXDATE;TZID=America/Los_Angeles:20240110T230000
SUMMARY:🟢 Sleep (8.0h)
END:VEVENT
BEGIN:VEVENT
UID:nightly
DTSTAMP:20240101T000000Z
RECURRENCE-ID;TZID=America/Los_Angeles:20240109T230000
DTSTART;TZID=America/Los_Angeles:20240109T233000
DTEND;TZID=America/Los_Angeles:20240110T060000
SUMMARY:😴 Sleep (6.5h)
END:VEVENT
BEGIN:VEVENT
DTSTAMP:20240101T000000Z
DTSTART:20240110T105600Z
SUMMARY:no uid
END:VEVENT
END:VCALENDAR
`

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParse(t *testing.T) {
	cal, events, err := Parse("test", crlf(sample))
	require.NoError(t, err)
	require.NotNil(t, cal)
	require.Len(t, events, 3, "event without UID is skipped")

	single := events[0]
	assert.Equal(t, "single", single.UID)
	assert.Equal(t, "💙 Core (0.4h)", single.Summary)
	assert.Equal(t, "Stage: Core\nDuration: 25 min (0.4 hours)\nSource: Watch", single.Description)
	assert.Equal(t, time.Date(2024, 1, 10, 10, 56, 0, 0, time.UTC), single.Start.UTC())

	series := events[1]
	assert.Equal(t, "FREQ=DAILY;COUNT=5", series.RawRRule)
	require.Len(t, series.ExDates, 1)
	assert.Equal(t, "America/Los_Angeles", series.Start.Location().String())

	override := events[2]
	assert.True(t, override.IsOverride)
	require.NotNil(t, override.Recurrence)
}

func TestParseEmpty(t *testing.T) {
	_, _, err := Parse("empty", []byte("  \n"))
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	_, events, err := Parse("test", crlf(sample))
	require.NoError(t, err)

	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	res, err := Expand(events, ExpandConfig{
		DisplayLocation: la,
		RangeStart:      time.Date(2024, 1, 9, 0, 0, 0, 0, la),
		RangeEnd:        time.Date(2024, 1, 12, 0, 0, 0, 0, la),
	})
	require.NoError(t, err)
	assert.Empty(t, res.TruncatedEvents)

	var summaries []string
	for _, occ := range res.Occurrences {
		summaries = append(summaries, occ.Summary)
		assert.Equal(t, la, occ.Start.Location())
	}
	// 8th night runs into the 9th, the 9th is overridden, the 10th is
	// excluded, the 11th starts before the range end.
	assert.Equal(t, []string{
		"🟢 Sleep (8.0h)",
		"😴 Sleep (6.5h)",
		"💙 Core (0.4h)",
		"🟢 Sleep (8.0h)",
	}, summaries)

	assert.Equal(t, "nightly_20240109T070000Z", res.Occurrences[0].ID)
	assert.Equal(t, "single", res.Occurrences[2].ID)
	assert.Equal(t, time.Date(2024, 1, 9, 23, 30, 0, 0, la), res.Occurrences[1].Start)
}

func TestExpandHalfOpenRange(t *testing.T) {
	_, events, err := Parse("test", crlf(sample))
	require.NoError(t, err)

	res, err := Expand(events[:1], ExpandConfig{
		RangeStart: time.Date(2024, 1, 10, 11, 21, 0, 0, time.UTC),
		RangeEnd:   time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Occurrences)
}

func TestExpandCap(t *testing.T) {
	_, events, err := Parse("test", crlf(sample))
	require.NoError(t, err)

	res, err := Expand(events[1:2], ExpandConfig{
		RangeStart:             time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:               time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		MaxOccurrencesPerEvent: 2,
	})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 2)
	assert.Equal(t, []string{"nightly"}, res.TruncatedEvents)
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	_, err := Expand(nil, ExpandConfig{RangeStart: time.Now(), RangeEnd: time.Now().Add(-time.Hour)})
	assert.Error(t, err)
}
