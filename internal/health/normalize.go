// Package health turns sleep-analysis exports into canonical intervals.
package health

import (
	"errors"
	"fmt"
	"time"

	"github.com/araddon/dateparse"

	appLog "sleepcal/internal/log"
	"sleepcal/internal/model"
)

const (
	// DefaultSource labels samples that carry no source name.
	DefaultSource = "Apple Health"
	// UnknownStage labels samples that carry no stage value.
	UnknownStage = "Unknown"
)

// ErrUnparseable marks a sample that cannot become an interval. It is never
// fatal to a batch.
var ErrUnparseable = errors.New("unparseable sample")

// Field-name alternatives, first non-empty wins.
var (
	startKeys  = []string{"startDate", "start"}
	endKeys    = []string{"endDate", "end"}
	stageKeys  = []string{"value"}
	sourceKeys = []string{"sourceName", "source"}
)

// Normalize converts one raw sample into an Interval in loc.
//
// Timestamps without an offset are taken to already be wall-clock time in
// loc; timestamps with an offset are converted into loc.
func Normalize(s model.RawSample, loc *time.Location) (model.Interval, error) {
	if loc == nil {
		loc = time.UTC
	}

	startRaw := s.String(startKeys...)
	endRaw := s.String(endKeys...)
	if startRaw == "" {
		return model.Interval{}, fmt.Errorf("%w: missing start", ErrUnparseable)
	}
	if endRaw == "" {
		return model.Interval{}, fmt.Errorf("%w: missing end", ErrUnparseable)
	}

	start, err := parseTimestamp(startRaw, loc)
	if err != nil {
		return model.Interval{}, fmt.Errorf("%w: start %q: %v", ErrUnparseable, startRaw, err)
	}
	end, err := parseTimestamp(endRaw, loc)
	if err != nil {
		return model.Interval{}, fmt.Errorf("%w: end %q: %v", ErrUnparseable, endRaw, err)
	}
	if end.Before(start) {
		return model.Interval{}, fmt.Errorf("%w: end %s before start %s", ErrUnparseable, endRaw, startRaw)
	}

	stage := s.String(stageKeys...)
	if stage == "" {
		stage = UnknownStage
	}
	source := s.String(sourceKeys...)
	if source == "" {
		source = DefaultSource
	}

	return model.Interval{
		Start:  start,
		End:    end,
		Stage:  stage,
		Source: source,
	}, nil
}

// NormalizeAll normalizes a batch, dropping and counting samples that fail.
func NormalizeAll(samples []model.RawSample, loc *time.Location) ([]model.Interval, int) {
	out := make([]model.Interval, 0, len(samples))
	skipped := 0
	for i, s := range samples {
		iv, err := Normalize(s, loc)
		if err != nil {
			skipped++
			appLog.Debug("sample skipped", "index", i, "reason", err.Error())
			continue
		}
		out = append(out, iv)
	}
	return out, skipped
}

func parseTimestamp(v string, loc *time.Location) (time.Time, error) {
	t, err := dateparse.ParseIn(v, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}
