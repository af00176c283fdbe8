package sleep

import (
	"fmt"
	"strings"
	"time"

	"sleepcal/internal/model"
)

// SkipReason explains why a session produced no candidates. Skips are
// expected outcomes, not errors.
type SkipReason int

const (
	NotSkipped SkipReason = iota
	// EmptySession has no asleep intervals.
	EmptySession
	// StaleSession started before the lookback cutoff.
	StaleSession
)

func (r SkipReason) String() string {
	switch r {
	case NotSkipped:
		return "none"
	case EmptySession:
		return "empty"
	case StaleSession:
		return "stale"
	default:
		return "unknown"
	}
}

// SynthOptions controls candidate generation.
type SynthOptions struct {
	// Now is the reference instant for the cutoff.
	Now time.Time
	// Lookback drops sessions that started before Now - Lookback. Zero
	// disables the cutoff.
	Lookback time.Duration
}

// Plan is the set of candidates produced for one session.
type Plan struct {
	Score     model.Score
	Aggregate model.Candidate
	Stages    []model.Candidate
}

// Candidates returns the aggregate candidate followed by the stage ones.
func (p Plan) Candidates() []model.Candidate {
	out := make([]model.Candidate, 0, 1+len(p.Stages))
	out = append(out, p.Aggregate)
	return append(out, p.Stages...)
}

// Synthesize builds the aggregate and per-interval candidates for a session.
//
// The aggregate spans only the asleep intervals. The cutoff is checked against
// the start of the whole session in absolute time.
func Synthesize(s model.Session, opts SynthOptions) (Plan, SkipReason) {
	var (
		asleep     []model.Interval
		awakeTotal time.Duration
		byStage    = model.StageAggregate{}
	)
	for _, iv := range s.Intervals {
		switch {
		case IsAsleep(iv.Stage):
			asleep = append(asleep, iv)
			byStage[iv.Stage] += iv.Duration()
		case IsAwake(iv.Stage):
			awakeTotal += iv.Duration()
		}
	}
	if len(asleep) == 0 {
		return Plan{}, EmptySession
	}

	if opts.Lookback > 0 {
		cutoff := opts.Now.Add(-opts.Lookback)
		if s.Start.Before(cutoff) {
			return Plan{}, StaleSession
		}
	}

	start, end := asleep[0].Start, asleep[0].End
	var total time.Duration
	for _, iv := range asleep {
		if iv.Start.Before(start) {
			start = iv.Start
		}
		if iv.End.After(end) {
			end = iv.End
		}
		total += iv.Duration()
	}

	hours := total.Hours()
	score := ScoreHours(hours)

	plan := Plan{
		Score: score,
		Aggregate: model.Candidate{
			Kind:        model.KindAggregate,
			Summary:     fmt.Sprintf("%s Sleep (%.1fh)", score.Symbol, hours),
			Description: aggregateDescription(score, total, byStage, awakeTotal, DominantSource(s)),
			Start:       start,
			End:         end,
		},
		Stages: make([]model.Candidate, 0, len(s.Intervals)),
	}

	for _, iv := range s.Intervals {
		if iv.Stage == "" {
			continue
		}
		plan.Stages = append(plan.Stages, stageCandidate(iv))
	}
	return plan, NotSkipped
}

func stageCandidate(iv model.Interval) model.Candidate {
	d := iv.Duration()
	return model.Candidate{
		Kind:    model.KindStage,
		Stage:   iv.Stage,
		Summary: fmt.Sprintf("%s %s (%.1fh)", StageSymbol(iv.Stage), iv.Stage, d.Hours()),
		Description: fmt.Sprintf("Stage: %s\nDuration: %.0f min (%.1f hours)\nSource: %s",
			iv.Stage, d.Minutes(), d.Hours(), iv.Source),
		Start: iv.Start,
		End:   iv.End,
	}
}

func aggregateDescription(score model.Score, total time.Duration, byStage model.StageAggregate, awake time.Duration, source string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sleep Score: %d/100 (%s)\n", score.Value, TierDescription(score.Tier))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Time Asleep: %.1f hours (%d min)\n", total.Hours(), int(total.Minutes()))
	fmt.Fprintf(&b, "Source: %s\n", source)
	b.WriteString("\n")
	b.WriteString("Stage Breakdown:\n")
	for _, stage := range asleepOrder {
		d, ok := byStage[stage]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s: %d min (%.1f hr)\n", stage, int(d.Minutes()), d.Hours())
	}
	if awake > 0 {
		fmt.Fprintf(&b, "%s: %d min (%.1f hr)\n", StageAwake, int(awake.Minutes()), awake.Hours())
	}
	b.WriteString("\n")
	b.WriteString("Score Breakdown:\n")
	b.WriteString(SymbolGood + " 70-100: Good sleep (7-8 hours ideal)\n")
	b.WriteString(SymbolFair + " 50-69: Fair sleep (6-7 hours)\n")
	b.WriteString(SymbolPoor + " 0-49: Poor sleep (<6 hours or >10 hours)")
	return b.String()
}

// DominantSource is the most frequent source label in the session; ties go
// to the label seen first.
func DominantSource(s model.Session) string {
	counts := make(map[string]int, 2)
	var (
		best  string
		bestN int
	)
	for _, iv := range s.Intervals {
		counts[iv.Source]++
	}
	for _, iv := range s.Intervals {
		if n := counts[iv.Source]; n > bestN {
			best, bestN = iv.Source, n
		}
	}
	if best == "" {
		return "Apple Health"
	}
	return best
}
