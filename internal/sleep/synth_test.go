package sleep

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepcal/internal/model"
)

func session(ivs ...model.Interval) model.Session {
	got := Segment(ivs)
	if len(got) != 1 {
		panic("fixture does not form one session")
	}
	return got[0]
}

func at(h, m int) time.Time {
	return time.Date(2024, 1, 10, h, m, 0, 0, time.UTC)
}

func TestSynthesizeAwakeAndCore(t *testing.T) {
	s := session(
		model.Interval{Start: at(2, 22), End: at(2, 56), Stage: "Awake", Source: "Watch"},
		model.Interval{Start: at(2, 56), End: at(3, 21), Stage: "Core", Source: "Watch"},
	)

	plan, skip := Synthesize(s, SynthOptions{Now: at(12, 0), Lookback: 30 * 24 * time.Hour})
	require.Equal(t, NotSkipped, skip)

	assert.Equal(t, model.TierPoor, plan.Score.Tier)
	assert.Equal(t, 3, plan.Score.Value)

	agg := plan.Aggregate
	assert.Equal(t, model.KindAggregate, agg.Kind)
	assert.Equal(t, "🔴 Sleep (0.4h)", agg.Summary)
	// Envelope covers asleep intervals only.
	assert.Equal(t, at(2, 56), agg.Start)
	assert.Equal(t, at(3, 21), agg.End)
	assert.Contains(t, agg.Description, "Sleep Score: 3/100 (Poor (<6 hours or >10 hours))")
	assert.Contains(t, agg.Description, "Time Asleep: 0.4 hours (25 min)")
	assert.Contains(t, agg.Description, "Core: 25 min (0.4 hr)\nAwake: 34 min (0.6 hr)")

	require.Len(t, plan.Stages, 2)
	assert.Equal(t, "🔴 Awake (0.6h)", plan.Stages[0].Summary)
	assert.Equal(t, "💙 Core (0.4h)", plan.Stages[1].Summary)
	assert.Equal(t, "Stage: Core\nDuration: 25 min (0.4 hours)\nSource: Watch", plan.Stages[1].Description)
	assert.Len(t, plan.Candidates(), 3)
}

func TestSynthesizeFairNight(t *testing.T) {
	s := session(
		model.Interval{Start: at(0, 0), End: at(4, 0), Stage: "Core", Source: "Watch"},
		model.Interval{Start: at(4, 0), End: at(5, 30), Stage: "Deep", Source: "Watch"},
		model.Interval{Start: at(5, 30), End: at(6, 30), Stage: "REM", Source: "Phone"},
	)

	plan, skip := Synthesize(s, SynthOptions{})
	require.Equal(t, NotSkipped, skip)

	assert.Equal(t, model.TierFair, plan.Score.Tier)
	assert.GreaterOrEqual(t, plan.Score.Value, 50)
	assert.Less(t, plan.Score.Value, 70)
	assert.Equal(t, "😴 Sleep (6.5h)", plan.Aggregate.Summary)

	desc := plan.Aggregate.Description
	assert.Contains(t, desc, "Stage Breakdown:\nCore: 240 min (4.0 hr)\nDeep: 90 min (1.5 hr)\nREM: 60 min (1.0 hr)\n\n")
	assert.Contains(t, desc, "Source: Watch\n")
	assert.NotContains(t, desc, "Awake:")
	assert.True(t, strings.HasSuffix(desc, "🔴 0-49: Poor sleep (<6 hours or >10 hours)"))
}

func TestSynthesizeOnlyAwakeIsEmpty(t *testing.T) {
	s := session(
		model.Interval{Start: at(2, 0), End: at(3, 0), Stage: "Awake", Source: "Watch"},
		model.Interval{Start: at(3, 0), End: at(3, 10), Stage: "InBed", Source: "Watch"},
	)
	plan, skip := Synthesize(s, SynthOptions{})
	assert.Equal(t, EmptySession, skip)
	assert.Empty(t, plan.Stages)
}

func TestSynthesizeStaleUsesSessionStart(t *testing.T) {
	now := at(12, 0)
	lookback := 9*time.Hour + 30*time.Minute // cutoff 02:30

	s := session(
		model.Interval{Start: at(2, 20), End: at(2, 40), Stage: "Awake", Source: "Watch"},
		model.Interval{Start: at(2, 40), End: at(4, 0), Stage: "Core", Source: "Watch"},
	)
	_, skip := Synthesize(s, SynthOptions{Now: now, Lookback: lookback})
	assert.Equal(t, StaleSession, skip)

	fresh := session(
		model.Interval{Start: at(2, 40), End: at(4, 0), Stage: "Core", Source: "Watch"},
	)
	_, skip = Synthesize(fresh, SynthOptions{Now: now, Lookback: lookback})
	assert.Equal(t, NotSkipped, skip)
}

func TestSynthesizeCutoffIsAbsolute(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	// 02:40 in Los Angeles is 10:40 UTC.
	start := time.Date(2024, 1, 10, 2, 40, 0, 0, la)
	s := session(model.Interval{Start: start, End: start.Add(time.Hour), Stage: "Core", Source: "Watch"})

	now := time.Date(2024, 1, 10, 11, 0, 0, 0, time.UTC)
	_, skip := Synthesize(s, SynthOptions{Now: now, Lookback: time.Hour})
	assert.Equal(t, NotSkipped, skip)

	_, skip = Synthesize(s, SynthOptions{Now: now, Lookback: 10 * time.Minute})
	assert.Equal(t, StaleSession, skip)
}

func TestSynthesizeUnknownStageGetsClock(t *testing.T) {
	s := session(
		model.Interval{Start: at(1, 0), End: at(2, 0), Stage: "Core", Source: "Watch"},
		model.Interval{Start: at(2, 0), End: at(2, 30), Stage: "InBed", Source: "Watch"},
	)
	plan, _ := Synthesize(s, SynthOptions{})
	require.Len(t, plan.Stages, 2)
	assert.Equal(t, "⏱ InBed (0.5h)", plan.Stages[1].Summary)
	assert.Equal(t, model.KindStage, plan.Stages[1].Kind)
	assert.Equal(t, "InBed", plan.Stages[1].Stage)
}

func TestDominantSourceTieGoesToFirst(t *testing.T) {
	s := model.Session{Intervals: []model.Interval{
		{Source: "Phone"},
		{Source: "Watch"},
		{Source: "Watch"},
		{Source: "Phone"},
	}}
	assert.Equal(t, "Phone", DominantSource(s))

	s.Intervals = append(s.Intervals, model.Interval{Source: "Watch"})
	assert.Equal(t, "Watch", DominantSource(s))
}
