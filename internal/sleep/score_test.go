package sleep

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"sleepcal/internal/model"
)

func TestScoreBoundaries(t *testing.T) {
	cases := []struct {
		hours float64
		want  int
		tier  model.Tier
	}{
		{0, 0, model.TierPoor},
		{3, 25, model.TierPoor},
		{6, 50, model.TierFair},
		{6.5, 62, model.TierFair},
		{7, 75, model.TierGood},
		{8, 100, model.TierGood},
		{9, 95, model.TierGood},
		{10, 90, model.TierGood},
		{11, 80, model.TierGood},
		{12, 60, model.TierFair},
		{15, 0, model.TierPoor},
	}
	for _, tc := range cases {
		got := ScoreHours(tc.hours)
		assert.Equal(t, tc.want, got.Value, "hours=%v", tc.hours)
		assert.Equal(t, tc.tier, got.Tier, "hours=%v", tc.hours)
	}
}

func TestScoreInvalidInput(t *testing.T) {
	assert.Zero(t, ScoreHours(-1).Value)
	assert.Zero(t, ScoreHours(math.NaN()).Value)
	assert.Equal(t, SymbolPoor, ScoreHours(math.NaN()).Symbol)
}

func TestScoreMonotonicBetweenSixAndEight(t *testing.T) {
	prev := ScoreHours(6).Value
	for h := 6.05; h <= 8.0001; h += 0.05 {
		cur := ScoreHours(h).Value
		assert.Greater(t, cur, prev, "hours=%v", h)
		prev = cur
	}
}

func TestScoreContinuity(t *testing.T) {
	const eps = 1e-9
	for _, h := range []float64{6, 8} {
		left := ScoreHours(h - eps).Value
		right := ScoreHours(h + eps).Value
		assert.InDelta(t, left, right, 1, "hours=%v", h)
	}
}

func TestTierSymbols(t *testing.T) {
	tier, sym := TierFor(70)
	assert.Equal(t, model.TierGood, tier)
	assert.Equal(t, "🟢", sym)

	tier, sym = TierFor(69)
	assert.Equal(t, model.TierFair, tier)
	assert.Equal(t, "😴", sym)

	tier, sym = TierFor(49)
	assert.Equal(t, model.TierPoor, tier)
	assert.Equal(t, "🔴", sym)
}

func TestStageSymbol(t *testing.T) {
	assert.Equal(t, "💙", StageSymbol("Core"))
	assert.Equal(t, "💜", StageSymbol("Deep"))
	assert.Equal(t, "💤", StageSymbol("REM"))
	assert.Equal(t, "🔴", StageSymbol("Awake"))
	assert.Equal(t, "⏱", StageSymbol("InBed"))
	assert.Equal(t, "⏱", StageSymbol("core"))
}

func TestAsleepSetIsCaseSensitive(t *testing.T) {
	assert.True(t, IsAsleep("REM"))
	assert.False(t, IsAsleep("rem"))
	assert.False(t, IsAsleep("Awake"))
	assert.True(t, IsAwake("awake"))
	assert.True(t, IsAwake(" AWAKE "))
}
