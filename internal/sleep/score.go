package sleep

import (
	"math"
	"strings"
	"time"

	"sleepcal/internal/model"
)

// Stage labels with special meaning.
const (
	StageCore  = "Core"
	StageDeep  = "Deep"
	StageREM   = "REM"
	StageAwake = "Awake"
)

// Tier symbols.
const (
	SymbolGood = "🟢"
	SymbolFair = "😴"
	SymbolPoor = "🔴"
)

// asleepOrder is the asleep stage set in display order. Matching is
// case-sensitive.
var asleepOrder = []string{StageCore, StageDeep, StageREM}

var stageSymbols = map[string]string{
	StageCore:  "💙",
	StageDeep:  "💜",
	StageREM:   "💤",
	StageAwake: "🔴",
}

// OtherStageSymbol marks stages without a dedicated symbol.
const OtherStageSymbol = "⏱"

// TierSymbols lists every tier symbol.
var TierSymbols = []string{SymbolGood, SymbolFair, SymbolPoor}

// IsAsleep reports whether stage counts towards time asleep.
func IsAsleep(stage string) bool {
	for _, s := range asleepOrder {
		if stage == s {
			return true
		}
	}
	return false
}

// IsAwake reports whether stage is an awake label, ignoring case.
func IsAwake(stage string) bool {
	return strings.EqualFold(strings.TrimSpace(stage), StageAwake)
}

// StageSymbol returns the symbol used on per-stage events.
func StageSymbol(stage string) string {
	if s, ok := stageSymbols[stage]; ok {
		return s
	}
	return OtherStageSymbol
}

// AsleepDuration sums the asleep intervals of a session.
func AsleepDuration(s model.Session) time.Duration {
	var total time.Duration
	for _, iv := range s.Intervals {
		if IsAsleep(iv.Stage) {
			total += iv.Duration()
		}
	}
	return total
}

// ScoreHours maps hours asleep onto the 0-100 quality curve: linear up to 50
// at 6h, rising to 100 at 8h, easing to 90 at 10h and dropping 20 points per
// hour after that. Negative or NaN input scores 0.
func ScoreHours(h float64) model.Score {
	var v float64
	switch {
	case math.IsNaN(h) || h <= 0:
		v = 0
	case h < 6:
		v = h / 6 * 50
	case h <= 8:
		v = 50 + (h-6)/2*50
	case h <= 10:
		v = 100 - (h-8)/2*10
	default:
		v = math.Max(0, 100-(h-10)*20)
	}
	v = math.Min(100, math.Max(0, v))

	score := int(v)
	tier, sym := TierFor(score)
	return model.Score{Value: score, Tier: tier, Symbol: sym}
}

// TierFor buckets a score.
func TierFor(score int) (model.Tier, string) {
	switch {
	case score >= 70:
		return model.TierGood, SymbolGood
	case score >= 50:
		return model.TierFair, SymbolFair
	default:
		return model.TierPoor, SymbolPoor
	}
}

// TierDescription is the human label shown next to the score.
func TierDescription(t model.Tier) string {
	switch t {
	case model.TierGood:
		return "Good (ideal 7-8 hours)"
	case model.TierFair:
		return "Fair (6-7 hours)"
	default:
		return "Poor (<6 hours or >10 hours)"
	}
}
