package engine

import (
	"math"
	"time"

	"github.com/scrypster/mnemo/pkg/types"
)

const (
	userRatedDecayFactor = 0.5
	userRatedBoostFactor = 1.5
)

// ScoreBreakdown is the result of EffectiveScore together with its terms.
type ScoreBreakdown struct {
	Base       float64 `json:"base"`
	Adjustment int     `json:"adjustment"`
	Decay      float64 `json:"decay"`
	Boost      float64 `json:"boost"`
	Raw        float64 `json:"raw"`
	Score      float64 `json:"score"`
}

// EffectiveScore computes how important m is at time now. It reads only stored
// fields, so any caller can re-derive the same value.
func EffectiveScore(m *types.MemoryRecord, now time.Time) ScoreBreakdown {
	decay := RecencyDecay(m, now)
	boost := FrequencyBoost(m, now)
	if m.UserRated {
		decay *= userRatedDecayFactor
		boost *= userRatedBoostFactor
	}

	base := baseScore(m)
	raw := base + float64(m.UserScoreAdjustment) + decay + boost

	return ScoreBreakdown{
		Base:       base,
		Adjustment: m.UserScoreAdjustment,
		Decay:      decay,
		Boost:      boost,
		Raw:        raw,
		Score:      clampScore(raw),
	}
}

// SnapshotScore is the persisted finalImportanceScore: the best available
// base score plus the user's adjustment, without time-dependent terms.
func SnapshotScore(m *types.MemoryRecord) float64 {
	return clampScore(baseScore(m) + float64(m.UserScoreAdjustment))
}

func baseScore(m *types.MemoryRecord) float64 {
	if m.LLMImportanceScore != nil {
		return *m.LLMImportanceScore
	}
	return m.BaseImportanceScore
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return types.MinImportanceScore
	}
	return math.Min(types.MaxImportanceScore, math.Max(types.MinImportanceScore, v))
}
