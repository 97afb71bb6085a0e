package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/mnemo/pkg/types"
)

func TestRecencyDecay(t *testing.T) {
	rec := &types.MemoryRecord{CreatedAt: baseTime}

	tests := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{"brand new", 0, 0},
		{"inside grace period", 6 * day, 0},
		{"end of grace period", 7 * day, 0},
		{"one week past grace", 14 * day, -0.1},
		{"ten weeks past grace", 77 * day, -1.0},
		{"floored", 400 * day, -3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RecencyDecay(rec, baseTime.Add(tt.age)), 1e-9)
		})
	}
}

func TestRecencyDecay_UsesLaterOfAccessAndCreation(t *testing.T) {
	rec := &types.MemoryRecord{
		CreatedAt:      baseTime,
		LastAccessedAt: timePtr(baseTime.Add(30 * day)),
	}
	// 35 days after creation but only 5 after the last access.
	assert.Zero(t, RecencyDecay(rec, baseTime.Add(35*day)))

	// An access time before creation does not extend staleness.
	rec.LastAccessedAt = timePtr(baseTime.Add(-30 * day))
	assert.Zero(t, RecencyDecay(rec, baseTime.Add(5*day)))
}

func TestFrequencyBoost(t *testing.T) {
	rec := &types.MemoryRecord{CreatedAt: baseTime, LastAccessedAt: timePtr(baseTime)}

	assert.Zero(t, FrequencyBoost(rec, baseTime), "no accesses, no boost")

	rec.AccessCount = 1
	assert.InDelta(t, math.Log(2)*0.5, FrequencyBoost(rec, baseTime), 1e-9)

	rec.AccessCount = 1000
	assert.InDelta(t, 2.0, FrequencyBoost(rec, baseTime), 1e-9, "log term capped at 2")

	rec.AccessCount = 3
	at15 := FrequencyBoost(rec, baseTime.Add(15*day))
	assert.InDelta(t, math.Log(4)*0.5*0.5, at15, 1e-9, "half weight at 15 days")

	at90 := FrequencyBoost(rec, baseTime.Add(90*day))
	assert.InDelta(t, math.Log(4)*0.5*0.2, at90, 1e-9, "weight floors at 0.2")
}

func TestEffectiveScore_PrefersLLMScore(t *testing.T) {
	rec := &types.MemoryRecord{BaseImportanceScore: 9, CreatedAt: baseTime}
	assert.Equal(t, 9.0, EffectiveScore(rec, baseTime).Score)

	rec.LLMImportanceScore = floatPtr(6.5)
	br := EffectiveScore(rec, baseTime)
	assert.Equal(t, 6.5, br.Base)
	assert.Equal(t, 6.5, br.Score)
}

func TestEffectiveScore_Breakdown(t *testing.T) {
	rec := &types.MemoryRecord{
		BaseImportanceScore: 5,
		UserScoreAdjustment: 2,
		AccessCount:         1,
		CreatedAt:           baseTime,
		LastAccessedAt:      timePtr(baseTime),
	}
	now := baseTime.Add(21 * day)

	br := EffectiveScore(rec, now)
	assert.Equal(t, 5.0, br.Base)
	assert.Equal(t, 2, br.Adjustment)
	assert.InDelta(t, -0.2, br.Decay, 1e-9)
	assert.InDelta(t, math.Log(2)*0.5*0.3, br.Boost, 1e-9)
	assert.InDelta(t, br.Base+float64(br.Adjustment)+br.Decay+br.Boost, br.Raw, 1e-9)
	assert.Equal(t, clampScore(br.Raw), br.Score)
}

func TestEffectiveScore_AlwaysClamped(t *testing.T) {
	for _, base := range []float64{1, 2.5, 5, 9, 10} {
		for adj := types.MinUserAdjustment; adj <= types.MaxUserAdjustment; adj++ {
			for _, access := range []int{0, 1, 10, 10000} {
				for _, ageDays := range []int{0, 10, 100, 1000} {
					for _, rated := range []bool{false, true} {
						rec := &types.MemoryRecord{
							BaseImportanceScore: base,
							UserScoreAdjustment: adj,
							UserRated:           rated,
							AccessCount:         access,
							CreatedAt:           baseTime,
						}
						score := EffectiveScore(rec, baseTime.Add(time.Duration(ageDays)*day)).Score
						if score < 1 || score > 10 {
							t.Fatalf("score %v out of range for base=%v adj=%d access=%d age=%d rated=%v",
								score, base, adj, access, ageDays, rated)
						}
					}
				}
			}
		}
	}
}

func TestEffectiveScore_DecayMonotonic(t *testing.T) {
	rec := &types.MemoryRecord{
		BaseImportanceScore: 8,
		AccessCount:         4,
		CreatedAt:           baseTime,
		LastAccessedAt:      timePtr(baseTime),
	}

	prev := EffectiveScore(rec, baseTime.Add(7*day)).Score
	for d := 8; d <= 500; d++ {
		cur := EffectiveScore(rec, baseTime.Add(time.Duration(d)*day)).Score
		if cur > prev+1e-12 {
			t.Fatalf("score increased from %v to %v at day %d", prev, cur, d)
		}
		prev = cur
	}

	// Past the floor only the boost weight floor remains, so the score settles.
	settled := EffectiveScore(rec, baseTime.Add(1000*day))
	assert.InDelta(t, -3.0, settled.Decay, 1e-9)
}

func TestEffectiveScore_UserRatedDampening(t *testing.T) {
	unrated := &types.MemoryRecord{
		BaseImportanceScore: 6,
		AccessCount:         5,
		CreatedAt:           baseTime,
		LastAccessedAt:      timePtr(baseTime.Add(2 * day)),
	}
	rated := *unrated
	rated.UserRated = true

	for _, d := range []int{10, 30, 60, 200} {
		now := baseTime.Add(time.Duration(d) * day)
		u := EffectiveScore(unrated, now)
		r := EffectiveScore(&rated, now)

		assert.InDelta(t, u.Decay*0.5, r.Decay, 1e-12, "day %d decay", d)
		assert.InDelta(t, u.Boost*1.5, r.Boost, 1e-12, "day %d boost", d)
	}
}

func TestSnapshotScore(t *testing.T) {
	rec := &types.MemoryRecord{BaseImportanceScore: 4, UserScoreAdjustment: -3}
	assert.Equal(t, 1.0, SnapshotScore(rec))

	rec.LLMImportanceScore = floatPtr(9)
	rec.UserScoreAdjustment = 3
	assert.Equal(t, 10.0, SnapshotScore(rec))

	rec.UserScoreAdjustment = -1
	assert.Equal(t, 8.0, SnapshotScore(rec))
}

func TestClampScore_NaN(t *testing.T) {
	assert.Equal(t, 1.0, clampScore(math.NaN()))
}
