package engine

import (
	"math"
	"time"

	"github.com/scrypster/mnemo/pkg/types"
)

const (
	// decayGraceDays is how long a memory is exempt from recency decay.
	decayGraceDays = 7.0

	// decayPerWeek is the penalty per week past the grace period.
	decayPerWeek = 0.1

	// maxDecay is the floor of the recency penalty.
	maxDecay = -3.0

	// maxFrequencyBoost caps the logarithmic access term.
	maxFrequencyBoost = 2.0

	// boostWindowDays is how long access recency keeps its weight.
	boostWindowDays = 30.0

	// minBoostWeight is the weight applied past the window.
	minBoostWeight = 0.2
)

// daysBetween returns the fractional number of days from t to now, never negative.
func daysBetween(t, now time.Time) float64 {
	d := now.Sub(t).Hours() / 24.0
	if d < 0 {
		return 0
	}
	return d
}

// RecencyDecay returns the non-positive penalty for time since the memory was
// last touched. Zero within the grace period, then -0.1 per elapsed week,
// floored at -3.
func RecencyDecay(m *types.MemoryRecord, now time.Time) float64 {
	days := daysBetween(m.LastTouched(), now)
	if days <= decayGraceDays {
		return 0
	}
	decay := -decayPerWeek * (days - decayGraceDays) / 7.0
	return math.Max(decay, maxDecay)
}

// FrequencyBoost rewards repeated access with diminishing returns, weighted
// by how recently the memory was last accessed.
func FrequencyBoost(m *types.MemoryRecord, now time.Time) float64 {
	if m.AccessCount <= 0 {
		return 0
	}
	logTerm := math.Min(maxFrequencyBoost, math.Log(float64(m.AccessCount)+1)*0.5)
	weight := math.Max(minBoostWeight, 1-daysBetween(m.LastAccessOrCreated(), now)/boostWindowDays)
	return logTerm * weight
}
