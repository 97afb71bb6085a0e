package engine

import (
	"strings"

	"github.com/scrypster/mnemo/pkg/types"
)

// typeCues maps lexical cues to a memory type. Checked in order; the first
// type with a matching cue wins.
var typeCues = []struct {
	memoryType types.MemoryType
	cues       []string
}{
	{types.MemoryTypePreference, []string{
		"i prefer", "i like", "i love", "i enjoy", "i hate", "i dislike",
		"favorite", "favourite", "rather than", "i don't like",
	}},
	{types.MemoryTypeRelational, []string{
		"my wife", "my husband", "my partner", "my mom", "my mother", "my dad",
		"my father", "my sister", "my brother", "my son", "my daughter",
		"my friend", "my boss", "my colleague", "married", "dating",
	}},
	{types.MemoryTypeBehavioral, []string{
		"i usually", "i always", "i never", "i often", "every morning",
		"every day", "every week", "i tend to", "habit", "routine",
	}},
	{types.MemoryTypeFactual, []string{
		"my name is", "i am ", "i'm ", "i live", "i work", "i was born",
		"my birthday", "years old", "i have", "allergic",
	}},
}

// baseScoreByType is the rule-based starting score per memory type.
var baseScoreByType = map[types.MemoryType]float64{
	types.MemoryTypeFactual:    4.0,
	types.MemoryTypePreference: 4.0,
	types.MemoryTypeRelational: 3.5,
	types.MemoryTypeBehavioral: 3.0,
}

// ClassifyMemoryType guesses a memory type from lexical cues in content.
// Content with no recognised cue is contextual.
func ClassifyMemoryType(content string) types.MemoryType {
	lower := strings.ToLower(content)
	for _, tc := range typeCues {
		for _, cue := range tc.cues {
			if strings.Contains(lower, cue) {
				return tc.memoryType
			}
		}
	}
	return types.MemoryTypeContextual
}

// RuleBaseScore returns the fixed base score for a memory type.
func RuleBaseScore(t types.MemoryType) float64 {
	if s, ok := baseScoreByType[t]; ok {
		return s
	}
	return 2.5
}
