package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/mnemo/pkg/types"
)

func TestClassifyMemoryType(t *testing.T) {
	tests := []struct {
		content string
		want    types.MemoryType
	}{
		{"I prefer tea over coffee", types.MemoryTypePreference},
		{"My favorite color is green", types.MemoryTypePreference},
		{"My sister lives in Lisbon", types.MemoryTypeRelational},
		{"I usually run before work", types.MemoryTypeBehavioral},
		{"My name is Alex", types.MemoryTypeFactual},
		{"I am allergic to peanuts", types.MemoryTypeFactual},
		{"The meeting went long today", types.MemoryTypeContextual},
		{"", types.MemoryTypeContextual},
	}

	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyMemoryType(tt.content))
		})
	}
}

func TestRuleBaseScore(t *testing.T) {
	assert.Equal(t, 4.0, RuleBaseScore(types.MemoryTypeFactual))
	assert.Equal(t, 4.0, RuleBaseScore(types.MemoryTypePreference))
	assert.Equal(t, 3.5, RuleBaseScore(types.MemoryTypeRelational))
	assert.Equal(t, 3.0, RuleBaseScore(types.MemoryTypeBehavioral))
	assert.Equal(t, 2.5, RuleBaseScore(types.MemoryTypeContextual))
	assert.Equal(t, 2.5, RuleBaseScore("unknown"))
}
