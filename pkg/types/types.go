// Package types defines the core data structures for the mnemo memory engine.
// A MemoryRecord is a short atomic fact about a user together with the scoring
// inputs and lifecycle flags the engine maintains for it.
package types

import (
	"strings"
	"time"
)

// MemoryType classifies what kind of fact a memory holds.
type MemoryType string

// Memory type constants
const (
	MemoryTypeFactual    MemoryType = "factual"
	MemoryTypePreference MemoryType = "preference"
	MemoryTypeBehavioral MemoryType = "behavioral"
	MemoryTypeRelational MemoryType = "relational"
	MemoryTypeContextual MemoryType = "contextual"
)

// ValidMemoryTypes lists every recognised memory type.
var ValidMemoryTypes = []MemoryType{
	MemoryTypeFactual,
	MemoryTypePreference,
	MemoryTypeBehavioral,
	MemoryTypeRelational,
	MemoryTypeContextual,
}

// NormalizeMemoryType maps free-form input onto a known MemoryType.
// Anything unrecognised becomes MemoryTypeContextual.
func NormalizeMemoryType(s string) MemoryType {
	candidate := MemoryType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range ValidMemoryTypes {
		if t == candidate {
			return t
		}
	}
	return MemoryTypeContextual
}

// ScoreSource records which input last determined finalImportanceScore.
type ScoreSource string

// Score source constants
const (
	// ScoreSourceRule is the rule-based heuristic applied at creation.
	ScoreSourceRule ScoreSource = "rule"

	// ScoreSourceLLM means the scoring oracle produced the current score.
	ScoreSourceLLM ScoreSource = "llm"

	// ScoreSourceLLMExtraction means the score came with an LLM-extracted
	// candidate and still awaits oracle confirmation.
	ScoreSourceLLMExtraction ScoreSource = "llm_extraction"

	// ScoreSourceUserModified means the user rated the memory.
	ScoreSourceUserModified ScoreSource = "user_modified"
)

// IsValid reports whether s is a known score source.
func (s ScoreSource) IsValid() bool {
	switch s {
	case ScoreSourceRule, ScoreSourceLLM, ScoreSourceLLMExtraction, ScoreSourceUserModified:
		return true
	}
	return false
}

// Score and content bounds.
const (
	MinImportanceScore = 1.0
	MaxImportanceScore = 10.0

	MinUserAdjustment = -3
	MaxUserAdjustment = 3

	// MaxContentLength is measured in characters, not bytes.
	MaxContentLength = 500
)

// MemoryRecord is a single stored memory.
type MemoryRecord struct {
	ID          int64      `json:"id"`
	MemoryType  MemoryType `json:"memory_type"`
	Content     string     `json:"content"`
	KeyEntities []string   `json:"key_entities,omitempty"`

	BaseImportanceScore  float64     `json:"base_importance_score"`
	LLMImportanceScore   *float64    `json:"llm_importance_score,omitempty"`
	UserScoreAdjustment  int         `json:"user_score_adjustment"`
	FinalImportanceScore float64     `json:"final_importance_score"`
	ScoreSource          ScoreSource `json:"score_source"`
	UserRated            bool        `json:"user_rated"`
	UserRatedAt          *time.Time  `json:"user_rated_at,omitempty"`
	LLMProcessed         bool        `json:"llm_processed"`

	Embedding []float32 `json:"-"`

	SourceConversationID *int64 `json:"source_conversation_id,omitempty"`
	RelatedEntryID       *int64 `json:"related_entry_id,omitempty"`

	IsActive       bool       `json:"is_active"`
	AccessCount    int        `json:"access_count"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	MarkedForDeletion   bool       `json:"marked_for_deletion"`
	MarkedForDeletionAt *time.Time `json:"marked_for_deletion_at,omitempty"`
	DeletionReason      string     `json:"deletion_reason,omitempty"`

	Archived   bool       `json:"archived"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// HasEmbedding reports whether an embedding has been generated.
func (m *MemoryRecord) HasEmbedding() bool {
	return len(m.Embedding) > 0
}

// LastTouched is the later of LastAccessedAt and CreatedAt.
func (m *MemoryRecord) LastTouched() time.Time {
	if m.LastAccessedAt != nil && m.LastAccessedAt.After(m.CreatedAt) {
		return *m.LastAccessedAt
	}
	return m.CreatedAt
}

// LastAccessOrCreated returns LastAccessedAt, or CreatedAt if the memory was
// never accessed.
func (m *MemoryRecord) LastAccessOrCreated() time.Time {
	if m.LastAccessedAt != nil {
		return *m.LastAccessedAt
	}
	return m.CreatedAt
}
