package handlers

import (
	"github.com/scrypster/mnemo/internal/engine"
	"github.com/scrypster/mnemo/internal/scheduler"
	"github.com/scrypster/mnemo/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// StoreMemoryRequest is the request body for POST /api/memories.
type StoreMemoryRequest struct {
	Content              string            `json:"content"`
	MemoryType           types.MemoryType  `json:"memory_type,omitempty"`
	KeyEntities          []string          `json:"key_entities,omitempty"`
	BaseImportanceScore  float64           `json:"base_importance_score,omitempty"`
	Confidence           *float64          `json:"confidence,omitempty"`
	SourceConversationID *int64            `json:"source_conversation_id,omitempty"`
	RelatedEntryID       *int64            `json:"related_entry_id,omitempty"`
	ScoreSource          types.ScoreSource `json:"score_source,omitempty"`
}

func (r StoreMemoryRequest) candidate() engine.Candidate {
	return engine.Candidate{
		MemoryType:           string(r.MemoryType),
		Content:              r.Content,
		KeyEntities:          r.KeyEntities,
		BaseImportanceScore:  r.BaseImportanceScore,
		Confidence:           r.Confidence,
		SourceConversationID: r.SourceConversationID,
		RelatedEntryID:       r.RelatedEntryID,
		ScoreSource:          r.ScoreSource,
	}
}

// StoreMemoryResponse is the response for POST /api/memories.
type StoreMemoryResponse struct {
	ID       int64 `json:"id"`
	Inserted bool  `json:"inserted"`
	Queued   bool  `json:"queued"`
}

// RateRequest is the request body for POST /api/memories/{id}/rate.
type RateRequest struct {
	Adjustment *int `json:"adjustment"`
}

// MemoryResponse pairs a stored record with its live effective score.
type MemoryResponse struct {
	Memory         *types.MemoryRecord `json:"memory"`
	EffectiveScore float64             `json:"effective_score"`
}

// RelevantMemory is one entry of GET /api/memories/relevant.
type RelevantMemory struct {
	Memory     *types.MemoryRecord `json:"memory"`
	Similarity float64             `json:"similarity,omitempty"`
	Importance float64             `json:"importance"`
	RankScore  float64             `json:"rank_score"`
	Semantic   bool                `json:"semantic"`
}

// RelevantResponse is the response for GET /api/memories/relevant.
type RelevantResponse struct {
	Query   string           `json:"query"`
	Results []RelevantMemory `json:"results"`
}

// CountResponse reports how many memories a maintenance operation affected.
type CountResponse struct {
	Operation string `json:"operation"`
	Count     int    `json:"count"`
}

// MaintenanceStatus is the response for GET /api/maintenance/status.
type MaintenanceStatus struct {
	Scheduler         scheduler.Status `json:"scheduler"`
	PendingScoring    int              `json:"pending_scoring"`
	MissingEmbeddings int              `json:"missing_embeddings"`
	MarkedForDeletion int              `json:"marked_for_deletion"`
	Archived          int              `json:"archived"`
}
