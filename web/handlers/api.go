package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/scrypster/mnemo/internal/engine"
	"github.com/scrypster/mnemo/internal/observe"
	"github.com/scrypster/mnemo/internal/storage"
	"github.com/scrypster/mnemo/pkg/types"
)

// maxRelevantLimit caps the limit parameter of GET /api/memories/relevant.
const maxRelevantLimit = 100

// MemoryEngine is the engine surface the memory endpoints need.
type MemoryEngine interface {
	Store(ctx context.Context, candidate engine.Candidate) (engine.StoreResult, error)
	Get(ctx context.Context, id int64) (*types.MemoryRecord, error)
	Explain(ctx context.Context, id int64) (engine.ScoreBreakdown, error)
	Rate(ctx context.Context, id int64, adjustment int) (*types.MemoryRecord, error)
	RetrieveRelevant(ctx context.Context, query string, limit int) ([]engine.RetrievalResult, error)
	Now() time.Time
}

// APIHandlers serves the memory endpoints.
type APIHandlers struct {
	engine MemoryEngine
	obs    *observe.Observer
}

// NewAPIHandlers creates the memory endpoint handlers.
func NewAPIHandlers(eng MemoryEngine, obs *observe.Observer) *APIHandlers {
	if obs == nil {
		obs = observe.Discard()
	}
	return &APIHandlers{engine: eng, obs: obs}
}

// StoreMemory handles POST /api/memories.
func (h *APIHandlers) StoreMemory(w http.ResponseWriter, r *http.Request) {
	var req StoreMemoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	res, err := h.engine.Store(r.Context(), req.candidate())
	if err != nil {
		h.respondEngineError(w, "failed to store memory", err)
		return
	}

	status := http.StatusCreated
	if !res.Inserted {
		status = http.StatusOK
	}
	respondJSON(w, status, StoreMemoryResponse{ID: res.ID, Inserted: res.Inserted, Queued: res.Queued})
}

// GetMemory handles GET /api/memories/{id}.
func (h *APIHandlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rec, err := h.engine.Get(r.Context(), id)
	if err != nil {
		h.respondEngineError(w, "failed to get memory", err)
		return
	}
	respondJSON(w, http.StatusOK, MemoryResponse{
		Memory:         rec,
		EffectiveScore: engine.EffectiveScore(rec, h.engine.Now()).Score,
	})
}

// ExplainScore handles GET /api/memories/{id}/score.
func (h *APIHandlers) ExplainScore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	breakdown, err := h.engine.Explain(r.Context(), id)
	if err != nil {
		h.respondEngineError(w, "failed to explain score", err)
		return
	}
	respondJSON(w, http.StatusOK, breakdown)
}

// RateMemory handles POST /api/memories/{id}/rate.
func (h *APIHandlers) RateMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req RateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Adjustment == nil {
		respondError(w, http.StatusBadRequest, "adjustment is required", nil)
		return
	}

	rec, err := h.engine.Rate(r.Context(), id, *req.Adjustment)
	if err != nil {
		h.respondEngineError(w, "failed to rate memory", err)
		return
	}
	respondJSON(w, http.StatusOK, MemoryResponse{
		Memory:         rec,
		EffectiveScore: engine.EffectiveScore(rec, h.engine.Now()).Score,
	})
}

// RetrieveRelevant handles GET /api/memories/relevant?q=...&limit=...
func (h *APIHandlers) RetrieveRelevant(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := min(parseInt(r.URL.Query().Get("limit"), 0), maxRelevantLimit)

	results, err := h.engine.RetrieveRelevant(r.Context(), query, limit)
	if err != nil {
		h.respondEngineError(w, "failed to retrieve memories", err)
		return
	}

	resp := RelevantResponse{Query: query, Results: make([]RelevantMemory, len(results))}
	for i, res := range results {
		resp.Results[i] = RelevantMemory{
			Memory:     res.Memory,
			Similarity: res.Similarity,
			Importance: res.Importance,
			RankScore:  res.RankScore,
			Semantic:   res.Semantic,
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) respondEngineError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.obs.Log().Error().Err(err).Msg(message)
	}
	respondError(w, status, message, err)
}

// statusFor maps engine and storage errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotStarted), errors.Is(err, engine.ErrNoScorer):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// pathID parses the {id} path value, writing a 400 when it is not a
// positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "memory id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseInt parses an integer from a string, returning defaultValue if parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent, so an encode failure cannot be reported.
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]any{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
