package handlers

import (
	"context"
	"net/http"

	"github.com/scrypster/mnemo/internal/engine"
	"github.com/scrypster/mnemo/internal/observe"
	"github.com/scrypster/mnemo/internal/scheduler"
	"github.com/scrypster/mnemo/internal/storage"
)

// MaintenanceEngine is the engine interface needed for maintenance operations.
type MaintenanceEngine interface {
	MarkForDeletion(ctx context.Context) (int, error)
	ArchiveMarked(ctx context.Context) (int, error)
	PermanentlyDeleteArchived(ctx context.Context) (int, error)
	Rescue(ctx context.Context, id int64) (int, error)
}

// MaintenanceScheduler is the scheduler interface needed for maintenance
// operations.
type MaintenanceScheduler interface {
	Status() scheduler.Status
	TriggerBatchScore(ctx context.Context) (scheduler.BatchResult, error)
	TriggerLifecycle(ctx context.Context) (engine.LifecycleReport, error)
}

// MaintenanceHandler exposes the operator maintenance operations.
type MaintenanceHandler struct {
	engine    MaintenanceEngine
	scheduler MaintenanceScheduler
	store     storage.MemoryStore
	obs       *observe.Observer
}

// NewMaintenanceHandler creates a new MaintenanceHandler.
func NewMaintenanceHandler(eng MaintenanceEngine, sched MaintenanceScheduler, store storage.MemoryStore, obs *observe.Observer) *MaintenanceHandler {
	if obs == nil {
		obs = observe.Discard()
	}
	return &MaintenanceHandler{engine: eng, scheduler: sched, store: store, obs: obs}
}

// GetStatus handles GET /api/maintenance/status.
func (h *MaintenanceHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := MaintenanceStatus{Scheduler: h.scheduler.Status()}

	counts := []struct {
		name string
		dst  *int
		p    storage.Predicate
	}{
		{"pending_scoring", &status.PendingScoring, storage.Predicate{
			IsActive: storage.Ptr(true), LLMProcessed: storage.Ptr(false), UserRated: storage.Ptr(false),
		}},
		{"missing_embeddings", &status.MissingEmbeddings, storage.Predicate{
			IsActive: storage.Ptr(true), HasEmbedding: storage.Ptr(false),
		}},
		{"marked_for_deletion", &status.MarkedForDeletion, storage.Predicate{
			MarkedForDeletion: storage.Ptr(true), Archived: storage.Ptr(false),
		}},
		{"archived", &status.Archived, storage.Predicate{Archived: storage.Ptr(true)}},
	}

	for _, c := range counts {
		n, err := h.store.CountWhere(ctx, c.p)
		if err != nil {
			h.obs.Log().Warn().Err(err).Str("count", c.name).Msg("maintenance status: count failed")
			continue
		}
		*c.dst = n
	}

	respondJSON(w, http.StatusOK, status)
}

// RunBatchScore handles POST /api/maintenance/batch-score.
func (h *MaintenanceHandler) RunBatchScore(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.TriggerBatchScore(r.Context())
	if err != nil {
		h.fail(w, "batch score failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// RunMark handles POST /api/maintenance/mark.
func (h *MaintenanceHandler) RunMark(w http.ResponseWriter, r *http.Request) {
	h.runCount(w, r, "mark", h.engine.MarkForDeletion)
}

// RunArchive handles POST /api/maintenance/archive.
func (h *MaintenanceHandler) RunArchive(w http.ResponseWriter, r *http.Request) {
	h.runCount(w, r, "archive", h.engine.ArchiveMarked)
}

// RunPurge handles POST /api/maintenance/purge.
func (h *MaintenanceHandler) RunPurge(w http.ResponseWriter, r *http.Request) {
	h.runCount(w, r, "purge", h.engine.PermanentlyDeleteArchived)
}

// RunLifecycle handles POST /api/maintenance/lifecycle. The calendar gate
// is bypassed; the run is recorded like a scheduled one.
func (h *MaintenanceHandler) RunLifecycle(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.TriggerLifecycle(r.Context())
	if err != nil {
		h.fail(w, "lifecycle run failed", err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Rescue handles POST /api/memories/{id}/rescue.
func (h *MaintenanceHandler) Rescue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	n, err := h.engine.Rescue(r.Context(), id)
	if err != nil {
		h.fail(w, "rescue failed", err)
		return
	}
	respondJSON(w, http.StatusOK, CountResponse{Operation: "rescue", Count: n})
}

func (h *MaintenanceHandler) runCount(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) (int, error)) {
	n, err := fn(r.Context())
	if err != nil {
		h.fail(w, op+" failed", err)
		return
	}
	h.obs.Log().Info().Str("operation", op).Int("count", n).Msg("manual maintenance run")
	respondJSON(w, http.StatusOK, CountResponse{Operation: op, Count: n})
}

func (h *MaintenanceHandler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.obs.Log().Error().Err(err).Msg(message)
	}
	respondError(w, status, message, err)
}
