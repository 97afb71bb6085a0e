package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/mnemo/internal/llm"
	"github.com/scrypster/mnemo/internal/storage"
	"github.com/scrypster/mnemo/pkg/types"
)

// scoringWorker processes jobs until the queue is closed.
func (e *MemoryEngine) scoringWorker(ctx context.Context, workerID int) {
	defer e.workerWaitGroup.Done()

	log := e.obs.Log().With().Int("worker", workerID).Logger()
	log.Debug().Msg("scoring worker started")

	for job := range e.jobQueue {
		e.processJob(ctx, job)
	}

	log.Debug().Msg("scoring worker stopped")
}

// processJob runs a single job. Failures are logged, never returned: the
// caller that stored the memory has long since moved on.
func (e *MemoryEngine) processJob(ctx context.Context, job *ScoringJob) {
	ctx, span := e.obs.StartSpan(ctx, "engine.job."+string(job.Kind))
	defer span.End()

	switch job.Kind {
	case JobScoreThenEmbed:
		e.ScoreThenEmbed(ctx, job.MemoryID)
	default:
		e.EmbedOnly(ctx, job.MemoryID)
	}
}

// ScoreThenEmbed asks the oracle for a score and persists it, then generates
// the embedding. A scoring failure never prevents the embedding attempt.
// Safe to call repeatedly for the same id.
func (e *MemoryEngine) ScoreThenEmbed(ctx context.Context, id int64) {
	rec, ok := e.loadActive(ctx, id)
	if !ok {
		return
	}

	if !rec.LLMProcessed && e.scorer != nil {
		if _, err := e.scoreRecord(ctx, rec); err != nil {
			e.obs.LogCtx(ctx).Warn().Err(err).Int("memory_id", int(id)).
				Msg("importance scoring failed, continuing to embedding")
		}
	}

	e.embedRecord(ctx, rec)
}

// EmbedOnly generates and persists the embedding for a memory. Failures are
// logged and not retried here.
func (e *MemoryEngine) EmbedOnly(ctx context.Context, id int64) {
	rec, ok := e.loadActive(ctx, id)
	if !ok {
		return
	}
	e.embedRecord(ctx, rec)
}

func (e *MemoryEngine) loadActive(ctx context.Context, id int64) (*types.MemoryRecord, bool) {
	rec, err := e.memoryStore.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.obs.Log().Debug().Int("memory_id", int(id)).Msg("memory gone before processing")
		} else {
			e.obs.Log().Error().Err(err).Int("memory_id", int(id)).Msg("failed to load memory")
		}
		return nil, false
	}
	if !rec.IsActive {
		return nil, false
	}
	return rec, true
}

// scoreRecord calls the oracle and writes the result with a conditional
// update. If the user rated the memory meanwhile, their final score is kept
// and only the oracle's score and the processed flag are recorded.
func (e *MemoryEngine) scoreRecord(ctx context.Context, rec *types.MemoryRecord) (float64, error) {
	if e.scorer == nil {
		return 0, ErrNoScorer
	}

	ctx, span := e.obs.StartSpan(ctx, "engine.score")
	defer span.End()

	score, err := e.scorer.ScoreImportance(ctx, llm.ScoreRequest{
		Content:     rec.Content,
		MemoryType:  string(rec.MemoryType),
		KeyEntities: rec.KeyEntities,
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("memory %d: %w", rec.ID, err)
	}
	score = clampScore(score)

	full := storage.FieldUpdate{
		LLMImportanceScore:   storage.Ptr(score),
		FinalImportanceScore: storage.Ptr(score),
		ScoreSource:          storage.Ptr(types.ScoreSourceLLM),
		LLMProcessed:         storage.Ptr(true),
	}
	unrated := &storage.Predicate{
		IsActive:     storage.Ptr(true),
		LLMProcessed: storage.Ptr(false),
		UserRated:    storage.Ptr(false),
	}
	updated, err := e.memoryStore.UpdateFields(ctx, rec.ID, full, unrated)
	if err != nil {
		return 0, fmt.Errorf("memory %d: persist score: %w", rec.ID, err)
	}

	if !updated {
		scoreOnly := storage.FieldUpdate{
			LLMImportanceScore: storage.Ptr(score),
			LLMProcessed:       storage.Ptr(true),
		}
		rated := &storage.Predicate{
			IsActive:     storage.Ptr(true),
			LLMProcessed: storage.Ptr(false),
			UserRated:    storage.Ptr(true),
		}
		updated, err = e.memoryStore.UpdateFields(ctx, rec.ID, scoreOnly, rated)
		if err != nil {
			return 0, fmt.Errorf("memory %d: persist score: %w", rec.ID, err)
		}
		if !updated {
			// Already processed by another job, or archived in the meantime.
			return score, nil
		}
	}

	rec.LLMImportanceScore = &score
	rec.LLMProcessed = true

	e.obs.Log().Info().Int("memory_id", int(rec.ID)).Str("score", formatScore(score)).Msg("memory scored")
	e.notifyScored(rec.ID, score)
	return score, nil
}

// embedRecord generates and stores the embedding unless one already exists.
func (e *MemoryEngine) embedRecord(ctx context.Context, rec *types.MemoryRecord) bool {
	if e.embedder == nil || rec.HasEmbedding() {
		return false
	}

	ctx, span := e.obs.StartSpan(ctx, "engine.embed")
	defer span.End()

	vec, err := e.embedder.Embed(ctx, rec.Content)
	if err != nil {
		span.RecordError(err)
		e.obs.LogCtx(ctx).Warn().Err(err).Int("memory_id", int(rec.ID)).Msg("embedding generation failed")
		return false
	}
	if len(vec) == 0 {
		e.obs.Log().Warn().Int("memory_id", int(rec.ID)).Msg("embedding generator returned an empty vector")
		return false
	}

	updated, err := e.memoryStore.UpdateFields(ctx, rec.ID, storage.FieldUpdate{Embedding: vec},
		&storage.Predicate{IsActive: storage.Ptr(true)})
	if err != nil {
		e.obs.LogCtx(ctx).Error().Err(err).Int("memory_id", int(rec.ID)).Msg("failed to persist embedding")
		return false
	}
	if !updated {
		return false
	}

	rec.Embedding = vec
	e.notifyEmbedded(rec.ID)
	return true
}

// startWorkerPool starts the worker goroutines.
func (e *MemoryEngine) startWorkerPool(ctx context.Context) {
	for i := 0; i < e.config.NumWorkers; i++ {
		e.workerWaitGroup.Add(1)
		go e.scoringWorker(ctx, i)
	}
}

// stopWorkerPool closes the queue and waits for workers to drain.
// The caller must hold e.mu for writing.
func (e *MemoryEngine) stopWorkerPool(ctx context.Context) error {
	close(e.jobQueue)

	done := make(chan struct{})
	go func() {
		e.workerWaitGroup.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.obs.Log().Info().Msg("all scoring workers finished")
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		e.obs.Log().Warn().Int("remaining", len(e.jobQueue)).Msg("shutdown timeout reached, queued jobs dropped")
		return nil
	case <-ctx.Done():
		e.obs.Log().Warn().Int("remaining", len(e.jobQueue)).Msg("shutdown cancelled, queued jobs dropped")
		return ctx.Err()
	}
}
