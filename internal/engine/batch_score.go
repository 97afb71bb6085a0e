package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/scrypster/mnemo/internal/storage"
	"github.com/scrypster/mnemo/pkg/types"
)

// BatchScore applies the scoring half of ScoreThenEmbed to up to limit active
// memories that were never scored and never rated, oldest first. It returns
// the number scored. An error is returned only if every candidate failed, or
// if the candidates could not be selected at all.
func (e *MemoryEngine) BatchScore(ctx context.Context, limit int) (int, error) {
	if e.scorer == nil {
		return 0, ErrNoScorer
	}
	if limit <= 0 {
		return 0, nil
	}

	ctx, span := e.obs.StartSpan(ctx, "engine.batch_score")
	defer span.End()

	candidates, err := e.memoryStore.SelectWhere(ctx, storage.Query{
		Where: storage.Predicate{
			IsActive:     storage.Ptr(true),
			LLMProcessed: storage.Ptr(false),
			UserRated:    storage.Ptr(false),
		},
		OrderBy: storage.OrderByCreatedAsc,
		Limit:   limit,
	})
	if err != nil {
		return 0, fmt.Errorf("batch score: select candidates: %w", err)
	}

	return e.forEachCandidate(ctx, "batch score", candidates, func(rec *types.MemoryRecord) (bool, error) {
		_, err := e.scoreRecord(ctx, rec)
		return err == nil, err
	})
}

// EmbedMissing generates embeddings for up to limit active memories that
// have none, oldest first. Embedding failures on the store path are never
// retried inline; this sweep is where they get a second chance.
func (e *MemoryEngine) EmbedMissing(ctx context.Context, limit int) (int, error) {
	if e.embedder == nil || limit <= 0 {
		return 0, nil
	}

	ctx, span := e.obs.StartSpan(ctx, "engine.embed_missing")
	defer span.End()

	candidates, err := e.memoryStore.SelectWhere(ctx, storage.Query{
		Where: storage.Predicate{
			IsActive:     storage.Ptr(true),
			HasEmbedding: storage.Ptr(false),
		},
		OrderBy: storage.OrderByCreatedAsc,
		Limit:   limit,
	})
	if err != nil {
		return 0, fmt.Errorf("embed missing: select candidates: %w", err)
	}

	return e.forEachCandidate(ctx, "embed missing", candidates, func(rec *types.MemoryRecord) (bool, error) {
		if e.embedRecord(ctx, rec) {
			return true, nil
		}
		return false, fmt.Errorf("memory %d: embedding not stored", rec.ID)
	})
}

// forEachCandidate runs fn over candidates, stopping early on cancellation.
func (e *MemoryEngine) forEachCandidate(ctx context.Context, op string, candidates []*types.MemoryRecord, fn func(*types.MemoryRecord) (bool, error)) (int, error) {
	processed := 0
	var errs []error

	for _, rec := range candidates {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		ok, err := fn(rec)
		if err != nil {
			e.obs.Log().Warn().Err(err).Int("memory_id", int(rec.ID)).Str("op", op).Msg("candidate failed")
			errs = append(errs, err)
			continue
		}
		if ok {
			processed++
		}
	}

	e.obs.Log().Info().Str("op", op).Int("candidates", len(candidates)).Int("processed", processed).Msg("sweep complete")

	if len(candidates) > 0 && len(errs) == len(candidates) {
		return 0, fmt.Errorf("%s: all %d candidates failed: %w", op, len(candidates), errors.Join(errs...))
	}
	return processed, nil
}
