package engine

import (
	"context"
	"fmt"

	"github.com/scrypster/mnemo/internal/storage"
	"github.com/scrypster/mnemo/pkg/types"
)

// RecoverPendingScoring requeues extraction memories whose score-then-embed
// job was lost, for example by a restart. It is called automatically during
// Start and returns the number of jobs queued.
func (e *MemoryEngine) RecoverPendingScoring(ctx context.Context) (int, error) {
	if e.scorer == nil {
		return 0, nil
	}

	pending, err := e.memoryStore.SelectWhere(ctx, storage.Query{
		Where: storage.Predicate{
			IsActive:     storage.Ptr(true),
			LLMProcessed: storage.Ptr(false),
			UserRated:    storage.Ptr(false),
			ScoreSource:  storage.Ptr(types.ScoreSourceLLMExtraction),
		},
		OrderBy: storage.OrderByCreatedAsc,
		Limit:   e.config.RecoveryBatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list pending memories: %w", err)
	}

	if len(pending) == 0 {
		e.obs.Log().Debug().Msg("no pending memories to recover")
		return 0, nil
	}

	queued := 0
	now := e.now()
	for _, rec := range pending {
		if !e.enqueue(newScoringJob(rec.ID, JobScoreThenEmbed, now)) {
			// Queue full or engine stopping; the batch sweep covers the rest.
			break
		}
		queued++
	}

	e.obs.Log().Info().Int("queued", queued).Int("pending", len(pending)).Msg("scoring recovery complete")
	return queued, nil
}
