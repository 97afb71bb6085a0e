package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/mnemo/internal/storage"
	"github.com/scrypster/mnemo/pkg/types"
)

const (
	day = 24 * time.Hour

	// Mark phase gates.
	markMinAge           = 30 * day
	markMinStaleness     = 60 * day
	markMaxAccessCount   = 3
	markMaxScore         = 2.0
	retirementAdjustment = types.MinUserAdjustment

	// archiveGrace is how long a marked memory can still be rescued before it
	// leaves active retrieval.
	archiveGrace = 14 * day

	// purgeAfter is how long an archived memory is kept before physical deletion.
	purgeAfter = 30 * day
)

// MarkForDeletion marks active, user-rated memories rated at the minimum
// adjustment that are old, stale and rarely accessed, provided their live
// effective score is at most 2. Candidates are scanned in id pages so that
// memories whose score keeps them above the threshold never crowd out later
// ones. At most LifecycleBatchSize memories are marked per run. Returns the
// number marked.
func (e *MemoryEngine) MarkForDeletion(ctx context.Context) (int, error) {
	ctx, span := e.obs.StartSpan(ctx, "lifecycle.mark")
	defer span.End()

	now := e.now()
	pageSize := e.config.LifecycleBatchSize
	where := storage.Predicate{
		IsActive:                  storage.Ptr(true),
		UserRated:                 storage.Ptr(true),
		UserScoreAdjustment:       storage.Ptr(retirementAdjustment),
		AccessCountBelow:          storage.Ptr(markMaxAccessCount),
		CreatedBefore:             storage.Ptr(now.Add(-markMinAge)),
		LastAccessOrCreatedBefore: storage.Ptr(now.Add(-markMinStaleness)),
		MarkedForDeletion:         storage.Ptr(false),
	}

	// Re-checked at write time so a rescue or re-rating in between wins.
	guard := &storage.Predicate{
		IsActive:            storage.Ptr(true),
		UserScoreAdjustment: storage.Ptr(retirementAdjustment),
		MarkedForDeletion:   storage.Ptr(false),
	}

	marked, scanned := 0, 0
	var lastID int64
	for marked < pageSize {
		where.IDAfter = storage.Ptr(lastID)
		page, err := e.memoryStore.SelectWhere(ctx, storage.Query{
			Where:   where,
			OrderBy: storage.OrderByID,
			Limit:   pageSize,
		})
		if err != nil {
			return marked, fmt.Errorf("mark for deletion: select candidates: %w", err)
		}

		for _, rec := range page {
			if err := ctx.Err(); err != nil {
				return marked, err
			}
			lastID = rec.ID
			scanned++

			ok, err := e.markOne(ctx, rec, now, guard)
			if err != nil {
				return marked, err
			}
			if ok {
				marked++
				if marked == pageSize {
					break
				}
			}
		}

		if len(page) < pageSize {
			break
		}
	}

	e.obs.Log().Info().Int("candidates", scanned).Int("marked", marked).Msg("mark phase complete")
	return marked, nil
}

// markOne marks rec if its live effective score is at or below the threshold.
func (e *MemoryEngine) markOne(ctx context.Context, rec *types.MemoryRecord, now time.Time, guard *storage.Predicate) (bool, error) {
	score := EffectiveScore(rec, now).Score
	if score > markMaxScore {
		return false, nil
	}

	reason := fmt.Sprintf("low importance: effective score %.2f, %d accesses, user rated %d",
		score, rec.AccessCount, rec.UserScoreAdjustment)
	updated, err := e.memoryStore.UpdateFields(ctx, rec.ID, storage.FieldUpdate{
		MarkedForDeletion:   storage.Ptr(true),
		MarkedForDeletionAt: storage.Ptr(now),
		DeletionReason:      storage.Ptr(reason),
	}, guard)
	if err != nil {
		return false, fmt.Errorf("mark memory %d: %w", rec.ID, err)
	}
	return updated, nil
}

// ArchiveMarked archives memories marked at least 14 days ago that are still
// rated at the minimum adjustment, removing them from active retrieval.
// Returns the number archived.
func (e *MemoryEngine) ArchiveMarked(ctx context.Context) (int, error) {
	ctx, span := e.obs.StartSpan(ctx, "lifecycle.archive")
	defer span.End()

	now := e.now()
	candidates, err := e.memoryStore.SelectWhere(ctx, storage.Query{
		Where: storage.Predicate{
			MarkedForDeletion:   storage.Ptr(true),
			MarkedBefore:        storage.Ptr(now.Add(-archiveGrace)),
			UserScoreAdjustment: storage.Ptr(retirementAdjustment),
			Archived:            storage.Ptr(false),
		},
		OrderBy: storage.OrderByID,
		Limit:   e.config.LifecycleBatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("archive marked: select candidates: %w", err)
	}

	guard := &storage.Predicate{
		MarkedForDeletion:   storage.Ptr(true),
		UserScoreAdjustment: storage.Ptr(retirementAdjustment),
		Archived:            storage.Ptr(false),
	}

	archived := 0
	for _, rec := range candidates {
		if err := ctx.Err(); err != nil {
			return archived, err
		}

		updated, err := e.memoryStore.UpdateFields(ctx, rec.ID, storage.FieldUpdate{
			Archived:   storage.Ptr(true),
			ArchivedAt: storage.Ptr(now),
			IsActive:   storage.Ptr(false),
		}, guard)
		if err != nil {
			return archived, fmt.Errorf("archive memory %d: %w", rec.ID, err)
		}
		if updated {
			archived++
		}
	}

	e.obs.Log().Info().Int("candidates", len(candidates)).Int("archived", archived).Msg("archive phase complete")
	return archived, nil
}

// PermanentlyDeleteArchived physically removes memories archived at least 30
// days ago that still carry the minimum user adjustment. The predicate is
// evaluated by the store at the moment of deletion, so a memory rescued after
// archiving survives. Returns the number deleted.
func (e *MemoryEngine) PermanentlyDeleteArchived(ctx context.Context) (int, error) {
	ctx, span := e.obs.StartSpan(ctx, "lifecycle.purge")
	defer span.End()

	now := e.now()
	deleted, err := e.memoryStore.DeleteWhere(ctx, storage.Predicate{
		Archived:            storage.Ptr(true),
		ArchivedBefore:      storage.Ptr(now.Add(-purgeAfter)),
		UserScoreAdjustment: storage.Ptr(retirementAdjustment),
	})
	if err != nil {
		return 0, fmt.Errorf("permanently delete archived: %w", err)
	}

	e.obs.Log().Info().Int("deleted", deleted).Msg("purge phase complete")
	return deleted, nil
}

// RunLifecycle runs mark, archive and purge in that order, stopping at the
// first failing phase. The report holds the counts of the phases that ran.
func (e *MemoryEngine) RunLifecycle(ctx context.Context) (LifecycleReport, error) {
	var report LifecycleReport
	var err error

	if report.Marked, err = e.MarkForDeletion(ctx); err != nil {
		return report, err
	}
	if report.Archived, err = e.ArchiveMarked(ctx); err != nil {
		return report, err
	}
	if report.Deleted, err = e.PermanentlyDeleteArchived(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// Rescue takes a memory out of the deletion pipeline: the mark is cleared,
// the user adjustment reset to 0 and the rating time stamped. An archived
// memory stays archived and inactive; only the mark is undone. Returns the
// number of memories rescued (0 or 1).
func (e *MemoryEngine) Rescue(ctx context.Context, id int64) (int, error) {
	for attempt := 0; attempt < maxGuardRetries; attempt++ {
		rec, err := e.memoryStore.Get(ctx, id)
		if err != nil {
			return 0, err
		}

		now := e.now()
		rec.UserScoreAdjustment = 0
		final := SnapshotScore(rec)

		updated, err := e.memoryStore.UpdateFields(ctx, id, storage.FieldUpdate{
			ClearDeletionMark:    true,
			UserScoreAdjustment:  storage.Ptr(0),
			UserRatedAt:          storage.Ptr(now),
			FinalImportanceScore: storage.Ptr(final),
		}, &storage.Predicate{LLMProcessed: storage.Ptr(rec.LLMProcessed)})
		if err != nil {
			return 0, fmt.Errorf("rescue memory %d: %w", id, err)
		}
		if updated {
			e.obs.Log().Info().Int("memory_id", int(id)).Str("archived", fmt.Sprint(rec.Archived)).Msg("memory rescued")
			return 1, nil
		}
	}

	return 0, fmt.Errorf("rescue memory %d: %w", id, errConcurrentUpdate)
}
