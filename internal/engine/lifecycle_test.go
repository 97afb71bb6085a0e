package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/mnemo/internal/storage"
	"github.com/scrypster/mnemo/pkg/types"
)

// retiredRecord is old, stale, rarely used and rated down to the minimum.
func retiredRecord(content string, base float64) *types.MemoryRecord {
	return &types.MemoryRecord{
		Content:              content,
		BaseImportanceScore:  base,
		UserScoreAdjustment:  types.MinUserAdjustment,
		FinalImportanceScore: clampScore(base + types.MinUserAdjustment),
		UserRated:            true,
		UserRatedAt:          timePtr(baseTime.Add(-50 * day)),
		ScoreSource:          types.ScoreSourceUserModified,
		AccessCount:          1,
		CreatedAt:            baseTime.Add(-40 * day),
		LastAccessedAt:       timePtr(baseTime.Add(-70 * day)),
	}
}

func TestLifecycle_FullPipeline(t *testing.T) {
	clock := newFakeClock(baseTime)
	e, store := newTestEngine(t, nil, nil, clock)
	ctx := context.Background()

	id := insertRecord(t, store, retiredRecord("an old note nobody needs", 4.9))

	assert.InDelta(t, 1.768, EffectiveScore(getRecord(t, store, id), clock.Now()).Score, 0.01)

	marked, err := e.MarkForDeletion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	rec := getRecord(t, store, id)
	assert.True(t, rec.MarkedForDeletion)
	require.NotNil(t, rec.MarkedForDeletionAt)
	assert.Equal(t, baseTime.UnixMilli(), rec.MarkedForDeletionAt.UnixMilli())
	assert.Contains(t, rec.DeletionReason, "1.77")
	assert.True(t, rec.IsActive, "marking alone keeps the memory retrievable")

	// Marking is idempotent.
	marked, err = e.MarkForDeletion(ctx)
	require.NoError(t, err)
	assert.Zero(t, marked)

	// Not yet past the grace period.
	clock.Advance(13 * day)
	archived, err := e.ArchiveMarked(ctx)
	require.NoError(t, err)
	assert.Zero(t, archived)

	clock.Advance(day)
	archived, err = e.ArchiveMarked(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	rec = getRecord(t, store, id)
	assert.True(t, rec.Archived)
	assert.False(t, rec.IsActive)
	require.NotNil(t, rec.ArchivedAt)

	clock.Advance(29 * day)
	deleted, err := e.PermanentlyDeleteArchived(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	clock.Advance(day)
	deleted, err = e.PermanentlyDeleteArchived(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMarkForDeletion_Gates(t *testing.T) {
	e, store := newTestEngine(t, nil, nil, newFakeClock(baseTime))
	ctx := context.Background()

	highScore := insertRecord(t, store, retiredRecord("still valuable", 8))

	young := retiredRecord("too young", 4)
	young.CreatedAt = baseTime.Add(-20 * day)
	young.LastAccessedAt = nil
	youngID := insertRecord(t, store, young)

	recent := retiredRecord("recently used", 4)
	recent.LastAccessedAt = timePtr(baseTime.Add(-10 * day))
	recentID := insertRecord(t, store, recent)

	popular := retiredRecord("used a lot", 4)
	popular.AccessCount = 3
	popularID := insertRecord(t, store, popular)

	mild := retiredRecord("only mildly disliked", 4)
	mild.UserScoreAdjustment = -2
	mild.FinalImportanceScore = 2
	mildID := insertRecord(t, store, mild)

	unrated := retiredRecord("never rated", 1)
	unrated.UserRated = false
	unrated.UserRatedAt = nil
	unrated.UserScoreAdjustment = 0
	unrated.FinalImportanceScore = 1
	unratedID := insertRecord(t, store, unrated)

	marked, err := e.MarkForDeletion(ctx)
	require.NoError(t, err)
	assert.Zero(t, marked)

	for _, id := range []int64{highScore, youngID, recentID, popularID, mildID, unratedID} {
		assert.False(t, getRecord(t, store, id).MarkedForDeletion, "memory %d", id)
	}
}

func TestRescue_BeforeArchive(t *testing.T) {
	clock := newFakeClock(baseTime)
	e, store := newTestEngine(t, nil, nil, clock)
	ctx := context.Background()

	id := insertRecord(t, store, retiredRecord("rescue me", 4.9))
	_, err := e.MarkForDeletion(ctx)
	require.NoError(t, err)

	clock.Advance(5 * day)
	n, err := e.Rescue(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := getRecord(t, store, id)
	assert.False(t, rec.MarkedForDeletion)
	assert.Nil(t, rec.MarkedForDeletionAt)
	assert.Empty(t, rec.DeletionReason)
	assert.Zero(t, rec.UserScoreAdjustment)
	assert.Equal(t, 4.9, rec.FinalImportanceScore)
	require.NotNil(t, rec.UserRatedAt)
	assert.Equal(t, clock.Now().UnixMilli(), rec.UserRatedAt.UnixMilli())

	clock.Advance(60 * day)
	report, err := e.RunLifecycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, LifecycleReport{}, report)

	rec = getRecord(t, store, id)
	assert.False(t, rec.Archived)
	assert.True(t, rec.IsActive)
}

func TestRescue_AfterArchiveKeepsArchivedButSurvivesPurge(t *testing.T) {
	clock := newFakeClock(baseTime)
	e, store := newTestEngine(t, nil, nil, clock)
	ctx := context.Background()

	id := insertRecord(t, store, retiredRecord("archived then rescued", 4.9))
	_, err := e.MarkForDeletion(ctx)
	require.NoError(t, err)
	clock.Advance(14 * day)
	archived, err := e.ArchiveMarked(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, archived)

	n, err := e.Rescue(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := getRecord(t, store, id)
	assert.True(t, rec.Archived)
	assert.False(t, rec.IsActive)
	assert.False(t, rec.MarkedForDeletion)

	clock.Advance(45 * day)
	deleted, err := e.PermanentlyDeleteArchived(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.NotNil(t, getRecord(t, store, id))
}

func TestRescue_NotFound(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil, newFakeClock(baseTime))
	_, err := e.Rescue(context.Background(), 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRate_AboveMinimumClearsDeletionMark(t *testing.T) {
	clock := newFakeClock(baseTime)
	e, store := newTestEngine(t, nil, nil, clock)
	ctx := context.Background()

	id := insertRecord(t, store, retiredRecord("changed my mind", 4.9))
	marked, err := e.MarkForDeletion(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, marked)

	rated, err := e.Rate(ctx, id, -1)
	require.NoError(t, err)
	assert.False(t, rated.MarkedForDeletion)

	rec := getRecord(t, store, id)
	assert.False(t, rec.MarkedForDeletion)
	assert.Nil(t, rec.MarkedForDeletionAt)
	assert.Empty(t, rec.DeletionReason)
	assert.Equal(t, types.StateActive, rec.State())

	clock.Advance(20 * day)
	archived, err := e.ArchiveMarked(ctx)
	require.NoError(t, err)
	assert.Zero(t, archived)
	assert.True(t, getRecord(t, store, id).IsActive)
}

func TestRate_MinimumKeepsDeletionMark(t *testing.T) {
	e, store := newTestEngine(t, nil, nil, newFakeClock(baseTime))
	ctx := context.Background()

	id := insertRecord(t, store, retiredRecord("still unwanted", 4.9))
	_, err := e.MarkForDeletion(ctx)
	require.NoError(t, err)

	_, err = e.Rate(ctx, id, types.MinUserAdjustment)
	require.NoError(t, err)
	assert.Equal(t, types.StateMarkedForDeletion, getRecord(t, store, id).State())
}

func TestMarkForDeletion_HighScoringCandidatesDoNotStarveLaterOnes(t *testing.T) {
	clock := newFakeClock(baseTime)
	e, store := newTestEngine(t, nil, nil, clock)
	e.config.LifecycleBatchSize = 2
	ctx := context.Background()

	// Rated down but still valuable enough to stay above the threshold, and
	// more of them than fit in one page.
	var keepIDs []int64
	for _, content := range []string{"valuable one", "valuable two", "valuable three"} {
		keepIDs = append(keepIDs, insertRecord(t, store, retiredRecord(content, 9)))
	}
	junkID := insertRecord(t, store, retiredRecord("junk", 4.9))

	marked, err := e.MarkForDeletion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	assert.True(t, getRecord(t, store, junkID).MarkedForDeletion)
	for _, id := range keepIDs {
		assert.False(t, getRecord(t, store, id).MarkedForDeletion)
	}
}

func TestMarkForDeletion_MarksAtMostBatchSizePerRun(t *testing.T) {
	e, store := newTestEngine(t, nil, nil, newFakeClock(baseTime))
	e.config.LifecycleBatchSize = 2
	ctx := context.Background()

	insertRecord(t, store, retiredRecord("valuable", 9))
	for _, content := range []string{"junk a", "junk b", "junk c"} {
		insertRecord(t, store, retiredRecord(content, 4.9))
	}

	marked, err := e.MarkForDeletion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	marked, err = e.MarkForDeletion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	marked, err = e.MarkForDeletion(ctx)
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestArchiveMarked_SkipsMarksNoLongerAtMinimum(t *testing.T) {
	clock := newFakeClock(baseTime)
	e, store := newTestEngine(t, nil, nil, clock)
	e.config.LifecycleBatchSize = 2
	ctx := context.Background()

	// Marked records whose rating has since moved off the minimum fill the
	// first page by id.
	var staleIDs []int64
	for _, content := range []string{"re-rated a", "re-rated b"} {
		rec := retiredRecord(content, 4.9)
		rec.UserScoreAdjustment = 0
		rec.MarkedForDeletion = true
		rec.MarkedForDeletionAt = timePtr(baseTime.Add(-20 * day))
		staleIDs = append(staleIDs, insertRecord(t, store, rec))
	}
	due := retiredRecord("due", 4.9)
	due.MarkedForDeletion = true
	due.MarkedForDeletionAt = timePtr(baseTime.Add(-20 * day))
	dueID := insertRecord(t, store, due)

	archived, err := e.ArchiveMarked(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, archived)
	assert.True(t, getRecord(t, store, dueID).Archived)
	for _, id := range staleIDs {
		assert.False(t, getRecord(t, store, id).Archived)
	}
}

func TestRunLifecycle_PhasesInOrder(t *testing.T) {
	clock := newFakeClock(baseTime)
	e, store := newTestEngine(t, nil, nil, clock)
	ctx := context.Background()

	// Already archived long enough ago to be purged in this run.
	old := retiredRecord("ancient", 4)
	old.MarkedForDeletion = true
	old.MarkedForDeletionAt = timePtr(baseTime.Add(-60 * day))
	old.Archived = true
	old.ArchivedAt = timePtr(baseTime.Add(-45 * day))
	oldID := insertRecord(t, store, old)

	// Marked long enough ago to be archived, but not purged in the same run.
	due := retiredRecord("due for archive", 4)
	due.MarkedForDeletion = true
	due.MarkedForDeletionAt = timePtr(baseTime.Add(-15 * day))
	dueID := insertRecord(t, store, due)

	// Fresh candidate: marked only.
	freshID := insertRecord(t, store, retiredRecord("fresh candidate", 4))

	report, err := e.RunLifecycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, LifecycleReport{Marked: 1, Archived: 1, Deleted: 1}, report)

	_, err = store.Get(ctx, oldID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.True(t, getRecord(t, store, dueID).Archived)

	fresh := getRecord(t, store, freshID)
	assert.True(t, fresh.MarkedForDeletion)
	assert.False(t, fresh.Archived)
}

func TestRunLifecycle_Cancelled(t *testing.T) {
	e, store := newTestEngine(t, nil, nil, newFakeClock(baseTime))
	insertRecord(t, store, retiredRecord("candidate", 4))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.RunLifecycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
