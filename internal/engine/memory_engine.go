package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/scrypster/mnemo/internal/config"
	"github.com/scrypster/mnemo/internal/llm"
	"github.com/scrypster/mnemo/internal/observe"
	"github.com/scrypster/mnemo/internal/storage"
	"github.com/scrypster/mnemo/pkg/types"
)

// maxGuardRetries bounds how often Rate re-reads a record whose scoring inputs
// changed between the read and the conditional write.
const maxGuardRetries = 3

// MemoryEngine is the core orchestrator for memory storage and scoring.
// Store() writes synchronously and hands scoring and embedding to a worker
// pool through a bounded job queue.
type MemoryEngine struct {
	config Config
	obs    *observe.Observer

	memoryStore storage.MemoryStore
	scorer      llm.ImportanceScorer
	embedder    llm.EmbeddingGenerator

	// Scoring pipeline
	jobQueue        chan *ScoringJob
	workerWaitGroup sync.WaitGroup
	workerCtx       context.Context
	workerCancel    context.CancelFunc

	// State management. mu guards started and the queue send path so that
	// Shutdown never closes the queue under a concurrent Store.
	started bool
	mu      sync.RWMutex

	// Callbacks
	cbMu                sync.RWMutex
	onMemoryCreated     func(memoryID int64)
	onScoringComplete   func(memoryID int64, score float64)
	onEmbeddingComplete func(memoryID int64)
}

// NewMemoryEngine creates a new memory engine. scorer and embedder may be nil,
// in which case scoring or embedding is skipped and retrieval falls back to
// importance ordering.
func NewMemoryEngine(store storage.MemoryStore, scorer llm.ImportanceScorer, embedder llm.EmbeddingGenerator, engineConfig Config, obs *observe.Observer) (*MemoryEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}

	if engineConfig.Clock == nil {
		engineConfig.Clock = time.Now
	}
	if err := engineConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if obs == nil {
		obs = observe.Discard()
	}

	return &MemoryEngine{
		config:      engineConfig,
		obs:         obs.Component("engine"),
		memoryStore: store,
		scorer:      scorer,
		embedder:    embedder,
		jobQueue:    make(chan *ScoringJob, engineConfig.QueueSize),
	}, nil
}

// ConfigFrom maps application settings onto an engine Config.
func ConfigFrom(cfg config.EngineConfig) Config {
	c := DefaultConfig()
	if cfg.NumWorkers > 0 {
		c.NumWorkers = cfg.NumWorkers
	}
	if cfg.QueueSize > 0 {
		c.QueueSize = cfg.QueueSize
	}
	if cfg.ShutdownTimeout > 0 {
		c.ShutdownTimeout = cfg.ShutdownTimeout
	}
	if cfg.RecoveryBatchSize > 0 {
		c.RecoveryBatchSize = cfg.RecoveryBatchSize
	}
	if cfg.LifecycleBatchSize > 0 {
		c.LifecycleBatchSize = cfg.LifecycleBatchSize
	}
	return c
}

// SetOnMemoryCreated sets a callback fired when a new memory is inserted.
func (e *MemoryEngine) SetOnMemoryCreated(callback func(memoryID int64)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onMemoryCreated = callback
}

// SetOnScoringComplete sets a callback fired when the oracle score for a
// memory has been persisted.
func (e *MemoryEngine) SetOnScoringComplete(callback func(memoryID int64, score float64)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onScoringComplete = callback
}

// SetOnEmbeddingComplete sets a callback fired when an embedding has been persisted.
func (e *MemoryEngine) SetOnEmbeddingComplete(callback func(memoryID int64)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onEmbeddingComplete = callback
}

func (e *MemoryEngine) notifyCreated(id int64) {
	e.cbMu.RLock()
	cb := e.onMemoryCreated
	e.cbMu.RUnlock()
	if cb != nil {
		cb(id)
	}
}

func (e *MemoryEngine) notifyScored(id int64, score float64) {
	e.cbMu.RLock()
	cb := e.onScoringComplete
	e.cbMu.RUnlock()
	if cb != nil {
		cb(id, score)
	}
}

func (e *MemoryEngine) notifyEmbedded(id int64) {
	e.cbMu.RLock()
	cb := e.onEmbeddingComplete
	e.cbMu.RUnlock()
	if cb != nil {
		cb(id)
	}
}

func (e *MemoryEngine) now() time.Time {
	return e.config.Clock()
}

// Now returns the engine clock's current time.
func (e *MemoryEngine) Now() time.Time {
	return e.now()
}

// Start starts the worker pool and requeues extraction memories that never
// got an oracle score. This must be called before using Store().
func (e *MemoryEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}

	e.obs.Log().Info().Msg("starting memory engine")

	// Workers outlive the caller's request context; Shutdown cancels them.
	e.workerCtx, e.workerCancel = context.WithCancel(context.WithoutCancel(ctx))
	e.jobQueue = make(chan *ScoringJob, e.config.QueueSize)
	e.startWorkerPool(e.workerCtx)
	e.started = true

	go func() {
		if _, err := e.RecoverPendingScoring(e.workerCtx); err != nil {
			e.obs.Log().Error().Err(err).Msg("scoring recovery failed")
		}
	}()

	e.obs.Log().Info().Int("workers", e.config.NumWorkers).Msg("memory engine started")
	return nil
}

// Shutdown stops accepting jobs and waits for queued jobs to drain, up to
// ShutdownTimeout.
func (e *MemoryEngine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return ErrNotStarted
	}

	e.obs.Log().Info().Msg("shutting down memory engine")
	e.started = false

	err := e.stopWorkerPool(ctx)
	if e.workerCancel != nil {
		e.workerCancel()
	}
	return err
}

// Store validates candidate and inserts it unless an active memory with the
// same content exists, in which case that memory's access stats are bumped
// and its id returned. A new memory gets exactly one background job.
func (e *MemoryEngine) Store(ctx context.Context, candidate Candidate) (StoreResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.started {
		return StoreResult{}, ErrNotStarted
	}

	record, err := e.buildRecord(candidate)
	if err != nil {
		return StoreResult{}, err
	}

	now := e.now()
	record.CreatedAt = now

	id, inserted, err := e.memoryStore.InsertOrTouch(ctx, record, now)
	if err != nil {
		return StoreResult{}, fmt.Errorf("failed to store memory: %w", err)
	}

	result := StoreResult{ID: id, Inserted: inserted}
	if !inserted {
		return result, nil
	}

	e.notifyCreated(id)

	kind := JobEmbedOnly
	if record.ScoreSource == types.ScoreSourceLLMExtraction {
		kind = JobScoreThenEmbed
	}
	result.Queued = e.queueScoringJob(newScoringJob(id, kind, now))

	return result, nil
}

// buildRecord validates a candidate and fills in type and base score.
func (e *MemoryEngine) buildRecord(c Candidate) (*types.MemoryRecord, error) {
	if strings.TrimSpace(c.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(c.Content); n > types.MaxContentLength {
		return nil, fmt.Errorf("%w: content is %d characters, max %d", storage.ErrInvalidInput, n, types.MaxContentLength)
	}
	if c.SourceConversationID != nil && c.RelatedEntryID != nil {
		return nil, fmt.Errorf("%w: set at most one of source conversation and related entry", storage.ErrInvalidInput)
	}

	source := c.ScoreSource
	if source == "" {
		source = types.ScoreSourceRule
	}
	if !source.IsValid() {
		return nil, fmt.Errorf("%w: unknown score source %q", storage.ErrInvalidInput, source)
	}

	memoryType := types.NormalizeMemoryType(c.MemoryType)
	if strings.TrimSpace(c.MemoryType) == "" {
		memoryType = ClassifyMemoryType(c.Content)
	}

	var base float64
	switch {
	case c.BaseImportanceScore > 0:
		base = c.BaseImportanceScore
	case c.Confidence != nil:
		base = *c.Confidence * 10
	default:
		base = RuleBaseScore(memoryType)
	}
	base = clampScore(base)

	return &types.MemoryRecord{
		MemoryType:           memoryType,
		Content:              c.Content,
		KeyEntities:          c.KeyEntities,
		BaseImportanceScore:  base,
		FinalImportanceScore: base,
		ScoreSource:          source,
		SourceConversationID: c.SourceConversationID,
		RelatedEntryID:       c.RelatedEntryID,
		IsActive:             true,
	}, nil
}

// Get retrieves a memory by ID.
func (e *MemoryEngine) Get(ctx context.Context, id int64) (*types.MemoryRecord, error) {
	return e.memoryStore.Get(ctx, id)
}

// Explain returns the effective score breakdown for a memory at the current time.
func (e *MemoryEngine) Explain(ctx context.Context, id int64) (ScoreBreakdown, error) {
	rec, err := e.memoryStore.Get(ctx, id)
	if err != nil {
		return ScoreBreakdown{}, err
	}
	return EffectiveScore(rec, e.now()), nil
}

// Rate applies a user adjustment in [-3, 3], marks the memory user rated and
// persists the recomputed final score. Any rating above the minimum takes the
// memory out of the deletion pipeline: its deletion mark is cleared. An
// archived memory stays archived, as with Rescue.
func (e *MemoryEngine) Rate(ctx context.Context, id int64, adjustment int) (*types.MemoryRecord, error) {
	if adjustment < types.MinUserAdjustment || adjustment > types.MaxUserAdjustment {
		return nil, fmt.Errorf("%w: adjustment %d outside [%d, %d]",
			storage.ErrInvalidInput, adjustment, types.MinUserAdjustment, types.MaxUserAdjustment)
	}

	for attempt := 0; attempt < maxGuardRetries; attempt++ {
		rec, err := e.memoryStore.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		now := e.now()
		rec.UserScoreAdjustment = adjustment
		final := SnapshotScore(rec)

		update := storage.FieldUpdate{
			UserScoreAdjustment:  storage.Ptr(adjustment),
			UserRated:            storage.Ptr(true),
			UserRatedAt:          storage.Ptr(now),
			ScoreSource:          storage.Ptr(types.ScoreSourceUserModified),
			FinalImportanceScore: storage.Ptr(final),
			ClearDeletionMark:    adjustment > retirementAdjustment,
		}
		// The final score depends on whether the oracle has answered, so the
		// write only lands if that has not changed since the read.
		guard := &storage.Predicate{LLMProcessed: storage.Ptr(rec.LLMProcessed)}

		updated, err := e.memoryStore.UpdateFields(ctx, id, update, guard)
		if err != nil {
			return nil, fmt.Errorf("failed to rate memory %d: %w", id, err)
		}
		if updated {
			rec.UserRated = true
			rec.UserRatedAt = &now
			rec.ScoreSource = types.ScoreSourceUserModified
			rec.FinalImportanceScore = final
			if update.ClearDeletionMark {
				rec.MarkedForDeletion = false
				rec.MarkedForDeletionAt = nil
				rec.DeletionReason = ""
			}
			e.obs.Log().Info().Int("memory_id", int(id)).Int("adjustment", adjustment).
				Str("final_score", formatScore(final)).Msg("memory rated")
			return rec, nil
		}
	}

	return nil, fmt.Errorf("failed to rate memory %d: %w", id, errConcurrentUpdate)
}

// QueueLength returns the current number of jobs waiting in the queue.
func (e *MemoryEngine) QueueLength() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.jobQueue)
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
