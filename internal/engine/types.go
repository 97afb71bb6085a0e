// Package engine provides the memory importance scoring and lifecycle engine.
// The engine stores deduplicated memories synchronously and scores and embeds
// them in the background using a worker pool fed by a bounded job queue.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/mnemo/pkg/types"
)

var (
	// ErrNotStarted is returned by Store before Start has been called.
	ErrNotStarted = errors.New("engine not started")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrNoScorer is returned by scoring entry points when no oracle is configured.
	ErrNoScorer = errors.New("scoring oracle not configured")

	errConcurrentUpdate = errors.New("record changed concurrently, retries exhausted")
)

// JobKind selects what a worker does with a memory.
type JobKind string

const (
	// JobScoreThenEmbed asks the oracle for a score, then generates the embedding.
	JobScoreThenEmbed JobKind = "score_then_embed"

	// JobEmbedOnly only generates the embedding.
	JobEmbedOnly JobKind = "embed_only"
)

// ScoringJob is a message on the work queue.
type ScoringJob struct {
	// ID correlates log lines and spans for one job.
	ID string

	MemoryID int64
	Kind     JobKind

	// Timestamp is when the job was queued.
	Timestamp time.Time
}

func newScoringJob(memoryID int64, kind JobKind, now time.Time) *ScoringJob {
	return &ScoringJob{
		ID:        uuid.NewString(),
		MemoryID:  memoryID,
		Kind:      kind,
		Timestamp: now,
	}
}

// Config holds configuration for the memory engine.
type Config struct {
	// NumWorkers is the number of scoring worker goroutines (default: 4).
	NumWorkers int

	// QueueSize is the size of the job queue buffer (default: 1000).
	QueueSize int

	// ShutdownTimeout is the maximum time to wait for workers to drain on shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// RecoveryBatchSize bounds how many unscored extraction memories are
	// requeued on Start (default: 100).
	RecoveryBatchSize int

	// LifecycleBatchSize bounds how many records one lifecycle phase touches
	// per run (default: 1000).
	LifecycleBatchSize int

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NumWorkers:         4,
		QueueSize:          1000,
		ShutdownTimeout:    30 * time.Second,
		RecoveryBatchSize:  100,
		LifecycleBatchSize: 1000,
		Clock:              time.Now,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers must be >= 1, got %d", c.NumWorkers)
	}

	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}

	if c.RecoveryBatchSize < 1 {
		return fmt.Errorf("RecoveryBatchSize must be >= 1, got %d", c.RecoveryBatchSize)
	}

	if c.LifecycleBatchSize < 1 {
		return fmt.Errorf("LifecycleBatchSize must be >= 1, got %d", c.LifecycleBatchSize)
	}

	return nil
}

// Candidate is a memory submitted for storage.
type Candidate struct {
	// MemoryType is normalised; empty means classify from content.
	MemoryType  string
	Content     string
	KeyEntities []string

	// BaseImportanceScore, when positive, is used as-is (clamped to 1-10).
	BaseImportanceScore float64

	// Confidence is the extraction confidence in [0, 1]. When set and no
	// explicit base score is given, the base score is Confidence*10.
	Confidence *float64

	SourceConversationID *int64
	RelatedEntryID       *int64

	// ScoreSource defaults to rule.
	ScoreSource types.ScoreSource
}

// StoreResult reports the outcome of Store.
type StoreResult struct {
	ID int64

	// Inserted is false when the content matched an existing active memory.
	Inserted bool

	// Queued is false when a new memory could not be handed to the workers.
	// The scheduler's sweeps pick it up later.
	Queued bool
}

// RetrievalResult is one ranked memory returned by RetrieveRelevant.
type RetrievalResult struct {
	Memory *types.MemoryRecord

	// Similarity is the cosine similarity to the query; zero for fallback results.
	Similarity float64

	// Importance is the effective score at retrieval time.
	Importance float64

	RankScore float64

	// Semantic is true when the result was ranked by embedding similarity.
	Semantic bool
}

// LifecycleReport holds the counts from one full lifecycle run.
type LifecycleReport struct {
	Marked   int `json:"marked"`
	Archived int `json:"archived"`
	Deleted  int `json:"deleted"`
}
