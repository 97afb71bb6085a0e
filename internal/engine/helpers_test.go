package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/mnemo/internal/llm"
	"github.com/scrypster/mnemo/internal/observe"
	"github.com/scrypster/mnemo/internal/storage"
	"github.com/scrypster/mnemo/internal/storage/sqlite"
	"github.com/scrypster/mnemo/pkg/types"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a settable clock shared by the engine and the test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeScorer returns a fixed score per content, or def.
type fakeScorer struct {
	mu     sync.Mutex
	scores map[string]float64
	def    float64
	err    error
	calls  int
}

func (s *fakeScorer) ScoreImportance(_ context.Context, req llm.ScoreRequest) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	if v, ok := s.scores[req.Content]; ok {
		return v, nil
	}
	return s.def, nil
}

func (s *fakeScorer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeEmbedder returns a fixed vector per text, or fallback.
type fakeEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    int
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	if e.fallback == nil {
		return nil, errors.New("no vector for text")
	}
	return e.fallback, nil
}

func (e *fakeEmbedder) GetModel() string { return "fake-embed" }

func (e *fakeEmbedder) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func newTestStore(t *testing.T) *sqlite.MemoryStore {
	t.Helper()
	store, err := sqlite.NewMemoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newTestEngine builds an engine over a fresh in-memory store. scorer and
// embedder may be nil.
func newTestEngine(t *testing.T, scorer llm.ImportanceScorer, embedder llm.EmbeddingGenerator, clock *fakeClock) (*MemoryEngine, *sqlite.MemoryStore) {
	t.Helper()
	store := newTestStore(t)

	cfg := DefaultConfig()
	cfg.NumWorkers = 2
	cfg.QueueSize = 16
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.Clock = clock.Now

	e, err := NewMemoryEngine(store, scorer, embedder, cfg, observe.Discard())
	require.NoError(t, err)
	return e, store
}

func startEngine(t *testing.T, e *MemoryEngine) {
	t.Helper()
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
}

// insertRecord writes a record directly, bypassing Store.
func insertRecord(t *testing.T, store storage.MemoryStore, rec *types.MemoryRecord) int64 {
	t.Helper()
	if rec.MemoryType == "" {
		rec.MemoryType = types.MemoryTypeFactual
	}
	if rec.ScoreSource == "" {
		rec.ScoreSource = types.ScoreSourceRule
	}
	if rec.FinalImportanceScore == 0 {
		rec.FinalImportanceScore = rec.BaseImportanceScore
	}
	rec.IsActive = !rec.Archived
	id, err := store.Insert(context.Background(), rec)
	require.NoError(t, err)
	return id
}

func getRecord(t *testing.T, store storage.MemoryStore, id int64) *types.MemoryRecord {
	t.Helper()
	rec, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func timePtr(t time.Time) *time.Time { return &t }

func floatPtr(v float64) *float64 { return &v }
