package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/mnemo/internal/config"
	"github.com/scrypster/mnemo/internal/engine"
	"github.com/scrypster/mnemo/internal/observe"
	"github.com/scrypster/mnemo/internal/storage"
	"github.com/scrypster/mnemo/internal/storage/sqlite"
)

type fakeEngine struct {
	mu             sync.Mutex
	batchCalls     int
	embedCalls     int
	lifecycleCalls int
	batchErr       error
	lifecycleErr   error
	scored         int
	report         engine.LifecycleReport
}

func (f *fakeEngine) BatchScore(_ context.Context, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.batchErr != nil {
		return 0, f.batchErr
	}
	return min(f.scored, limit), nil
}

func (f *fakeEngine) EmbedMissing(context.Context, int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedCalls++
	return 1, nil
}

func (f *fakeEngine) RunLifecycle(context.Context) (engine.LifecycleReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lifecycleCalls++
	if f.lifecycleErr != nil {
		return engine.LifecycleReport{}, f.lifecycleErr
	}
	return f.report, nil
}

func (f *fakeEngine) QueueLength() int { return 3 }

func (f *fakeEngine) counts() (batch, embed, lifecycle int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batchCalls, f.embedCalls, f.lifecycleCalls
}

// firstOfMonth is inside the lifecycle window in UTC.
var firstOfMonth = time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)

func testConfig(now time.Time) Config {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	cfg.Clock = func() time.Time { return now }
	return cfg
}

func newTestScheduler(t *testing.T, eng Engine, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(eng, nil, cfg, observe.Discard())
	require.NoError(t, err)
	return s
}

func TestShouldRunLifecycle(t *testing.T) {
	minInterval := 28 * 24 * time.Hour
	tests := []struct {
		name    string
		now     time.Time
		lastRun time.Time
		want    bool
	}{
		{"first of month after run hour, never run", firstOfMonth, time.Time{}, true},
		{"first of month at run hour", time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC), time.Time{}, true},
		{"first of month before run hour", time.Date(2026, 3, 1, 1, 59, 0, 0, time.UTC), time.Time{}, false},
		{"second of month", time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), time.Time{}, false},
		{"ran earlier today", firstOfMonth, firstOfMonth.Add(-time.Hour), false},
		{"ran last month", firstOfMonth, time.Date(2026, 2, 1, 2, 0, 0, 0, time.UTC), true},
		{"ran 27 days ago", firstOfMonth, firstOfMonth.Add(-27 * 24 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRunLifecycle(tt.now, tt.lastRun, time.UTC, 2, minInterval))
		})
	}
}

func TestShouldRunLifecycle_UsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	// 20:00 UTC on the last day of February is 05:00 on March 1st in Tokyo.
	now := time.Date(2026, 2, 28, 20, 0, 0, 0, time.UTC)

	assert.False(t, ShouldRunLifecycle(now, time.Time{}, time.UTC, 2, 0))
	assert.True(t, ShouldRunLifecycle(now, time.Time{}, tokyo, 2, 0))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.ErrorBackoff = 0
	_, err = New(&fakeEngine{}, nil, cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.LLMBatchSize = 0
	_, err = New(&fakeEngine{}, nil, cfg, nil)
	assert.Error(t, err)
}

func TestConfigFrom(t *testing.T) {
	c := config.Default().Scheduler
	c.Timezone = "UTC"
	cfg, err := ConfigFrom(c)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.LLMInterval)
	assert.Equal(t, 10*time.Minute, cfg.ErrorBackoff)
	assert.Equal(t, 28*24*time.Hour, cfg.LifecycleMinInterval)
	assert.Equal(t, time.UTC, cfg.Location)

	c.Timezone = "Not/AZone"
	_, err = ConfigFrom(c)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(t, &fakeEngine{}, testConfig(firstOfMonth.Add(24*time.Hour)))

	assert.ErrorIs(t, s.Stop(), ErrNotRunning)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, s.Status().Running)

	require.NoError(t, s.Stop())
	assert.False(t, s.Status().Running)

	// Restartable.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestTriggerBatchScore(t *testing.T) {
	eng := &fakeEngine{scored: 25}
	s := newTestScheduler(t, eng, testConfig(firstOfMonth))

	var got []BatchResult
	s.SetOnBatchComplete(func(r BatchResult) { got = append(got, r) })

	result, err := s.TriggerBatchScore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Scored: 10, Embedded: 1}, result)
	assert.Equal(t, []BatchResult{result}, got)

	st := s.Status()
	require.NotNil(t, st.LastBatchRun)
	assert.Equal(t, 10, st.LastBatchScored)
	assert.Equal(t, 3, st.QueueLength)
	assert.Empty(t, st.LastError)
}

func TestTriggerBatchScore_NoScorerStillEmbeds(t *testing.T) {
	eng := &fakeEngine{batchErr: engine.ErrNoScorer}
	s := newTestScheduler(t, eng, testConfig(firstOfMonth))

	result, err := s.TriggerBatchScore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Embedded)
}

func TestTriggerBatchScore_ErrorRecorded(t *testing.T) {
	eng := &fakeEngine{batchErr: errors.New("oracle down")}
	s := newTestScheduler(t, eng, testConfig(firstOfMonth))

	_, err := s.TriggerBatchScore(context.Background())
	require.Error(t, err)

	st := s.Status()
	assert.Contains(t, st.LastError, "oracle down")
	assert.NotNil(t, st.LastErrorAt)
}

func TestLLMLoop_RunsEveryInterval(t *testing.T) {
	eng := &fakeEngine{}
	cfg := testConfig(firstOfMonth.Add(24 * time.Hour))
	cfg.LLMInterval = 10 * time.Millisecond
	s := newTestScheduler(t, eng, cfg)

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	assert.Eventually(t, func() bool {
		batch, embed, _ := eng.counts()
		return batch >= 3 && embed >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLLMLoop_BacksOffAfterError(t *testing.T) {
	eng := &fakeEngine{batchErr: errors.New("oracle down")}
	cfg := testConfig(firstOfMonth.Add(24 * time.Hour))
	cfg.LLMInterval = 10 * time.Millisecond
	cfg.ErrorBackoff = time.Hour
	s := newTestScheduler(t, eng, cfg)

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	require.Eventually(t, func() bool {
		batch, _, _ := eng.counts()
		return batch == 1
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	batch, _, _ := eng.counts()
	assert.Equal(t, 1, batch, "no retry before the backoff elapses")
}

func TestLifecycleLoop_RunsOncePerWindow(t *testing.T) {
	eng := &fakeEngine{report: engine.LifecycleReport{Marked: 2, Archived: 1}}
	cfg := testConfig(firstOfMonth)
	cfg.LifecycleCheckInterval = 5 * time.Millisecond
	s := newTestScheduler(t, eng, cfg)

	reports := make(chan engine.LifecycleReport, 4)
	s.SetOnLifecycleComplete(func(r engine.LifecycleReport) { reports <- r })

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	select {
	case r := <-reports:
		assert.Equal(t, eng.report, r)
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle never ran")
	}

	time.Sleep(50 * time.Millisecond)
	_, _, lifecycle := eng.counts()
	assert.Equal(t, 1, lifecycle)

	st := s.Status()
	require.NotNil(t, st.LastLifecycleRun)
	assert.True(t, st.LastLifecycleRun.Equal(firstOfMonth))
	require.NotNil(t, st.LastLifecycle)
	assert.Equal(t, 2, st.LastLifecycle.Marked)
}

func TestLifecycleLoop_OutsideWindowDoesNothing(t *testing.T) {
	eng := &fakeEngine{}
	cfg := testConfig(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	cfg.LifecycleCheckInterval = 5 * time.Millisecond
	s := newTestScheduler(t, eng, cfg)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Stop())

	_, _, lifecycle := eng.counts()
	assert.Zero(t, lifecycle)
}

func TestLifecycleLoop_FailureIsNotRecordedAsRun(t *testing.T) {
	eng := &fakeEngine{lifecycleErr: errors.New("store unavailable")}
	cfg := testConfig(firstOfMonth)
	cfg.LifecycleCheckInterval = 5 * time.Millisecond
	cfg.ErrorBackoff = 5 * time.Millisecond
	s := newTestScheduler(t, eng, cfg)

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	// Still inside the window and never recorded, so it retries.
	assert.Eventually(t, func() bool {
		_, _, lifecycle := eng.counts()
		return lifecycle >= 2
	}, 2*time.Second, 5*time.Millisecond)

	st := s.Status()
	assert.Nil(t, st.LastLifecycleRun)
	assert.Contains(t, st.LastError, "store unavailable")
}

func TestLifecycleRunPersistsAcrossInstances(t *testing.T) {
	store, err := sqlite.NewMemoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := testConfig(firstOfMonth)
	cfg.LifecycleCheckInterval = 5 * time.Millisecond

	first := &fakeEngine{}
	s1, err := New(first, store, cfg, observe.Discard())
	require.NoError(t, err)
	require.NoError(t, s1.Start(context.Background()))
	assert.Eventually(t, func() bool {
		_, _, lifecycle := first.counts()
		return lifecycle == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s1.Stop())

	saved, err := store.GetSetting(context.Background(), LastLifecycleRunKey)
	require.NoError(t, err)
	assert.Equal(t, firstOfMonth.Format(time.RFC3339Nano), saved)

	// A restarted process in the same window must not run again.
	second := &fakeEngine{}
	s2, err := New(second, store, cfg, observe.Discard())
	require.NoError(t, err)
	require.NoError(t, s2.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s2.Stop())

	_, _, lifecycle := second.counts()
	assert.Zero(t, lifecycle)
	require.NotNil(t, s2.Status().LastLifecycleRun)
}

func TestTriggerLifecycle_DoesNotMoveCalendarGate(t *testing.T) {
	store, err := sqlite.NewMemoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	midMonth := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	now := midMonth
	cfg := testConfig(midMonth)
	cfg.Clock = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	cfg.LifecycleCheckInterval = 5 * time.Millisecond

	eng := &fakeEngine{report: engine.LifecycleReport{Marked: 1}}
	s, err := New(eng, store, cfg, observe.Discard())
	require.NoError(t, err)

	report, err := s.TriggerLifecycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Marked)

	st := s.Status()
	require.NotNil(t, st.LastManualLifecycleRun)
	assert.True(t, st.LastManualLifecycleRun.Equal(midMonth))
	assert.Nil(t, st.LastLifecycleRun)
	require.NotNil(t, st.LastLifecycle)

	_, err = store.GetSetting(context.Background(), LastLifecycleRunKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Nine days later the scheduled run on the 1st still happens.
	clockMu.Lock()
	now = firstOfMonth
	clockMu.Unlock()

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()
	assert.Eventually(t, func() bool {
		_, _, lifecycle := eng.counts()
		return lifecycle == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		st := s.Status()
		return st.LastLifecycleRun != nil && st.LastLifecycleRun.Equal(firstOfMonth)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStop_CancelsInFlightWait(t *testing.T) {
	s := newTestScheduler(t, &fakeEngine{}, testConfig(firstOfMonth.Add(24*time.Hour)))
	require.NoError(t, s.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return promptly")
	}
}
