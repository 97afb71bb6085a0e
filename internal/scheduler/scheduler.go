// Package scheduler hosts the background maintenance loops: the LLM fallback
// sweep that scores and embeds whatever the per-memory pipeline missed, and
// the monthly lifecycle sweep that retires low-value memories.
//
// A Scheduler owns its own state. Nothing is global, so several instances
// can run side by side.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scrypster/mnemo/internal/config"
	"github.com/scrypster/mnemo/internal/engine"
	"github.com/scrypster/mnemo/internal/observe"
	"github.com/scrypster/mnemo/internal/storage"
)

// LastLifecycleRunKey is the settings key holding the last lifecycle run time.
const LastLifecycleRunKey = "scheduler.lifecycle.last_run"

var (
	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrNotRunning is returned by Stop on a scheduler that was never started.
	ErrNotRunning = errors.New("scheduler not running")
)

// Engine is the slice of the memory engine the scheduler drives.
type Engine interface {
	BatchScore(ctx context.Context, limit int) (int, error)
	EmbedMissing(ctx context.Context, limit int) (int, error)
	RunLifecycle(ctx context.Context) (engine.LifecycleReport, error)
	QueueLength() int
}

// Config controls loop timing and batch sizes.
type Config struct {
	LLMInterval            time.Duration
	LifecycleCheckInterval time.Duration
	ErrorBackoff           time.Duration

	LLMBatchSize   int
	EmbedBatchSize int

	// LifecycleRunHour is the earliest local hour on the 1st of the month
	// at which the lifecycle sweep may run.
	LifecycleRunHour int

	// LifecycleMinInterval is the minimum time between two lifecycle runs.
	LifecycleMinInterval time.Duration

	Location *time.Location
	Clock    func() time.Time
}

// DefaultConfig returns the hourly loops with a ten minute error backoff.
func DefaultConfig() Config {
	return Config{
		LLMInterval:            time.Hour,
		LifecycleCheckInterval: time.Hour,
		ErrorBackoff:           10 * time.Minute,
		LLMBatchSize:           10,
		EmbedBatchSize:         10,
		LifecycleRunHour:       2,
		LifecycleMinInterval:   28 * 24 * time.Hour,
		Location:               time.Local,
		Clock:                  time.Now,
	}
}

// ConfigFrom maps the file/env configuration onto a scheduler Config.
func ConfigFrom(c config.SchedulerConfig) (Config, error) {
	loc, err := c.Location()
	if err != nil {
		return Config{}, fmt.Errorf("scheduler timezone %q: %w", c.Timezone, err)
	}
	cfg := DefaultConfig()
	cfg.LLMInterval = c.LLMInterval
	cfg.LifecycleCheckInterval = c.LifecycleCheckInterval
	cfg.ErrorBackoff = c.ErrorBackoff
	cfg.LLMBatchSize = c.LLMBatchSize
	cfg.EmbedBatchSize = c.EmbedBatchSize
	cfg.LifecycleRunHour = c.LifecycleRunHour
	cfg.LifecycleMinInterval = time.Duration(c.LifecycleMinDays) * 24 * time.Hour
	cfg.Location = loc
	return cfg, nil
}

// Status is a point-in-time view of the scheduler for operators.
type Status struct {
	Running         bool       `json:"running"`
	QueueLength     int        `json:"queue_length"`
	LastBatchRun    *time.Time `json:"last_batch_run,omitempty"`
	LastBatchScored int        `json:"last_batch_scored"`
	LastBatchEmbeds int        `json:"last_batch_embedded"`

	// LastLifecycleRun is the last scheduled run; it drives the calendar gate.
	LastLifecycleRun *time.Time `json:"last_lifecycle_run,omitempty"`

	// LastManualLifecycleRun is the last TriggerLifecycle run.
	LastManualLifecycleRun *time.Time `json:"last_manual_lifecycle_run,omitempty"`

	// LastLifecycle is the report of the most recent run of either kind.
	LastLifecycle *engine.LifecycleReport `json:"last_lifecycle,omitempty"`

	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// BatchResult reports one LLM fallback sweep.
type BatchResult struct {
	Scored   int `json:"scored"`
	Embedded int `json:"embedded"`
}

// Scheduler runs the maintenance loops for one engine.
type Scheduler struct {
	cfg      Config
	engine   Engine
	settings storage.SettingsStore // may be nil
	obs      *observe.Observer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	status  Status

	// lastLifecycleRun gates the monthly sweep; zero means never.
	lastLifecycleRun time.Time

	cbMu                sync.RWMutex
	onBatchComplete     func(BatchResult)
	onLifecycleComplete func(engine.LifecycleReport)
}

// New creates a scheduler. settings may be nil, in which case the lifecycle
// run time is kept in memory only.
func New(eng Engine, settings storage.SettingsStore, cfg Config, obs *observe.Observer) (*Scheduler, error) {
	if eng == nil {
		return nil, errors.New("scheduler: engine is required")
	}
	if cfg.LLMInterval <= 0 || cfg.LifecycleCheckInterval <= 0 || cfg.ErrorBackoff <= 0 {
		return nil, errors.New("scheduler: intervals must be positive")
	}
	if cfg.LLMBatchSize < 1 {
		return nil, fmt.Errorf("scheduler: llm batch size must be >= 1, got %d", cfg.LLMBatchSize)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if obs == nil {
		obs = observe.Discard()
	}
	return &Scheduler{cfg: cfg, engine: eng, settings: settings, obs: obs.Component("scheduler")}, nil
}

// SetOnBatchComplete registers a callback invoked after each LLM fallback sweep.
func (s *Scheduler) SetOnBatchComplete(fn func(BatchResult)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onBatchComplete = fn
}

// SetOnLifecycleComplete registers a callback invoked after each lifecycle run.
func (s *Scheduler) SetOnLifecycleComplete(fn func(engine.LifecycleReport)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onLifecycleComplete = fn
}

// Start launches both loops. They stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	s.loadLastLifecycleRun(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.status.Running = true

	s.wg.Add(2)
	go s.llmLoop(loopCtx)
	go s.lifecycleLoop(loopCtx)

	s.obs.Log().Info().
		Str("llm_interval", s.cfg.LLMInterval.String()).
		Str("lifecycle_interval", s.cfg.LifecycleCheckInterval.String()).
		Msg("scheduler started")
	return nil
}

// Stop cancels both loops and waits for any in-flight sweep to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.status.Running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.obs.Log().Info().Msg("scheduler stopped")
	return nil
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	st.QueueLength = s.engine.QueueLength()
	return st
}

// TriggerBatchScore runs one LLM fallback sweep immediately, outside the
// schedule.
func (s *Scheduler) TriggerBatchScore(ctx context.Context) (BatchResult, error) {
	return s.runBatch(ctx)
}

// TriggerLifecycle runs the lifecycle sweep immediately, ignoring the
// calendar gate. The run is recorded as manual and does not move the gate, so
// the next scheduled run still happens on the 1st.
func (s *Scheduler) TriggerLifecycle(ctx context.Context) (engine.LifecycleReport, error) {
	return s.runLifecycle(ctx, true)
}

// ShouldRunLifecycle reports whether the lifecycle sweep is due: it is the
// 1st of the month in loc, at or past runHour, and at least minInterval has
// passed since lastRun.
func ShouldRunLifecycle(now, lastRun time.Time, loc *time.Location, runHour int, minInterval time.Duration) bool {
	local := now.In(loc)
	if local.Day() != 1 || local.Hour() < runHour {
		return false
	}
	return lastRun.IsZero() || now.Sub(lastRun) >= minInterval
}

func (s *Scheduler) llmLoop(ctx context.Context) {
	defer s.wg.Done()

	wait := s.cfg.LLMInterval
	for {
		if !sleep(ctx, wait) {
			return
		}
		if _, err := s.runBatch(ctx); err != nil && ctx.Err() == nil {
			s.obs.Log().Warn().Err(err).Str("retry_in", s.cfg.ErrorBackoff.String()).Msg("llm fallback sweep failed")
			wait = s.cfg.ErrorBackoff
			continue
		}
		wait = s.cfg.LLMInterval
	}
}

func (s *Scheduler) lifecycleLoop(ctx context.Context) {
	defer s.wg.Done()

	wait := time.Duration(0)
	for {
		if !sleep(ctx, wait) {
			return
		}
		wait = s.cfg.LifecycleCheckInterval

		s.mu.Lock()
		lastRun := s.lastLifecycleRun
		s.mu.Unlock()

		if !ShouldRunLifecycle(s.cfg.Clock(), lastRun, s.cfg.Location, s.cfg.LifecycleRunHour, s.cfg.LifecycleMinInterval) {
			continue
		}
		if _, err := s.runLifecycle(ctx, false); err != nil && ctx.Err() == nil {
			s.obs.Log().Warn().Err(err).Str("retry_in", s.cfg.ErrorBackoff.String()).Msg("lifecycle sweep failed")
			wait = s.cfg.ErrorBackoff
		}
	}
}

// runBatch scores then embeds one bounded batch. A missing oracle is not an
// error: embeddings are still swept.
func (s *Scheduler) runBatch(ctx context.Context) (BatchResult, error) {
	var result BatchResult
	var errs []error

	scored, err := s.engine.BatchScore(ctx, s.cfg.LLMBatchSize)
	switch {
	case errors.Is(err, engine.ErrNoScorer):
	case err != nil:
		errs = append(errs, fmt.Errorf("batch score: %w", err))
	}
	result.Scored = scored

	if s.cfg.EmbedBatchSize > 0 {
		embedded, err := s.engine.EmbedMissing(ctx, s.cfg.EmbedBatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("embed missing: %w", err))
		}
		result.Embedded = embedded
	}

	now := s.cfg.Clock()
	err = errors.Join(errs...)

	s.mu.Lock()
	s.status.LastBatchRun = &now
	s.status.LastBatchScored = result.Scored
	s.status.LastBatchEmbeds = result.Embedded
	if err != nil {
		s.recordErrorLocked(err, now)
	}
	s.mu.Unlock()

	s.obs.Log().Info().Int("scored", result.Scored).Int("embedded", result.Embedded).Msg("llm fallback sweep complete")

	s.cbMu.RLock()
	cb := s.onBatchComplete
	s.cbMu.RUnlock()
	if cb != nil {
		cb(result)
	}
	return result, err
}

func (s *Scheduler) runLifecycle(ctx context.Context, manual bool) (engine.LifecycleReport, error) {
	ctx, span := s.obs.StartSpan(ctx, "scheduler.lifecycle")
	defer span.End()

	report, err := s.engine.RunLifecycle(ctx)
	now := s.cfg.Clock()

	s.obs.LogCtx(ctx).Info().
		Str("manual", fmt.Sprint(manual)).
		Int("marked", report.Marked).
		Int("archived", report.Archived).
		Int("deleted", report.Deleted).
		Msg("lifecycle sweep finished")

	if err != nil {
		span.RecordError(err)
		s.mu.Lock()
		s.recordErrorLocked(err, now)
		s.mu.Unlock()
		return report, err
	}

	s.mu.Lock()
	s.status.LastLifecycle = &report
	if manual {
		s.status.LastManualLifecycleRun = &now
	} else {
		s.lastLifecycleRun = now
		s.status.LastLifecycleRun = &now
	}
	s.mu.Unlock()

	if !manual {
		s.saveLastLifecycleRun(ctx, now)
	}

	s.cbMu.RLock()
	cb := s.onLifecycleComplete
	s.cbMu.RUnlock()
	if cb != nil {
		cb(report)
	}
	return report, nil
}

func (s *Scheduler) recordErrorLocked(err error, at time.Time) {
	s.status.LastError = err.Error()
	s.status.LastErrorAt = &at
}

// loadLastLifecycleRun restores the persisted run time. Called with s.mu held.
func (s *Scheduler) loadLastLifecycleRun(ctx context.Context) {
	if s.settings == nil {
		return
	}
	value, err := s.settings.GetSetting(ctx, LastLifecycleRunKey)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		s.obs.Log().Warn().Err(err).Msg("failed to load last lifecycle run")
		return
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		s.obs.Log().Warn().Err(err).Str("value", value).Msg("ignoring malformed last lifecycle run")
		return
	}
	s.lastLifecycleRun = t
	s.status.LastLifecycleRun = &t
}

func (s *Scheduler) saveLastLifecycleRun(ctx context.Context, t time.Time) {
	if s.settings == nil {
		return
	}
	// The run already happened; persist even if the loop is being cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := s.settings.SetSetting(ctx, LastLifecycleRunKey, t.UTC().Format(time.RFC3339Nano)); err != nil {
		s.obs.Log().Error().Err(err).Msg("failed to persist last lifecycle run")
	}
}

// sleep waits for d or until ctx is done, reporting whether to continue.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
