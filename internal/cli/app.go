package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/scrypster/mnemo/internal/config"
	"github.com/scrypster/mnemo/internal/engine"
	"github.com/scrypster/mnemo/internal/llm"
	"github.com/scrypster/mnemo/internal/observe"
	"github.com/scrypster/mnemo/internal/scheduler"
	"github.com/scrypster/mnemo/internal/storage"
	"github.com/scrypster/mnemo/internal/storage/postgres"
	"github.com/scrypster/mnemo/internal/storage/sqlite"
)

// app holds the wired collaborators shared by every command.
type app struct {
	cfg       *config.Config
	obs       *observe.Observer
	store     storage.Store
	engine    *engine.MemoryEngine
	scheduler *scheduler.Scheduler
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("MNEMO_CONFIG")
	}
	return config.LoadConfigFile(path)
}

// openApp loads configuration and builds the store, oracle, embedder,
// engine and scheduler. The engine is not started.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	obs := observe.NewFromFormat(os.Stderr, cfg.Logging.Format, verbose || cfg.Logging.Verbose)

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	scorer, err := llm.NewImportanceScorer(cfg.LLM)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("scoring oracle: %w", err)
	}
	embedder, err := llm.NewEmbeddingGenerator(cfg.LLM)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("embedding generator: %w", err)
	}

	eng, err := engine.NewMemoryEngine(store, scorer, embedder, engine.ConfigFrom(cfg.Engine), obs)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	schedCfg, err := scheduler.ConfigFrom(cfg.Scheduler)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched, err := scheduler.New(eng, store, schedCfg, obs)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{cfg: cfg, obs: obs, store: store, engine: eng, scheduler: sched}, nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.StorageEngine {
	case "postgres":
		return postgres.NewMemoryStore(cfg.PostgresDSN)
	case "sqlite", "":
		if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		return sqlite.NewMemoryStore(cfg.DatabasePath())
	}
	return nil, fmt.Errorf("unknown storage engine %q", cfg.StorageEngine)
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.engine.Shutdown(ctx); err != nil && !errors.Is(err, engine.ErrNotStarted) {
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
