package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrypster/mnemo/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and background scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.engine.Start(ctx); err != nil {
		_ = a.store.Close()
		return fmt.Errorf("start engine: %w", err)
	}

	if a.cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(ctx); err != nil {
			_ = a.close(context.Background())
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		a.obs.Log().Info().Msg("scheduler disabled; use the maintenance endpoints or commands")
	}

	addr, err := server.Start(ctx, server.Deps{
		Config:    a.cfg,
		Engine:    a.engine,
		Scheduler: a.scheduler,
		Store:     a.store,
		Obs:       a.obs,
	})
	if err != nil {
		if a.cfg.Scheduler.Enabled {
			_ = a.scheduler.Stop()
		}
		_ = a.close(context.Background())
		return err
	}
	fmt.Fprintf(os.Stderr, "mnemo serving on %s\n", addr)
	fmt.Fprintf(os.Stderr, "  storage: %s\n", a.cfg.Storage.StorageEngine)
	fmt.Fprintf(os.Stderr, "  oracle: %s\n", a.cfg.LLM.LLMProvider)

	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	if a.cfg.Scheduler.Enabled {
		if err := a.scheduler.Stop(); err != nil {
			a.obs.Log().Warn().Err(err).Msg("scheduler stop")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.close(shutdownCtx)
}
