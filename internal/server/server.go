// Package server wires the HTTP surface of mnemo and manages its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/scrypster/mnemo/internal/config"
	"github.com/scrypster/mnemo/internal/engine"
	"github.com/scrypster/mnemo/internal/observe"
	"github.com/scrypster/mnemo/internal/scheduler"
	"github.com/scrypster/mnemo/internal/storage"
	"github.com/scrypster/mnemo/web/handlers"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Deps are the collaborators the HTTP surface is built on.
type Deps struct {
	Config    *config.Config
	Engine    *engine.MemoryEngine
	Scheduler *scheduler.Scheduler
	Store     storage.MemoryStore
	Obs       *observe.Observer
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// NewHandler builds the routing tree and the WebSocket hub. Engine and
// scheduler events are forwarded to the hub. The caller runs and stops the
// hub.
func NewHandler(d Deps) (http.Handler, *handlers.WebSocketHub) {
	obs := d.Obs
	if obs == nil {
		obs = observe.Discard()
	}
	cfg := d.Config

	port := strconv.Itoa(cfg.Server.Port)
	wsHub := handlers.NewWebSocketHub([]string{
		net.JoinHostPort(cfg.Server.Host, port),
		net.JoinHostPort("localhost", port),
	}, obs)
	wireEvents(d, wsHub)

	apiHandlers := handlers.NewAPIHandlers(d.Engine, obs)
	maintenanceHandler := handlers.NewMaintenanceHandler(d.Engine, d.Scheduler, d.Store, obs)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/memories", apiHandlers.StoreMemory)
	apiMux.HandleFunc("GET /api/memories/relevant", apiHandlers.RetrieveRelevant)
	apiMux.HandleFunc("GET /api/memories/{id}", apiHandlers.GetMemory)
	apiMux.HandleFunc("GET /api/memories/{id}/score", apiHandlers.ExplainScore)
	apiMux.HandleFunc("POST /api/memories/{id}/rate", apiHandlers.RateMemory)
	apiMux.HandleFunc("POST /api/memories/{id}/rescue", maintenanceHandler.Rescue)

	apiMux.HandleFunc("GET /api/maintenance/status", maintenanceHandler.GetStatus)
	apiMux.HandleFunc("POST /api/maintenance/batch-score", maintenanceHandler.RunBatchScore)
	apiMux.HandleFunc("POST /api/maintenance/mark", maintenanceHandler.RunMark)
	apiMux.HandleFunc("POST /api/maintenance/archive", maintenanceHandler.RunArchive)
	apiMux.HandleFunc("POST /api/maintenance/purge", maintenanceHandler.RunPurge)
	apiMux.HandleFunc("POST /api/maintenance/lifecycle", maintenanceHandler.RunLifecycle)

	apiMux.Handle("GET /ws", wsHub)

	rateLimiter := handlers.NewRateLimiter(cfg.Security.RateLimitPerSecond, cfg.Security.RateLimitBurst)
	protected := handlers.RateLimitMiddleware(handlers.RequireAuth(apiMux, cfg.Security), rateLimiter)

	mux := http.NewServeMux()
	mux.Handle("/api/", protected)
	mux.Handle("/ws", protected)
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"healthy","version":%q}`, Version)
	})

	return securityHeadersMiddleware(mux), wsHub
}

// wireEvents forwards engine and scheduler callbacks to the hub.
func wireEvents(d Deps, hub *handlers.WebSocketHub) {
	if d.Engine != nil {
		d.Engine.SetOnMemoryCreated(func(id int64) {
			hub.Publish(handlers.EventMemoryCreated, map[string]any{"memory_id": id})
		})
		d.Engine.SetOnScoringComplete(func(id int64, score float64) {
			hub.Publish(handlers.EventMemoryScored, map[string]any{"memory_id": id, "score": score})
		})
		d.Engine.SetOnEmbeddingComplete(func(id int64) {
			hub.Publish(handlers.EventMemoryEmbedded, map[string]any{"memory_id": id})
		})
	}
	if d.Scheduler != nil {
		d.Scheduler.SetOnBatchComplete(func(r scheduler.BatchResult) {
			hub.Publish(handlers.EventBatchComplete, r)
		})
		d.Scheduler.SetOnLifecycleComplete(func(r engine.LifecycleReport) {
			hub.Publish(handlers.EventLifecycleComplete, r)
		})
	}
}

// Start listens on the configured address and serves until ctx is
// cancelled. It returns the actual address being listened on (useful for
// testing with port 0).
func Start(ctx context.Context, d Deps) (string, error) {
	obs := d.Obs
	if obs == nil {
		obs = observe.Discard()
	}

	handler, wsHub := NewHandler(d)
	go wsHub.Run()

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	addr := net.JoinHostPort(d.Config.Server.Host, strconv.Itoa(d.Config.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		wsHub.Stop()
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Log().Error().Err(err).Msg("server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			obs.Log().Error().Err(err).Msg("server shutdown error")
		}
		wsHub.Stop()
	}()

	obs.Log().Info().Str("addr", actualAddr).Msg("http server listening")
	return actualAddr, nil
}
