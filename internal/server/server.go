package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openmapper/tilepipe/internal/config"
	"github.com/openmapper/tilepipe/internal/health"
	"github.com/openmapper/tilepipe/internal/imagery"
	"github.com/openmapper/tilepipe/internal/prefetch"
)

// NewRouter wires the HTTP surface: tiles, viewport ingestion, health, and
// metrics.
func NewRouter(cfg config.Config, logger *slog.Logger, provider *imagery.Provider,
	events chan<- prefetch.Viewport, ping func(context.Context) error) chi.Router {

	r := chi.NewRouter()
	r.Use(Recover())
	r.Use(Logging(logger))
	r.Use(CORS())
	r.Use(Metrics())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(ping))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/tiles/{provider}/{z}/{x}/{y}.png", HandleTile(logger, provider, cfg.Provider))
	r.Post("/viewport", HandleViewport(logger, events))
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, provider *imagery.Provider,
	events chan<- prefetch.Viewport, ping func(context.Context) error) error {

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(cfg, logger, provider, events, ping),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
