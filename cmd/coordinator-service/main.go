package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/draftea/saga-system/coordinator-service/config"
	"github.com/draftea/saga-system/shared/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.ReadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if err := run(cfg); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies
	deps, err := config.BuildDependencies(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to build dependencies")
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			deps.Logger.Error().Err(err).Msg("error closing dependencies")
		}
	}()

	logger := deps.Logger
	logger.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Str("event_log", cfg.EventLog.Backend).
		Bool("archive", deps.EventStore != nil).
		Msg("starting saga coordinator")

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: setupRouter(deps),
	}

	deps.RetentionSweeper.Start()

	g, gctx := errgroup.WithContext(ctx)

	// Start event consumers
	if deps.ChoreographyConsumer != nil {
		g.Go(func() error {
			return deps.ChoreographyConsumer.Run(gctx)
		})
	}
	if deps.ArchiveConsumer != nil {
		g.Go(func() error {
			return deps.ArchiveConsumer.Run(gctx)
		})
	}

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down saga coordinator")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		deps.RetentionSweeper.Stop(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("saga coordinator stopped with error")
		return err
	}
	logger.Info().Msg("saga coordinator stopped")
	return nil
}

func setupRouter(deps *config.Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if deps.Telemetry != nil {
		r.Use(telemetry.Middleware(deps.Telemetry))
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", promhttp.Handler())

	deps.SagaHandlers.RegisterRoutes(r)

	return r
}
