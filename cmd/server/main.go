package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/dualfit/internal/config"
	"github.com/copyleftdev/dualfit/internal/errors"
	"github.com/copyleftdev/dualfit/internal/fit"
	"github.com/copyleftdev/dualfit/internal/logging"
	"github.com/copyleftdev/dualfit/internal/metrics"
	"github.com/copyleftdev/dualfit/internal/server"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use standard logger as fallback if config loading fails
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize base logger
	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "dualfit",
		"env":     cfg.Environment,
	})

	if err := run(cfg, serviceLogger); err != nil {
		serviceLogger.Fatal("Server failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	serviceLogger.Info("server exited properly")
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, err := metrics.New(nil)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	runner := fit.NewRunner(fit.Options{
		Settings: cfg.FitSettings(),
		Seed:     cfg.Fit.Seed,
		Timeout:  cfg.Fit.Timeout,
		Logger:   logging.NewZapLogger(logger),
		Observer: collector,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(errors.RecoveryMiddleware(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := server.NewServer(cfg, logger, runner, collector)
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server", map[string]interface{}{
			"address": httpServer.Addr,
		})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listening on %s: %w", httpServer.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var shutdownErr error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("server forced to shutdown: %w", err)
		}
		if err := srv.Close(); err != nil {
			logger.Error("error closing server resources", map[string]interface{}{"error": err.Error()})
		}
		return shutdownErr
	})

	return g.Wait()
}
