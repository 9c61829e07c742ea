package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghodss/yaml"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	"golang.org/x/sync/errgroup"

	"github.com/onkernel/layerbuild"
	mw "github.com/onkernel/layerbuild/lib/middleware"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	app, cleanup, err := initializeApp()
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer cleanup()

	cfg := app.Config
	logger := app.Logger
	slog.SetDefault(logger)

	if cfg.JwtSecret == "" {
		logger.Warn("JWT_SECRET is not set; the API accepts unauthenticated requests")
	}

	// Setup context with signal handling
	ctx, stop := signal.NotifyContext(app.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otelchi.Middleware(cfg.OtelServiceName, otelchi.WithChiRoutes(r)))
	r.Use(mw.InjectLogger(logger))
	r.Use(mw.AccessLogger(logger))
	if cfg.OtelEnabled {
		httpMetrics, err := mw.NewHTTPMetrics(app.Otel.Meter("github.com/onkernel/layerbuild/lib/middleware"))
		if err != nil {
			return fmt.Errorf("create http metrics: %w", err)
		}
		r.Use(httpMetrics.Middleware)
	} else {
		r.Use(mw.NoopHTTPMetrics())
	}
	r.Use(middleware.Recoverer)
	r.Use(mw.LimitBody(int64(cfg.MaxRequestSize.Bytes())))

	// Serve OpenAPI spec
	r.Get("/spec.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.oai.openapi")
		w.Write(layerbuild.OpenAPIYAML)
	})

	r.Get("/spec.json", func(w http.ResponseWriter, r *http.Request) {
		jsonData, err := yaml.YAMLToJSON(layerbuild.OpenAPIYAML)
		if err != nil {
			http.Error(w, "Failed to convert YAML to JSON", http.StatusInternalServerError)
			logger.ErrorContext(r.Context(), "Failed to convert YAML to JSON", "error", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	})

	// Mount API routes
	var auth func(http.Handler) http.Handler
	if cfg.JwtSecret != "" {
		auth = mw.VerifyJWT(cfg.JwtSecret)
	}
	if err := app.ApiService.Routes(r, auth); err != nil {
		return fmt.Errorf("mount api: %w", err)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Error group for coordinated shutdown
	grp, gctx := errgroup.WithContext(ctx)

	// Run the server
	grp.Go(func() error {
		logger.Info("starting layerbuild API server",
			"port", cfg.Port,
			"data_dir", cfg.DataDir,
			"max_concurrent_builds", cfg.MaxConcurrentBuilds,
			"build_timeout", cfg.BuildTimeout)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			return err
		}
		return nil
	})

	// Shutdown handler
	grp.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown http server", "error", err)
			return err
		}

		logger.Info("http server shutdown complete")
		return nil
	})

	return grp.Wait()
}
