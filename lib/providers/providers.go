package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onkernel/layerbuild/cmd/api/config"
	"github.com/onkernel/layerbuild/lib/builds"
	"github.com/onkernel/layerbuild/lib/images"
	"github.com/onkernel/layerbuild/lib/logger"
	hotel "github.com/onkernel/layerbuild/lib/otel"
	"github.com/onkernel/layerbuild/lib/paths"
)

// ProvideContext provides a base context
func ProvideContext() context.Context {
	return context.Background()
}

// ProvideConfig provides the application configuration
func ProvideConfig() (*config.Config, error) {
	return config.Load()
}

// ProvideOtel initializes telemetry. The cleanup flushes exporters.
func ProvideOtel(ctx context.Context, cfg *config.Config) (*hotel.Provider, func(), error) {
	provider, shutdown, err := hotel.Init(ctx, hotel.Config{
		Enabled:     cfg.OtelEnabled,
		Endpoint:    cfg.OtelEndpoint,
		Insecure:    cfg.OtelInsecure,
		ServiceName: cfg.OtelServiceName,
		Version:     cfg.Version,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init otel: %w", err)
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}
	return provider, cleanup, nil
}

// ProvideLogger provides the API subsystem logger
func ProvideLogger(otel *hotel.Provider) *slog.Logger {
	return logger.NewSubsystemLogger(logger.SubsystemAPI, logger.NewConfig(), otel.LogHandler())
}

// ProvidePaths provides the data directory layout
func ProvidePaths(cfg *config.Config) *paths.Paths {
	return paths.New(cfg.DataDir)
}

// ProvideResolver provides the registry client used to pin and inspect base images
func ProvideResolver(cfg *config.Config, otel *hotel.Provider) (*images.Resolver, error) {
	return images.NewResolver(images.ResolverOptions{
		Insecure: cfg.RegistryInsecure,
		Logger:   logger.NewSubsystemLogger(logger.SubsystemImages, logger.NewConfig(), otel.LogHandler()),
		Meter:    otel.Meter("github.com/onkernel/layerbuild/lib/images"),
	})
}

// ProvideEngine provides the container engine, falling back to the other
// engine when the configured one is not available
func ProvideEngine(ctx context.Context, cfg *config.Config) (builds.Engine, error) {
	preferred, err := builds.ParseEngineType(cfg.ContainerEngine)
	if err != nil {
		return nil, err
	}
	return builds.NewEngine(ctx, preferred)
}

// ProvideBuildManager provides the build manager
func ProvideBuildManager(
	p *paths.Paths,
	cfg *config.Config,
	inspector builds.Inspector,
	engine builds.Engine,
	otel *hotel.Provider,
) (builds.Manager, error) {
	return builds.NewManager(
		p,
		builds.Config{
			MaxConcurrentBuilds: cfg.MaxConcurrentBuilds,
			DefaultTimeout:      cfg.BuildTimeout,
		},
		inspector,
		engine,
		logger.NewSubsystemLogger(logger.SubsystemBuilds, logger.NewConfig(), otel.LogHandler()),
		otel.Meter("github.com/onkernel/layerbuild/lib/builds"),
	)
}
