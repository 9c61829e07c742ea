//go:build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/google/wire"

	"github.com/onkernel/layerbuild/cmd/api/api"
	"github.com/onkernel/layerbuild/cmd/api/config"
	"github.com/onkernel/layerbuild/lib/builds"
	"github.com/onkernel/layerbuild/lib/images"
	hotel "github.com/onkernel/layerbuild/lib/otel"
	"github.com/onkernel/layerbuild/lib/providers"
)

// application struct to hold initialized components
type application struct {
	Ctx          context.Context
	Logger       *slog.Logger
	Config       *config.Config
	Otel         *hotel.Provider
	Resolver     *images.Resolver
	BuildManager builds.Manager
	ApiService   *api.ApiService
}

// initializeApp is the injector function
func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideContext,
		providers.ProvideConfig,
		providers.ProvideOtel,
		providers.ProvideLogger,
		providers.ProvidePaths,
		providers.ProvideResolver,
		wire.Bind(new(builds.Inspector), new(*images.Resolver)),
		providers.ProvideEngine,
		providers.ProvideBuildManager,
		api.New,
		wire.Struct(new(application), "*"),
	))
}
