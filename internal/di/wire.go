//go:build wireinject
// +build wireinject

package di

import (
	"CascadeAdvisor/internal/handler/api"
	"CascadeAdvisor/internal/usecase"
	"CascadeAdvisor/pkg/config"
	"CascadeAdvisor/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,

		// Storage
		ProvideStores,
		wire.FieldsOf(new(*Stores), "Watchlists"),
		ProvideAuditRepository,
		ProvideRedisCache,
		ProvideCacheStore,
		ProvideStageCache,
		ProvidePriceBook,
		ProvideJobQueue,

		// Metrics
		ProvideCascadeMetrics,
		ProvidePriceMetrics,

		// Use cases
		ProvideAuditLog,
		ProvideOrchestrator,
		ProvideSuggestionManager,
		ProvideSignalManager,
		ProvideTokenVerifier,
		usecase.NewContextResolver,
		usecase.NewCascadeService,
		usecase.NewWatchlistService,
		ProvideSweeper,
		ProvidePriceFeed,

		// HTTP
		ProvideRateLimiter,
		api.NewAdvisorHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
