//go:build wireinject
// +build wireinject

package di

import (
	"OptionPull/internal/domain/repository"
	internalrepo "OptionPull/internal/repository"
	"OptionPull/pkg/config"
	"OptionPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideSnapshotStore,
		wire.Bind(new(repository.Storage), new(*internalrepo.SnapshotStore)),
		ProvideKafkaProducer,
		ProvideRedisCache,
		ProvideClickHouseClient,

		// Repositories and services
		ProvidePublisher,
		ProvideChainFetcher,
		ProvidePricingEngine,
		ProvideChainCache,
		ProvideCycleLock,
		ProvideClickHouseMirror,
		ProvideKafkaConsumer,

		// Use cases
		ProvideObservationService,
		ProvideChainFeed,
		ProvideCycleProcessor,
		ProvideIngestionLoop,

		// HTTP
		ProvideRateLimiter,
		ProvideObservationsHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
