//go:build wireinject
// +build wireinject

package di

import (
	"LevPair/internal/usecase"
	"LevPair/pkg/config"
	"LevPair/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Metrics and logging
		ProvideMetrics,
		ProvideLogger,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideNATSClient,
		ProvideRedisCache,
		ProvideCache,

		// Repositories
		ProvideBarSource,
		ProvideJournal,
		ProvideOutcomeJournal,
		ProvideEventPublisher,
		ProvideDeduplicator,
		ProvideStateStore,
		ProvideOutcomeInbox,

		// Core services
		ProvideFeatureExtractor,
		ProvideTrendFuser,
		ProvideModelBank,
		ProvideConfidencePolicy,
		ProvidePatternMemory,
		ProvideController,
		ProvideArbiter,

		// Use cases
		ProvideEngineConfig,
		wire.Struct(new(usecase.Components), "*"),
		ProvideEngine,
		ProvideKafkaOutcomesHandler,
		ProvideOutcomeQueue,

		// Application server
		ProvideEngineHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
