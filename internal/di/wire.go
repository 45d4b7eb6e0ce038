//go:build wireinject
// +build wireinject

package di

import (
	"Genesis/pkg/config"
	"Genesis/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Logging and metrics
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideQueuePublisher,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideStores,
		ProvideMarketData,
		ProvideBroker,
		ProvideCommandQueue,
		ProvideQuotes,

		// Scoring
		ProvideTables,
		ProvideTechnical,
		ProvideScorer,
		ProvideMerger,
		ProvideExitModel,

		// Use cases
		ProvideSignalIntake,
		ProvideSignalsHandler,
		ProvideExitMonitor,

		// Application server
		ProvideRateLimiter,
		ProvideRouter,
		ProvideApp,
	)
	return nil, nil, nil
}
