//go:build wireinject
// +build wireinject

package di

import (
	"StockCast/pkg/config"
	"StockCast/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Storage and sources
		ProvideMarketStore,
		ProvidePriceSource,
		ProvideCache,
		ProvideClickHouseClient,
		ProvidePredictionRepository,

		// Messaging
		ProvideKafkaProducer,
		ProvidePredictionPublisher,
		ProvideKafkaConsumer,

		// Domain
		ProvideWatchlist,
		ProvideForecasters,
		ProvideHub,
		ProvideEstimationUseCase,
		ProvideScheduler,

		// Transport
		ProvideEstimationsHandler,
		ProvideHealthHandler,

		ProvideApp,
	)
	return &server.App{}, nil
}
