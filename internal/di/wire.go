//go:build wireinject
// +build wireinject

package di

import (
	drepo "FinPulse/internal/domain/repository"
	"FinPulse/internal/service/binance"
	"FinPulse/pkg/config"
	applogger "FinPulse/pkg/logger"
	"FinPulse/pkg/server"

	"github.com/google/wire"
)

var infraSet = wire.NewSet(
	ProvideRegistry,
	ProvideMetrics,
	ProvideStore,
	ProvideCache,
	ProvideKafkaProducer,
	ProvideClickHouseArchive,
	ProvideSinks,
	ProvideResultSink,
	ProvideCandleSink,
)

var marketSet = wire.NewSet(
	ProvideRESTClient,
	wire.Bind(new(drepo.MarketData), new(*binance.RESTClient)),
	ProvideStreamClient,
)

var engineSet = wire.NewSet(
	ProvideUniverse,
	ProvideCandleProcessor,
	ProvidePipeline,
	ProvideIngestion,
	ProvideScorer,
	ProvideVolumeCache,
	ProvideScoring,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config, l *applogger.Logger) (*server.App, func(), error) {
	wire.Build(
		infraSet,
		marketSet,
		engineSet,
		ProvideQueryService,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeStore opens only the store, for maintenance commands.
func InitializeStore(cfg *config.Config, l *applogger.Logger) (drepo.Store, func(), error) {
	wire.Build(
		ProvideRegistry,
		ProvideMetrics,
		ProvideStore,
	)
	return nil, nil, nil
}
