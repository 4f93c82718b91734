//go:build wireinject
// +build wireinject

package di

import (
	"github.com/AgeeKey/mirai-agent-sub000/pkg/config"
	"github.com/AgeeKey/mirai-agent-sub000/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideCache,

		// Repositories
		ProvideSnapshotStore,
		ProvideOutcomeStore,
		ProvideAdaptationStore,
		ProvideActivationStore,
		ProvideAuditPublisher,
		ProvideCalendar,
		ProvideRiskMetrics,
		ProvideFeatureStream,

		// Domain services
		ProvideClassifier,
		ProvideTracker,
		ProvideController,
		ProvideSafetyEngine,
		ProvideSafetyService,

		// Use cases
		ProvideSnapshotProcessor,
		ProvideFeatureCollector,
		ProvideOutcomeHandler,
		ProvideEngine,

		// HTTP
		ProvideAPIHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
