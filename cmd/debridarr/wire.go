//go:build wireinject
// +build wireinject

package main

import (
	"github.com/amaumene/debridarr/internal/api"
	"github.com/amaumene/debridarr/internal/api/handlers"
	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/controllers"
	"github.com/amaumene/debridarr/internal/exclusion"
	"github.com/amaumene/debridarr/internal/metrics"
	"github.com/amaumene/debridarr/internal/scheduler"
	"github.com/amaumene/debridarr/internal/scraper"
	"github.com/amaumene/debridarr/internal/services/debrid"
	"github.com/amaumene/debridarr/internal/services/notify"
	"github.com/amaumene/debridarr/internal/services/trakt"
	"github.com/google/wire"
)

var storeSet = wire.NewSet(
	provideDatabase,
	provideStateStore,
	provideNotWanted,
	exclusion.NewWakeCounter,
)

var serviceSet = wire.NewSet(
	provideMetrics,
	provideRegistry,
	provideGateway,
	provideFetcher,
	provideBlacklist,
	provideScraper,
	provideMount,
	provideSymlinks,
	provideAgent,
	provideTrakt,
	provideMetadata,
	provideSources,
	provideNotifier,
	wire.Bind(new(controllers.Debrid), new(*debrid.Gateway)),
	wire.Bind(new(controllers.Resolver), new(*debrid.Fetcher)),
	wire.Bind(new(controllers.Scraper), new(*scraper.Scraper)),
	wire.Bind(new(controllers.MetadataService), new(*trakt.Metadata)),
	wire.Bind(new(controllers.Publisher), new(*notify.Notifier)),
)

var controllerSet = wire.NewSet(
	provideProfiles,
	controllers.NewPolicy,
	controllers.NewScrapingController,
	controllers.NewAddingController,
	controllers.NewCheckingController,
	controllers.NewUpgradeController,
	controllers.NewVerifier,
	controllers.NewAdmin,
	provideSync,
	wire.Struct(new(scheduler.Pipeline), "*"),
)

var schedulerSet = wire.NewSet(
	scheduler.NewScheduler,
	wire.Bind(new(scheduler.Breaker), new(*debrid.Gateway)),
	wire.Bind(new(scheduler.Notifier), new(*notify.Notifier)),
	wire.Bind(new(scheduler.TickObserver), new(*metrics.Metrics)),
)

var apiSet = wire.NewSet(
	api.NewServer,
	wire.Bind(new(handlers.Queue), new(*scheduler.Scheduler)),
	wire.Bind(new(handlers.Admin), new(*controllers.Admin)),
)

func initializeApp(cfg *config.Config) (*App, func(), error) {
	wire.Build(
		provideLogger,
		provideTracing,
		storeSet,
		serviceSet,
		controllerSet,
		schedulerSet,
		apiSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
