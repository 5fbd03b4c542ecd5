package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/controllers"
	"github.com/amaumene/debridarr/internal/exclusion"
	"github.com/amaumene/debridarr/internal/metrics"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/scraper"
	"github.com/amaumene/debridarr/internal/services/debrid"
	"github.com/amaumene/debridarr/internal/services/indexers"
	"github.com/amaumene/debridarr/internal/services/library"
	"github.com/amaumene/debridarr/internal/services/notify"
	"github.com/amaumene/debridarr/internal/services/trakt"
	"github.com/amaumene/debridarr/internal/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	metadataTTL    = 24 * time.Hour
	resolveTimeout = 30 * time.Second
)

func provideLogger(cfg *config.Config) zerolog.Logger {
	logger := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	for _, w := range cfg.Warnings {
		logger.Warn().Msg(w)
	}
	return logger
}

// tracing marks that the global tracer provider is installed
type tracing struct{}

func provideTracing(cfg *config.Config) (tracing, func()) {
	shutdown := utils.SetupTracing(cfg.TraceSample)
	return tracing{}, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}
}

func provideDatabase(cfg *config.Config, logger zerolog.Logger) (*models.Database, func(), error) {
	db, err := models.NewDatabase(cfg.DatabaseFile, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, func() { _ = db.Close() }, nil
}

func provideStateStore(cfg *config.Config) (*exclusion.Store, func(), error) {
	store, err := exclusion.Open(cfg.StateFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func provideNotWanted(store *exclusion.Store, cfg *config.Config, logger zerolog.Logger) *exclusion.Memory {
	return exclusion.NewMemory(store, cfg.DisableNotWantedCheck, logger)
}

func provideMetrics(db *models.Database, logger zerolog.Logger) *metrics.Metrics {
	m := metrics.New(db, logger)
	db.OnTransition(m.ObserveTransition)
	return m
}

func provideRegistry(m *metrics.Metrics) *prometheus.Registry {
	return m.Registry()
}

func provideGateway(cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) (*debrid.Gateway, error) {
	provider, err := debrid.New(cfg.DebridProvider, cfg.DebridAPIKey, cfg.DebridBaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize debrid provider: %w", err)
	}
	gcfg := debrid.DefaultGatewayConfig()
	if cfg.DebridRateLimit > 0 {
		gcfg.RateLimit = cfg.DebridRateLimit
	}
	g := debrid.NewGateway(provider, gcfg, logger)
	g.SetObserver(m.ObserveProviderRequest)
	return g, nil
}

func provideFetcher() *debrid.Fetcher {
	return debrid.NewFetcher(resolveTimeout)
}

func provideBlacklist(cfg *config.Config, logger zerolog.Logger) *utils.Blacklist {
	blacklist, err := utils.LoadBlacklist(cfg.BlacklistFile)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load blacklist, continuing without it")
		return &utils.Blacklist{}
	}
	logger.Info().Int("terms", blacklist.Len()).Msg("Blacklist loaded")
	return blacklist
}

func provideScraper(cfg *config.Config, notWanted *exclusion.Memory, blacklist *utils.Blacklist, m *metrics.Metrics, logger zerolog.Logger) *scraper.Scraper {
	s := scraper.New(indexers.NewAll(cfg.Indexers, logger), notWanted, blacklist, cfg.RequireSeeders, logger)
	s.SetObserver(m.ObserveScrape)
	return s
}

func provideMount(cfg *config.Config) *library.Mount {
	return library.NewMount(cfg.MountedFileLocation)
}

// provideSymlinks returns nil unless the library is a symlink tree
func provideSymlinks(cfg *config.Config, mount *library.Mount, logger zerolog.Logger) *library.Symlinks {
	if !cfg.SymlinkMode() {
		return nil
	}
	return library.NewSymlinks(cfg.SymlinkedFilesPath, mount, logger)
}

func provideAgent(cfg *config.Config, links *library.Symlinks, logger zerolog.Logger) library.Agent {
	if links != nil {
		return links
	}
	return library.NewPlex(cfg.PlexURL, cfg.PlexToken, logger)
}

func provideTrakt(cfg *config.Config, logger zerolog.Logger) *trakt.Client {
	return trakt.NewClient(cfg.TraktClientID, cfg.TraktClientSecret, cfg.TokenFile, logger)
}

func provideMetadata(client *trakt.Client, db *models.Database, logger zerolog.Logger) *trakt.Metadata {
	return trakt.NewMetadata(client, db, metadataTTL, logger)
}

func provideSources(cfg *config.Config, client *trakt.Client, logger zerolog.Logger) []controllers.ContentSource {
	var sources []controllers.ContentSource
	for _, sc := range cfg.ContentSources {
		src, err := trakt.NewSource(client, sc)
		if err != nil {
			logger.Warn().Err(err).Msg("Skipping content source")
			continue
		}
		sources = append(sources, src)
	}
	return sources
}

func provideNotifier(cfg *config.Config, logger zerolog.Logger) *notify.Notifier {
	return notify.New(notify.NewSender(cfg.WebhookURL, logger), cfg.NotificationsFile, cfg.BatchWindow, cfg.MaxDelay, logger)
}

func provideProfiles(cfg *config.Config) controllers.Profiles {
	return cfg.Profile
}

func provideSync(db *models.Database, sources []controllers.ContentSource, metadata controllers.MetadataService, agent library.Agent, profiles controllers.Profiles, cfg *config.Config, logger zerolog.Logger) *controllers.SyncController {
	versions := make([]string, 0, len(cfg.Versions))
	for name := range cfg.Versions {
		versions = append(versions, name)
	}
	sort.Strings(versions)
	return controllers.NewSyncController(db, sources, metadata, agent, profiles, versions, logger)
}
