package controllers

import (
	"context"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/scraper"
	"github.com/amaumene/debridarr/internal/services/debrid"
	"github.com/amaumene/debridarr/internal/services/notify"
	"github.com/amaumene/debridarr/internal/services/trakt"
)

// Debrid is the provider capability set the pipelines depend on. *debrid.Gateway implements it.
type Debrid interface {
	IsCached(ctx context.Context, hashes []string) (map[string]bool, error)
	AddTorrent(ctx context.Context, src debrid.TorrentSource) (*debrid.TorrentInfo, error)
	GetTorrentInfo(ctx context.Context, id string) (*debrid.TorrentInfo, error)
	RemoveTorrent(ctx context.Context, id string) error
	GetActiveDownloads(ctx context.Context) (*debrid.ActiveDownloads, error)
}

// Resolver turns a magnet or .torrent URL into an info-hash
type Resolver interface {
	Resolve(ctx context.Context, magnetOrURL, knownHash string) (*debrid.Resolved, error)
}

// Scraper ranks releases for one item
type Scraper interface {
	Scrape(ctx context.Context, item *models.MediaItem, profile *config.VersionProfile, opts scraper.Options) (results, filtered []models.ScrapeResult, err error)
}

// MetadataService resolves ids to titles, dates and episode lists
type MetadataService interface {
	GetMovie(ctx context.Context, imdbID string) (*trakt.Movie, error)
	GetShow(ctx context.Context, imdbID string) (*trakt.Show, error)
	GetEpisode(ctx context.Context, imdbID string, season, episode int) (*trakt.Episode, error)
	TMDBToIMDB(ctx context.Context, tmdbID, mediaType string) (string, error)
}

// ContentSource is one external wanted list
type ContentSource interface {
	Name() string
	Kind() string
	Enabled() bool
	Versions() map[string]bool
	FetchWanted(ctx context.Context) ([]models.WantedItem, error)
}

// Publisher receives notification events
type Publisher interface {
	Publish(kind notify.Kind, item *notify.ItemRef, message string)
}

// Profiles looks up a version profile by name; nil means unknown or disabled
type Profiles func(name string) *config.VersionProfile

// ItemRef builds the notification reference of an item
func ItemRef(m *models.MediaItem) *notify.ItemRef {
	return &notify.ItemRef{
		ID:      m.ID,
		IMDBId:  m.IMDBId,
		Label:   m.Label(),
		State:   string(m.State),
		Version: m.Version,
	}
}
