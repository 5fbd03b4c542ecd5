package controllers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/services/library"
	"github.com/amaumene/debridarr/internal/services/trakt"
	"github.com/rs/zerolog"
)

// SyncStats summarises one ingest run
type SyncStats struct {
	Sources int `json:"sources"`
	Wanted  int `json:"wanted"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// SyncController turns content-source entries into media items
type SyncController struct {
	db       *models.Database
	sources  []ContentSource
	metadata MetadataService
	agent    library.Agent
	profiles Profiles
	versions []string
	logger   zerolog.Logger
}

// NewSyncController creates a new sync controller. versions lists every configured version name.
func NewSyncController(db *models.Database, sources []ContentSource, metadata MetadataService, agent library.Agent, profiles Profiles, versions []string, logger zerolog.Logger) *SyncController {
	return &SyncController{
		db:       db,
		sources:  sources,
		metadata: metadata,
		agent:    agent,
		profiles: profiles,
		versions: versions,
		logger:   logger.With().Str("component", "ingest").Logger(),
	}
}

type libraryKey struct {
	imdb    string
	kind    models.MediaType
	season  int
	episode int
}

// inLibrary maps titles the library already holds to their versions; "" means version unknown
type inLibrary map[libraryKey]map[string]bool

func (l inLibrary) has(m *models.MediaItem) bool {
	versions := l[libraryKey{m.IMDBId, m.MediaType, m.Season, m.Episode}]
	return versions[""] || versions[m.Version]
}

// SyncAll fetches every enabled source and creates or refreshes the matching items
func (c *SyncController) SyncAll(ctx context.Context) (*SyncStats, error) {
	c.logger.Info().Int("sources", len(c.sources)).Msg("Starting content source sync")
	stats := &SyncStats{}

	present := inLibrary{}
	collected, err := c.agent.ScanCollected(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Library scan failed, not filtering against it")
	}
	for _, col := range collected {
		k := libraryKey{col.IMDBId, col.MediaType, col.Season, col.Episode}
		if present[k] == nil {
			present[k] = map[string]bool{}
		}
		present[k][col.Version] = true
	}

	for _, src := range c.sources {
		if err := c.db.UpsertContentSource(ctx, &models.ContentSource{
			Name:     src.Name(),
			Kind:     src.Kind(),
			Enabled:  src.Enabled(),
			Versions: src.Versions(),
		}); err != nil {
			return stats, err
		}
		if !src.Enabled() {
			continue
		}
		stats.Sources++

		wanted, fetchErr := src.FetchWanted(ctx)
		if err := c.db.MarkSourceSynced(ctx, src.Name(), fetchErr); err != nil {
			c.logger.Warn().Err(err).Str("source", src.Name()).Msg("Failed to record sync")
		}
		if fetchErr != nil {
			c.logger.Error().Err(fetchErr).Str("source", src.Name()).Msg("Failed to fetch content source")
			continue
		}
		c.logger.Debug().Str("source", src.Name()).Int("count", len(wanted)).Msg("Retrieved wanted items")

		for _, w := range wanted {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Wanted++
			if err := c.ingest(ctx, src, w, present, stats); err != nil {
				stats.Failed++
				c.logger.Warn().Err(err).Str("source", src.Name()).Str("imdb_id", w.IMDBId).Str("title", w.Title).Msg("Failed to ingest wanted item")
			}
		}
	}

	c.logger.Info().
		Int("wanted", stats.Wanted).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("Content source sync completed")
	return stats, nil
}

// versionsFor picks the configured versions an entry asks for: its own map, else the source's, else all
func (c *SyncController) versionsFor(src ContentSource, w models.WantedItem) []string {
	names := w.EnabledVersions()
	if len(names) == 0 {
		names = models.WantedItem{Versions: src.Versions()}.EnabledVersions()
	}
	if len(names) == 0 {
		names = c.versions
	}
	out := names[:0:0]
	for _, n := range names {
		if c.profiles(n) != nil {
			out = append(out, n)
		}
	}
	return out
}

func (c *SyncController) ingest(ctx context.Context, src ContentSource, w models.WantedItem, present inLibrary, stats *SyncStats) error {
	versions := c.versionsFor(src, w)
	if len(versions) == 0 {
		stats.Skipped++
		return nil
	}

	imdbID := w.IMDBId
	if imdbID == "" {
		kind := "movie"
		if w.MediaType == models.MediaTypeShow {
			kind = "show"
		}
		id, err := c.metadata.TMDBToIMDB(ctx, w.TMDBId, kind)
		if err != nil {
			return fmt.Errorf("tmdb %s: %w", w.TMDBId, err)
		}
		imdbID = id
	}

	var templates []*models.MediaItem
	switch w.MediaType {
	case models.MediaTypeMovie:
		movie, err := c.metadata.GetMovie(ctx, imdbID)
		if err != nil {
			return err
		}
		templates = append(templates, movieItem(movie))
	case models.MediaTypeShow:
		show, err := c.metadata.GetShow(ctx, imdbID)
		if err != nil {
			return err
		}
		templates = episodeItems(show)
	default:
		return fmt.Errorf("unsupported media type %q", w.MediaType)
	}

	for _, tmpl := range templates {
		for _, version := range versions {
			item := *tmpl
			item.Version = version
			if err := c.upsert(ctx, &item, present, stats); err != nil {
				return err
			}
		}
	}
	return nil
}

func movieItem(m *trakt.Movie) *models.MediaItem {
	return &models.MediaItem{
		IMDBId:       m.IMDBId,
		TMDBId:       m.TMDBId,
		MediaType:    models.MediaTypeMovie,
		Title:        m.Title,
		Year:         m.Year,
		ReleaseDate:  m.ReleaseDate,
		Runtime:      m.Runtime,
		Genres:       m.Genres,
		TitleAliases: m.Aliases,
	}
}

func episodeItems(s *trakt.Show) []*models.MediaItem {
	var out []*models.MediaItem
	for _, season := range s.Seasons {
		for _, ep := range season.Episodes {
			item := &models.MediaItem{
				IMDBId:       s.IMDBId,
				TMDBId:       s.TMDBId,
				MediaType:    models.MediaTypeEpisode,
				Season:       ep.Season,
				Episode:      ep.Number,
				Title:        s.Title,
				Year:         s.Year,
				EpisodeTitle: ep.Title,
				Runtime:      ep.Runtime,
				Genres:       s.Genres,
				TitleAliases: s.Aliases,
			}
			if ep.FirstAired != nil {
				aired := ep.FirstAired.UTC()
				day := time.Date(aired.Year(), aired.Month(), aired.Day(), 0, 0, 0, 0, time.UTC)
				item.ReleaseDate = &day
				item.Airtime = aired.Format("15:04")
			}
			out = append(out, item)
		}
	}
	return out
}

// upsert creates a missing item or refreshes the descriptive fields of one not yet collected
func (c *SyncController) upsert(ctx context.Context, fresh *models.MediaItem, present inLibrary, stats *SyncStats) error {
	existing, err := c.db.GetMediaByKey(ctx, fresh.Key())
	if errors.Is(err, models.ErrNotFound) {
		if present.has(fresh) {
			stats.Skipped++
			return nil
		}
		fresh.State = models.StateWanted
		if err := c.db.CreateMedia(ctx, fresh); err != nil {
			if errors.Is(err, models.ErrDuplicate) {
				stats.Skipped++
				return nil
			}
			return err
		}
		stats.Created++
		return nil
	}
	if err != nil {
		return err
	}

	if existing.State == models.StateCollected || !descriptiveChanged(existing, fresh) {
		stats.Skipped++
		return nil
	}
	_, err = c.db.Update(ctx, existing.ID, existing.State, func(m *models.MediaItem) {
		copyDescriptive(m, fresh)
	})
	if errors.Is(err, models.ErrStateConflict) {
		stats.Skipped++
		return nil
	}
	if err != nil {
		return err
	}
	stats.Updated++
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func descriptiveChanged(old, fresh *models.MediaItem) bool {
	return old.TMDBId != fresh.TMDBId ||
		old.Title != fresh.Title ||
		old.Year != fresh.Year ||
		!sameTime(old.ReleaseDate, fresh.ReleaseDate) ||
		old.Airtime != fresh.Airtime ||
		old.EpisodeTitle != fresh.EpisodeTitle ||
		old.Runtime != fresh.Runtime ||
		!sameStrings(old.Genres, fresh.Genres) ||
		!sameStrings(old.TitleAliases, fresh.TitleAliases)
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func copyDescriptive(dst, src *models.MediaItem) {
	dst.TMDBId = src.TMDBId
	dst.Title = src.Title
	dst.Year = src.Year
	dst.ReleaseDate = src.ReleaseDate
	dst.Airtime = src.Airtime
	dst.EpisodeTitle = src.EpisodeTitle
	dst.Runtime = src.Runtime
	dst.Genres = src.Genres
	dst.TitleAliases = src.TitleAliases
}
