package trakt

import (
	"context"
	"fmt"
	"strconv"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
)

// Source kinds
const (
	KindWatchlist  = "trakt_watchlist"
	KindCollection = "trakt_collection"
	KindFavorites  = "trakt_favorites"
	KindList       = "trakt_list"
)

// Source is one configured Trakt list producing wanted items
type Source struct {
	client *Client
	cfg    config.ContentSourceConfig
}

// NewSource wraps a content source definition
func NewSource(client *Client, cfg config.ContentSourceConfig) (*Source, error) {
	switch cfg.Type {
	case KindWatchlist, KindCollection, KindFavorites:
	case KindList:
		if cfg.User == "" || cfg.List == "" {
			return nil, fmt.Errorf("content source %q: trakt_list needs user and list", cfg.Name)
		}
	default:
		return nil, fmt.Errorf("content source %q: unknown type %q", cfg.Name, cfg.Type)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Type
	}
	return &Source{client: client, cfg: cfg}, nil
}

// Name returns the configured source name
func (s *Source) Name() string { return s.cfg.Name }

// Kind returns the source type
func (s *Source) Kind() string { return s.cfg.Type }

// Enabled reports whether the source is switched on
func (s *Source) Enabled() bool { return s.cfg.Enabled }

// Versions returns the source's version-enablement map
func (s *Source) Versions() map[string]bool { return s.cfg.Versions }

// FetchWanted lists the source and converts every movie/show into a WantedItem
func (s *Source) FetchWanted(ctx context.Context) ([]models.WantedItem, error) {
	var items []ListItem
	switch s.cfg.Type {
	case KindList:
		list, err := s.client.GetUserList(ctx, s.cfg.User, s.cfg.List)
		if err != nil {
			return nil, err
		}
		items = list
	default:
		fetch := s.client.GetWatchlist
		if s.cfg.Type == KindCollection {
			fetch = s.client.GetCollection
		} else if s.cfg.Type == KindFavorites {
			fetch = s.client.GetFavorites
		}
		for _, kind := range []string{"movies", "shows"} {
			part, err := fetch(ctx, kind)
			if err != nil {
				return nil, err
			}
			items = append(items, part...)
		}
	}

	out := make([]models.WantedItem, 0, len(items))
	for _, it := range items {
		var (
			t  *Title
			mt models.MediaType
		)
		switch {
		case it.Movie != nil:
			t, mt = it.Movie, models.MediaTypeMovie
		case it.Show != nil:
			t, mt = it.Show, models.MediaTypeShow
		default:
			continue
		}
		if t.IDs.IMDB == "" && t.IDs.TMDB == 0 {
			s.client.logger.Debug().Str("title", t.Title).Msg("Skipping list entry without imdb or tmdb id")
			continue
		}
		w := models.WantedItem{
			IMDBId:    t.IDs.IMDB,
			MediaType: mt,
			Title:     t.Title,
			Year:      t.Year,
			Source:    s.cfg.Name,
			Versions:  s.cfg.Versions,
		}
		if t.IDs.TMDB != 0 {
			w.TMDBId = strconv.Itoa(t.IDs.TMDB)
		}
		out = append(out, w)
	}
	return out, nil
}
