package trakt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when Trakt knows no title for an id
var ErrNotFound = errors.New("title not found on trakt")

// MetadataStore is the durable second-level cache
type MetadataStore interface {
	GetMetadata(ctx context.Context, key string) ([]byte, bool, error)
	PutMetadata(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// Movie is the metadata needed to track a movie
type Movie struct {
	IMDBId      string     `json:"imdb_id"`
	TMDBId      string     `json:"tmdb_id,omitempty"`
	Title       string     `json:"title"`
	Year        int        `json:"year"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
	Runtime     int        `json:"runtime,omitempty"`
	Genres      []string   `json:"genres,omitempty"`
	Aliases     []string   `json:"aliases,omitempty"`
}

// Show is a series with every known season
type Show struct {
	IMDBId  string   `json:"imdb_id"`
	TMDBId  string   `json:"tmdb_id,omitempty"`
	Title   string   `json:"title"`
	Year    int      `json:"year"`
	Runtime int      `json:"runtime,omitempty"`
	Genres  []string `json:"genres,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
	Seasons []Season `json:"seasons"`
}

// Season groups the episodes of one season
type Season struct {
	Number   int       `json:"number"`
	Episodes []Episode `json:"episodes"`
}

// Episode is one aired or announced episode
type Episode struct {
	Season     int        `json:"season"`
	Number     int        `json:"number"`
	Title      string     `json:"title"`
	FirstAired *time.Time `json:"first_aired,omitempty"`
	Runtime    int        `json:"runtime,omitempty"`
}

// Metadata answers movie/show/episode lookups with a two-level cache (memory, then database)
type Metadata struct {
	client *Client
	store  MetadataStore
	mem    *cache.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewMetadata creates the metadata service. store may be nil.
func NewMetadata(client *Client, store MetadataStore, ttl time.Duration, logger zerolog.Logger) *Metadata {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Metadata{
		client: client,
		store:  store,
		mem:    cache.New(10*time.Minute, 30*time.Minute),
		ttl:    ttl,
		logger: logger.With().Str("component", "metadata").Logger(),
	}
}

type traktMovie struct {
	Title
	Released string   `json:"released"`
	Runtime  int      `json:"runtime"`
	Genres   []string `json:"genres"`
}

type traktShow struct {
	Title
	Runtime int      `json:"runtime"`
	Genres  []string `json:"genres"`
}

type traktSeason struct {
	Number   int `json:"number"`
	Episodes []struct {
		Season     int        `json:"season"`
		Number     int        `json:"number"`
		Title      string     `json:"title"`
		FirstAired *time.Time `json:"first_aired"`
		Runtime    int        `json:"runtime"`
	} `json:"episodes"`
}

type traktAlias struct {
	Title   string `json:"title"`
	Country string `json:"country"`
}

// GetMovie returns movie metadata by imdb id
func (m *Metadata) GetMovie(ctx context.Context, imdbID string) (*Movie, error) {
	var out Movie
	err := m.cached(ctx, "trakt:movie:"+imdbID, &out, func() (interface{}, error) {
		var raw traktMovie
		if err := m.client.doRequest(ctx, "GET", "/movies/"+imdbID+"?extended=full", nil, &raw); err != nil {
			return nil, notFound(err)
		}
		movie := &Movie{
			IMDBId:  raw.IDs.IMDB,
			Title:   raw.Title.Title,
			Year:    raw.Year,
			Runtime: raw.Runtime,
			Genres:  raw.Genres,
			Aliases: m.aliases(ctx, "movies", imdbID),
		}
		if raw.IDs.TMDB != 0 {
			movie.TMDBId = fmt.Sprint(raw.IDs.TMDB)
		}
		if movie.IMDBId == "" {
			movie.IMDBId = imdbID
		}
		if d, err := time.Parse("2006-01-02", raw.Released); err == nil {
			movie.ReleaseDate = &d
		}
		return movie, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetShow returns a show with all of its seasons, specials excluded
func (m *Metadata) GetShow(ctx context.Context, imdbID string) (*Show, error) {
	var out Show
	err := m.cached(ctx, "trakt:show:"+imdbID, &out, func() (interface{}, error) {
		var raw traktShow
		if err := m.client.doRequest(ctx, "GET", "/shows/"+imdbID+"?extended=full", nil, &raw); err != nil {
			return nil, notFound(err)
		}
		var seasons []traktSeason
		if err := m.client.doRequest(ctx, "GET", "/shows/"+imdbID+"/seasons?extended=full,episodes", nil, &seasons); err != nil {
			return nil, fmt.Errorf("failed to get seasons: %w", err)
		}

		show := &Show{
			IMDBId:  raw.IDs.IMDB,
			Title:   raw.Title.Title,
			Year:    raw.Year,
			Runtime: raw.Runtime,
			Genres:  raw.Genres,
			Aliases: m.aliases(ctx, "shows", imdbID),
		}
		if raw.IDs.TMDB != 0 {
			show.TMDBId = fmt.Sprint(raw.IDs.TMDB)
		}
		if show.IMDBId == "" {
			show.IMDBId = imdbID
		}
		for _, s := range seasons {
			if s.Number == 0 {
				continue
			}
			season := Season{Number: s.Number}
			for _, e := range s.Episodes {
				runtime := e.Runtime
				if runtime == 0 {
					runtime = raw.Runtime
				}
				season.Episodes = append(season.Episodes, Episode{
					Season:     s.Number,
					Number:     e.Number,
					Title:      e.Title,
					FirstAired: e.FirstAired,
					Runtime:    runtime,
				})
			}
			show.Seasons = append(show.Seasons, season)
		}
		return show, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetEpisode returns one episode of a show
func (m *Metadata) GetEpisode(ctx context.Context, imdbID string, season, episode int) (*Episode, error) {
	show, err := m.GetShow(ctx, imdbID)
	if err != nil {
		return nil, err
	}
	for _, s := range show.Seasons {
		if s.Number != season {
			continue
		}
		for _, e := range s.Episodes {
			if e.Number == episode {
				ep := e
				return &ep, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s S%02dE%02d", ErrNotFound, imdbID, season, episode)
}

// TMDBToIMDB resolves a tmdb id; mediaType is "movie" or "show"
func (m *Metadata) TMDBToIMDB(ctx context.Context, tmdbID, mediaType string) (string, error) {
	key := "trakt:tmdb:" + mediaType + ":" + tmdbID
	var imdb string
	err := m.cached(ctx, key, &imdb, func() (interface{}, error) {
		var results []ListItem
		if err := m.client.doRequest(ctx, "GET", "/search/tmdb/"+tmdbID+"?type="+mediaType, nil, &results); err != nil {
			return nil, err
		}
		for _, r := range results {
			if r.Movie != nil && r.Movie.IDs.IMDB != "" {
				return r.Movie.IDs.IMDB, nil
			}
			if r.Show != nil && r.Show.IDs.IMDB != "" {
				return r.Show.IDs.IMDB, nil
			}
		}
		return nil, fmt.Errorf("%w: tmdb %s", ErrNotFound, tmdbID)
	})
	return imdb, err
}

// aliases are best effort; a failure only costs similarity matches
func (m *Metadata) aliases(ctx context.Context, kind, imdbID string) []string {
	var raw []traktAlias
	if err := m.client.doRequest(ctx, "GET", "/"+kind+"/"+imdbID+"/aliases", nil, &raw); err != nil {
		m.logger.Debug().Err(err).Str("imdb_id", imdbID).Msg("Failed to fetch aliases")
		return nil
	}
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, a := range raw {
		t := strings.TrimSpace(a.Title)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
	}
	return out
}

// cached decodes key from memory or the store into dst, fetching and storing it on a miss
func (m *Metadata) cached(ctx context.Context, key string, dst interface{}, fetch func() (interface{}, error)) error {
	if v, ok := m.mem.Get(key); ok {
		return json.Unmarshal(v.([]byte), dst)
	}
	if m.store != nil {
		if payload, ok, err := m.store.GetMetadata(ctx, key); err == nil && ok {
			m.mem.Set(key, payload, cache.DefaultExpiration)
			return json.Unmarshal(payload, dst)
		} else if err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("Metadata cache read failed")
		}
	}

	v, err := fetch()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mem.Set(key, payload, cache.DefaultExpiration)
	if m.store != nil {
		if err := m.store.PutMetadata(ctx, key, payload, m.ttl); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("Metadata cache write failed")
		}
	}
	return json.Unmarshal(payload, dst)
}

func notFound(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
