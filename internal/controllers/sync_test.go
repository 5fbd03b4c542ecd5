package controllers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/services/library"
	"github.com/amaumene/debridarr/internal/services/trakt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name     string
	enabled  bool
	versions map[string]bool
	wanted   []models.WantedItem
	err      error
}

func (s *fakeSource) Name() string              { return s.name }
func (s *fakeSource) Kind() string              { return "trakt_watchlist" }
func (s *fakeSource) Enabled() bool             { return s.enabled }
func (s *fakeSource) Versions() map[string]bool { return s.versions }

func (s *fakeSource) FetchWanted(context.Context) ([]models.WantedItem, error) {
	return s.wanted, s.err
}

type fakeMetadata struct {
	movies map[string]*trakt.Movie
	shows  map[string]*trakt.Show
	tmdb   map[string]string
}

func (f *fakeMetadata) GetMovie(_ context.Context, id string) (*trakt.Movie, error) {
	if m, ok := f.movies[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, trakt.ErrNotFound
}

func (f *fakeMetadata) GetShow(_ context.Context, id string) (*trakt.Show, error) {
	if s, ok := f.shows[id]; ok {
		return s, nil
	}
	return nil, trakt.ErrNotFound
}

func (f *fakeMetadata) GetEpisode(context.Context, string, int, int) (*trakt.Episode, error) {
	return nil, trakt.ErrNotFound
}

func (f *fakeMetadata) TMDBToIMDB(_ context.Context, tmdbID, _ string) (string, error) {
	if id, ok := f.tmdb[tmdbID]; ok {
		return id, nil
	}
	return "", trakt.ErrNotFound
}

func newSyncFixture(t *testing.T, src *fakeSource) (*harness, *fakeMetadata, *SyncController) {
	t.Helper()
	h := newHarness(t)
	released := time.Date(1999, 3, 31, 0, 0, 0, 0, time.UTC)
	aired := time.Date(2026, 2, 20, 21, 0, 0, 0, time.UTC)
	meta := &fakeMetadata{
		movies: map[string]*trakt.Movie{
			"tt0133093": {IMDBId: "tt0133093", TMDBId: "603", Title: "The Matrix", Year: 1999, ReleaseDate: &released, Runtime: 136, Genres: []string{"action"}},
		},
		shows: map[string]*trakt.Show{
			"tt1234567": {
				IMDBId: "tt1234567",
				Title:  "Some Show",
				Year:   2026,
				Seasons: []trakt.Season{{
					Number: 1,
					Episodes: []trakt.Episode{
						{Season: 1, Number: 1, Title: "Pilot", FirstAired: &aired},
						{Season: 1, Number: 2, Title: "Second"},
					},
				}},
			},
		},
		tmdb: map[string]string{"603": "tt0133093"},
	}
	c := NewSyncController(h.db, []ContentSource{src}, meta, h.agent, h.cfg.Profile, []string{"1080p"}, zerolog.Nop())
	return h, meta, c
}

func TestSyncCreatesItems(t *testing.T) {
	src := &fakeSource{
		name:    "watchlist",
		enabled: true,
		wanted: []models.WantedItem{
			{TMDBId: "603", MediaType: models.MediaTypeMovie, Title: "The Matrix"},
			{IMDBId: "tt1234567", MediaType: models.MediaTypeShow, Title: "Some Show"},
		},
	}
	h, _, c := newSyncFixture(t, src)

	stats, err := c.SyncAll(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sources)
	assert.Equal(t, 2, stats.Wanted)
	assert.Equal(t, 3, stats.Created)

	movie, err := h.db.GetMediaByKey(h.ctx, models.Key{IMDBId: "tt0133093", MediaType: models.MediaTypeMovie, Version: "1080p"})
	require.NoError(t, err)
	assert.Equal(t, models.StateWanted, movie.State)
	assert.Equal(t, "603", movie.TMDBId)

	pilot, err := h.db.GetMediaByKey(h.ctx, models.Key{IMDBId: "tt1234567", MediaType: models.MediaTypeEpisode, Season: 1, Episode: 1, Version: "1080p"})
	require.NoError(t, err)
	assert.Equal(t, "21:00", pilot.Airtime)
	require.NotNil(t, pilot.ReleaseDate)
	assert.Equal(t, 20, pilot.ReleaseDate.Day())

	second, err := h.db.GetMediaByKey(h.ctx, models.Key{IMDBId: "tt1234567", MediaType: models.MediaTypeEpisode, Season: 1, Episode: 2, Version: "1080p"})
	require.NoError(t, err)
	assert.Nil(t, second.ReleaseDate)
	assert.False(t, second.IsReleased(h.clock.now()))

	sources, err := h.db.ListContentSources(h.ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.NotNil(t, sources[0].LastSyncedAt)
}

func TestSyncIsIdempotent(t *testing.T) {
	src := &fakeSource{
		name:    "watchlist",
		enabled: true,
		wanted:  []models.WantedItem{{IMDBId: "tt0133093", MediaType: models.MediaTypeMovie}},
	}
	h, meta, c := newSyncFixture(t, src)

	_, err := c.SyncAll(h.ctx)
	require.NoError(t, err)
	first, err := h.db.ListAll(h.ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	stats, err := c.SyncAll(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 1, stats.Skipped)

	meta.movies["tt0133093"].Runtime = 137
	stats, err = c.SyncAll(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 137, h.get(first[0].ID).Runtime)
	assert.Equal(t, models.StateWanted, h.get(first[0].ID).State)
}

func TestSyncLeavesCollectedAlone(t *testing.T) {
	src := &fakeSource{
		name:    "watchlist",
		enabled: true,
		wanted:  []models.WantedItem{{IMDBId: "tt0133093", MediaType: models.MediaTypeMovie}},
	}
	h, meta, c := newSyncFixture(t, src)
	_, err := c.SyncAll(h.ctx)
	require.NoError(t, err)
	items, err := h.db.ListAll(h.ctx)
	require.NoError(t, err)
	id := items[0].ID
	h.move(id, models.StateWanted, models.StateChecking, func(m *models.MediaItem) { m.FilledByTorrentID = "T" })
	h.move(id, models.StateChecking, models.StateCollected, func(m *models.MediaItem) { m.LocationOnDisk = "x.mkv" })
	before := h.get(id)

	meta.movies["tt0133093"].Title = "Matrix"
	stats, err := c.SyncAll(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)

	after := h.get(id)
	assert.Equal(t, "The Matrix", after.Title)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
	assert.Equal(t, models.StateCollected, after.State)
}

func TestSyncSkipsLibraryAndDisabledSources(t *testing.T) {
	src := &fakeSource{
		name:    "watchlist",
		enabled: true,
		wanted:  []models.WantedItem{{IMDBId: "tt0133093", MediaType: models.MediaTypeMovie}},
	}
	h, _, c := newSyncFixture(t, src)
	h.agent.collected = []library.Collected{{IMDBId: "tt0133093", MediaType: models.MediaTypeMovie}}

	stats, err := c.SyncAll(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Created)

	off := &fakeSource{name: "off", wanted: src.wanted}
	c = NewSyncController(h.db, []ContentSource{off}, &fakeMetadata{}, h.agent, h.cfg.Profile, []string{"1080p"}, zerolog.Nop())
	stats, err = c.SyncAll(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Sources)
	assert.Equal(t, 0, stats.Wanted)
}

func TestSyncRecordsSourceFailure(t *testing.T) {
	src := &fakeSource{name: "broken", enabled: true, err: errors.New("trakt down")}
	h, _, c := newSyncFixture(t, src)

	stats, err := c.SyncAll(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sources)

	sources, err := h.db.ListContentSources(h.ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "trakt down", sources[0].LastError)
}

func TestSyncVersionSelection(t *testing.T) {
	src := &fakeSource{
		name:     "list",
		enabled:  true,
		versions: map[string]bool{"1080p": true, "unknown": true},
		wanted:   []models.WantedItem{{IMDBId: "tt0133093", MediaType: models.MediaTypeMovie}},
	}
	h, _, c := newSyncFixture(t, src)

	stats, err := c.SyncAll(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	items, err := h.db.ListAll(h.ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1080p", items[0].Version)
}
