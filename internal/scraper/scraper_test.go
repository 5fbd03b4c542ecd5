package scraper

import (
	"context"
	"errors"
	"testing"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/services/indexers"
	"github.com/amaumene/debridarr/internal/utils"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndexer struct {
	name    string
	results []models.ScrapeResult
	err     error
	got     indexers.SearchRequest
}

func (f *fakeIndexer) Name() string { return f.name }

func (f *fakeIndexer) Search(_ context.Context, req indexers.SearchRequest) ([]models.ScrapeResult, error) {
	f.got = req
	return f.results, f.err
}

type fakeExcluder map[string]bool

func (f fakeExcluder) Excluded(hash, url string) bool {
	return f[hash] || f[url]
}

func seeders(n int) *int { return &n }

func profile(t *testing.T, mutate func(*config.VersionProfile)) *config.VersionProfile {
	t.Helper()
	p := config.DefaultProfile()
	p.UncachedHandling = models.UncachedHybrid
	if mutate != nil {
		mutate(&p)
	}
	require.NoError(t, p.Compile())
	return &p
}

func movie() *models.MediaItem {
	return &models.MediaItem{ID: 1, IMDBId: "tt0133093", MediaType: models.MediaTypeMovie, Title: "The Matrix", Year: 1999, Version: "default", Runtime: 136}
}

func episode() *models.MediaItem {
	return &models.MediaItem{ID: 2, IMDBId: "tt0903747", MediaType: models.MediaTypeEpisode, Title: "Breaking Bad", Year: 2008, Season: 2, Episode: 3, Version: "default", Runtime: 47}
}

func result(title, hash string, size float64, seeds *int) models.ScrapeResult {
	return models.ScrapeResult{Title: title, Hash: hash, MagnetOrURL: "magnet:?xt=urn:btih:" + hash, SizeGB: size, Seeders: seeds, Source: "fake"}
}

func reasons(filtered []models.ScrapeResult) map[string]string {
	out := make(map[string]string, len(filtered))
	for _, r := range filtered {
		out[r.Hash] = r.Reason
	}
	return out
}

func TestScrapeDedupesAcrossIndexers(t *testing.T) {
	a := &fakeIndexer{name: "a", results: []models.ScrapeResult{
		{Title: "The.Matrix.1999.1080p.BluRay.x264-GRP", Hash: "AAAA", MagnetOrURL: "https://x/1.torrent", Seeders: seeders(5)},
	}}
	b := &fakeIndexer{name: "b", results: []models.ScrapeResult{
		{Title: "The.Matrix.1999.1080p.BluRay.x264-GRP", Hash: "aaaa", MagnetOrURL: "magnet:?xt=urn:btih:aaaa", SizeGB: 8, Seeders: seeders(50)},
	}}
	s := New([]indexers.Indexer{a, b}, nil, nil, false, zerolog.Nop())

	results, filtered, err := s.Scrape(context.Background(), movie(), profile(t, nil), Options{})
	require.NoError(t, err)
	assert.Empty(t, filtered)
	require.Len(t, results, 1)
	assert.Equal(t, "aaaa", results[0].Hash)
	assert.Equal(t, 50, results[0].SeederCount())
	assert.Equal(t, 8.0, results[0].SizeGB)
	assert.Equal(t, "magnet:?xt=urn:btih:aaaa", results[0].MagnetOrURL)
	assert.Equal(t, "tt0133093", a.got.IMDBID)
}

func TestScrapeHardFilters(t *testing.T) {
	idx := &fakeIndexer{name: "a", results: []models.ScrapeResult{
		result("The.Matrix.1999.1080p.BluRay.x264-GRP", "ok", 8, seeders(10)),
		result("The.Matrix.1999.2160p.UHD.BluRay-GRP", "uhd", 40, seeders(10)),
		result("The.Matrix.1999.1080p.WEB-DL-GRP", "small", 0.2, seeders(10)),
		result("The.Matrix.1999.1080p.BluRay.REMUX-GRP", "big", 35, seeders(10)),
		result("The.Matrix.1999.1080p.CAM-GRP", "cam", 3, seeders(10)),
		result("The.Matrix.1999.1080p.BluRay.x264-BADGRP", "black", 3, seeders(10)),
		result("The.Matrix.1999.1080p.BluRay.x265-GRP", "dead", 3, seeders(0)),
		result("The.Matrix.1999.1080p.BluRay.DTS-GRP", "unwanted", 3, seeders(10)),
		result("The.Matrix.Resurrections.2021.1080p.BluRay-GRP", "year", 3, seeders(10)),
		result("Totally.Different.Film.1999.1080p.BluRay-GRP", "title", 3, seeders(10)),
		result("The.Matrix.S01E01.1080p.WEB-GRP", "episodic", 3, seeders(10)),
	}}
	p := profile(t, func(p *config.VersionProfile) {
		p.MinSizeGB = 1
		p.MaxSizeGB = 30
		p.FilterOut = []string{`(?i)\bCAM\b`}
	})
	s := New([]indexers.Indexer{idx}, fakeExcluder{"unwanted": true}, utils.NewBlacklist("badgrp"), true, zerolog.Nop())

	results, filtered, err := s.Scrape(context.Background(), movie(), p, Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Hash)

	got := reasons(filtered)
	assert.Equal(t, ReasonResolution, got["uhd"])
	assert.Equal(t, ReasonTooSmall, got["small"])
	assert.Equal(t, ReasonTooLarge, got["big"])
	assert.Contains(t, got["cam"], "filter_out")
	assert.Equal(t, "blacklisted term badgrp", got["black"])
	assert.Equal(t, ReasonNoSeeders, got["dead"])
	assert.Equal(t, ReasonNotWanted, got["unwanted"])
	assert.Equal(t, ReasonYear, got["year"])
	assert.Contains(t, got["title"], ReasonTitle)
	assert.Equal(t, ReasonEpisodic, got["episodic"])
}

func TestScrapeUnknownSizeAndSeedersPass(t *testing.T) {
	idx := &fakeIndexer{name: "a", results: []models.ScrapeResult{
		result("The.Matrix.1999.1080p.BluRay.x264-GRP", "unknown", 0, nil),
	}}
	s := New([]indexers.Indexer{idx}, nil, nil, true, zerolog.Nop())

	results, _, err := s.Scrape(context.Background(), movie(), profile(t, func(p *config.VersionProfile) { p.MinSizeGB = 1 }), Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestScrapeExemptHashSurvivesNotWanted(t *testing.T) {
	idx := &fakeIndexer{name: "a", results: []models.ScrapeResult{
		result("The.Matrix.1999.1080p.BluRay.x264-GRP", "current", 8, seeders(3)),
		result("The.Matrix.1999.1080p.WEB-DL-GRP", "old", 5, seeders(3)),
	}}
	s := New([]indexers.Indexer{idx}, fakeExcluder{"current": true, "old": true}, nil, false, zerolog.Nop())

	results, filtered, err := s.Scrape(context.Background(), movie(), profile(t, nil), Options{Exempt: "current"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "current", results[0].Hash)
	assert.Equal(t, ReasonNotWanted, reasons(filtered)["old"])
}

func TestScrapeExemptURLSurvivesNotWanted(t *testing.T) {
	held := "https://idx/held.torrent"
	idx := &fakeIndexer{name: "torznab", results: []models.ScrapeResult{
		{Title: "The.Matrix.1999.1080p.BluRay.x264-GRP", MagnetOrURL: held, SizeGB: 8, Seeders: seeders(20)},
		result("The.Matrix.1999.720p.WEB.x264-LOW", "bbbb", 3, seeders(20)),
	}}
	s := New([]indexers.Indexer{idx}, fakeExcluder{held: true}, nil, false, zerolog.Nop())

	results, filtered, err := s.Scrape(context.Background(), movie(), profile(t, nil), Options{Exempt: "aaaa", ExemptURL: held})
	require.NoError(t, err)
	assert.Empty(t, filtered)
	require.Len(t, results, 2)
	assert.Equal(t, held, results[0].MagnetOrURL)

	_, filtered, err = s.Scrape(context.Background(), movie(), profile(t, nil), Options{Exempt: "aaaa"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, ReasonNotWanted, filtered[0].Reason)
}

func TestScrapeEpisodeMatching(t *testing.T) {
	idx := &fakeIndexer{name: "a", results: []models.ScrapeResult{
		result("Breaking.Bad.S02E03.1080p.WEB-DL-GRP", "exact", 2, seeders(10)),
		result("Breaking.Bad.S02E04.1080p.WEB-DL-GRP", "otherep", 2, seeders(10)),
		result("Breaking.Bad.S03E03.1080p.WEB-DL-GRP", "otherseason", 2, seeders(10)),
		result("Breaking.Bad.S02.1080p.WEB-DL-GRP", "pack", 40, seeders(10)),
		result("Breaking.Bad.S01-S03.1080p.BluRay-GRP", "range", 120, seeders(10)),
		result("Breaking.Bad.1080p.WEB-DL-GRP", "bare", 2, seeders(10)),
	}}
	s := New([]indexers.Indexer{idx}, nil, nil, false, zerolog.Nop())
	p := profile(t, func(p *config.VersionProfile) { p.MaxSizeGB = 10 })

	t.Run("single episodes only", func(t *testing.T) {
		results, filtered, err := s.Scrape(context.Background(), episode(), p, Options{})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "exact", results[0].Hash)

		got := reasons(filtered)
		assert.Equal(t, ReasonWrongEpisode, got["otherep"])
		assert.Equal(t, ReasonWrongSeason, got["otherseason"])
		assert.Equal(t, ReasonSeasonPack, got["pack"])
		assert.Equal(t, ReasonSeasonPack, got["range"])
		assert.Equal(t, ReasonNoEpisodeInfo, got["bare"])
	})

	t.Run("packs allowed", func(t *testing.T) {
		results, _, err := s.Scrape(context.Background(), episode(), p, Options{Multi: true})
		require.NoError(t, err)
		require.Len(t, results, 3)

		byHash := map[string]models.ScrapeResult{}
		for _, r := range results {
			byHash[r.Hash] = r
		}
		assert.False(t, byHash["exact"].IsMultiPack)
		// packs escape the size ceiling
		assert.True(t, byHash["pack"].IsMultiPack)
		assert.True(t, byHash["range"].IsMultiPack)
	})
}

func TestScrapeRanking(t *testing.T) {
	idx := &fakeIndexer{name: "a", results: []models.ScrapeResult{
		result("The.Matrix.1999.720p.BluRay.x264-GRP", "720", 4, seeders(100)),
		result("The.Matrix.1999.1080p.BluRay.x264-GRP", "1080", 8, seeders(10)),
		result("The.Matrix.1999.1080p.BluRay.x264.PROPER-GRP", "proper", 8, seeders(10)),
	}}
	p := profile(t, func(p *config.VersionProfile) {
		p.PreferredFilterIn = []config.WeightedTerm{{Term: "proper", Weight: 50}}
	})
	s := New([]indexers.Indexer{idx}, nil, nil, false, zerolog.Nop())

	results, _, err := s.Scrape(context.Background(), movie(), p, Options{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"proper", "1080", "720"}, []string{results[0].Hash, results[1].Hash, results[2].Hash})
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSortResultsTieBreaks(t *testing.T) {
	results := []models.ScrapeResult{
		{Hash: "small", Score: 10, SizeGB: 1, Seeders: seeders(5)},
		{Hash: "big", Score: 10, SizeGB: 9, Seeders: seeders(5)},
		{Hash: "seeded", Score: 10, SizeGB: 1, Seeders: seeders(50)},
		{Hash: "best", Score: 20},
	}
	sortResults(results)
	assert.Equal(t, "best", results[0].Hash)
	assert.Equal(t, "seeded", results[1].Hash)
	assert.Equal(t, "big", results[2].Hash)
	assert.Equal(t, "small", results[3].Hash)
}

func TestScrapeAllIndexersFailed(t *testing.T) {
	s := New([]indexers.Indexer{
		&fakeIndexer{name: "a", err: errors.New("boom")},
		&fakeIndexer{name: "b", err: errors.New("bang")},
	}, nil, nil, false, zerolog.Nop())

	_, _, err := s.Scrape(context.Background(), movie(), profile(t, nil), Options{})
	require.ErrorIs(t, err, ErrAllIndexersFailed)
}

func TestScrapePartialFailureStillReturns(t *testing.T) {
	s := New([]indexers.Indexer{
		&fakeIndexer{name: "a", err: errors.New("boom")},
		&fakeIndexer{name: "b", results: []models.ScrapeResult{result("The.Matrix.1999.1080p.BluRay-GRP", "x", 5, nil)}},
	}, nil, nil, false, zerolog.Nop())

	results, _, err := s.Scrape(context.Background(), movie(), profile(t, nil), Options{})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestHDRScore(t *testing.T) {
	assert.Equal(t, 100.0, hdrScore(true, true))
	assert.Equal(t, 50.0, hdrScore(false, true))
	assert.Equal(t, 0.0, hdrScore(true, false))
	assert.Equal(t, 100.0, hdrScore(false, false))
}
