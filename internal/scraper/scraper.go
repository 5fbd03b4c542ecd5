package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/services/indexers"
	"github.com/amaumene/debridarr/internal/utils"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrAllIndexersFailed is returned when no indexer answered; the item should be retried rather than slept
var ErrAllIndexersFailed = errors.New("all indexers failed")

// Excluder answers NotWanted membership
type Excluder interface {
	Excluded(hash, url string) bool
}

// Options tune one scrape
type Options struct {
	// Multi allows season packs for episodes
	Multi bool
	// Exempt and ExemptURL identify the release an item currently holds; it is never rejected as NotWanted
	Exempt    string
	ExemptURL string
}

// exempt reports whether r is the release named by Exempt or ExemptURL
func (o Options) exempt(r *models.ScrapeResult) bool {
	if o.Exempt != "" && strings.EqualFold(r.Hash, o.Exempt) {
		return true
	}
	return o.ExemptURL != "" && r.MagnetOrURL == o.ExemptURL
}

// Scraper fans a request out to every indexer and ranks the merged results against a version profile
type Scraper struct {
	indexers       []indexers.Indexer
	notWanted      Excluder
	blacklist      *utils.Blacklist
	requireSeeders bool
	observe        func(time.Duration)
	tracer         trace.Tracer
	logger         zerolog.Logger
}

// New creates a scraper
func New(idx []indexers.Indexer, notWanted Excluder, blacklist *utils.Blacklist, requireSeeders bool, logger zerolog.Logger) *Scraper {
	return &Scraper{
		indexers:       idx,
		notWanted:      notWanted,
		blacklist:      blacklist,
		requireSeeders: requireSeeders,
		observe:        func(time.Duration) {},
		tracer:         utils.Tracer(),
		logger:         logger.With().Str("component", "scraper").Logger(),
	}
}

// SetObserver installs a duration observer (metrics)
func (s *Scraper) SetObserver(o func(time.Duration)) {
	if o != nil {
		s.observe = o
	}
}

// Scrape returns the ranked surviving results and the filtered-out ones (with Reason set)
func (s *Scraper) Scrape(ctx context.Context, item *models.MediaItem, profile *config.VersionProfile, opts Options) (results, filtered []models.ScrapeResult, err error) {
	start := time.Now()
	defer func() { s.observe(time.Since(start)) }()

	ctx, span := s.tracer.Start(ctx, "scraper.scrape", trace.WithAttributes(
		attribute.String("imdb_id", item.IMDBId),
		attribute.String("version", item.Version),
	))
	defer span.End()

	raw, err := s.fanout(ctx, searchRequest(item))
	if err != nil {
		return nil, nil, err
	}
	merged := dedupe(raw)

	for _, r := range merged {
		rel := utils.ParseRelease(r.Title)
		r.Parsed = toParsed(rel)
		if reason := s.reject(item, profile, &r, rel, opts); reason != "" {
			r.Reason = reason
			filtered = append(filtered, r)
			continue
		}
		results = append(results, r)
	}

	rank(item, profile, results)

	span.SetAttributes(attribute.Int("results", len(results)), attribute.Int("filtered", len(filtered)))
	s.logger.Info().
		Uint64("item_id", item.ID).
		Str("item", item.Label()).
		Int("raw", len(raw)).
		Int("results", len(results)).
		Int("filtered", len(filtered)).
		Msg("Scrape completed")
	return results, filtered, nil
}

func searchRequest(item *models.MediaItem) indexers.SearchRequest {
	return indexers.SearchRequest{
		IMDBID:    item.IMDBId,
		Title:     item.Title,
		Year:      item.Year,
		MediaType: item.MediaType,
		Season:    item.Season,
		Episode:   item.Episode,
	}
}

// fanout queries every indexer concurrently. Individual failures are logged; only a total failure is an error.
func (s *Scraper) fanout(ctx context.Context, req indexers.SearchRequest) ([]models.ScrapeResult, error) {
	if len(s.indexers) == 0 {
		return nil, fmt.Errorf("no indexer configured")
	}

	var (
		mu       sync.Mutex
		all      []models.ScrapeResult
		failures int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(s.indexers))
	for _, idx := range s.indexers {
		g.Go(func() error {
			res, err := idx.Search(gctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				s.logger.Warn().Err(err).Str("indexer", idx.Name()).Str("imdb_id", req.IMDBID).Msg("Indexer search failed")
				return nil
			}
			all = append(all, res...)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failures == len(s.indexers) {
		return nil, ErrAllIndexersFailed
	}
	return all, nil
}

// dedupe merges results sharing an info-hash (or, without one, a normalised title)
func dedupe(in []models.ScrapeResult) []models.ScrapeResult {
	index := make(map[string]int, len(in))
	out := make([]models.ScrapeResult, 0, len(in))
	for _, r := range in {
		r.Hash = strings.ToLower(strings.TrimSpace(r.Hash))
		key := "hash:" + r.Hash
		if r.Hash == "" {
			key = "title:" + utils.NormalizeTitle(r.Title)
		}
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, r)
			continue
		}
		kept := &out[i]
		if r.SeederCount() > kept.SeederCount() {
			kept.Seeders = r.Seeders
		}
		if kept.SizeGB == 0 {
			kept.SizeGB = r.SizeGB
		}
		// a magnet beats a .torrent URL
		if !strings.HasPrefix(kept.MagnetOrURL, "magnet:") && strings.HasPrefix(r.MagnetOrURL, "magnet:") {
			kept.MagnetOrURL = r.MagnetOrURL
		}
	}
	return out
}

func toParsed(rel utils.Release) models.ParsedRelease {
	return models.ParsedRelease{
		Title:      rel.Title,
		Year:       rel.Year,
		Seasons:    rel.Seasons,
		Episodes:   rel.Episodes,
		Resolution: rel.Resolution,
		HDR:        rel.HDR,
		Codec:      rel.Codec,
	}
}

// sortResults orders by score, then seeders, then size
func sortResults(results []models.ScrapeResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.SeederCount() != b.SeederCount() {
			return a.SeederCount() > b.SeederCount()
		}
		return a.SizeGB > b.SizeGB
	})
}
