package controllers

import (
	"context"
	"errors"
	"fmt"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/scraper"
	"github.com/rs/zerolog"
)

// ScrapingController runs the scrape for items in Scraping
type ScrapingController struct {
	db       *models.Database
	scraper  Scraper
	profiles Profiles
	policy   *Policy
	logger   zerolog.Logger
}

// NewScrapingController creates a new scraping controller
func NewScrapingController(db *models.Database, s Scraper, profiles Profiles, policy *Policy, logger zerolog.Logger) *ScrapingController {
	return &ScrapingController{
		db:       db,
		scraper:  s,
		profiles: profiles,
		policy:   policy,
		logger:   logger.With().Str("component", "scraping").Logger(),
	}
}

// Process scrapes one item. Surviving results move it to Adding, none puts it to sleep,
// and an indexer outage sends it back to Wanted untouched.
func (c *ScrapingController) Process(ctx context.Context, item *models.MediaItem) (Outcome, error) {
	profile := c.profiles(item.Version)
	if profile == nil {
		cause := fmt.Sprintf("version %q is not configured", item.Version)
		return c.policy.Blacklist(ctx, item, models.StateScraping, cause)
	}

	results, filtered, err := c.scraper.Scrape(ctx, item, profile, scraper.Options{Multi: item.IsEpisode()})
	if err != nil {
		if !errors.Is(err, scraper.ErrAllIndexersFailed) && ctx.Err() == nil {
			c.logger.Warn().Err(err).Uint64("item_id", item.ID).Msg("Scrape failed")
		}
		if _, terr := c.db.Transition(ctx, item.ID, models.StateScraping, models.StateWanted, "scrape failed: "+err.Error(), nil); terr != nil {
			return Outcome{}, terr
		}
		return retry(models.StateWanted, err.Error()), nil
	}

	if len(results) == 0 {
		c.logger.Info().
			Uint64("item_id", item.ID).
			Str("item", item.Label()).
			Int("filtered", len(filtered)).
			Msg("No usable scrape results")
		return c.policy.Sleep(ctx, item, models.StateScraping, fmt.Sprintf("no results (%d filtered)", len(filtered)))
	}

	_, err = c.db.Transition(ctx, item.ID, models.StateScraping, models.StateAdding,
		fmt.Sprintf("%d results", len(results)), func(m *models.MediaItem) {
			m.ScrapeResults = results
		})
	if err != nil {
		return Outcome{}, err
	}
	return advanced(models.StateAdding, fmt.Sprintf("%d results", len(results))), nil
}
