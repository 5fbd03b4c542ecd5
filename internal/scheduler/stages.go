package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/amaumene/debridarr/internal/controllers"
	"github.com/amaumene/debridarr/internal/models"
	"golang.org/x/sync/errgroup"
)

type handler func(ctx context.Context, item *models.MediaItem) (controllers.Outcome, error)

type seasonKey struct {
	imdb   string
	season int
}

// handle runs one item through a stage handler. Panics are contained to the item, which keeps its state.
func (s *Scheduler) handle(ctx context.Context, stage string, item *models.MediaItem, fn handler) {
	log := s.logger.With().Str("stage", stage).Uint64("item_id", item.ID).Str("item", item.Label()).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Item handler panicked, leaving item in place")
		}
	}()

	ctx, span := s.tracer.Start(ctx, stage+".item")
	defer span.End()

	out, err := fn(ctx, item)
	switch {
	case errors.Is(err, models.ErrStateConflict):
		log.Debug().Msg("Item moved concurrently, skipping")
	case err != nil:
		span.RecordError(err)
		log.Error().Err(err).Msg("Item handler failed")
	case out.Kind == controllers.Retry:
		log.Warn().Str("next", string(out.Next)).Str("cause", out.Cause).Msg("Item will be retried")
	case out.Kind == controllers.Waiting:
		log.Trace().Str("cause", out.Cause).Msg("Item waiting")
	default:
		log.Debug().Str("outcome", string(out.Kind)).Str("next", string(out.Next)).Str("cause", out.Cause).Msg("Item processed")
	}
}

// processWanted re-checks Unreleased items, parks items that are not out yet and dispatches the rest to
// Scraping up to the cap. Only one episode per (show, season) may be in flight at a time.
func (s *Scheduler) processWanted(ctx context.Context) error {
	now := s.now()

	unreleased, err := s.db.ListByState(ctx, models.StateUnreleased, 0)
	if err != nil {
		return err
	}
	for _, item := range unreleased {
		if !item.IsReleased(now) {
			continue
		}
		if _, err := s.db.Transition(ctx, item.ID, models.StateUnreleased, models.StateWanted, "release date reached", nil); err != nil && !errors.Is(err, models.ErrStateConflict) {
			return err
		}
	}

	inFlight, err := s.db.ListByState(ctx, models.StateScraping, 0)
	if err != nil {
		return err
	}
	budget := s.scrapingCap - len(inFlight)

	wanted, err := s.db.ListByState(ctx, models.StateWanted, 0)
	if err != nil {
		return err
	}
	claimed := map[seasonKey]bool{}
	for _, item := range wanted {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !item.IsReleased(now) {
			if _, err := s.db.Transition(ctx, item.ID, models.StateWanted, models.StateUnreleased, "not released yet", nil); err != nil && !errors.Is(err, models.ErrStateConflict) {
				return err
			}
			continue
		}
		if budget <= 0 {
			continue
		}
		if item.IsEpisode() {
			key := seasonKey{item.IMDBId, item.Season}
			if claimed[key] {
				continue
			}
			busy, err := s.db.SeasonBusy(ctx, item.IMDBId, item.Season, item.ID)
			if err != nil {
				return err
			}
			if busy {
				continue
			}
			claimed[key] = true
		}
		if _, err := s.db.Transition(ctx, item.ID, models.StateWanted, models.StateScraping, "dispatched", nil); err != nil {
			if errors.Is(err, models.ErrStateConflict) {
				continue
			}
			return err
		}
		budget--
	}
	return nil
}

// fanout runs fn over items with at most limit in parallel
func (s *Scheduler) fanout(ctx context.Context, stage string, items []*models.MediaItem, limit int, fn handler) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, item := range items {
		g.Go(func() error {
			s.handle(gctx, stage, item, fn)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) sequential(ctx context.Context, stage string, items []*models.MediaItem, fn handler) error {
	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.handle(ctx, stage, item, fn)
	}
	return nil
}

func (s *Scheduler) processScraping(ctx context.Context) error {
	items, err := s.db.ListByState(ctx, models.StateScraping, s.scrapingCap)
	if err != nil {
		return err
	}
	return s.fanout(ctx, "scraping", items, s.scrapingCap, s.pipeline.Scraping.Process)
}

func (s *Scheduler) processAdding(ctx context.Context) error {
	if n, err := s.pipeline.Adding.ResumeParked(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to resume parked items")
	} else if n > 0 {
		s.logger.Info().Int("count", n).Msg("Resumed parked uncached items")
	}

	items, err := s.db.ListByState(ctx, models.StateAdding, 0)
	if err != nil {
		return err
	}
	return s.fanout(ctx, "adding", items, s.addingWorkers, s.pipeline.Adding.Process)
}

func (s *Scheduler) processChecking(ctx context.Context) error {
	items, err := s.db.ListByState(ctx, models.StateChecking, 0)
	if err != nil {
		return err
	}
	return s.sequential(ctx, "checking", items, s.pipeline.Checking.Process)
}

func (s *Scheduler) processSleeping(ctx context.Context) error {
	items, err := s.db.ListByState(ctx, models.StateSleeping, 0)
	if err != nil {
		return err
	}
	return s.sequential(ctx, "sleeping", items, s.pipeline.Policy.Wake)
}

// processUpgrading verifies running upgrades and re-scrapes recently collected items that are due
func (s *Scheduler) processUpgrading(ctx context.Context) error {
	upgrade := s.pipeline.Upgrade
	upgrading, err := s.db.ListByState(ctx, models.StateUpgrading, 0)
	if err != nil {
		return err
	}
	if err := s.sequential(ctx, "upgrade_verify", upgrading, upgrade.Verify); err != nil {
		return err
	}

	recent, err := s.db.ListCollectedSince(ctx, s.now().Add(-upgrade.Window()))
	if err != nil {
		return err
	}
	var due []*models.MediaItem
	for _, item := range recent {
		if upgrade.Due(item) {
			due = append(due, item)
		}
	}
	if len(due) == 0 {
		return nil
	}
	s.logger.Debug().Int("count", len(due)).Msg("Checking collected items for upgrades")
	if err := s.fanout(ctx, "upgrade_check", due, s.addingWorkers, upgrade.Check); err != nil {
		return fmt.Errorf("upgrade check: %w", err)
	}
	return nil
}
