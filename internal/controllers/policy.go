package controllers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/exclusion"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/rs/zerolog"
)

// cascadeStates are the sibling states a blacklist cascade may touch. Checking is never included.
var cascadeStates = []models.State{
	models.StateWanted,
	models.StateScraping,
	models.StateAdding,
	models.StatePendingUncached,
	models.StateSleeping,
}

// Policy owns the exclusion, sleep and blacklist rules shared by every stage
type Policy struct {
	db        *models.Database
	notWanted *exclusion.Memory
	wakes     *exclusion.WakeCounter
	wakeLimit int
	sleepFor  time.Duration
	oldAfter  time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// NewPolicy creates the shared policy
func NewPolicy(db *models.Database, notWanted *exclusion.Memory, wakes *exclusion.WakeCounter, cfg *config.Config, logger zerolog.Logger) *Policy {
	p := &Policy{
		db:        db,
		notWanted: notWanted,
		wakes:     wakes,
		wakeLimit: cfg.WakeLimit,
		sleepFor:  cfg.SleepDuration,
		oldAfter:  cfg.OldAfter,
		now:       time.Now,
		logger:    logger.With().Str("component", "policy").Logger(),
	}
	if p.wakeLimit <= 0 {
		p.wakeLimit = 3
	}
	if p.sleepFor <= 0 {
		p.sleepFor = 30 * time.Minute
	}
	if p.oldAfter <= 0 {
		p.oldAfter = 7 * 24 * time.Hour
	}
	return p
}

// SetClock overrides the time source
func (p *Policy) SetClock(now func() time.Time) {
	p.now = now
}

// Now returns the policy clock
func (p *Policy) Now() time.Time {
	return p.now()
}

// IsOld reports whether the item was released long enough ago to give up on it
func (p *Policy) IsOld(item *models.MediaItem) bool {
	return item.IsPast(p.now(), p.oldAfter)
}

// Excluded reports NotWanted membership
func (p *Policy) Excluded(hash, url string) bool {
	return p.notWanted.Excluded(hash, url)
}

// Reject records hash/url as not wanted. Additions inside the first day after release are refused silently.
func (p *Policy) Reject(item *models.MediaItem, hash, url string) {
	err := p.notWanted.Add(item, hash, url)
	if err != nil && !errors.Is(err, exclusion.ErrTooEarly) {
		p.logger.Warn().Err(err).Uint64("item_id", item.ID).Str("hash", hash).Msg("Failed to record not wanted release")
	}
}

// Succeeded resets the wake count of an item that reached Collected
func (p *Policy) Succeeded(item *models.MediaItem) {
	if err := p.wakes.Clear(item.ID); err != nil {
		p.logger.Warn().Err(err).Uint64("item_id", item.ID).Msg("Failed to clear wake count")
	}
}

// Sleep moves the item to Sleeping and increments its wake count
func (p *Policy) Sleep(ctx context.Context, item *models.MediaItem, from models.State, cause string) (Outcome, error) {
	count := p.wakes.Get(item.ID) + 1
	if _, err := p.db.Transition(ctx, item.ID, from, models.StateSleeping, cause, func(m *models.MediaItem) {
		m.SleepCycles = count
	}); err != nil {
		return Outcome{}, err
	}
	if _, err := p.wakes.Increment(item.ID); err != nil {
		p.logger.Warn().Err(err).Uint64("item_id", item.ID).Msg("Failed to persist wake count")
	}
	return Outcome{Kind: Slept, Next: models.StateSleeping, Cause: cause}, nil
}

// Exhausted handles an item whose candidates all failed: old items are blacklisted with their old siblings,
// anything else sleeps.
func (p *Policy) Exhausted(ctx context.Context, item *models.MediaItem, from models.State, cause string) (Outcome, error) {
	if p.IsOld(item) {
		return p.Blacklist(ctx, item, from, cause+", released more than "+p.oldAfter.String()+" ago")
	}
	return p.Sleep(ctx, item, from, cause)
}

// Blacklist moves the item to Blacklisted. Episodes take their same-season same-version siblings along
// when those are old as well.
func (p *Policy) Blacklist(ctx context.Context, item *models.MediaItem, from models.State, cause string) (Outcome, error) {
	reqs := []models.TransitionRequest{{ID: item.ID, From: from, To: models.StateBlacklisted, Cause: cause}}

	if item.IsEpisode() {
		siblings, err := p.db.ListSiblings(ctx, item, cascadeStates...)
		if err != nil {
			return Outcome{}, err
		}
		for _, s := range siblings {
			if s.Season != item.Season || !p.IsOld(s) {
				continue
			}
			reqs = append(reqs, models.TransitionRequest{
				ID:    s.ID,
				From:  s.State,
				To:    models.StateBlacklisted,
				Cause: fmt.Sprintf("blacklist cascade from item %d", item.ID),
			})
		}
	}

	items, err := p.db.TransitionMany(ctx, reqs)
	if errors.Is(err, models.ErrStateConflict) && len(reqs) > 1 {
		// a sibling moved meanwhile; blacklist the item alone
		p.logger.Debug().Uint64("item_id", item.ID).Msg("Sibling changed during cascade, blacklisting item alone")
		items, err = p.db.TransitionMany(ctx, reqs[:1])
	}
	if err != nil {
		return Outcome{}, err
	}

	for _, m := range items {
		if err := p.wakes.Clear(m.ID); err != nil {
			p.logger.Warn().Err(err).Uint64("item_id", m.ID).Msg("Failed to clear wake count")
		}
	}
	if len(items) > 1 {
		p.logger.Info().Uint64("item_id", item.ID).Int("siblings", len(items)-1).Msg("Blacklist cascaded to siblings")
	}
	return Outcome{Kind: Blacklisted, Next: models.StateBlacklisted, Cause: cause}, nil
}

// Wake handles a Sleeping item: once its nap is over it goes back to Wanted, or to Blacklisted when
// it already slept wake_limit times.
func (p *Policy) Wake(ctx context.Context, item *models.MediaItem) (Outcome, error) {
	if p.now().Sub(item.StateChangedAt) < p.sleepFor {
		return waiting(models.StateSleeping, "still sleeping"), nil
	}
	count := p.wakes.Get(item.ID)
	if count >= p.wakeLimit {
		return p.Blacklist(ctx, item, models.StateSleeping, fmt.Sprintf("woke %d times without result", count))
	}
	if _, err := p.db.Transition(ctx, item.ID, models.StateSleeping, models.StateWanted, "woke up", nil); err != nil {
		return Outcome{}, err
	}
	return advanced(models.StateWanted, "woke up"), nil
}
