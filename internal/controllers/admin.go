package controllers

import (
	"context"
	"errors"
	"fmt"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/rs/zerolog"
)

// ErrNotRequeueable is returned when a rescrape is asked for an item that is still moving through the pipeline
var ErrNotRequeueable = errors.New("item cannot be rescraped in its current state")

var requeueable = map[models.State]bool{
	models.StateCollected:   true,
	models.StateBlacklisted: true,
	models.StateUnreleased:  true,
}

// Admin carries out operator actions on single items
type Admin struct {
	db     *models.Database
	debrid Debrid
	policy *Policy
	logger zerolog.Logger
}

// NewAdmin creates the admin action set
func NewAdmin(db *models.Database, d Debrid, policy *Policy, logger zerolog.Logger) *Admin {
	return &Admin{
		db:     db,
		debrid: d,
		policy: policy,
		logger: logger.With().Str("component", "admin").Logger(),
	}
}

// Rescrape sends a Collected, Blacklisted or Unreleased item back to Wanted with a fresh wake count
func (a *Admin) Rescrape(ctx context.Context, id uint64) (*models.MediaItem, error) {
	item, err := a.db.GetMediaByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !requeueable[item.State] {
		return nil, fmt.Errorf("%w: %s", ErrNotRequeueable, item.State)
	}

	updated, err := a.db.Transition(ctx, item.ID, item.State, models.StateWanted, "admin rescrape", func(m *models.MediaItem) {
		m.ClearFill()
		m.SleepCycles = 0
		m.BlacklistedAt = nil
	})
	if err != nil {
		return nil, err
	}
	a.policy.Succeeded(updated)
	return updated, nil
}

// Purge deletes an item. Its provider torrent is removed when no other item references it.
func (a *Admin) Purge(ctx context.Context, id uint64) error {
	item, err := a.db.GetMediaByID(ctx, id)
	if err != nil {
		return err
	}
	if err := a.db.DeleteMedia(ctx, item.ID); err != nil {
		return err
	}
	a.policy.Succeeded(item)

	for _, torrentID := range []string{item.FilledByTorrentID, item.UpgradingFromTorrentID} {
		if torrentID == "" {
			continue
		}
		users, err := a.db.ListByTorrentID(ctx, torrentID)
		if err != nil {
			a.logger.Warn().Err(err).Str("torrent_id", torrentID).Msg("Failed to look up torrent users")
			continue
		}
		if len(users) > 0 {
			continue
		}
		if err := a.debrid.RemoveTorrent(ctx, torrentID); err != nil {
			a.logger.Warn().Err(err).Str("torrent_id", torrentID).Msg("Failed to remove torrent of purged item")
		}
	}

	a.logger.Info().Uint64("item_id", item.ID).Str("item", item.Label()).Str("state", string(item.State)).Msg("Item purged")
	return nil
}

// PurgeState deletes every item in state and returns how many went
func (a *Admin) PurgeState(ctx context.Context, state models.State) (int, error) {
	items, err := a.db.ListByState(ctx, state, 0)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, item := range items {
		if err := a.Purge(ctx, item.ID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return purged, err
		}
		purged++
	}
	return purged, nil
}
