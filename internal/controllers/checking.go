package controllers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/services/debrid"
	"github.com/amaumene/debridarr/internal/services/library"
	"github.com/rs/zerolog"
)

// CheckingController waits for filled torrents to show up under the debrid mount
type CheckingController struct {
	db      *models.Database
	debrid  Debrid
	mount   *library.Mount
	links   *library.Symlinks // nil when the library is the mount itself
	agent   library.Agent
	policy  *Policy
	timeout time.Duration
	logger  zerolog.Logger
}

// NewCheckingController creates a new checking controller. links is nil in Plex mode.
func NewCheckingController(db *models.Database, d Debrid, mount *library.Mount, links *library.Symlinks, agent library.Agent, policy *Policy, cfg *config.Config, logger zerolog.Logger) *CheckingController {
	timeout := cfg.CheckingTimeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &CheckingController{
		db:      db,
		debrid:  d,
		mount:   mount,
		links:   links,
		agent:   agent,
		policy:  policy,
		timeout: timeout,
		logger:  logger.With().Str("component", "checking").Logger(),
	}
}

// place makes a located mount file visible in the library and returns (location_on_disk, original_path_for_symlink)
func place(links *library.Symlinks, item *models.MediaItem, rel string) (string, string, error) {
	if links == nil {
		return rel, "", nil
	}
	link, err := links.Link(item, rel)
	if err != nil {
		return "", "", err
	}
	return link, rel, nil
}

// libraryPath is the path the library agent knows a location by
func libraryPath(mount *library.Mount, links *library.Symlinks, location string) string {
	if links != nil {
		return location
	}
	return mount.Abs(location)
}

// Process looks for the item's file. Found files move the item to Collected; after the timeout
// the item goes back to Wanted and the release is excluded.
func (c *CheckingController) Process(ctx context.Context, item *models.MediaItem) (Outcome, error) {
	now := c.policy.Now()
	rel, err := c.mount.Locate(item.FilledByTitle, item.FilledByFile)
	if errors.Is(err, library.ErrNotFound) {
		if now.Sub(item.StateChangedAt) >= c.timeout {
			return c.expire(ctx, item)
		}
		if _, err := c.db.Update(ctx, item.ID, models.StateChecking, func(m *models.MediaItem) {
			m.LastChecked = &now
		}); err != nil && !errors.Is(err, models.ErrStateConflict) {
			return Outcome{}, err
		}
		return waiting(models.StateChecking, "file not present yet"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	location, original, err := place(c.links, item, rel)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to link %s: %w", rel, err)
	}

	collected, err := c.db.Transition(ctx, item.ID, models.StateChecking, models.StateCollected, "file present at "+rel, func(m *models.MediaItem) {
		m.LocationOnDisk = location
		m.OriginalPathForSymlink = original
		m.CollectedAt = &now
		m.LastChecked = &now
		m.UpgradeCheckedAt = nil
	})
	if err != nil {
		return Outcome{}, err
	}

	c.policy.Succeeded(collected)
	c.policy.Reject(collected, collected.FilledByHash, collected.FilledByURL)
	if err := c.agent.Refresh(ctx, libraryPath(c.mount, c.links, location)); err != nil {
		c.logger.Warn().Err(err).Uint64("item_id", item.ID).Msg("Library refresh failed")
	}
	return advanced(models.StateCollected, "file present"), nil
}

// expire gives up on a torrent that never materialised
func (c *CheckingController) expire(ctx context.Context, item *models.MediaItem) (Outcome, error) {
	cause := fmt.Sprintf("file did not appear within %s", c.timeout)
	if _, err := c.db.Transition(ctx, item.ID, models.StateChecking, models.StateWanted, cause, func(m *models.MediaItem) {
		m.ClearFill()
	}); err != nil {
		return Outcome{}, err
	}

	c.releaseTorrent(ctx, item.FilledByTorrentID)
	c.policy.Reject(item, item.FilledByHash, item.FilledByURL)
	return retry(models.StateWanted, cause), nil
}

// releaseTorrent removes a torrent from the provider once no item references it any more
func (c *CheckingController) releaseTorrent(ctx context.Context, torrentID string) {
	if torrentID == "" {
		return
	}
	users, err := c.db.ListByTorrentID(ctx, torrentID)
	if err != nil {
		c.logger.Warn().Err(err).Str("torrent_id", torrentID).Msg("Failed to look up torrent users")
		return
	}
	if len(users) > 0 {
		return
	}
	if err := c.debrid.RemoveTorrent(ctx, torrentID); err != nil && !errors.Is(err, debrid.ErrTorrentNotFound) {
		c.logger.Warn().Err(err).Str("torrent_id", torrentID).Msg("Failed to remove expired torrent")
	}
}
