package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/scraper"
	"github.com/amaumene/debridarr/internal/services/debrid"
	"github.com/amaumene/debridarr/internal/services/library"
	"github.com/amaumene/debridarr/internal/services/notify"
	"github.com/rs/zerolog"
)

// UpgradeController re-scrapes freshly collected items and swaps in better releases
type UpgradeController struct {
	db        *models.Database
	scraper   Scraper
	adding    *AddingController
	mount     *library.Mount
	links     *library.Symlinks
	agent     library.Agent
	policy    *Policy
	publisher Publisher
	window    time.Duration
	interval  time.Duration
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewUpgradeController creates a new upgrade controller
func NewUpgradeController(db *models.Database, s Scraper, adding *AddingController, mount *library.Mount, links *library.Symlinks, agent library.Agent, policy *Policy, publisher Publisher, cfg *config.Config, logger zerolog.Logger) *UpgradeController {
	u := &UpgradeController{
		db:        db,
		scraper:   s,
		adding:    adding,
		mount:     mount,
		links:     links,
		agent:     agent,
		policy:    policy,
		publisher: publisher,
		window:    cfg.UpgradeWindow,
		interval:  cfg.UpgradeInterval,
		timeout:   cfg.CheckingTimeout,
		logger:    logger.With().Str("component", "upgrade").Logger(),
	}
	if u.window <= 0 {
		u.window = 24 * time.Hour
	}
	if u.interval <= 0 {
		u.interval = 30 * time.Minute
	}
	if u.timeout <= 0 {
		u.timeout = time.Hour
	}
	return u
}

// Window returns how long after collection items are watched
func (u *UpgradeController) Window() time.Duration {
	return u.window
}

// Due reports whether a Collected item should be re-scraped now
func (u *UpgradeController) Due(item *models.MediaItem) bool {
	if item.State != models.StateCollected || item.CollectedAt == nil {
		return false
	}
	if p := u.adding.profiles(item.Version); p == nil || !p.UpgradeEnabled() {
		return false
	}
	now := u.policy.Now()
	if now.Sub(*item.CollectedAt) >= u.window {
		return false
	}
	return item.UpgradeCheckedAt == nil || now.Sub(*item.UpgradeCheckedAt) >= u.interval
}

// Check re-scrapes a Collected item. When the best release is not the one held, it is added and the
// item moves to Upgrading until the new file shows up.
func (u *UpgradeController) Check(ctx context.Context, item *models.MediaItem) (Outcome, error) {
	profile := u.adding.profiles(item.Version)
	if profile == nil {
		return waiting(models.StateCollected, "version not configured"), nil
	}
	now := u.policy.Now()
	if _, err := u.db.Update(ctx, item.ID, models.StateCollected, func(m *models.MediaItem) {
		m.UpgradeCheckedAt = &now
	}); err != nil {
		return Outcome{}, err
	}

	results, _, err := u.scraper.Scrape(ctx, item, profile, scraper.Options{Exempt: item.FilledByHash, ExemptURL: item.FilledByURL})
	if err != nil {
		return retry(models.StateCollected, err.Error()), nil
	}
	if len(results) == 0 {
		return waiting(models.StateCollected, "no results"), nil
	}

	// the held release is the baseline: without it in the ranking nothing is known to be better
	held := heldIndex(item, results)
	switch {
	case held < 0:
		return waiting(models.StateCollected, "held release not in results"), nil
	case held == 0:
		return waiting(models.StateCollected, "already holding the best release"), nil
	}

	top := results[0]
	res, err := u.adding.resolver.Resolve(ctx, top.MagnetOrURL, top.Hash)
	if err != nil {
		return waiting(models.StateCollected, "best release unresolvable"), nil
	}
	if strings.EqualFold(res.Hash, item.FilledByHash) {
		return waiting(models.StateCollected, "already holding the best release"), nil
	}
	cand := &candidate{result: top, resolved: res}
	if u.policy.Excluded(res.Hash, cand.url()) {
		return waiting(models.StateCollected, "best release not wanted"), nil
	}
	if err := u.adding.markCached(ctx, []*candidate{cand}); err != nil {
		return retry(models.StateCollected, err.Error()), nil
	}

	handling := u.adding.handling(item.Version)
	info, matches, outcome, err := u.adding.submit(ctx, item, nil, cand, handling != models.UncachedNone)
	if err != nil {
		return retry(models.StateCollected, err.Error()), nil
	}
	if outcome != submitFilled {
		return waiting(models.StateCollected, "better release unusable"), nil
	}

	cause := fmt.Sprintf("upgrading to %s", top.Title)
	mutate := fillFrom(cand, info.ID, matches[0].File)
	_, err = u.db.Transition(ctx, item.ID, models.StateCollected, models.StateUpgrading, cause, func(m *models.MediaItem) {
		m.PreviousFill = m.Snapshot()
		m.UpgradingFromTorrentID = m.FilledByTorrentID
		location := m.LocationOnDisk
		mutate(m)
		// the old file stays in place until the new one is verified
		m.LocationOnDisk = location
	})
	if err != nil {
		u.removeQuietly(ctx, info.ID)
		return Outcome{}, err
	}
	return advanced(models.StateUpgrading, cause), nil
}

// heldIndex returns the rank of the release the item currently holds, or -1
func heldIndex(item *models.MediaItem, results []models.ScrapeResult) int {
	for i, r := range results {
		if item.FilledByHash != "" && strings.EqualFold(r.Hash, item.FilledByHash) {
			return i
		}
		if item.FilledByURL != "" && r.MagnetOrURL == item.FilledByURL {
			return i
		}
	}
	return -1
}

// Verify finishes an upgrade once the new file is present: the old torrent is removed first and only then
// is the library switched over. If the old torrent cannot be removed the upgrade is rolled back.
func (u *UpgradeController) Verify(ctx context.Context, item *models.MediaItem) (Outcome, error) {
	now := u.policy.Now()
	rel, err := u.mount.Locate(item.FilledByTitle, item.FilledByFile)
	if errors.Is(err, library.ErrNotFound) {
		if now.Sub(item.StateChangedAt) >= u.timeout {
			u.policy.Reject(item, item.FilledByHash, item.FilledByURL)
			return u.rollback(ctx, item, fmt.Sprintf("new file did not appear within %s", u.timeout))
		}
		return waiting(models.StateUpgrading, "new file not present yet"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	oldID := item.UpgradingFromTorrentID
	if oldID != "" && oldID != item.FilledByTorrentID {
		users, err := u.db.ListByTorrentID(ctx, oldID)
		if err != nil {
			return Outcome{}, err
		}
		shared := false
		for _, m := range users {
			if m.ID != item.ID {
				shared = true
				break
			}
		}
		if !shared {
			if err := u.adding.debrid.RemoveTorrent(ctx, oldID); err != nil && !errors.Is(err, debrid.ErrTorrentNotFound) {
				u.logger.Warn().Err(err).Uint64("item_id", item.ID).Str("torrent_id", oldID).Msg("Failed to remove replaced torrent")
				return u.rollback(ctx, item, "failed to remove replaced torrent: "+err.Error())
			}
			// the previous artifact no longer exists, so there is nothing left to roll back to
			item, err = u.db.Update(ctx, item.ID, models.StateUpgrading, func(m *models.MediaItem) {
				m.UpgradingFromTorrentID = ""
				m.PreviousFill = nil
			})
			if err != nil {
				return Outcome{}, err
			}
		}
	}

	// the old location stays on the row until the switch below
	oldLocation := item.LocationOnDisk
	location, original, err := place(u.links, item, rel)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to link %s: %w", rel, err)
	}
	if u.links != nil && oldLocation != "" && oldLocation != location {
		if err := u.links.Remove(oldLocation); err != nil {
			u.logger.Warn().Err(err).Str("link", oldLocation).Msg("Failed to remove replaced symlink")
		}
	}

	upgraded, err := u.db.Transition(ctx, item.ID, models.StateUpgrading, models.StateCollected, "upgrade verified", func(m *models.MediaItem) {
		m.LocationOnDisk = location
		m.OriginalPathForSymlink = original
		m.UpgradingFromTorrentID = ""
		m.PreviousFill = nil
		m.LastChecked = &now
	})
	if err != nil {
		return Outcome{}, err
	}

	u.policy.Reject(upgraded, upgraded.FilledByHash, upgraded.FilledByURL)
	if u.links == nil && oldLocation != "" && oldLocation != location {
		_ = u.agent.QueueRemoval(ctx, library.Removal{Title: item.Title, Path: u.mount.Abs(oldLocation), EpisodeTitle: item.EpisodeTitle})
	}
	if err := u.agent.Refresh(ctx, libraryPath(u.mount, u.links, location)); err != nil {
		u.logger.Warn().Err(err).Uint64("item_id", item.ID).Msg("Library refresh failed")
	}
	return advanced(models.StateCollected, "upgrade verified"), nil
}

// rollback puts the previous artifact back and drops the new torrent. NotWanted is left alone.
// Once the previous torrent has been removed there is nothing to restore and the item is wanted again.
func (u *UpgradeController) rollback(ctx context.Context, item *models.MediaItem, cause string) (Outcome, error) {
	newID := item.FilledByTorrentID
	next := models.StateCollected
	if item.PreviousFill == nil {
		next = models.StateWanted
	}
	if _, err := u.db.Transition(ctx, item.ID, models.StateUpgrading, next, "upgrade failed: "+cause, func(m *models.MediaItem) {
		if next == models.StateWanted {
			m.ClearFill()
		} else {
			m.Restore(m.PreviousFill)
		}
		m.UpgradingFromTorrentID = ""
		m.PreviousFill = nil
	}); err != nil {
		return Outcome{}, err
	}
	if newID != "" && newID != item.UpgradingFromTorrentID {
		u.removeQuietly(ctx, newID)
	}
	if next == models.StateWanted && item.LocationOnDisk != "" {
		u.dropLocation(ctx, item)
	}
	u.publisher.Publish(notify.KindUpgradeFailed, ItemRef(item), cause)
	return retry(next, cause), nil
}

// dropLocation removes the library entry of an artifact that no longer exists
func (u *UpgradeController) dropLocation(ctx context.Context, item *models.MediaItem) {
	if u.links != nil {
		if err := u.links.Remove(item.LocationOnDisk); err != nil {
			u.logger.Warn().Err(err).Str("link", item.LocationOnDisk).Msg("Failed to remove stale symlink")
		}
		return
	}
	_ = u.agent.QueueRemoval(ctx, library.Removal{Title: item.Title, Path: u.mount.Abs(item.LocationOnDisk), EpisodeTitle: item.EpisodeTitle})
}

func (u *UpgradeController) removeQuietly(ctx context.Context, torrentID string) {
	users, err := u.db.ListByTorrentID(ctx, torrentID)
	if err == nil && len(users) > 0 {
		return
	}
	if err := u.adding.debrid.RemoveTorrent(ctx, torrentID); err != nil && !errors.Is(err, debrid.ErrTorrentNotFound) {
		u.logger.Warn().Err(err).Str("torrent_id", torrentID).Msg("Failed to remove upgrade torrent")
	}
}
