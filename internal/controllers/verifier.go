package controllers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/services/library"
	"github.com/rs/zerolog"
)

// Report summarises one verifier run
type Report struct {
	Checked  int `json:"checked"`
	Missing  int `json:"missing"`
	Deleted  int `json:"deleted"`
	Requeued int `json:"requeued"`
	Orphans  int `json:"orphans"`
	Repaired int `json:"repaired"`
}

// orphanGrace is how old an unregistered symlink must be before it is removed. A link is created just
// before its row is committed.
const orphanGrace = 15 * time.Minute

// removalProcessor is implemented by agents that batch removals (Plex)
type removalProcessor interface {
	ProcessRemovals(ctx context.Context) error
}

// Verifier reconciles rows carrying a location against the library
type Verifier struct {
	db     *models.Database
	mount  *library.Mount
	links  *library.Symlinks
	agent  library.Agent
	now    func() time.Time
	logger zerolog.Logger
}

// NewVerifier creates a verifier. links is nil when the library is the mount itself.
func NewVerifier(db *models.Database, mount *library.Mount, links *library.Symlinks, agent library.Agent, logger zerolog.Logger) *Verifier {
	return &Verifier{
		db:     db,
		mount:  mount,
		links:  links,
		agent:  agent,
		now:    time.Now,
		logger: logger.With().Str("component", "verifier").Logger(),
	}
}

// SetClock overrides the time source used to age symlinks
func (v *Verifier) SetClock(now func() time.Time) {
	v.now = now
}

// settled reports whether a link has existed long enough to be judged an orphan
func (v *Verifier) settled(link string) bool {
	info, err := os.Lstat(link)
	if err != nil {
		return false
	}
	return v.now().Sub(info.ModTime()) >= orphanGrace
}

// present reports whether an item's location is still usable
func (v *Verifier) present(item *models.MediaItem) bool {
	if item.LocationOnDisk == "" {
		return false
	}
	if v.links != nil {
		return v.links.Check(item.LocationOnDisk) == nil
	}
	return v.mount.Exists(item.LocationOnDisk)
}

// Run performs one full pass. It never blacklists.
func (v *Verifier) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	if err := v.repair(ctx, report); err != nil {
		return report, err
	}

	items, err := v.db.ListWithLocation(ctx)
	if err != nil {
		return report, err
	}

	registered := make(map[string]bool, len(items))
	var missing []*models.MediaItem
	for _, item := range items {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		registered[filepath.Clean(item.LocationOnDisk)] = true
		if !v.present(item) {
			missing = append(missing, item)
		}
	}

	if v.links != nil {
		var orphans []string
		err := v.links.Walk(ctx, func(link string) error {
			if !registered[filepath.Clean(link)] && v.settled(link) {
				orphans = append(orphans, link)
			}
			return nil
		})
		if err != nil {
			return report, fmt.Errorf("failed to walk symlink tree: %w", err)
		}
		for _, link := range orphans {
			if err := v.links.Remove(link); err != nil {
				v.logger.Warn().Err(err).Str("link", link).Msg("Failed to remove orphaned symlink")
				continue
			}
			v.logger.Info().Str("link", link).Msg("Removed orphaned symlink")
			report.Orphans++
		}
	}

	for _, item := range missing {
		report.Missing++
		deleted, err := v.handleMissing(ctx, item)
		if err != nil {
			v.logger.Warn().Err(err).Uint64("item_id", item.ID).Msg("Failed to repair missing file")
			continue
		}
		if deleted {
			report.Deleted++
		} else {
			report.Requeued++
		}
	}

	if p, ok := v.agent.(removalProcessor); ok {
		if err := p.ProcessRemovals(ctx); err != nil {
			v.logger.Warn().Err(err).Msg("Library removals incomplete")
		}
	}

	v.logger.Info().
		Int("checked", report.Checked).
		Int("missing", report.Missing).
		Int("deleted", report.Deleted).
		Int("requeued", report.Requeued).
		Int("orphans", report.Orphans).
		Int("repaired", report.Repaired).
		Msg("Library verification completed")
	return report, nil
}

// handleMissing deletes the row when another copy of the same title is still present,
// otherwise sends it back to Wanted and drops the stale library entry
func (v *Verifier) handleMissing(ctx context.Context, item *models.MediaItem) (bool, error) {
	copies, err := v.db.ListIdentityCopies(ctx, item)
	if err != nil {
		return false, err
	}
	for _, c := range copies {
		if c.LocationOnDisk != item.LocationOnDisk && v.present(c) {
			if err := v.db.DeleteMedia(ctx, item.ID); err != nil {
				return false, err
			}
			v.logger.Info().
				Uint64("item_id", item.ID).
				Uint64("copy_id", c.ID).
				Str("item", item.Label()).
				Msg("File missing but another copy is present, row deleted")
			v.queueRemoval(ctx, item)
			return true, nil
		}
	}

	if item.State != models.StateCollected && item.State != models.StateUpgrading {
		return false, fmt.Errorf("unexpected state %s with a location", item.State)
	}
	if _, err := v.db.Transition(ctx, item.ID, item.State, models.StateWanted, "library file missing", func(m *models.MediaItem) {
		m.ClearFill()
	}); err != nil {
		return false, err
	}
	v.queueRemoval(ctx, item)
	return false, nil
}

func (v *Verifier) queueRemoval(ctx context.Context, item *models.MediaItem) {
	err := v.agent.QueueRemoval(ctx, library.Removal{
		Title:        item.Title,
		Path:         libraryPath(v.mount, v.links, item.LocationOnDisk),
		EpisodeTitle: item.EpisodeTitle,
	})
	if err != nil {
		v.logger.Warn().Err(err).Uint64("item_id", item.ID).Msg("Failed to queue library removal")
	}
}

// repair fixes rows that break the artifact invariants: artifact states without a torrent id go back to
// Wanted, and a location outside Collected/Upgrading is cleared
func (v *Verifier) repair(ctx context.Context, report *Report) error {
	items, err := v.db.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		switch {
		case item.State.HasArtifact() && item.FilledByTorrentID == "":
			_, err = v.db.Transition(ctx, item.ID, item.State, models.StateWanted, "missing torrent id", func(m *models.MediaItem) {
				m.ClearFill()
			})
		case item.LocationOnDisk != "" && item.State != models.StateCollected && item.State != models.StateUpgrading:
			_, err = v.db.Update(ctx, item.ID, item.State, func(m *models.MediaItem) {
				m.LocationOnDisk = ""
			})
		default:
			continue
		}
		if err != nil {
			if errors.Is(err, models.ErrStateConflict) {
				continue
			}
			return err
		}
		v.logger.Info().Uint64("item_id", item.ID).Str("state", string(item.State)).Msg("Repaired inconsistent row")
		report.Repaired++
	}
	return nil
}
