package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/services/debrid"
	"github.com/rs/zerolog"
)

// AddingController submits ranked scrape results to the debrid provider and claims the matching files
type AddingController struct {
	db       *models.Database
	debrid   Debrid
	resolver Resolver
	profiles Profiles
	policy   *Policy
	fallback models.UncachedHandling
	logger   zerolog.Logger
}

// NewAddingController creates a new adding controller
func NewAddingController(db *models.Database, d Debrid, resolver Resolver, profiles Profiles, policy *Policy, cfg *config.Config, logger zerolog.Logger) *AddingController {
	return &AddingController{
		db:       db,
		debrid:   d,
		resolver: resolver,
		profiles: profiles,
		policy:   policy,
		fallback: cfg.UncachedHandling,
		logger:   logger.With().Str("component", "adding").Logger(),
	}
}

// candidate is a scrape result with its info-hash resolved
type candidate struct {
	result   models.ScrapeResult
	resolved *debrid.Resolved
	cached   bool
	// deferred is set while a .torrent URL with a known hash has not been downloaded yet
	deferred bool
}

func (c *candidate) url() string {
	if debrid.IsMagnet(c.result.MagnetOrURL) {
		return ""
	}
	return c.result.MagnetOrURL
}

type submitResult int

const (
	// submitFilled: the torrent was added and matched
	submitFilled submitResult = iota
	// submitRejected: the release turned out unusable and was removed again
	submitRejected
	// submitFailed: the provider refused the torrent
	submitFailed
	// submitParked: uncached download allowed but every slot is busy
	submitParked
)

func (c *AddingController) handling(version string) models.UncachedHandling {
	if p := c.profiles(version); p != nil && p.UncachedHandling.Valid() {
		return p.UncachedHandling
	}
	if c.fallback.Valid() {
		return c.fallback
	}
	return models.UncachedNone
}

// Process tries the ranked results of an item in Adding until one fills it.
//
//	None:   every result is added, anything the provider does not report downloaded is removed and excluded
//	Hybrid: results reported cached first, then the rest with uncached downloads allowed
//	Full:   every result in rank order, uncached downloads allowed
func (c *AddingController) Process(ctx context.Context, item *models.MediaItem) (Outcome, error) {
	if len(item.ScrapeResults) == 0 {
		return c.policy.Exhausted(ctx, item, models.StateAdding, "no scrape results")
	}
	handling := c.handling(item.Version)

	cands := c.resolve(ctx, item)
	if len(cands) == 0 {
		return c.policy.Exhausted(ctx, item, models.StateAdding, "no usable release")
	}
	if err := c.markCached(ctx, cands); err != nil {
		return retry(models.StateAdding, err.Error()), nil
	}

	var passes [][]*candidate
	if handling == models.UncachedHybrid {
		var cached, uncached []*candidate
		for _, cand := range cands {
			if cand.cached {
				cached = append(cached, cand)
			} else {
				uncached = append(uncached, cand)
			}
		}
		passes = [][]*candidate{cached, uncached}
	} else {
		passes = [][]*candidate{cands}
	}
	allowUncached := handling != models.UncachedNone

	var siblings []*models.MediaItem
	if item.IsEpisode() {
		var err error
		siblings, err = c.db.ListSiblings(ctx, item, models.StateWanted, models.StateScraping, models.StateSleeping)
		if err != nil {
			return Outcome{}, err
		}
	}

	for _, pass := range passes {
		for _, cand := range pass {
			info, matches, res, err := c.submit(ctx, item, siblings, cand, allowUncached)
			if err != nil {
				return retry(models.StateAdding, err.Error()), nil
			}
			switch res {
			case submitParked:
				if _, err := c.db.Transition(ctx, item.ID, models.StateAdding, models.StatePendingUncached, "no free download slot", nil); err != nil {
					return Outcome{}, err
				}
				return Outcome{Kind: Parked, Next: models.StatePendingUncached, Cause: "no free download slot"}, nil
			case submitFilled:
				if err := c.fill(ctx, cand, info, matches); err != nil {
					c.logger.Error().Err(err).Uint64("item_id", item.ID).Str("torrent_id", info.ID).Msg("Failed to record fill")
					// nothing references the torrent, so it must not outlive the failed write
					if rerr := c.debrid.RemoveTorrent(context.WithoutCancel(ctx), info.ID); rerr != nil && !errors.Is(rerr, debrid.ErrTorrentNotFound) {
						c.logger.Warn().Err(rerr).Str("torrent_id", info.ID).Msg("Failed to remove unrecorded torrent")
					}
					return Outcome{}, err
				}
				return advanced(models.StateChecking, "added "+cand.result.Title), nil
			}
		}
	}

	return c.policy.Exhausted(ctx, item, models.StateAdding, fmt.Sprintf("all %d results exhausted", len(cands)))
}

// resolve computes info-hashes in rank order and drops unresolvable or not wanted results.
// A .torrent URL whose hash the indexer already reported is only downloaded once it is submitted.
func (c *AddingController) resolve(ctx context.Context, item *models.MediaItem) []*candidate {
	var out []*candidate
	seen := map[string]bool{}
	for _, r := range item.ScrapeResults {
		cand := &candidate{result: r}
		if r.Hash != "" && r.MagnetOrURL != "" && !debrid.IsMagnet(r.MagnetOrURL) {
			cand.resolved = &debrid.Resolved{Hash: strings.ToLower(r.Hash)}
			cand.deferred = true
		} else {
			res, err := c.resolver.Resolve(ctx, r.MagnetOrURL, r.Hash)
			if err != nil {
				c.logger.Debug().Err(err).Str("title", r.Title).Msg("Skipping result without info-hash")
				continue
			}
			cand.resolved = res
		}
		if seen[cand.resolved.Hash] {
			continue
		}
		seen[cand.resolved.Hash] = true
		if c.policy.Excluded(cand.resolved.Hash, cand.url()) {
			c.logger.Debug().Str("hash", cand.resolved.Hash).Str("title", r.Title).Msg("Skipping not wanted release")
			continue
		}
		out = append(out, cand)
	}
	return out
}

// fetch downloads a deferred .torrent file. The indexer's hash stays authoritative: when the download
// fails or disagrees, the torrent is submitted as a magnet of that hash.
func (c *AddingController) fetch(ctx context.Context, cand *candidate) {
	if !cand.deferred {
		return
	}
	cand.deferred = false
	res, err := c.resolver.Resolve(ctx, cand.result.MagnetOrURL, "")
	if err == nil && strings.EqualFold(res.Hash, cand.resolved.Hash) {
		cand.resolved = res
		return
	}
	if err == nil {
		err = fmt.Errorf("torrent file hash %s differs", res.Hash)
	}
	c.logger.Debug().Err(err).Str("title", cand.result.Title).Msg("Using magnet for indexer hash")
	cand.resolved.Magnet = debrid.MagnetFromHash(cand.resolved.Hash, cand.result.Title)
}

// markCached asks the provider which candidates are cached. Only a transient failure is returned.
func (c *AddingController) markCached(ctx context.Context, cands []*candidate) error {
	hashes := make([]string, 0, len(cands))
	for _, cand := range cands {
		hashes = append(hashes, cand.resolved.Hash)
	}
	cached, err := c.debrid.IsCached(ctx, hashes)
	if err != nil {
		if errors.Is(err, debrid.ErrTransient) || ctx.Err() != nil {
			return err
		}
		c.logger.Warn().Err(err).Msg("Cache check failed, treating results as uncached")
		return nil
	}
	for _, cand := range cands {
		cand.cached = cached[strings.ToLower(cand.resolved.Hash)]
	}
	return nil
}

// submit adds one candidate and matches its files. The returned error is transient only.
func (c *AddingController) submit(ctx context.Context, item *models.MediaItem, siblings []*models.MediaItem, cand *candidate, allowUncached bool) (*debrid.TorrentInfo, []FileMatch, submitResult, error) {
	if allowUncached && !cand.cached {
		slots, err := c.debrid.GetActiveDownloads(ctx)
		if err != nil {
			if errors.Is(err, debrid.ErrTransient) || ctx.Err() != nil {
				return nil, nil, submitFailed, err
			}
			c.logger.Warn().Err(err).Msg("Failed to read active downloads")
		} else if slots.Full() {
			return nil, nil, submitParked, nil
		}
	}

	c.fetch(ctx, cand)
	info, err := c.debrid.AddTorrent(ctx, cand.resolved.Source(cand.result.Title))
	if err != nil {
		if errors.Is(err, debrid.ErrTransient) || ctx.Err() != nil {
			return nil, nil, submitFailed, err
		}
		c.logger.Warn().Err(err).Uint64("item_id", item.ID).Str("title", cand.result.Title).Msg("Provider refused torrent")
		return nil, nil, submitFailed, nil
	}

	log := c.logger.With().
		Uint64("item_id", item.ID).
		Str("torrent_id", info.ID).
		Str("hash", cand.resolved.Hash).
		Str("status", string(info.Status)).
		Logger()

	if info.Status == debrid.StatusError {
		log.Info().Msg("Torrent errored on provider")
		c.discard(ctx, item, cand, info.ID)
		return info, nil, submitRejected, nil
	}
	if !allowUncached && info.Status != debrid.StatusDownloaded {
		log.Info().Msg("Torrent not cached, removing")
		c.discard(ctx, item, cand, info.ID)
		return info, nil, submitRejected, nil
	}

	name := info.Name
	if name == "" {
		name = cand.result.Title
	}
	matches := MatchPack(item, siblings, name, info.Files)
	if len(matches) == 0 {
		log.Info().Int("files", len(info.Files)).Msg("No file matches item")
		c.discard(ctx, item, cand, info.ID)
		return info, nil, submitRejected, nil
	}
	log.Info().Int("matched", len(matches)).Str("file", matches[0].File.Path).Msg("Torrent added")
	return info, matches, submitFilled, nil
}

// discard removes a torrent from the provider and only then excludes the release
func (c *AddingController) discard(ctx context.Context, item *models.MediaItem, cand *candidate, torrentID string) {
	if torrentID != "" {
		if err := c.debrid.RemoveTorrent(ctx, torrentID); err != nil && !errors.Is(err, debrid.ErrTorrentNotFound) {
			c.logger.Warn().Err(err).Str("torrent_id", torrentID).Msg("Failed to remove torrent")
		}
	}
	c.policy.Reject(item, cand.resolved.Hash, cand.url())
}

func fillFrom(cand *candidate, torrentID string, file debrid.File) func(*models.MediaItem) {
	return func(m *models.MediaItem) {
		m.FilledByTitle = cand.result.Title
		m.FilledByMagnet = cand.resolved.Magnet
		m.FilledByURL = cand.url()
		m.FilledByHash = cand.resolved.Hash
		m.FilledByFile = file.Path
		m.FilledByTorrentID = torrentID
		m.LastChecked = nil
	}
}

// fill moves the item and every matched sibling to Checking in one transaction
func (c *AddingController) fill(ctx context.Context, cand *candidate, info *debrid.TorrentInfo, matches []FileMatch) error {
	main := matches[0].Item
	reqs := make([]models.TransitionRequest, 0, len(matches))
	for i, fm := range matches {
		cause := "added " + cand.result.Title
		if i > 0 {
			cause = fmt.Sprintf("pack fill from item %d", main.ID)
		}
		reqs = append(reqs, models.TransitionRequest{
			ID:     fm.Item.ID,
			From:   fm.Item.State,
			To:     models.StateChecking,
			Cause:  cause,
			Mutate: fillFrom(cand, info.ID, fm.File),
		})
	}

	_, err := c.db.TransitionMany(ctx, reqs)
	if errors.Is(err, models.ErrStateConflict) && len(reqs) > 1 {
		c.logger.Debug().Uint64("item_id", main.ID).Msg("Sibling changed during pack fill, filling item alone")
		_, err = c.db.TransitionMany(ctx, reqs[:1])
	}
	return err
}

// ResumeParked returns Pending Uncached items to Adding while download slots are free
func (c *AddingController) ResumeParked(ctx context.Context) (int, error) {
	parked, err := c.db.ListByState(ctx, models.StatePendingUncached, 0)
	if err != nil || len(parked) == 0 {
		return 0, err
	}
	slots, err := c.debrid.GetActiveDownloads(ctx)
	if err != nil {
		return 0, err
	}
	free := len(parked)
	if slots.Limit > 0 {
		free = slots.Limit - slots.Count
	}

	resumed := 0
	for _, item := range parked {
		if resumed >= free {
			break
		}
		if _, err := c.db.Transition(ctx, item.ID, models.StatePendingUncached, models.StateAdding, "download slot free", nil); err != nil {
			if errors.Is(err, models.ErrStateConflict) {
				continue
			}
			return resumed, err
		}
		resumed++
	}
	return resumed, nil
}
