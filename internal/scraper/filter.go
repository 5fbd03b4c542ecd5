package scraper

import (
	"fmt"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/utils"
)

// Rejection reasons
const (
	ReasonResolution    = "resolution"
	ReasonTooSmall      = "below min size"
	ReasonTooLarge      = "above max size"
	ReasonFilterIn      = "no filter_in match"
	ReasonNoSeeders     = "no seeders"
	ReasonNotWanted     = "not wanted"
	ReasonWrongSeason   = "wrong season"
	ReasonWrongEpisode  = "wrong episode"
	ReasonSeasonPack    = "season pack not allowed"
	ReasonNoEpisodeInfo = "no episode information"
	ReasonEpisodic      = "episodic release for a movie"
	ReasonYear          = "year mismatch"
	ReasonTitle         = "title mismatch"
)

// reject applies the hard filters in order and returns the first failing reason, or "" when r survives.
// It marks r as a multi-pack when a season pack is accepted.
func (s *Scraper) reject(item *models.MediaItem, p *config.VersionProfile, r *models.ScrapeResult, rel utils.Release, opts Options) string {
	if !utils.ResolutionAllowed(rel.Resolution, p.MaxResolution, p.ResolutionWanted) {
		return ReasonResolution
	}
	// unknown size (0) is not rejected
	if p.MinSizeGB > 0 && r.SizeGB > 0 && r.SizeGB < p.MinSizeGB {
		return ReasonTooSmall
	}
	if pattern, ok := p.FilterOutMatch(r.Title); ok {
		return "filter_out " + pattern
	}
	if !p.PassesFilterIn(r.Title) {
		return ReasonFilterIn
	}
	if hit, term := s.blacklist.IsBlacklisted(r.Title); hit {
		return "blacklisted term " + term
	}
	if s.requireSeeders && r.Seeders != nil && *r.Seeders == 0 {
		return ReasonNoSeeders
	}
	if s.notWanted != nil && !opts.exempt(r) && s.notWanted.Excluded(r.Hash, r.MagnetOrURL) {
		return ReasonNotWanted
	}

	if item.IsEpisode() {
		if reason := s.checkEpisode(item, r, rel, opts); reason != "" {
			return reason
		}
	} else {
		if len(rel.Seasons) > 0 || len(rel.Episodes) > 0 {
			return ReasonEpisodic
		}
		if rel.Year != 0 && item.Year != 0 && abs(rel.Year-item.Year) > 1 {
			return ReasonYear
		}
	}

	// packs cover many episodes, so the size ceiling only applies to single releases
	if p.MaxSizeGB > 0 && !r.IsMultiPack && r.SizeGB > p.MaxSizeGB {
		return ReasonTooLarge
	}

	if sim := titleSimilarity(item, r.Title, rel); sim < p.SimilarityThreshold {
		return fmt.Sprintf("%s (%.2f)", ReasonTitle, sim)
	}
	return ""
}

func (s *Scraper) checkEpisode(item *models.MediaItem, r *models.ScrapeResult, rel utils.Release, opts Options) string {
	switch {
	case len(rel.Seasons) > 0 && !rel.HasSeason(item.Season):
		return ReasonWrongSeason
	case len(rel.Episodes) > 0:
		// absolute numbering without a season token is accepted on the episode alone
		if !rel.HasEpisode(item.Episode) {
			return ReasonWrongEpisode
		}
		return ""
	case len(rel.Seasons) > 0:
		if !opts.Multi {
			return ReasonSeasonPack
		}
		r.IsMultiPack = true
		return ""
	case rel.Complete:
		if !opts.Multi {
			return ReasonSeasonPack
		}
		r.IsMultiPack = true
		return ""
	default:
		return ReasonNoEpisodeInfo
	}
}

// titleSimilarity compares the parsed title (or the raw one) against the item's title and aliases
func titleSimilarity(item *models.MediaItem, raw string, rel utils.Release) float64 {
	got := rel.Title
	if got == "" {
		got = raw
	}
	wanted := append([]string{item.Title}, item.TitleAliases...)
	return utils.BestSimilarity(got, wanted...)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
