package scraper

import (
	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/utils"
)

// rank scores every result on a 0-100 scale per component, weighted by the profile, plus preference terms
func rank(item *models.MediaItem, p *config.VersionProfile, results []models.ScrapeResult) {
	if len(results) == 0 {
		return
	}

	var maxSize, maxBitrate float64
	for _, r := range results {
		maxSize = max(maxSize, r.SizeGB)
		maxBitrate = max(maxBitrate, bitrate(item, r))
	}

	w := p.Weights
	for i := range results {
		r := &results[i]
		rel := utils.Release{Title: r.Parsed.Title, Resolution: r.Parsed.Resolution}

		score := w.Resolution*resolutionScore(r.Parsed.Resolution, p) +
			w.HDR*hdrScore(r.Parsed.HDR, p.EnableHDR) +
			w.Similarity*100*titleSimilarity(item, r.Title, rel) +
			w.Size*ratio(r.SizeGB, maxSize) +
			w.Bitrate*ratio(bitrate(item, *r), maxBitrate)
		r.Score = score + float64(p.PreferenceScore(r.Title))
	}
	sortResults(results)
}

// resolutionScore favours the resolution closest to the profile's target in the direction it asks for
func resolutionScore(res string, p *config.VersionProfile) float64 {
	have, target := utils.ResolutionRank(res), utils.ResolutionRank(p.MaxResolution)
	top := float64(utils.MaxResolutionRank())
	switch p.ResolutionWanted {
	case "==":
		if have == target {
			return 100
		}
		return 0
	case ">=":
		// anything at or above the floor is fine, higher is better
		return 100 * float64(have) / top
	default:
		if target == 0 {
			return 0
		}
		return 100 * float64(min(have, target)) / float64(target)
	}
}

func hdrScore(hdr, enabled bool) float64 {
	switch {
	case hdr && enabled:
		return 100
	case hdr:
		return 0
	case enabled:
		return 50
	default:
		return 100
	}
}

// bitrate approximates GB per minute; packs and unknown runtimes have none
func bitrate(item *models.MediaItem, r models.ScrapeResult) float64 {
	if r.IsMultiPack || item.Runtime <= 0 || r.SizeGB <= 0 {
		return 0
	}
	return r.SizeGB / float64(item.Runtime)
}

func ratio(v, top float64) float64 {
	if top <= 0 {
		return 0
	}
	return 100 * v / top
}
