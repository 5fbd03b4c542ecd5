package controllers

import (
	"path"
	"strings"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/services/debrid"
	"github.com/amaumene/debridarr/internal/utils"
)

// FileMatch pairs an item with the torrent file that satisfies it
type FileMatch struct {
	Item *models.MediaItem
	File debrid.File
}

func baseName(p string) string {
	return path.Base(strings.ReplaceAll(p, "\\", "/"))
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// MatchFile picks the file of a torrent that satisfies item.
// Movies take the largest video file. Episodes need a file whose season and episode set cover the item;
// files carrying only an episode number inherit the season of the torrent name.
func MatchFile(item *models.MediaItem, torrentName string, files []debrid.File) (debrid.File, bool) {
	var (
		best  debrid.File
		found bool
	)
	var torrentSeasons []int
	if item.IsEpisode() {
		torrentSeasons, _ = utils.ParseSeasonEpisodes(torrentName)
	}

	for _, f := range files {
		if !utils.IsVideoFile(f.Path) {
			continue
		}
		if item.IsEpisode() {
			seasons, episodes := utils.ParseSeasonEpisodes(baseName(f.Path))
			if len(seasons) == 0 {
				seasons = torrentSeasons
			}
			if !containsInt(seasons, item.Season) || !containsInt(episodes, item.Episode) {
				continue
			}
		}
		if !found || f.Size > best.Size {
			best, found = f, true
		}
	}
	return best, found
}

// MatchPack matches item and any of its siblings against the files of one torrent.
// The first entry is always item when it matched.
func MatchPack(item *models.MediaItem, siblings []*models.MediaItem, torrentName string, files []debrid.File) []FileMatch {
	f, ok := MatchFile(item, torrentName, files)
	if !ok {
		return nil
	}
	out := []FileMatch{{Item: item, File: f}}
	if !item.IsEpisode() {
		return out
	}
	for _, s := range siblings {
		if s.ID == item.ID || !s.IsEpisode() || s.Version != item.Version || s.IMDBId != item.IMDBId {
			continue
		}
		// a multi-episode file may satisfy several items
		if sf, ok := MatchFile(s, torrentName, files); ok {
			out = append(out, FileMatch{Item: s, File: sf})
		}
	}
	return out
}
