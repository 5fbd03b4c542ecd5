package controllers

import (
	"testing"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/services/debrid"
	"github.com/stretchr/testify/assert"
)

func TestMatchFile(t *testing.T) {
	movie := &models.MediaItem{ID: 1, MediaType: models.MediaTypeMovie, IMDBId: "tt1"}
	episode := &models.MediaItem{ID: 2, MediaType: models.MediaTypeEpisode, IMDBId: "tt2", Season: 2, Episode: 4, Version: "1080p"}

	tests := []struct {
		name    string
		item    *models.MediaItem
		torrent string
		files   []debrid.File
		want    string
		found   bool
	}{
		{
			name:  "movie takes largest video",
			item:  movie,
			files: []debrid.File{{Path: "/a.mkv", Size: 10}, {Path: "/b.mp4", Size: 30}, {Path: "/c.iso", Size: 90}},
			want:  "/b.mp4",
			found: true,
		},
		{
			name:  "samples are ignored",
			item:  movie,
			files: []debrid.File{{Path: "/Sample/movie-sample.mkv", Size: 99}, {Path: "/movie.mkv", Size: 10}},
			want:  "/movie.mkv",
			found: true,
		},
		{
			name:  "no video",
			item:  movie,
			files: []debrid.File{{Path: "/movie.nfo", Size: 10}},
		},
		{
			name:  "episode by file name",
			item:  episode,
			files: []debrid.File{{Path: "/Show.S02E03.mkv", Size: 50}, {Path: "/Show.S02E04.mkv", Size: 40}},
			want:  "/Show.S02E04.mkv",
			found: true,
		},
		{
			name:  "wrong season",
			item:  episode,
			files: []debrid.File{{Path: "/Show.S01E04.mkv", Size: 40}},
		},
		{
			name:  "multi episode file",
			item:  episode,
			files: []debrid.File{{Path: "/Show.S02E03E04.mkv", Size: 80}},
			want:  "/Show.S02E03E04.mkv",
			found: true,
		},
		{
			name:    "season from torrent name",
			item:    episode,
			torrent: "Show.S02.1080p",
			files:   []debrid.File{{Path: "/Show.Season.2/04 - Title.E04.mkv", Size: 40}},
			want:    "/Show.Season.2/04 - Title.E04.mkv",
			found:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := MatchFile(tt.item, tt.torrent, tt.files)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, f.Path)
			}
		})
	}
}

func TestMatchPack(t *testing.T) {
	item := &models.MediaItem{ID: 1, MediaType: models.MediaTypeEpisode, IMDBId: "tt2", Season: 1, Episode: 1, Version: "1080p"}
	siblings := []*models.MediaItem{
		{ID: 2, MediaType: models.MediaTypeEpisode, IMDBId: "tt2", Season: 1, Episode: 2, Version: "1080p"},
		{ID: 3, MediaType: models.MediaTypeEpisode, IMDBId: "tt2", Season: 1, Episode: 3, Version: "1080p"},
		{ID: 4, MediaType: models.MediaTypeEpisode, IMDBId: "tt2", Season: 1, Episode: 2, Version: "2160p"},
		{ID: 5, MediaType: models.MediaTypeEpisode, IMDBId: "tt2", Season: 1, Episode: 9, Version: "1080p"},
	}
	files := []debrid.File{
		{Path: "/S01E01.mkv", Size: 1},
		{Path: "/S01E02.mkv", Size: 1},
		{Path: "/S01E03.mkv", Size: 1},
	}

	matches := MatchPack(item, siblings, "Show.S01", files)
	ids := make([]uint64, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.Item.ID)
	}
	assert.Equal(t, []uint64{1, 2, 3}, ids)
	assert.Equal(t, "/S01E02.mkv", matches[1].File.Path)

	assert.Empty(t, MatchPack(siblings[3], siblings, "Show.S01", files))
}
