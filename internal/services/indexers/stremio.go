package indexers

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/rs/zerolog"
)

// Stremio queries a stremio stream addon (Torrentio, Comet)
type Stremio struct {
	base
}

type stremioStream struct {
	Name          string `json:"name"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	InfoHash      string `json:"infoHash"`
	FileIdx       *int   `json:"fileIdx,omitempty"`
	BehaviorHints struct {
		BingeGroup string `json:"bingeGroup"`
		Filename   string `json:"filename,omitempty"`
		VideoSize  int64  `json:"videoSize,omitempty"`
	} `json:"behaviorHints"`
}

type stremioResponse struct {
	Streams []stremioStream `json:"streams"`
}

var (
	seedersRegex = regexp.MustCompile(`👤\s*(\d+)`)
	sizeRegex    = regexp.MustCompile(`💾\s*([\d.,]+\s*[KMGT]i?B)`)
	sourceRegex  = regexp.MustCompile(`⚙\x{FE0F}?\s*(\S+)`)
)

// NewStremio creates a stremio addon indexer
func NewStremio(cfg config.IndexerConfig, logger zerolog.Logger) *Stremio {
	return &Stremio{base: newBase(cfg, logger)}
}

func (s *Stremio) streamURL(req SearchRequest) string {
	u := s.baseURL
	if s.options != "" {
		u += "/" + s.options
	}
	if req.IsEpisode() {
		return fmt.Sprintf("%s/stream/series/%s:%d:%d.json", u, req.IMDBID, req.Season, req.Episode)
	}
	return fmt.Sprintf("%s/stream/movie/%s.json", u, req.IMDBID)
}

func (s *Stremio) Search(ctx context.Context, req SearchRequest) ([]models.ScrapeResult, error) {
	if req.IMDBID == "" {
		return nil, nil
	}
	var resp stremioResponse
	if err := s.getJSON(ctx, s.streamURL(req), &resp); err != nil {
		return nil, err
	}

	results := make([]models.ScrapeResult, 0, len(resp.Streams))
	for _, st := range resp.Streams {
		if st.InfoHash == "" {
			continue
		}
		r, tracker := parseStremioStream(st)
		r.Source = s.name
		if tracker != "" {
			r.Source += "/" + tracker
		}
		results = append(results, r)
	}

	s.logger.Debug().Int("count", len(results)).Str("imdb_id", req.IMDBID).Msg("Stremio search completed")
	return results, nil
}

// parseStremioStream reads the release name, seeders, size and origin out of the multi-line stream title
func parseStremioStream(st stremioStream) (r models.ScrapeResult, tracker string) {
	text := st.Title
	if text == "" {
		text = st.Description
	}
	lines := strings.Split(text, "\n")
	title := strings.TrimSpace(lines[0])
	if title == "" {
		title = st.BehaviorHints.Filename
	}

	hash := strings.ToLower(st.InfoHash)
	r = models.ScrapeResult{
		Title:       title,
		Hash:        hash,
		MagnetOrURL: "magnet:?xt=urn:btih:" + hash,
	}
	if m := seedersRegex.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			r.Seeders = intPtr(n)
		}
	}
	if m := sizeRegex.FindStringSubmatch(text); m != nil {
		r.SizeGB = ParseSizeGB(m[1])
	}
	if r.SizeGB == 0 && st.BehaviorHints.VideoSize > 0 {
		r.SizeGB = bytesToGB(st.BehaviorHints.VideoSize)
	}
	if m := sourceRegex.FindStringSubmatch(text); m != nil {
		tracker = m[1]
	}
	return r, tracker
}
