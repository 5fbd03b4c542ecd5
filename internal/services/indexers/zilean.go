package indexers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/rs/zerolog"
)

// Zilean queries a Zilean DMM hash-list index
type Zilean struct {
	base
}

// flexInt decodes sizes published either as numbers or as numeric strings
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

type zileanTorrent struct {
	RawTitle string  `json:"raw_title"`
	InfoHash string  `json:"info_hash"`
	Size     flexInt `json:"size"`
}

// NewZilean creates a Zilean indexer
func NewZilean(cfg config.IndexerConfig, logger zerolog.Logger) *Zilean {
	return &Zilean{base: newBase(cfg, logger)}
}

func (z *Zilean) Search(ctx context.Context, req SearchRequest) ([]models.ScrapeResult, error) {
	if req.Title == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("Query", req.Title)
	if req.IsEpisode() {
		params.Set("Season", strconv.Itoa(req.Season))
		params.Set("Episode", strconv.Itoa(req.Episode))
	} else if req.Year > 0 {
		params.Set("Year", strconv.Itoa(req.Year))
	}
	if req.IMDBID != "" {
		params.Set("ImdbId", req.IMDBID)
	}

	data, err := z.get(ctx, z.baseURL+"/dmm/filtered?"+params.Encode())
	if err != nil {
		return nil, err
	}
	var torrents []zileanTorrent
	if err := json.Unmarshal(data, &torrents); err != nil {
		return nil, err
	}

	results := make([]models.ScrapeResult, 0, len(torrents))
	for _, t := range torrents {
		hash := strings.ToLower(strings.TrimSpace(t.InfoHash))
		if hash == "" {
			continue
		}
		results = append(results, models.ScrapeResult{
			Title:       t.RawTitle,
			Source:      z.name,
			Hash:        hash,
			MagnetOrURL: "magnet:?xt=urn:btih:" + hash,
			SizeGB:      bytesToGB(int64(t.Size)),
		})
	}
	z.logger.Debug().Int("count", len(results)).Msg("Zilean search completed")
	return results, nil
}
