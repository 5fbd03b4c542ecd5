package indexers

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/rs/zerolog"
)

// TorznabResponse represents the XML RSS response from a Torznab API
type TorznabResponse struct {
	XMLName xml.Name `xml:"rss"`
	Channel Channel  `xml:"channel"`
}

// Channel represents the channel element in RSS
type Channel struct {
	Title string `xml:"title"`
	Items []Item `xml:"item"`
}

// Item represents a single search result
type Item struct {
	Title      string      `xml:"title"`
	Link       string      `xml:"link"`
	GUID       string      `xml:"guid"`
	PubDate    string      `xml:"pubDate"`
	Size       int64       `xml:"size"`
	Enclosure  Enclosure   `xml:"enclosure"` // The .torrent download URL
	Attributes []Attribute `xml:"attr"`
}

// Enclosure represents the enclosure element containing the download URL
type Enclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"` // Usually "application/x-bittorrent"
}

// Attribute represents a torznab attribute (e.g., seeders, infohash, size)
type Attribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Torznab queries a Jackett or Prowlarr torznab feed
type Torznab struct {
	base
}

// NewTorznab creates a torznab indexer
func NewTorznab(cfg config.IndexerConfig, logger zerolog.Logger) *Torznab {
	return &Torznab{base: newBase(cfg, logger)}
}

// searchURL builds the query: movie search by imdb id, tvsearch by imdb id + season (+ episode)
func (t *Torznab) searchURL(req SearchRequest) (string, error) {
	apiURL, err := url.Parse(t.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid torznab URL: %w", err)
	}

	// Ensure path ends in /api
	if !strings.HasSuffix(apiURL.Path, "/api") {
		apiURL.Path = strings.TrimRight(apiURL.Path, "/") + "/api"
	}

	params := url.Values{}
	params.Add("apikey", t.apiKey)
	if req.IsEpisode() {
		params.Add("t", "tvsearch")
		params.Add("season", strconv.Itoa(req.Season))
		// no episode parameter: season packs come back too
	} else {
		params.Add("t", "movie")
	}
	if req.IMDBID != "" {
		params.Add("imdbid", req.IMDBID)
	} else {
		params.Add("q", req.Title)
	}
	apiURL.RawQuery = params.Encode()
	return apiURL.String(), nil
}

func (t *Torznab) Search(ctx context.Context, req SearchRequest) ([]models.ScrapeResult, error) {
	u, err := t.searchURL(req)
	if err != nil {
		return nil, err
	}

	t.logger.Debug().
		Str("imdb_id", req.IMDBID).
		Int("season", req.Season).
		Int("episode", req.Episode).
		Msg("Performing torznab search")

	data, err := t.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var resp TorznabResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse XML response: %w", err)
	}

	t.logger.Debug().Int("count", len(resp.Channel.Items)).Msg("Torznab search completed")
	return t.convertResults(resp.Channel.Items), nil
}

// GetAttributeValue extracts an attribute value by name from an Item
func GetAttributeValue(item Item, attrName string) string {
	for _, attr := range item.Attributes {
		if attr.Name == attrName {
			return attr.Value
		}
	}
	return ""
}

// GetAttributeInt extracts an attribute value as integer
func GetAttributeInt(item Item, attrName string) *int {
	value := GetAttributeValue(item, attrName)
	if value == "" {
		return nil
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}

	return &intVal
}

// GetAttributeInt64 extracts an attribute value as int64
func GetAttributeInt64(item Item, attrName string) int64 {
	value := GetAttributeValue(item, attrName)
	if value == "" {
		return 0
	}

	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}

	return intVal
}

// convertResults converts torznab Items to scrape results.
// The magnet (or info-hash) attribute is preferred over the enclosure download link.
func (t *Torznab) convertResults(items []Item) []models.ScrapeResult {
	results := make([]models.ScrapeResult, 0, len(items))

	for _, item := range items {
		r := models.ScrapeResult{
			Title:   item.Title,
			Source:  t.name,
			Hash:    strings.ToLower(GetAttributeValue(item, "infohash")),
			Seeders: GetAttributeInt(item, "seeders"),
		}

		switch magnet := GetAttributeValue(item, "magneturl"); {
		case magnet != "":
			r.MagnetOrURL = magnet
		case strings.HasPrefix(item.Link, "magnet:"):
			r.MagnetOrURL = item.Link
		case item.Enclosure.URL != "":
			r.MagnetOrURL = item.Enclosure.URL
		case r.Hash != "":
			r.MagnetOrURL = "magnet:?xt=urn:btih:" + r.Hash
		default:
			r.MagnetOrURL = item.Link
		}

		size := GetAttributeInt64(item, "size")
		if size == 0 {
			size = item.Size
		}
		if size == 0 {
			size = item.Enclosure.Length
		}
		r.SizeGB = bytesToGB(size)

		if r.MagnetOrURL == "" {
			continue
		}
		results = append(results, r)
	}

	return results
}
