package indexers

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/rs/zerolog"
)

const torznabXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom" xmlns:torznab="http://torznab.com/schemas/2015/feed">
  <channel>
    <title>Test Indexer</title>
    <item>
      <title>Test Movie 2024 1080p BluRay x264</title>
      <link>https://example.com/download/12345.torrent</link>
      <guid>https://example.com/details/12345</guid>
      <pubDate>Mon, 01 Jan 2024 12:00:00 +0000</pubDate>
      <enclosure url="https://example.com/download/12345.torrent" length="8589934592" type="application/x-bittorrent"/>
      <torznab:attr name="size" value="8589934592"/>
      <torznab:attr name="seeders" value="42"/>
    </item>
    <item>
      <title>Test Show S01E01 1080p WEB-DL</title>
      <link>https://example.com/download/12346.torrent</link>
      <guid>https://example.com/details/12346</guid>
      <pubDate>Tue, 02 Jan 2024 12:00:00 +0000</pubDate>
      <torznab:attr name="size" value="2147483648"/>
      <torznab:attr name="infohash" value="C9E15763F722F23E98A29DECDFAE341B98D53056"/>
      <torznab:attr name="magneturl" value="magnet:?xt=urn:btih:C9E15763F722F23E98A29DECDFAE341B98D53056"/>
      <torznab:attr name="seeders" value="0"/>
    </item>
    <item>
      <title>Test Show S02 1080p WEB-DL Season Pack</title>
      <link>https://example.com/download/12347.torrent</link>
      <guid>https://example.com/details/12347</guid>
      <pubDate>Wed, 03 Jan 2024 12:00:00 +0000</pubDate>
      <size>21474836480</size>
    </item>
  </channel>
</rss>`

func TestXMLParsing(t *testing.T) {
	var response TorznabResponse
	err := xml.Unmarshal([]byte(torznabXML), &response)
	if err != nil {
		t.Fatalf("Failed to parse XML: %v", err)
	}

	// Verify channel
	if response.Channel.Title != "Test Indexer" {
		t.Errorf("Expected channel title 'Test Indexer', got '%s'", response.Channel.Title)
	}

	// Verify items count
	if len(response.Channel.Items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(response.Channel.Items))
	}

	movieItem := response.Channel.Items[0]
	if GetAttributeInt64(movieItem, "size") != 8589934592 {
		t.Errorf("Movie size mismatch")
	}
	if seeders := GetAttributeInt(movieItem, "seeders"); seeders == nil || *seeders != 42 {
		t.Errorf("Expected 42 seeders, got %v", seeders)
	}
	if movieItem.Enclosure.URL != "https://example.com/download/12345.torrent" {
		t.Errorf("Enclosure URL mismatch: %s", movieItem.Enclosure.URL)
	}

	packItem := response.Channel.Items[2]
	if GetAttributeInt(packItem, "seeders") != nil {
		t.Errorf("Season pack should not have seeders attribute")
	}
	if packItem.Size != 21474836480 {
		t.Errorf("Season pack size mismatch: %d", packItem.Size)
	}
}

func TestConvertResults(t *testing.T) {
	client := &Torznab{base: base{name: "jackett"}}

	var response TorznabResponse
	if err := xml.Unmarshal([]byte(torznabXML), &response); err != nil {
		t.Fatalf("Failed to parse XML: %v", err)
	}
	results := client.convertResults(response.Channel.Items)

	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}

	// enclosure link when no magnet is published
	if results[0].MagnetOrURL != "https://example.com/download/12345.torrent" {
		t.Errorf("Movie link mismatch: %s", results[0].MagnetOrURL)
	}
	if results[0].SizeGB != 8 {
		t.Errorf("Movie size mismatch: %f", results[0].SizeGB)
	}
	if results[0].Source != "jackett" {
		t.Errorf("Source mismatch: %s", results[0].Source)
	}

	// magnet attribute wins over the enclosure
	if results[1].Hash != "c9e15763f722f23e98a29decdfae341b98d53056" {
		t.Errorf("Hash mismatch: %s", results[1].Hash)
	}
	if results[1].MagnetOrURL[:7] != "magnet:" {
		t.Errorf("Expected magnet link, got %s", results[1].MagnetOrURL)
	}
	if results[1].Seeders == nil || *results[1].Seeders != 0 {
		t.Errorf("Expected explicit zero seeders")
	}

	// size element fallback
	if results[2].SizeGB != 20 {
		t.Errorf("Season pack size mismatch: %f", results[2].SizeGB)
	}
	if results[2].Seeders != nil {
		t.Errorf("Season pack seeders should be unknown")
	}
}

func TestTorznabSearchQuery(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2.0/indexers/all/results/torznab/api" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		got = map[string]string{}
		for k := range r.URL.Query() {
			got[k] = r.URL.Query().Get(k)
		}
		_, _ = w.Write([]byte(torznabXML))
	}))
	defer srv.Close()

	idx := NewTorznab(config.IndexerConfig{
		Name:   "jackett",
		URL:    srv.URL + "/api/v2.0/indexers/all/results/torznab",
		APIKey: "secret",
	}, zerolog.Nop())

	results, err := idx.Search(context.Background(), SearchRequest{
		IMDBID:    "tt1234567",
		MediaType: models.MediaTypeEpisode,
		Season:    1,
		Episode:   2,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if got["t"] != "tvsearch" || got["season"] != "1" || got["imdbid"] != "tt1234567" || got["apikey"] != "secret" {
		t.Errorf("Unexpected query: %v", got)
	}
	if _, ok := got["ep"]; ok {
		t.Errorf("Episode should not be part of the query so packs are returned")
	}
}
