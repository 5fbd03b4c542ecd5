package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ParsedRelease is what the scraper understood from a release title
type ParsedRelease struct {
	Title      string `json:"title,omitempty"`
	Year       int    `json:"year,omitempty"`
	Seasons    []int  `json:"seasons,omitempty"`
	Episodes   []int  `json:"episodes,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	HDR        bool   `json:"hdr,omitempty"`
	Codec      string `json:"codec,omitempty"`
}

// ScrapeResult is one ranked release candidate
type ScrapeResult struct {
	Title       string        `json:"title"`
	Source      string        `json:"source"`
	Hash        string        `json:"hash,omitempty"`
	MagnetOrURL string        `json:"magnet_or_url"`
	SizeGB      float64       `json:"size_gb"`
	Seeders     *int          `json:"seeders,omitempty"`
	Score       float64       `json:"score"`
	IsMultiPack bool          `json:"is_multi_pack,omitempty"`
	Parsed      ParsedRelease `json:"parsed"`
	Reason      string        `json:"reason,omitempty"` // set on filtered-out results
}

// SeederCount returns seeders or zero when unknown
func (r ScrapeResult) SeederCount() int {
	if r.Seeders == nil {
		return 0
	}
	return *r.Seeders
}

// ScrapeResults is the ranked list persisted as a single column
type ScrapeResults []ScrapeResult

// Value implements driver.Valuer
func (r ScrapeResults) Value() (driver.Value, error) {
	if len(r) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]ScrapeResult(r))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (r *ScrapeResults) Scan(src interface{}) error {
	return scanJSON(src, r)
}

// StringList is a JSON encoded []string column
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// BoolMap is a JSON encoded map[string]bool column
type BoolMap map[string]bool

// Value implements driver.Valuer
func (m BoolMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(map[string]bool(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *BoolMap) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// FillSnapshot is the artifact an item held before an upgrade started
type FillSnapshot struct {
	Title                  string `json:"title"`
	Magnet                 string `json:"magnet,omitempty"`
	URL                    string `json:"url,omitempty"`
	Hash                   string `json:"hash,omitempty"`
	File                   string `json:"file,omitempty"`
	TorrentID              string `json:"torrent_id"`
	LocationOnDisk         string `json:"location_on_disk,omitempty"`
	OriginalPathForSymlink string `json:"original_path_for_symlink,omitempty"`
}

// Value implements driver.Valuer
func (s FillSnapshot) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (s *FillSnapshot) Scan(src interface{}) error {
	return scanJSON(src, s)
}

func scanJSON(src interface{}, dst interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported column type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
