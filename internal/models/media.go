package models

import (
	"fmt"
	"time"
)

// MediaItem is one tracked (movie|episode, version) pair
type MediaItem struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	// Identity
	IMDBId       string     `gorm:"column:imdb_id;not null;uniqueIndex:idx_media_identity,priority:1" json:"imdb_id"`
	TMDBId       string     `gorm:"column:tmdb_id" json:"tmdb_id,omitempty"`
	MediaType    MediaType  `gorm:"column:media_type;not null;uniqueIndex:idx_media_identity,priority:2" json:"type"`
	Season       int        `gorm:"not null;default:0;uniqueIndex:idx_media_identity,priority:3" json:"season"`  // 0 for movies
	Episode      int        `gorm:"not null;default:0;uniqueIndex:idx_media_identity,priority:4" json:"episode"` // 0 for movies
	Version      string     `gorm:"not null;uniqueIndex:idx_media_identity,priority:5" json:"version"`
	IMDBAliases  StringList `gorm:"type:text" json:"imdb_aliases,omitempty"`
	TitleAliases StringList `gorm:"type:text" json:"title_aliases,omitempty"`

	// Descriptive
	Title        string     `json:"title"`
	Year         int        `json:"year"`
	ReleaseDate  *time.Time `json:"release_date,omitempty"`
	Airtime      string     `json:"airtime,omitempty"` // HH:MM, empty means 00:00
	EpisodeTitle string     `json:"episode_title,omitempty"`
	Runtime      int        `json:"runtime,omitempty"` // minutes
	Genres       StringList `gorm:"type:text" json:"genres,omitempty"`

	// Pipeline
	State          State         `gorm:"not null;index" json:"state"`
	StateChangedAt time.Time     `json:"state_changed_at"`
	ScrapeResults  ScrapeResults `gorm:"type:text" json:"scrape_results,omitempty"`
	SleepCycles    int           `json:"sleep_cycles"`
	LastChecked    *time.Time    `json:"last_checked,omitempty"`
	BlacklistedAt  *time.Time    `gorm:"column:blacklisted_date" json:"blacklisted_date,omitempty"`

	// Acquisition artifact
	FilledByTitle          string        `json:"filled_by_title,omitempty"`
	FilledByMagnet         string        `json:"filled_by_magnet,omitempty"`
	FilledByURL            string        `gorm:"column:filled_by_url" json:"filled_by_url,omitempty"`
	FilledByHash           string        `json:"filled_by_hash,omitempty"`
	FilledByFile           string        `json:"filled_by_file,omitempty"`
	FilledByTorrentID      string        `json:"filled_by_torrent_id,omitempty"`
	LocationOnDisk         string        `json:"location_on_disk,omitempty"`
	OriginalPathForSymlink string        `json:"original_path_for_symlink,omitempty"`
	UpgradingFromTorrentID string        `json:"upgrading_from_torrent_id,omitempty"`
	PreviousFill           *FillSnapshot `gorm:"type:text" json:"previous_fill,omitempty"`
	CollectedAt            *time.Time    `json:"collected_at,omitempty"`
	UpgradeCheckedAt       *time.Time    `json:"upgrade_checked_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"column:last_updated" json:"last_updated"`
}

// TableName pins the table name
func (MediaItem) TableName() string {
	return "media_items"
}

// Key is the natural identity of an item
type Key struct {
	IMDBId    string
	MediaType MediaType
	Season    int
	Episode   int
	Version   string
}

// Key returns the natural identity of the item
func (m *MediaItem) Key() Key {
	return Key{IMDBId: m.IMDBId, MediaType: m.MediaType, Season: m.Season, Episode: m.Episode, Version: m.Version}
}

// IsEpisode reports whether the item is a TV episode
func (m *MediaItem) IsEpisode() bool {
	return m.MediaType == MediaTypeEpisode
}

// Label is a short human readable description used in logs and notifications
func (m *MediaItem) Label() string {
	if m.IsEpisode() {
		return fmt.Sprintf("%s S%02dE%02d [%s]", m.Title, m.Season, m.Episode, m.Version)
	}
	if m.Year > 0 {
		return fmt.Sprintf("%s (%d) [%s]", m.Title, m.Year, m.Version)
	}
	return fmt.Sprintf("%s [%s]", m.Title, m.Version)
}

// ReleaseMoment is release_date combined with airtime (00:00 when unset), in UTC.
// ok is false when the release date is unknown.
func (m *MediaItem) ReleaseMoment() (time.Time, bool) {
	if m.ReleaseDate == nil || m.ReleaseDate.IsZero() {
		return time.Time{}, false
	}
	d := m.ReleaseDate.UTC()
	hour, minute := 0, 0
	if m.Airtime != "" {
		if t, err := time.Parse("15:04", m.Airtime); err == nil {
			hour, minute = t.Hour(), t.Minute()
		}
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, time.UTC), true
}

// IsReleased reports whether the release moment has been reached
func (m *MediaItem) IsReleased(now time.Time) bool {
	rel, ok := m.ReleaseMoment()
	return ok && !now.Before(rel)
}

// IsPast reports whether now is at least d after the release moment
func (m *MediaItem) IsPast(now time.Time, d time.Duration) bool {
	rel, ok := m.ReleaseMoment()
	return ok && !now.Before(rel.Add(d))
}

// ClearFill drops every acquisition artifact field
func (m *MediaItem) ClearFill() {
	m.FilledByTitle = ""
	m.FilledByMagnet = ""
	m.FilledByURL = ""
	m.FilledByHash = ""
	m.FilledByFile = ""
	m.FilledByTorrentID = ""
	m.LocationOnDisk = ""
	m.OriginalPathForSymlink = ""
	m.UpgradingFromTorrentID = ""
	m.PreviousFill = nil
	m.CollectedAt = nil
	m.UpgradeCheckedAt = nil
}

// Snapshot captures the current artifact so an upgrade can be rolled back
func (m *MediaItem) Snapshot() *FillSnapshot {
	return &FillSnapshot{
		Title:                  m.FilledByTitle,
		Magnet:                 m.FilledByMagnet,
		URL:                    m.FilledByURL,
		Hash:                   m.FilledByHash,
		File:                   m.FilledByFile,
		TorrentID:              m.FilledByTorrentID,
		LocationOnDisk:         m.LocationOnDisk,
		OriginalPathForSymlink: m.OriginalPathForSymlink,
	}
}

// Restore puts a snapshot back as the current artifact
func (m *MediaItem) Restore(s *FillSnapshot) {
	if s == nil {
		return
	}
	m.FilledByTitle = s.Title
	m.FilledByMagnet = s.Magnet
	m.FilledByURL = s.URL
	m.FilledByHash = s.Hash
	m.FilledByFile = s.File
	m.FilledByTorrentID = s.TorrentID
	m.LocationOnDisk = s.LocationOnDisk
	m.OriginalPathForSymlink = s.OriginalPathForSymlink
}

// ContentSource is a persisted content list definition
type ContentSource struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string     `gorm:"uniqueIndex;not null" json:"name"`
	Kind         string     `json:"kind"`
	Enabled      bool       `json:"enabled"`
	Versions     BoolMap    `gorm:"type:text" json:"versions"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName pins the table name
func (ContentSource) TableName() string {
	return "content_sources"
}

// MetadataEntry is a cached metadata payload
type MetadataEntry struct {
	Key       string    `gorm:"primaryKey"`
	Payload   []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// TableName pins the table name
func (MetadataEntry) TableName() string {
	return "metadata_cache"
}
