package exclusion

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/rs/zerolog"
)

// ErrTooEarly is returned when an addition is attempted inside the first day after release
var ErrTooEarly = errors.New("item released less than 24h ago")

// GateAge is how long after its release moment an item must be before its releases can be excluded
const GateAge = 24 * time.Hour

// Memory holds the NotWanted hash and URL sets
type Memory struct {
	store        *Store
	mu           sync.Mutex
	disableCheck bool
	now          func() time.Time
	logger       zerolog.Logger
}

// NewMemory creates the exclusion memory. disableCheck bypasses membership checks only.
func NewMemory(store *Store, disableCheck bool, logger zerolog.Logger) *Memory {
	return &Memory{
		store:        store,
		disableCheck: disableCheck,
		now:          time.Now,
		logger:       logger.With().Str("component", "not_wanted").Logger(),
	}
}

// SetClock overrides the time source
func (m *Memory) SetClock(now func() time.Time) {
	m.now = now
}

// Excluded reports whether either the hash or the URL is on the NotWanted sets
func (m *Memory) Excluded(hash, url string) bool {
	if m.disableCheck {
		return false
	}
	if hash != "" && m.store.has(bucketHashes, normalizeHash(hash)) {
		return true
	}
	return url != "" && m.store.has(bucketURLs, url)
}

// Contains reports raw membership regardless of the debug bypass
func (m *Memory) Contains(hash, url string) bool {
	if hash != "" && m.store.has(bucketHashes, normalizeHash(hash)) {
		return true
	}
	return url != "" && m.store.has(bucketURLs, url)
}

// Add records hash and/or url as not wanted on behalf of item.
// Returns ErrTooEarly (and writes nothing) when the item is not yet 24h past release.
func (m *Memory) Add(item *models.MediaItem, hash, url string) error {
	if !item.IsPast(m.now(), GateAge) {
		m.logger.Debug().
			Uint64("item_id", item.ID).
			Str("hash", hash).
			Msg("Refusing NotWanted addition inside first day after release")
		return ErrTooEarly
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stamp := []byte(m.now().UTC().Format(time.RFC3339))
	if hash != "" {
		if err := m.store.put(bucketHashes, normalizeHash(hash), stamp); err != nil {
			return err
		}
	}
	if url != "" && !strings.HasPrefix(url, "magnet:") {
		if err := m.store.put(bucketURLs, url, stamp); err != nil {
			return err
		}
	}
	m.logger.Info().
		Uint64("item_id", item.ID).
		Str("hash", hash).
		Str("url", url).
		Msg("Marked release as not wanted")
	return nil
}

// Counts returns the sizes of the two sets
func (m *Memory) Counts() (hashes, urls int) {
	return m.store.count(bucketHashes), m.store.count(bucketURLs)
}

func normalizeHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
