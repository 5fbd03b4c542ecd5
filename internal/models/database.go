package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when no row matches
	ErrNotFound = errors.New("media item not found")
	// ErrStateConflict is returned when the row left the expected state before the write
	ErrStateConflict = errors.New("media item state changed concurrently")
	// ErrIllegalTransition is returned for transitions outside the permitted table
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrDuplicate is returned when an item with the same identity exists
	ErrDuplicate = errors.New("media item already exists")
	// ErrMissingArtifact is returned when entering an artifact state without a torrent id
	ErrMissingArtifact = errors.New("torrent id required for this state")
)

// TransitionHook observes committed transitions
type TransitionHook func(item *MediaItem, from, to State, cause string)

// Database wraps the gorm store
type Database struct {
	db     *gorm.DB
	logger zerolog.Logger
	now    func() time.Time

	locks sync.Map // uint64 -> *sync.Mutex

	hookMu sync.RWMutex
	hooks  []TransitionHook
}

// NewDatabase opens (or creates) the sqlite database and migrates the schema
func NewDatabase(path string, logger zerolog.Logger) (*Database, error) {
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&MediaItem{}, &ContentSource{}, &MetadataEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
		now:    time.Now,
	}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SetClock overrides the time source
func (d *Database) SetClock(now func() time.Time) {
	d.now = now
}

// OnTransition registers a hook called after every committed transition
func (d *Database) OnTransition(h TransitionHook) {
	d.hookMu.Lock()
	defer d.hookMu.Unlock()
	d.hooks = append(d.hooks, h)
}

func (d *Database) lock(id uint64) *sync.Mutex {
	mu, _ := d.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Media operations

// CreateMedia inserts a new item. The identity must be unused.
func (d *Database) CreateMedia(ctx context.Context, m *MediaItem) error {
	if m.State == "" {
		m.State = StateWanted
	}
	if m.StateChangedAt.IsZero() {
		m.StateChangedAt = d.now()
	}
	if _, err := d.GetMediaByKey(ctx, m.Key()); err == nil {
		return ErrDuplicate
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := d.db.WithContext(ctx).Create(m).Error; err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create media item: %w", err)
	}
	return nil
}

// GetMediaByID retrieves an item by ID
func (d *Database) GetMediaByID(ctx context.Context, id uint64) (*MediaItem, error) {
	var m MediaItem
	err := d.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMediaByKey retrieves an item by its natural identity
func (d *Database) GetMediaByKey(ctx context.Context, k Key) (*MediaItem, error) {
	var m MediaItem
	err := d.db.WithContext(ctx).
		Where("imdb_id = ? AND media_type = ? AND season = ? AND episode = ? AND version = ?",
			k.IMDBId, k.MediaType, k.Season, k.Episode, k.Version).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListByState returns items in a state, oldest transition first. limit <= 0 means no limit.
func (d *Database) ListByState(ctx context.Context, state State, limit int) ([]*MediaItem, error) {
	var items []*MediaItem
	q := d.db.WithContext(ctx).Where("state = ?", state).Order("state_changed_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s items: %w", state, err)
	}
	return items, nil
}

// ListByStates returns items in any of the given states
func (d *Database) ListByStates(ctx context.Context, states ...State) ([]*MediaItem, error) {
	var items []*MediaItem
	if err := d.db.WithContext(ctx).Where("state IN ?", states).Order("id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// ListAll returns every item
func (d *Database) ListAll(ctx context.Context) ([]*MediaItem, error) {
	var items []*MediaItem
	if err := d.db.WithContext(ctx).Order("id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// ListSiblings returns episodes of the same show, season and version in the given states
func (d *Database) ListSiblings(ctx context.Context, m *MediaItem, states ...State) ([]*MediaItem, error) {
	var items []*MediaItem
	q := d.db.WithContext(ctx).
		Where("imdb_id = ? AND media_type = ? AND version = ? AND id <> ?", m.IMDBId, MediaTypeEpisode, m.Version, m.ID)
	if len(states) > 0 {
		q = q.Where("state IN ?", states)
	}
	if err := q.Order("season ASC, episode ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list siblings: %w", err)
	}
	return items, nil
}

// ListIdentityCopies returns other rows describing the same movie or episode, any version
func (d *Database) ListIdentityCopies(ctx context.Context, m *MediaItem) ([]*MediaItem, error) {
	var items []*MediaItem
	err := d.db.WithContext(ctx).
		Where("imdb_id = ? AND media_type = ? AND season = ? AND episode = ? AND id <> ?",
			m.IMDBId, m.MediaType, m.Season, m.Episode, m.ID).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list copies: %w", err)
	}
	return items, nil
}

// ListByTorrentID returns items filled by a torrent
func (d *Database) ListByTorrentID(ctx context.Context, torrentID string) ([]*MediaItem, error) {
	var items []*MediaItem
	err := d.db.WithContext(ctx).
		Where("filled_by_torrent_id = ? OR upgrading_from_torrent_id = ?", torrentID, torrentID).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list items by torrent: %w", err)
	}
	return items, nil
}

// ListWithLocation returns every item that has a location on disk
func (d *Database) ListWithLocation(ctx context.Context) ([]*MediaItem, error) {
	var items []*MediaItem
	if err := d.db.WithContext(ctx).Where("location_on_disk <> ''").Order("id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list located items: %w", err)
	}
	return items, nil
}

// ListCollectedSince returns Collected items whose collection time is at or after since
func (d *Database) ListCollectedSince(ctx context.Context, since time.Time) ([]*MediaItem, error) {
	var items []*MediaItem
	err := d.db.WithContext(ctx).
		Where("state = ? AND collected_at >= ?", StateCollected, since).
		Order("collected_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list collected items: %w", err)
	}
	return items, nil
}

// SeasonBusy reports whether an episode of (imdb, season) other than excludeID sits in Scraping, Adding or Pending Uncached
func (d *Database) SeasonBusy(ctx context.Context, imdbID string, season int, excludeID uint64) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&MediaItem{}).
		Where("imdb_id = ? AND media_type = ? AND season = ? AND id <> ? AND state IN ?",
			imdbID, MediaTypeEpisode, season, excludeID,
			[]State{StateScraping, StateAdding, StatePendingUncached}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountByState returns the number of items per state
func (d *Database) CountByState(ctx context.Context) (map[State]int64, error) {
	var rows []struct {
		State State
		Count int64
	}
	err := d.db.WithContext(ctx).Model(&MediaItem{}).
		Select("state, COUNT(*) AS count").Group("state").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[State]int64, len(AllStates))
	for _, st := range AllStates {
		out[st] = 0
	}
	for _, r := range rows {
		out[r.State] = r.Count
	}
	return out, nil
}

// Update mutates an item in place while it is still in the expected state
func (d *Database) Update(ctx context.Context, id uint64, expected State, mutate func(*MediaItem)) (*MediaItem, error) {
	mu := d.lock(id)
	mu.Lock()
	defer mu.Unlock()

	var out MediaItem
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND state = ?", id, expected).First(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStateConflict
			}
			return err
		}
		mutate(&out)
		out.State = expected
		res := tx.Model(&out).Where("state = ?", expected).Select("*").Updates(&out)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStateConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// TransitionRequest describes one CAS state change
type TransitionRequest struct {
	ID     uint64
	From   State
	To     State
	Cause  string
	Mutate func(*MediaItem)
}

// Transition moves one item from -> to, applying mutate inside the same transaction
func (d *Database) Transition(ctx context.Context, id uint64, from, to State, cause string, mutate func(*MediaItem)) (*MediaItem, error) {
	items, err := d.TransitionMany(ctx, []TransitionRequest{{ID: id, From: from, To: to, Cause: cause, Mutate: mutate}})
	if err != nil {
		return nil, err
	}
	return items[0], nil
}

// TransitionMany applies several transitions atomically. Either all commit or none do.
func (d *Database) TransitionMany(ctx context.Context, reqs []TransitionRequest) ([]*MediaItem, error) {
	for _, r := range reqs {
		if !CanTransition(r.From, r.To) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.From, r.To)
		}
	}

	ids := make([]uint64, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		mu := d.lock(id)
		mu.Lock()
		defer mu.Unlock()
	}

	now := d.now()
	out := make([]*MediaItem, len(reqs))
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, r := range reqs {
			item, err := applyTransition(tx, r, now)
			if err != nil {
				return fmt.Errorf("item %d: %w", r.ID, err)
			}
			out[i] = item
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, r := range reqs {
		item := out[i]
		d.logger.Info().
			Uint64("item_id", item.ID).
			Str("imdb_id", item.IMDBId).
			Int("season", item.Season).
			Int("episode", item.Episode).
			Str("version", item.Version).
			Str("from", string(r.From)).
			Str("to", string(r.To)).
			Str("cause", r.Cause).
			Msg("State transition")
		d.hookMu.RLock()
		for _, h := range d.hooks {
			h(item, r.From, r.To, r.Cause)
		}
		d.hookMu.RUnlock()
	}
	return out, nil
}

func applyTransition(tx *gorm.DB, r TransitionRequest, now time.Time) (*MediaItem, error) {
	var item MediaItem
	if err := tx.Where("id = ? AND state = ?", r.ID, r.From).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStateConflict
		}
		return nil, err
	}

	if r.Mutate != nil {
		r.Mutate(&item)
	}
	item.State = r.To
	item.StateChangedAt = now

	if r.To != StateAdding && r.To != StatePendingUncached {
		item.ScrapeResults = nil
	}
	if r.To == StateBlacklisted {
		item.BlacklistedAt = &now
	} else {
		item.BlacklistedAt = nil
	}
	if r.To != StateCollected && r.To != StateUpgrading {
		item.LocationOnDisk = ""
	}
	if r.To.HasArtifact() && item.FilledByTorrentID == "" {
		return nil, ErrMissingArtifact
	}

	res := tx.Model(&item).Where("state = ?", r.From).Select("*").Updates(&item)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrStateConflict
	}
	return &item, nil
}

// ResetInFlight sends items interrupted mid-pipeline back to Wanted. Wake counts live elsewhere and are untouched.
func (d *Database) ResetInFlight(ctx context.Context) (int, error) {
	items, err := d.ListByStates(ctx, StateScraping, StateAdding, StateChecking, StateSleeping)
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, item := range items {
		from := item.State
		_, err := d.Transition(ctx, item.ID, from, StateWanted, "restart reset", func(m *MediaItem) {
			if from == StateChecking {
				m.ClearFill()
			}
		})
		if err != nil {
			if errors.Is(err, ErrStateConflict) {
				continue
			}
			return reset, err
		}
		reset++
	}
	return reset, nil
}

// DeleteMedia deletes an item by ID
func (d *Database) DeleteMedia(ctx context.Context, id uint64) error {
	mu := d.lock(id)
	mu.Lock()
	defer mu.Unlock()

	res := d.db.WithContext(ctx).Delete(&MediaItem{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete media item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	d.locks.Delete(id)
	return nil
}
