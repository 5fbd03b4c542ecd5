package controllers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/exclusion"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/scraper"
	"github.com/amaumene/debridarr/internal/services/debrid"
	"github.com/amaumene/debridarr/internal/services/library"
	"github.com/amaumene/debridarr/internal/services/notify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeDebrid struct {
	mu        sync.Mutex
	cached    map[string]bool
	torrents  map[string]*debrid.TorrentInfo
	added     []string
	removed   []string
	removeErr map[string]error
	addErr    error
	afterAdd  func()
	slots     debrid.ActiveDownloads
}

func newFakeDebrid() *fakeDebrid {
	return &fakeDebrid{
		cached:    map[string]bool{},
		torrents:  map[string]*debrid.TorrentInfo{},
		removeErr: map[string]error{},
	}
}

func (f *fakeDebrid) IsCached(_ context.Context, hashes []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		out[h] = f.cached[h]
	}
	return out, nil
}

func (f *fakeDebrid) AddTorrent(_ context.Context, src debrid.TorrentSource) (*debrid.TorrentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return nil, f.addErr
	}
	if f.afterAdd != nil {
		defer f.afterAdd()
	}
	f.added = append(f.added, src.Hash)
	if t, ok := f.torrents[src.Hash]; ok {
		cp := *t
		return &cp, nil
	}
	return &debrid.TorrentInfo{ID: "t-" + src.Hash[:6], Hash: src.Hash, Status: debrid.StatusQueued}, nil
}

func (f *fakeDebrid) GetTorrentInfo(_ context.Context, id string) (*debrid.TorrentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.torrents {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, debrid.ErrTorrentNotFound
}

func (f *fakeDebrid) RemoveTorrent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return f.removeErr[id]
}

func (f *fakeDebrid) GetActiveDownloads(context.Context) (*debrid.ActiveDownloads, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.slots
	return &s, nil
}

type fakeScraper struct {
	results func(item *models.MediaItem) []models.ScrapeResult
	err     error
	calls   []scraper.Options
}

func (f *fakeScraper) Scrape(_ context.Context, item *models.MediaItem, _ *config.VersionProfile, opts scraper.Options) ([]models.ScrapeResult, []models.ScrapeResult, error) {
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, nil, f.err
	}
	if f.results == nil {
		return nil, nil, nil
	}
	return f.results(item), nil, nil
}

type fakeAgent struct {
	mu        sync.Mutex
	collected []library.Collected
	removals  []library.Removal
	refreshed []string
}

func (a *fakeAgent) ScanCollected(context.Context) ([]library.Collected, error) {
	return a.collected, nil
}

func (a *fakeAgent) QueueRemoval(_ context.Context, r library.Removal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removals = append(a.removals, r)
	return nil
}

func (a *fakeAgent) Refresh(_ context.Context, p string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshed = append(a.refreshed, p)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []notify.Kind
}

func (p *fakePublisher) Publish(kind notify.Kind, _ *notify.ItemRef, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, kind)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	t         *testing.T
	ctx       context.Context
	clock     *clock
	cfg       *config.Config
	db        *models.Database
	notWanted *exclusion.Memory
	wakes     *exclusion.WakeCounter
	policy    *Policy
	debrid    *fakeDebrid
	scraper   *fakeScraper
	agent     *fakeAgent
	publisher *fakePublisher
	mountRoot string
	mount     *library.Mount
	links     *library.Symlinks

	scraping *ScrapingController
	adding   *AddingController
	checking *CheckingController
	upgrade  *UpgradeController
	verifier *Verifier
}

type harnessOption func(*harness)

func withHandling(h models.UncachedHandling) harnessOption {
	return func(hs *harness) {
		hs.cfg.UncachedHandling = h
		hs.cfg.Versions["1080p"].UncachedHandling = h
	}
}

func withSymlinks() harnessOption {
	return func(hs *harness) {
		hs.cfg.FileCollectionManagement = config.ModeSymlinked
		hs.cfg.SymlinkedFilesPath = filepath.Join(hs.t.TempDir(), "library")
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	dir := t.TempDir()

	profile := config.DefaultProfile()
	profile.Name = "1080p"
	profile.UncachedHandling = models.UncachedNone
	require.NoError(t, profile.Compile())

	h := &harness{
		t:     t,
		ctx:   context.Background(),
		clock: &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		cfg: &config.Config{
			FileCollectionManagement: config.ModePlex,
			MountedFileLocation:      filepath.Join(dir, "mount"),
			WakeLimit:                3,
			CheckingTimeout:          time.Hour,
			SleepDuration:            30 * time.Minute,
			OldAfter:                 7 * 24 * time.Hour,
			UncachedHandling:         models.UncachedNone,
			Versions:                 map[string]*config.VersionProfile{"1080p": &profile},
			UpgradeWindow:            24 * time.Hour,
			UpgradeInterval:          30 * time.Minute,
		},
		debrid:    newFakeDebrid(),
		scraper:   &fakeScraper{},
		agent:     &fakeAgent{},
		publisher: &fakePublisher{},
	}
	for _, o := range opts {
		o(h)
	}

	db, err := models.NewDatabase(filepath.Join(dir, "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetClock(h.clock.now)
	h.db = db

	store, err := exclusion.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	h.notWanted = exclusion.NewMemory(store, false, zerolog.Nop())
	h.notWanted.SetClock(h.clock.now)
	h.wakes = exclusion.NewWakeCounter(store)

	require.NoError(t, os.MkdirAll(h.cfg.MountedFileLocation, 0755))
	h.mountRoot = h.cfg.MountedFileLocation
	h.mount = library.NewMount(h.mountRoot)
	if h.cfg.SymlinkMode() {
		h.links = library.NewSymlinks(h.cfg.SymlinkedFilesPath, h.mount, zerolog.Nop())
	}

	log := zerolog.Nop()
	h.policy = NewPolicy(db, h.notWanted, h.wakes, h.cfg, log)
	h.policy.SetClock(h.clock.now)
	resolver := debrid.NewFetcher(time.Second)
	h.scraping = NewScrapingController(db, h.scraper, h.cfg.Profile, h.policy, log)
	h.adding = NewAddingController(db, h.debrid, resolver, h.cfg.Profile, h.policy, h.cfg, log)
	h.checking = NewCheckingController(db, h.debrid, h.mount, h.links, h.agent, h.policy, h.cfg, log)
	h.upgrade = NewUpgradeController(db, h.scraper, h.adding, h.mount, h.links, h.agent, h.policy, h.publisher, h.cfg, log)
	h.verifier = NewVerifier(db, h.mount, h.links, h.agent, log)
	return h
}

func (h *harness) daysAgo(n int) *time.Time {
	d := h.clock.t.AddDate(0, 0, -n)
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func (h *harness) movie(imdb, version string, releasedDaysAgo int) *models.MediaItem {
	h.t.Helper()
	m := &models.MediaItem{
		IMDBId:      imdb,
		MediaType:   models.MediaTypeMovie,
		Title:       "The Matrix",
		Year:        1999,
		Runtime:     136,
		Version:     version,
		ReleaseDate: h.daysAgo(releasedDaysAgo),
	}
	require.NoError(h.t, h.db.CreateMedia(h.ctx, m))
	return m
}

func (h *harness) episode(imdb string, season, ep, releasedDaysAgo int) *models.MediaItem {
	h.t.Helper()
	m := &models.MediaItem{
		IMDBId:      imdb,
		MediaType:   models.MediaTypeEpisode,
		Title:       "Some Show",
		Season:      season,
		Episode:     ep,
		Version:     "1080p",
		ReleaseDate: h.daysAgo(releasedDaysAgo),
	}
	require.NoError(h.t, h.db.CreateMedia(h.ctx, m))
	return m
}

func (h *harness) get(id uint64) *models.MediaItem {
	h.t.Helper()
	m, err := h.db.GetMediaByID(h.ctx, id)
	require.NoError(h.t, err)
	return m
}

func (h *harness) move(id uint64, from, to models.State, mutate func(*models.MediaItem)) *models.MediaItem {
	h.t.Helper()
	m, err := h.db.Transition(h.ctx, id, from, to, "test", mutate)
	require.NoError(h.t, err)
	return m
}

func (h *harness) touch(rel string) {
	h.t.Helper()
	p := filepath.Join(h.mountRoot, filepath.FromSlash(rel))
	require.NoError(h.t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(h.t, os.WriteFile(p, []byte("video"), 0644))
}

func hashOf(c string) string {
	return strings.Repeat(c, 40)
}

func magnet(hash string) string {
	return "magnet:?xt=urn:btih:" + hash
}

func result(title, hash string) models.ScrapeResult {
	return models.ScrapeResult{Title: title, Source: "torrentio", Hash: hash, MagnetOrURL: magnet(hash), SizeGB: 8}
}

func fixed(results ...models.ScrapeResult) func(*models.MediaItem) []models.ScrapeResult {
	return func(*models.MediaItem) []models.ScrapeResult { return results }
}
