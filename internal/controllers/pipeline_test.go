package controllers

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/services/debrid"
	"github.com/amaumene/debridarr/internal/services/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMovieHappyPath(t *testing.T) {
	h := newHarness(t)
	hash := hashOf("a")
	item := h.movie("tt0133093", "1080p", 3)

	h.scraper.results = fixed(result("The.Matrix.1999.1080p.BluRay.x264", hash))
	h.debrid.cached[hash] = true
	h.debrid.torrents[hash] = &debrid.TorrentInfo{
		ID:     "T",
		Hash:   hash,
		Name:   "The.Matrix.1999.1080p.BluRay.x264",
		Status: debrid.StatusDownloaded,
		Files: []debrid.File{
			{Path: "/Sample/sample.mkv", Size: 50 << 20},
			{Path: "/Matrix.mkv", Size: 8 << 30},
		},
	}

	scraping := h.move(item.ID, models.StateWanted, models.StateScraping, nil)
	out, err := h.scraping.Process(h.ctx, scraping)
	require.NoError(t, err)
	assert.Equal(t, Advanced, out.Kind)
	adding := h.get(item.ID)
	require.Equal(t, models.StateAdding, adding.State)
	require.Len(t, adding.ScrapeResults, 1)

	out, err = h.adding.Process(h.ctx, adding)
	require.NoError(t, err)
	assert.Equal(t, models.StateChecking, out.Next)
	checking := h.get(item.ID)
	assert.Equal(t, models.StateChecking, checking.State)
	assert.Equal(t, "T", checking.FilledByTorrentID)
	assert.Equal(t, "/Matrix.mkv", checking.FilledByFile)
	assert.Equal(t, hash, checking.FilledByHash)
	assert.Empty(t, checking.ScrapeResults)

	out, err = h.checking.Process(h.ctx, checking)
	require.NoError(t, err)
	assert.Equal(t, Waiting, out.Kind)
	assert.Equal(t, models.StateChecking, h.get(item.ID).State)

	h.touch("Matrix.mkv")
	h.clock.advance(time.Minute)
	out, err = h.checking.Process(h.ctx, h.get(item.ID))
	require.NoError(t, err)
	assert.Equal(t, Advanced, out.Kind)

	collected := h.get(item.ID)
	assert.Equal(t, models.StateCollected, collected.State)
	assert.Equal(t, "Matrix.mkv", collected.LocationOnDisk)
	require.NotNil(t, collected.CollectedAt)
	assert.True(t, h.notWanted.Contains(hash, ""))
	assert.Equal(t, []string{filepath.Join(h.mountRoot, "Matrix.mkv")}, h.agent.refreshed)
	assert.Empty(t, h.debrid.removed)
}

func TestSeasonPackFillsSiblings(t *testing.T) {
	h := newHarness(t)
	hash := hashOf("b")
	e1 := h.episode("tt1234567", 1, 1, 3)
	e2 := h.episode("tt1234567", 1, 2, 3)
	e3 := h.episode("tt1234567", 1, 3, 3)
	other := h.episode("tt1234567", 2, 1, 3)

	h.scraper.results = fixed(result("Show.S01.1080p.WEB", hash))
	h.debrid.cached[hash] = true
	h.debrid.torrents[hash] = &debrid.TorrentInfo{
		ID:     "PACK",
		Hash:   hash,
		Name:   "Show.S01.1080p.WEB",
		Status: debrid.StatusDownloaded,
		Files: []debrid.File{
			{Path: "/Show.S01E01.1080p.mkv", Size: 1 << 30},
			{Path: "/Show.S01E02.1080p.mkv", Size: 1 << 30},
			{Path: "/Show.S01E03.1080p.mkv", Size: 1 << 30},
			{Path: "/Show.S01.nfo", Size: 1 << 10},
		},
	}

	_, err := h.scraping.Process(h.ctx, h.move(e1.ID, models.StateWanted, models.StateScraping, nil))
	require.NoError(t, err)
	require.Len(t, h.scraper.calls, 1)
	assert.True(t, h.scraper.calls[0].Multi)

	out, err := h.adding.Process(h.ctx, h.get(e1.ID))
	require.NoError(t, err)
	assert.Equal(t, models.StateChecking, out.Next)

	files := map[uint64]string{
		e1.ID: "/Show.S01E01.1080p.mkv",
		e2.ID: "/Show.S01E02.1080p.mkv",
		e3.ID: "/Show.S01E03.1080p.mkv",
	}
	for id, file := range files {
		got := h.get(id)
		assert.Equal(t, models.StateChecking, got.State, "item %d", id)
		assert.Equal(t, "PACK", got.FilledByTorrentID)
		assert.Equal(t, file, got.FilledByFile)
	}
	assert.Equal(t, models.StateWanted, h.get(other.ID).State)
	assert.Equal(t, []string{hash}, h.debrid.added)
}

func TestNoneRemovesUncachedAndSleeps(t *testing.T) {
	h := newHarness(t)
	hash := hashOf("c")
	item := h.movie("tt0133093", "1080p", 3)
	h.debrid.torrents[hash] = &debrid.TorrentInfo{ID: "T3", Hash: hash, Status: debrid.StatusQueued}

	h.move(item.ID, models.StateWanted, models.StateScraping, nil)
	adding := h.move(item.ID, models.StateScraping, models.StateAdding, func(m *models.MediaItem) {
		m.ScrapeResults = []models.ScrapeResult{result("The.Matrix.1999.1080p", hash)}
	})

	out, err := h.adding.Process(h.ctx, adding)
	require.NoError(t, err)
	assert.Equal(t, Slept, out.Kind)

	got := h.get(item.ID)
	assert.Equal(t, models.StateSleeping, got.State)
	assert.Equal(t, 1, got.SleepCycles)
	assert.Equal(t, 1, h.wakes.Get(item.ID))
	assert.Equal(t, []string{"T3"}, h.debrid.removed)
	assert.True(t, h.notWanted.Contains(hash, ""))
	assert.Empty(t, got.FilledByTorrentID)
}

func TestWakeLimitBlacklistsWithCascade(t *testing.T) {
	h := newHarness(t)
	item := h.episode("tt7654321", 1, 5, 30)
	oldSibling := h.episode("tt7654321", 1, 6, 30)
	checkingSibling := h.episode("tt7654321", 1, 7, 30)
	freshSibling := h.episode("tt7654321", 1, 8, 2)
	h.move(checkingSibling.ID, models.StateWanted, models.StateChecking, func(m *models.MediaItem) {
		m.FilledByTorrentID = "TX"
		m.FilledByHash = hashOf("d")
	})

	for cycle := 1; cycle <= 3; cycle++ {
		scraping := h.move(item.ID, models.StateWanted, models.StateScraping, nil)
		out, err := h.scraping.Process(h.ctx, scraping)
		require.NoError(t, err)
		require.Equal(t, Slept, out.Kind)
		assert.Equal(t, cycle, h.wakes.Get(item.ID))

		out, err = h.policy.Wake(h.ctx, h.get(item.ID))
		require.NoError(t, err)
		require.Equal(t, Waiting, out.Kind, "woke before the nap was over")

		h.clock.advance(31 * time.Minute)
		out, err = h.policy.Wake(h.ctx, h.get(item.ID))
		require.NoError(t, err)
		if cycle < 3 {
			require.Equal(t, models.StateWanted, out.Next)
			continue
		}
		require.Equal(t, Blacklisted, out.Kind)
	}

	got := h.get(item.ID)
	assert.Equal(t, models.StateBlacklisted, got.State)
	assert.NotNil(t, got.BlacklistedAt)
	assert.Equal(t, 0, h.wakes.Get(item.ID))

	assert.Equal(t, models.StateBlacklisted, h.get(oldSibling.ID).State)
	assert.Equal(t, models.StateChecking, h.get(checkingSibling.ID).State)
	assert.Equal(t, models.StateWanted, h.get(freshSibling.ID).State)
}

func upgradeFixture(t *testing.T, h *harness) (*models.MediaItem, string, string) {
	t.Helper()
	oldHash, newHash := hashOf("e"), hashOf("f")
	item := h.movie("tt0133093", "1080p", 3)
	h.touch("Old.mkv")
	h.move(item.ID, models.StateWanted, models.StateChecking, func(m *models.MediaItem) {
		m.FilledByTitle = "The.Matrix.1999.720p"
		m.FilledByHash = oldHash
		m.FilledByFile = "Old.mkv"
		m.FilledByTorrentID = "T1"
		m.FilledByMagnet = magnet(oldHash)
	})
	_, err := h.checking.Process(h.ctx, h.get(item.ID))
	require.NoError(t, err)
	require.Equal(t, models.StateCollected, h.get(item.ID).State)

	h.scraper.results = fixed(result("The.Matrix.1999.1080p.BluRay", newHash), result("The.Matrix.1999.720p", oldHash))
	h.debrid.cached[newHash] = true
	h.debrid.torrents[newHash] = &debrid.TorrentInfo{
		ID:     "T2",
		Hash:   newHash,
		Name:   "The.Matrix.1999.1080p.BluRay",
		Status: debrid.StatusDownloaded,
		Files:  []debrid.File{{Path: "/New.mkv", Size: 10 << 30}},
	}
	return item, oldHash, newHash
}

func TestUpgradeRollsBackWhenOldTorrentStays(t *testing.T) {
	h := newHarness(t, withSymlinks())
	item, oldHash, newHash := upgradeFixture(t, h)
	collected := h.get(item.ID)
	oldLink := collected.LocationOnDisk
	require.NotEmpty(t, oldLink)

	require.True(t, h.upgrade.Due(collected))
	out, err := h.upgrade.Check(h.ctx, collected)
	require.NoError(t, err)
	require.Equal(t, models.StateUpgrading, out.Next)
	assert.Equal(t, oldHash, h.scraper.calls[0].Exempt)

	upgrading := h.get(item.ID)
	assert.Equal(t, "T2", upgrading.FilledByTorrentID)
	assert.Equal(t, "T1", upgrading.UpgradingFromTorrentID)
	require.NotNil(t, upgrading.PreviousFill)
	assert.Equal(t, oldLink, upgrading.LocationOnDisk)

	h.touch("New.mkv")
	h.debrid.removeErr["T1"] = errors.New("provider refused")
	out, err = h.upgrade.Verify(h.ctx, upgrading)
	require.NoError(t, err)
	assert.Equal(t, Retry, out.Kind)

	got := h.get(item.ID)
	assert.Equal(t, models.StateCollected, got.State)
	assert.Equal(t, "T1", got.FilledByTorrentID)
	assert.Equal(t, oldHash, got.FilledByHash)
	assert.Equal(t, oldLink, got.LocationOnDisk)
	assert.Empty(t, got.UpgradingFromTorrentID)
	assert.Nil(t, got.PreviousFill)

	target, err := os.Readlink(oldLink)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.mountRoot, "Old.mkv"), target)
	assert.Equal(t, []string{"T1", "T2"}, h.debrid.removed)
	assert.False(t, h.notWanted.Contains(newHash, ""))
	assert.Equal(t, []notify.Kind{notify.KindUpgradeFailed}, h.publisher.events)
}

func TestUpgradeSwapsFile(t *testing.T) {
	h := newHarness(t, withSymlinks())
	item, _, newHash := upgradeFixture(t, h)

	_, err := h.upgrade.Check(h.ctx, h.get(item.ID))
	require.NoError(t, err)
	upgrading := h.get(item.ID)

	out, err := h.upgrade.Verify(h.ctx, upgrading)
	require.NoError(t, err)
	assert.Equal(t, Waiting, out.Kind)

	h.touch("New.mkv")
	out, err = h.upgrade.Verify(h.ctx, h.get(item.ID))
	require.NoError(t, err)
	assert.Equal(t, models.StateCollected, out.Next)

	got := h.get(item.ID)
	assert.Equal(t, models.StateCollected, got.State)
	assert.Equal(t, "T2", got.FilledByTorrentID)
	assert.Equal(t, "New.mkv", got.OriginalPathForSymlink)
	assert.Empty(t, got.UpgradingFromTorrentID)
	target, err := os.Readlink(got.LocationOnDisk)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.mountRoot, "New.mkv"), target)
	assert.Equal(t, []string{"T1"}, h.debrid.removed)
	assert.True(t, h.notWanted.Contains(newHash, ""))
	assert.Empty(t, h.publisher.events)

	h.clock.advance(10 * time.Minute)
	assert.False(t, h.upgrade.Due(got), "interval not elapsed")
}

// blockLink makes the next symlink placement for item fail
func blockLink(t *testing.T, h *harness, item *models.MediaItem) func() {
	t.Helper()
	link := h.links.LinkPath(item, ".mkv")
	tmp := filepath.Join(filepath.Dir(link), "."+filepath.Base(link)+".tmp")
	require.NoError(t, os.MkdirAll(tmp, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "x"), nil, 0644))
	return func() { require.NoError(t, os.RemoveAll(tmp)) }
}

func TestUpgradeLinkFailureAfterOldTorrentRemoved(t *testing.T) {
	h := newHarness(t, withSymlinks())
	item, _, _ := upgradeFixture(t, h)
	_, err := h.upgrade.Check(h.ctx, h.get(item.ID))
	require.NoError(t, err)

	h.touch("New.mkv")
	unblock := blockLink(t, h, h.get(item.ID))
	_, err = h.upgrade.Verify(h.ctx, h.get(item.ID))
	require.Error(t, err)

	pending := h.get(item.ID)
	assert.Equal(t, models.StateUpgrading, pending.State)
	assert.Empty(t, pending.UpgradingFromTorrentID)
	assert.Nil(t, pending.PreviousFill)
	assert.Equal(t, []string{"T1"}, h.debrid.removed)

	unblock()
	out, err := h.upgrade.Verify(h.ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, models.StateCollected, out.Next)
	got := h.get(item.ID)
	assert.Equal(t, "T2", got.FilledByTorrentID)
	assert.Equal(t, []string{"T1"}, h.debrid.removed)
}

func TestUpgradeTimeoutAfterOldTorrentRemoved(t *testing.T) {
	h := newHarness(t, withSymlinks())
	item, _, newHash := upgradeFixture(t, h)
	_, err := h.upgrade.Check(h.ctx, h.get(item.ID))
	require.NoError(t, err)
	oldLink := h.get(item.ID).LocationOnDisk

	h.touch("New.mkv")
	unblock := blockLink(t, h, h.get(item.ID))
	_, err = h.upgrade.Verify(h.ctx, h.get(item.ID))
	require.Error(t, err)
	unblock()

	require.NoError(t, os.Remove(filepath.Join(h.mountRoot, "New.mkv")))
	h.clock.advance(2 * time.Hour)
	out, err := h.upgrade.Verify(h.ctx, h.get(item.ID))
	require.NoError(t, err)
	assert.Equal(t, models.StateWanted, out.Next)

	got := h.get(item.ID)
	assert.Equal(t, models.StateWanted, got.State)
	assert.Empty(t, got.FilledByTorrentID)
	assert.Empty(t, got.LocationOnDisk)
	assert.Equal(t, []string{"T1", "T2"}, h.debrid.removed)
	assert.True(t, h.notWanted.Contains(newHash, ""))
	_, err = os.Lstat(oldLink)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, []notify.Kind{notify.KindUpgradeFailed}, h.publisher.events)
}

func TestUpgradeKeepsHeldReleaseFetchedByURL(t *testing.T) {
	h := newHarness(t)
	held := "https://idx/held.torrent"
	item := h.movie("tt0133093", "1080p", 3)
	h.touch("Held.mkv")
	h.move(item.ID, models.StateWanted, models.StateChecking, func(m *models.MediaItem) {
		m.FilledByTitle = "The.Matrix.1999.1080p.BluRay.x264-GRP"
		m.FilledByHash = hashOf("a")
		m.FilledByURL = held
		m.FilledByFile = "Held.mkv"
		m.FilledByTorrentID = "T1"
	})
	_, err := h.checking.Process(h.ctx, h.get(item.ID))
	require.NoError(t, err)
	collected := h.get(item.ID)
	require.Equal(t, models.StateCollected, collected.State)

	worse := result("The.Matrix.1999.720p.WEB.x264-LOW", hashOf("b"))
	h.debrid.cached[worse.Hash] = true

	// indexer result without an info-hash, recognised by its URL
	h.scraper.results = fixed(models.ScrapeResult{Title: "The.Matrix.1999.1080p.BluRay.x264-GRP", MagnetOrURL: held, SizeGB: 8}, worse)
	out, err := h.upgrade.Check(h.ctx, collected)
	require.NoError(t, err)
	assert.Equal(t, Waiting, out.Kind)
	assert.Equal(t, held, h.scraper.calls[0].ExemptURL)

	// held release missing from the ranking is no reason to swap
	h.scraper.results = fixed(worse)
	out, err = h.upgrade.Check(h.ctx, h.get(item.ID))
	require.NoError(t, err)
	assert.Equal(t, Waiting, out.Kind)

	got := h.get(item.ID)
	assert.Equal(t, models.StateCollected, got.State)
	assert.Equal(t, "T1", got.FilledByTorrentID)
	assert.Empty(t, h.debrid.added)
}

func TestUpgradeNotDueOutsideWindow(t *testing.T) {
	h := newHarness(t)
	item, _, _ := upgradeFixture(t, h)
	h.clock.advance(25 * time.Hour)
	assert.False(t, h.upgrade.Due(h.get(item.ID)))
}

func TestVerifierKeepsOtherCopy(t *testing.T) {
	h := newHarness(t)
	low := h.movie("tt0133093", "1080p", 30)
	high := h.movie("tt0133093", "2160p", 30)
	h.touch("m2160.mkv")
	for _, it := range []struct {
		item *models.MediaItem
		file string
		id   string
	}{{low, "m1080.mkv", "T1"}, {high, "m2160.mkv", "T2"}} {
		h.move(it.item.ID, models.StateWanted, models.StateChecking, func(m *models.MediaItem) {
			m.FilledByTorrentID = it.id
		})
		h.move(it.item.ID, models.StateChecking, models.StateCollected, func(m *models.MediaItem) {
			m.LocationOnDisk = it.file
		})
	}

	report, err := h.verifier.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 0, report.Requeued)

	_, err = h.db.GetMediaByID(h.ctx, low.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	kept := h.get(high.ID)
	assert.Equal(t, models.StateCollected, kept.State)
	assert.Equal(t, "m2160.mkv", kept.LocationOnDisk)
	require.Len(t, h.agent.removals, 1)
	assert.Equal(t, filepath.Join(h.mountRoot, "m1080.mkv"), h.agent.removals[0].Path)
}

func TestVerifierRequeuesLastCopy(t *testing.T) {
	h := newHarness(t)
	item := h.movie("tt0133093", "1080p", 30)
	h.move(item.ID, models.StateWanted, models.StateChecking, func(m *models.MediaItem) {
		m.FilledByTorrentID = "T1"
		m.FilledByHash = hashOf("a")
	})
	h.move(item.ID, models.StateChecking, models.StateCollected, func(m *models.MediaItem) {
		m.LocationOnDisk = "gone.mkv"
	})

	report, err := h.verifier.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requeued)

	got := h.get(item.ID)
	assert.Equal(t, models.StateWanted, got.State)
	assert.Empty(t, got.LocationOnDisk)
	assert.Empty(t, got.FilledByTorrentID)
	assert.Len(t, h.agent.removals, 1)
}

func TestVerifierRemovesOrphanLinks(t *testing.T) {
	h := newHarness(t, withSymlinks())
	h.touch("Movie.mkv")
	orphan := &models.MediaItem{IMDBId: "tt0000001", MediaType: models.MediaTypeMovie, Title: "Orphan", Year: 2001, Version: "1080p"}
	link, err := h.links.Link(orphan, "Movie.mkv")
	require.NoError(t, err)

	report, err := h.verifier.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Orphans, "fresh links are left alone")

	h.verifier.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	report, err = h.verifier.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Orphans)
	_, err = os.Lstat(link)
	assert.True(t, os.IsNotExist(err))
}

func TestVerifierSparesLinkBeforeCollection(t *testing.T) {
	h := newHarness(t, withSymlinks())
	h.touch("Matrix.mkv")
	item := h.movie("tt0133093", "1080p", 3)
	checking := h.move(item.ID, models.StateWanted, models.StateChecking, func(m *models.MediaItem) {
		m.FilledByTitle = "The.Matrix.1999.1080p"
		m.FilledByHash = hashOf("a")
		m.FilledByFile = "Matrix.mkv"
		m.FilledByTorrentID = "T1"
	})

	// link created, row not yet committed
	link, original, err := place(h.links, checking, "Matrix.mkv")
	require.NoError(t, err)
	report, err := h.verifier.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Orphans)

	h.move(item.ID, models.StateChecking, models.StateCollected, func(m *models.MediaItem) {
		m.LocationOnDisk = link
		m.OriginalPathForSymlink = original
	})
	report, err = h.verifier.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Missing)

	got := h.get(item.ID)
	assert.Equal(t, models.StateCollected, got.State)
	assert.Equal(t, link, got.LocationOnDisk)
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.mountRoot, "Matrix.mkv"), target)
	assert.Empty(t, h.debrid.removed)
}

func TestVerifierRepairsInconsistentRows(t *testing.T) {
	h := newHarness(t)
	item := h.movie("tt0133093", "1080p", 30)
	_, err := h.db.Update(h.ctx, item.ID, models.StateWanted, func(m *models.MediaItem) {
		m.LocationOnDisk = "stale.mkv"
	})
	require.NoError(t, err)

	report, err := h.verifier.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
	assert.Empty(t, h.get(item.ID).LocationOnDisk)
}
