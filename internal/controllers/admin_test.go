package controllers

import (
	"testing"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminRescrape(t *testing.T) {
	h := newHarness(t)
	admin := NewAdmin(h.db, h.debrid, h.policy, zerolog.Nop())

	m := h.movie("tt0133093", "1080p", 30)
	h.move(m.ID, models.StateWanted, models.StateBlacklisted, nil)
	_, err := h.wakes.Increment(m.ID)
	require.NoError(t, err)

	got, err := admin.Rescrape(h.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateWanted, got.State)
	assert.Nil(t, got.BlacklistedAt)
	assert.Equal(t, 0, h.wakes.Get(m.ID))

	h.move(m.ID, models.StateWanted, models.StateChecking, func(i *models.MediaItem) { i.FilledByTorrentID = "T1" })
	h.move(m.ID, models.StateChecking, models.StateCollected, func(i *models.MediaItem) { i.LocationOnDisk = "Matrix/matrix.mkv" })
	got, err = admin.Rescrape(h.ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, got.FilledByTorrentID)
	assert.Empty(t, got.LocationOnDisk)
}

func TestAdminRescrapeRefusesInFlight(t *testing.T) {
	h := newHarness(t)
	admin := NewAdmin(h.db, h.debrid, h.policy, zerolog.Nop())

	m := h.movie("tt0133093", "1080p", 30)
	h.move(m.ID, models.StateWanted, models.StateScraping, nil)

	_, err := admin.Rescrape(h.ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotRequeueable)
	assert.Equal(t, models.StateScraping, h.get(m.ID).State)

	_, err = admin.Rescrape(h.ctx, 9999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAdminPurgeKeepsSharedTorrent(t *testing.T) {
	h := newHarness(t)
	admin := NewAdmin(h.db, h.debrid, h.policy, zerolog.Nop())

	e1 := h.episode("tt1234567", 1, 1, 10)
	e2 := h.episode("tt1234567", 1, 2, 10)
	fill := func(i *models.MediaItem) { i.FilledByTorrentID = "PACK" }
	h.move(e1.ID, models.StateWanted, models.StateChecking, fill)
	h.move(e2.ID, models.StateWanted, models.StateChecking, fill)

	require.NoError(t, admin.Purge(h.ctx, e1.ID))
	assert.Empty(t, h.debrid.removed)
	_, err := h.db.GetMediaByID(h.ctx, e1.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, admin.Purge(h.ctx, e2.ID))
	assert.Equal(t, []string{"PACK"}, h.debrid.removed)
}

func TestAdminPurgeState(t *testing.T) {
	h := newHarness(t)
	admin := NewAdmin(h.db, h.debrid, h.policy, zerolog.Nop())

	a := h.movie("tt0000001", "1080p", 30)
	b := h.movie("tt0000002", "1080p", 30)
	keep := h.movie("tt0000003", "1080p", 30)
	h.move(a.ID, models.StateWanted, models.StateBlacklisted, nil)
	h.move(b.ID, models.StateWanted, models.StateBlacklisted, nil)

	n, err := admin.PurgeState(h.ctx, models.StateBlacklisted)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := h.db.ListAll(h.ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, keep.ID, items[0].ID)
}
