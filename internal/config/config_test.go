package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yaml)))
	return FromViper(v, t.TempDir())
}

const baseYAML = `
plex:
  mounted_file_location: /mnt/debrid
debrid:
  provider: realdebrid
  api_key: secret
`

func TestFromViper_Defaults(t *testing.T) {
	cfg, err := load(t, baseYAML)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.WakeLimit)
	assert.Equal(t, 5*time.Second, cfg.TickInterval)
	assert.Equal(t, 5, cfg.ScrapingCap)
	assert.Equal(t, time.Hour, cfg.CheckingTimeout)
	assert.Equal(t, 30*time.Minute, cfg.SleepDuration)
	assert.Equal(t, 7*24*time.Hour, cfg.OldAfter)
	assert.Equal(t, models.UncachedNone, cfg.UncachedHandling)
	assert.Equal(t, ModePlex, cfg.FileCollectionManagement)
	assert.False(t, cfg.SymlinkMode())

	require.Contains(t, cfg.Versions, "1080p")
	p := cfg.Profile("1080p")
	assert.Equal(t, "1080p", p.Name)
	assert.Equal(t, "<=", p.ResolutionWanted)
	assert.True(t, p.UpgradeEnabled())
}

func TestFromViper_RequiresDebridKey(t *testing.T) {
	_, err := load(t, `
plex:
  mounted_file_location: /mnt/debrid
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "debrid.api_key")
}

func TestFromViper_UnknownProvider(t *testing.T) {
	_, err := load(t, `
plex:
  mounted_file_location: /mnt/debrid
debrid:
  provider: nope
  api_key: x
`)
	require.Error(t, err)
}

func TestFromViper_InvalidProfileIsDisabled(t *testing.T) {
	cfg, err := load(t, baseYAML+`
scraping:
  uncached_content_handling: Hybrid
  versions:
    good:
      max_resolution: 2160p
      resolution_wanted: "=="
      filter_out: ["\\bCAM\\b"]
      preferred_filter_in:
        - term: remux
          weight: 50
    broken:
      max_resolution: 1080p
      filter_in: ["(unclosed"]
`)
	require.NoError(t, err)
	require.Contains(t, cfg.Versions, "good")
	assert.NotContains(t, cfg.Versions, "broken")
	require.Len(t, cfg.Warnings, 1)

	good := cfg.Profile("good")
	assert.Equal(t, models.UncachedHybrid, good.UncachedHandling, "inherits global policy")
	_, hit := good.FilterOutMatch("Movie 2020 CAM x264")
	assert.True(t, hit)
	assert.Equal(t, 50, good.PreferenceScore("Movie.2020.2160p.REMUX"))
}

func TestFromViper_AllProfilesInvalidIsFatal(t *testing.T) {
	_, err := load(t, baseYAML+`
scraping:
  versions:
    only:
      max_resolution: 8k
`)
	require.Error(t, err)
}

func TestFromViper_SymlinkModeNeedsPaths(t *testing.T) {
	_, err := load(t, baseYAML+`
file_management:
  file_collection_management: Symlinked/Local
`)
	require.Error(t, err)

	cfg, err := load(t, baseYAML+`
file_management:
  file_collection_management: Symlinked/Local
  symlinked_files_path: /media/library
`)
	require.NoError(t, err)
	assert.True(t, cfg.SymlinkMode())
}

func TestFromViper_Indexers(t *testing.T) {
	cfg, err := load(t, baseYAML+`
scraping:
  indexers:
    - type: torrentio
      url: https://torrentio.strem.fun
      enabled: true
    - name: jackett
      type: torznab
      url: http://jackett:9117/api/v2.0/indexers/all/results/torznab
      api_key: k
      timeout: 20s
      enabled: true
`)
	require.NoError(t, err)
	require.Len(t, cfg.Indexers, 2)
	assert.Equal(t, "torrentio", cfg.Indexers[0].Name)
	assert.Equal(t, 10*time.Second, cfg.Indexers[0].Timeout)
	assert.Equal(t, 20*time.Second, cfg.Indexers[1].Timeout)
}
