package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/spf13/viper"
)

// File collection modes
const (
	ModePlex      = "Plex"
	ModeSymlinked = "Symlinked/Local"
)

// Config holds all application configuration
type Config struct {
	// File Management
	FileCollectionManagement string
	SymlinkedFilesPath       string

	// Plex
	PlexURL             string
	PlexToken           string
	MountedFileLocation string

	// Queue
	WakeLimit       int
	TickInterval    time.Duration
	ScrapingCap     int
	AddingWorkers   int
	CheckingTimeout time.Duration
	SleepDuration   time.Duration
	OldAfter        time.Duration

	// Scraping
	UncachedHandling models.UncachedHandling
	RequireSeeders   bool
	Versions         map[string]*VersionProfile
	Indexers         []IndexerConfig

	// Debrid Provider
	DebridProvider  string
	DebridAPIKey    string
	DebridRateLimit float64
	DebridBaseURL   string // overrides the provider default, for tests and proxies

	// Debug
	DisableNotWantedCheck bool

	// Trakt
	TraktClientID     string
	TraktClientSecret string
	ContentSources    []ContentSourceConfig

	// Upgrade / periodic jobs
	UpgradeWindow    time.Duration
	UpgradeInterval  time.Duration
	VerifierSchedule string
	IngestSchedule   string

	// Notifications
	WebhookURL  string
	BatchWindow time.Duration
	MaxDelay    time.Duration

	// Server
	ServerPort string

	// Paths
	ConfigDir         string
	TokenFile         string // $CONFIG_DIR/token.json
	BlacklistFile     string // $CONFIG_DIR/blacklist.txt
	DatabaseFile      string // $CONFIG_DIR/debridarr.db
	StateFile         string // $CONFIG_DIR/state.db
	NotificationsFile string // $CONFIG_DIR/pending_notifications.json

	// Logging / tracing
	LogLevel    string
	LogFormat   string
	TraceSample float64

	// Warnings collected while loading optional settings
	Warnings []string
}

// IndexerConfig configures one scraper backend
type IndexerConfig struct {
	Name      string        `mapstructure:"name"`
	Type      string        `mapstructure:"type"` // torrentio, comet, torznab, zilean
	URL       string        `mapstructure:"url"`
	APIKey    string        `mapstructure:"api_key"`
	Options   string        `mapstructure:"options"`
	Enabled   bool          `mapstructure:"enabled"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

// ContentSourceConfig configures one wanted-list source
type ContentSourceConfig struct {
	Name     string          `mapstructure:"name"`
	Type     string          `mapstructure:"type"` // trakt_watchlist, trakt_collection, trakt_list
	User     string          `mapstructure:"user"`
	List     string          `mapstructure:"list"`
	Enabled  bool            `mapstructure:"enabled"`
	Versions map[string]bool `mapstructure:"versions"`
}

// Load loads configuration from config.yaml, a .env file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// .env first so CONFIG_DIR can come from it
	env := viper.New()
	env.SetConfigName(".env")
	env.SetConfigType("env")
	env.AddConfigPath(".")
	env.AutomaticEnv()
	_ = env.ReadInConfig()

	configDir := env.GetString("CONFIG_DIR")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config", "debridarr")
	} else {
		absPath, err := filepath.Abs(configDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for CONFIG_DIR: %w", err)
		}
		configDir = absPath
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.SetEnvPrefix("DEBRIDARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// values from .env never override the real environment
	for _, k := range env.AllKeys() {
		name := strings.ToUpper(k)
		if _, ok := os.LookupEnv(name); !ok {
			_ = os.Setenv(name, env.GetString(k))
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return FromViper(v, configDir)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("file_management.file_collection_management", ModePlex)
	v.SetDefault("queue.wake_limit", 3)
	v.SetDefault("queue.tick_interval", "5s")
	v.SetDefault("queue.scraping_cap", 5)
	v.SetDefault("queue.adding_workers", 2)
	v.SetDefault("queue.checking_timeout", "1h")
	v.SetDefault("queue.sleep_duration", "30m")
	v.SetDefault("queue.old_after", "168h")
	v.SetDefault("scraping.uncached_content_handling", string(models.UncachedNone))
	v.SetDefault("scraping.require_seeders", false)
	v.SetDefault("debrid.provider", "realdebrid")
	v.SetDefault("debrid.rate_limit", 4.0)
	v.SetDefault("debug.disable_not_wanted_check", false)
	v.SetDefault("upgrade.window", "24h")
	v.SetDefault("upgrade.interval", "30m")
	v.SetDefault("verifier.schedule", "@every 6h")
	v.SetDefault("ingest.schedule", "@every 30m")
	v.SetDefault("notifications.batch_window", "10s")
	v.SetDefault("notifications.max_delay", "60s")
	v.SetDefault("server.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("tracing.sample_ratio", 0.0)
}

// FromViper builds and validates a Config from an already populated viper instance
func FromViper(v *viper.Viper, configDir string) (*Config, error) {
	config := &Config{
		FileCollectionManagement: v.GetString("file_management.file_collection_management"),
		SymlinkedFilesPath:       v.GetString("file_management.symlinked_files_path"),

		PlexURL:             v.GetString("plex.url"),
		PlexToken:           v.GetString("plex.token"),
		MountedFileLocation: v.GetString("plex.mounted_file_location"),

		WakeLimit:       v.GetInt("queue.wake_limit"),
		TickInterval:    v.GetDuration("queue.tick_interval"),
		ScrapingCap:     v.GetInt("queue.scraping_cap"),
		AddingWorkers:   v.GetInt("queue.adding_workers"),
		CheckingTimeout: v.GetDuration("queue.checking_timeout"),
		SleepDuration:   v.GetDuration("queue.sleep_duration"),
		OldAfter:        v.GetDuration("queue.old_after"),

		UncachedHandling: models.UncachedHandling(v.GetString("scraping.uncached_content_handling")),
		RequireSeeders:   v.GetBool("scraping.require_seeders"),

		DebridProvider:  strings.ToLower(v.GetString("debrid.provider")),
		DebridAPIKey:    v.GetString("debrid.api_key"),
		DebridRateLimit: v.GetFloat64("debrid.rate_limit"),
		DebridBaseURL:   v.GetString("debrid.base_url"),

		DisableNotWantedCheck: v.GetBool("debug.disable_not_wanted_check"),

		TraktClientID:     v.GetString("trakt.client_id"),
		TraktClientSecret: v.GetString("trakt.client_secret"),

		UpgradeWindow:    v.GetDuration("upgrade.window"),
		UpgradeInterval:  v.GetDuration("upgrade.interval"),
		VerifierSchedule: v.GetString("verifier.schedule"),
		IngestSchedule:   v.GetString("ingest.schedule"),

		WebhookURL:  v.GetString("notifications.webhook_url"),
		BatchWindow: v.GetDuration("notifications.batch_window"),
		MaxDelay:    v.GetDuration("notifications.max_delay"),

		ServerPort: v.GetString("server.port"),

		ConfigDir:         configDir,
		TokenFile:         filepath.Join(configDir, "token.json"),
		BlacklistFile:     filepath.Join(configDir, "blacklist.txt"),
		DatabaseFile:      filepath.Join(configDir, "debridarr.db"),
		StateFile:         filepath.Join(configDir, "state.db"),
		NotificationsFile: filepath.Join(configDir, "pending_notifications.json"),

		LogLevel:    v.GetString("log.level"),
		LogFormat:   v.GetString("log.format"),
		TraceSample: v.GetFloat64("tracing.sample_ratio"),
	}

	if err := v.UnmarshalKey("scraping.indexers", &config.Indexers); err != nil {
		return nil, fmt.Errorf("invalid scraping.indexers: %w", err)
	}
	for i := range config.Indexers {
		if config.Indexers[i].Timeout <= 0 {
			config.Indexers[i].Timeout = 10 * time.Second
		}
		if config.Indexers[i].Name == "" {
			config.Indexers[i].Name = config.Indexers[i].Type
		}
	}
	if err := v.UnmarshalKey("content_sources", &config.ContentSources); err != nil {
		return nil, fmt.Errorf("invalid content_sources: %w", err)
	}

	var rawVersions map[string]VersionProfile
	if err := v.UnmarshalKey("scraping.versions", &rawVersions); err != nil {
		return nil, fmt.Errorf("invalid scraping.versions: %w", err)
	}
	if len(rawVersions) == 0 {
		rawVersions = map[string]VersionProfile{"1080p": DefaultProfile()}
	}
	config.Versions = make(map[string]*VersionProfile, len(rawVersions))
	for name, p := range rawVersions {
		profile := p
		profile.Name = name
		profile.applyDefaults(config.UncachedHandling)
		if err := profile.Compile(); err != nil {
			config.Warnings = append(config.Warnings, fmt.Sprintf("version %q disabled: %v", name, err))
			continue
		}
		config.Versions[name] = &profile
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.DebridAPIKey == "" {
		return fmt.Errorf("debrid.api_key is required")
	}
	switch c.DebridProvider {
	case "realdebrid", "alldebrid", "torbox":
	default:
		return fmt.Errorf("unknown debrid.provider %q", c.DebridProvider)
	}
	if !c.UncachedHandling.Valid() {
		return fmt.Errorf("invalid scraping.uncached_content_handling %q", c.UncachedHandling)
	}
	if len(c.Versions) == 0 {
		return fmt.Errorf("no valid version profile configured")
	}
	switch c.FileCollectionManagement {
	case ModePlex:
		if c.MountedFileLocation == "" {
			return fmt.Errorf("plex.mounted_file_location is required in Plex mode")
		}
	case ModeSymlinked:
		if c.MountedFileLocation == "" || c.SymlinkedFilesPath == "" {
			return fmt.Errorf("plex.mounted_file_location and file_management.symlinked_files_path are required in symlink mode")
		}
	default:
		return fmt.Errorf("unknown file_management.file_collection_management %q", c.FileCollectionManagement)
	}
	if c.WakeLimit <= 0 {
		c.WakeLimit = 3
	}
	if c.ScrapingCap <= 0 {
		c.ScrapingCap = 5
	}
	if c.AddingWorkers <= 0 {
		c.AddingWorkers = 1
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	return nil
}

// Profile returns the named version profile, or nil when unknown or disabled
func (c *Config) Profile(name string) *VersionProfile {
	return c.Versions[name]
}

// SymlinkMode reports whether the library is a symlink tree
func (c *Config) SymlinkMode() bool {
	return c.FileCollectionManagement == ModeSymlinked
}
