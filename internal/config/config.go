package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"vtzcal/internal/ics"
	"vtzcal/internal/tzdb"
)

// FeedConfig describes a single ICS subscription source.
type FeedConfig struct {
	// ID is an internal identifier used for cache keys and logging.
	ID string `yaml:"id" json:"id" validate:"required"`
	// URL is an http(s) URL, a file:// URL or a local path.
	URL string `yaml:"url" json:"url" validate:"required"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"password" validate:"required"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen" validate:"required,hostname_port"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`

	// ZoneInfoDirs are searched for TZif files before the runtime's
	// embedded database.
	ZoneInfoDirs []string `yaml:"zoneinfo_dirs" json:"zoneinfo_dirs"`

	// ExtendUntilYear bounds transitions generated from TZif footer rules.
	ExtendUntilYear int `yaml:"extend_until_year" json:"extend_until_year" validate:"gte=1970,lte=9999"`

	// CustomZonesFile optionally points at a YAML file of extra zones.
	CustomZonesFile string `yaml:"custom_zones_file,omitempty" json:"custom_zones_file,omitempty"`

	// Encoder selects the iCalendar writer: golang-ical or go-ical.
	Encoder string `yaml:"encoder" json:"encoder" validate:"oneof=golang-ical go-ical"`

	// ProductID is the PRODID of generated calendars.
	ProductID string `yaml:"product_id" json:"product_id" validate:"required"`

	// RefreshCron is a standard 5-field cron schedule for the export.
	RefreshCron string `yaml:"refresh" json:"refresh" validate:"required"`

	// HorizonDays is how far into the future recurrences are followed.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days" validate:"gte=1"`
	// BackfillDays is how far into the past usage windows may reach.
	BackfillDays int `yaml:"backfill_days" json:"backfill_days" validate:"gte=0"`
	// PadHours widens every usage window on both sides.
	PadHours int `yaml:"pad_hours" json:"pad_hours" validate:"gte=0"`

	// Feeds is the list of subscribed ICS sources.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds" validate:"dive"`

	// Output is the export file path.
	Output string `yaml:"output" json:"output" validate:"required"`
	// CacheDir holds the HTTP feed cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir" validate:"required"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "127.0.0.1:8080",
		LogLevel:        "info",
		ZoneInfoDirs:    append([]string(nil), tzdb.DefaultDirs...),
		ExtendUntilYear: tzdb.DefaultUntil.Year(),
		Encoder:         ics.EncoderGolangICal,
		ProductID:       ics.DefaultProductID,
		RefreshCron:     "*/30 * * * *",
		HorizonDays:     365,
		BackfillDays:    30,
		PadHours:        24,
		Feeds:           []FeedConfig{},
		Output:          "./var/export.ics",
		CacheDir:        "./var/feed-cache",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.ZoneInfoDirs == nil {
		c.ZoneInfoDirs = def.ZoneInfoDirs
	}
	if c.ExtendUntilYear == 0 {
		c.ExtendUntilYear = def.ExtendUntilYear
	}
	if c.Encoder == "" {
		c.Encoder = def.Encoder
	}
	if c.ProductID == "" {
		c.ProductID = def.ProductID
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.PadHours < 0 {
		c.PadHours = 0
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.Output == "" {
		c.Output = def.Output
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
}

var validate = validator.New()

// Validate checks struct constraints, feed ID uniqueness and the cron
// schedule.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	seen := make(map[string]bool, len(c.Feeds))
	for _, f := range c.Feeds {
		if seen[f.ID] {
			return fmt.Errorf("config: duplicate feed id %q", f.ID)
		}
		seen[f.ID] = true
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("config: refresh %q: %w", c.RefreshCron, err)
	}
	return nil
}

// Until is the end of footer-rule extension.
func (c *Config) Until() time.Time {
	return time.Date(c.ExtendUntilYear, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func (c *Config) Horizon() time.Duration {
	return time.Duration(c.HorizonDays) * 24 * time.Hour
}

func (c *Config) Backfill() time.Duration {
	return time.Duration(c.BackfillDays) * 24 * time.Hour
}

func (c *Config) Pad() time.Duration {
	return time.Duration(c.PadHours) * time.Hour
}

// ICSFeeds converts the configured feeds for the fetcher.
func (c *Config) ICSFeeds() []ics.Feed {
	feeds := make([]ics.Feed, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		feeds = append(feeds, ics.Feed{ID: f.ID, URL: f.URL})
	}
	return feeds
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, the default config is written there with
// 0600 permissions, creating the parent directory as needed, and returned.
// Otherwise the YAML is decoded into a Config, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".vtzcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
