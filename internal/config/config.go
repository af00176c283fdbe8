package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Calendar backends.
const (
	BackendGoogle = "google"
	BackendICS    = "ics"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// SourceConfig describes one export polled by the scheduler.
type SourceConfig struct {
	// ID is an internal identifier used for logging.
	ID string `yaml:"id" json:"id"`
	// Location is a local path or an http(s) URL.
	Location string `yaml:"location" json:"location"`
	// Email selects the per-user calendar the samples are synced to.
	Email string `yaml:"email" json:"email"`
}

// CalendarConfig selects and configures the calendar store.
type CalendarConfig struct {
	// Backend is one of google, ics, sqlite, memory.
	Backend string `yaml:"backend" json:"backend"`
	// Name overrides the per-email calendar name when set.
	Name string `yaml:"name" json:"name"`
	// OwnerEmail is used when neither the command line nor the source
	// names an email.
	OwnerEmail string `yaml:"owner_email" json:"owner_email"`
	ICSDir     string `yaml:"ics_dir" json:"ics_dir"`
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
}

// EmailFor returns email, or OwnerEmail when email is empty.
func (c CalendarConfig) EmailFor(email string) string {
	if email != "" {
		return email
	}
	return c.OwnerEmail
}

// GoogleConfig holds service-account settings for the google backend.
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	// CredentialsJSON is raw or base64-encoded key JSON.
	CredentialsJSON string `yaml:"credentials_json,omitempty" json:"-"`
	BaseURL         string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	TokenURL        string `yaml:"token_url,omitempty" json:"token_url,omitempty"`
}

// RateLimitConfig bounds POST /sync per client IP. Zero disables a window.
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute" json:"per_minute"`
	PerHour   int `yaml:"per_hour" json:"per_hour"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone samples are normalized into and events are
	// written in (e.g. "America/Los_Angeles").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LookbackDays drops sessions older than this many days.
	LookbackDays int `yaml:"lookback_days" json:"lookback_days"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// SyncTimeout bounds a single sync, including all store calls.
	SyncTimeout time.Duration `yaml:"sync_timeout" json:"sync_timeout"`

	Calendar  CalendarConfig  `yaml:"calendar" json:"calendar"`
	Google    GoogleConfig    `yaml:"google" json:"google"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// RefreshCron is a cron-style schedule string (e.g. "*/30 * * * *")
	// used to poll Sources.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Sources is the list of exports polled on RefreshCron.
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// CacheDir keeps conditional-request metadata for remote sources.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except / and /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		Timezone:     "America/Los_Angeles",
		LookbackDays: 30,
		LogLevel:     "info",
		SyncTimeout:  2 * time.Minute,
		Calendar: CalendarConfig{
			Backend:    BackendGoogle,
			ICSDir:     "./var/calendars",
			SQLitePath: "./var/sleepcal.db",
		},
		RateLimit: RateLimitConfig{
			PerMinute: 30,
			PerHour:   500,
		},
		RefreshCron: "*/30 * * * *",
		Sources:     []SourceConfig{},
		CacheDir:    "./var/export-cache",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = def.LookbackDays
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = def.SyncTimeout
	}
	c.Calendar.Backend = strings.ToLower(strings.TrimSpace(c.Calendar.Backend))
	if c.Calendar.Backend == "" {
		c.Calendar.Backend = def.Calendar.Backend
	}
	if c.Calendar.ICSDir == "" {
		c.Calendar.ICSDir = def.Calendar.ICSDir
	}
	if c.Calendar.SQLitePath == "" {
		c.Calendar.SQLitePath = def.Calendar.SQLitePath
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
	for i := range c.Sources {
		if c.Sources[i].ID == "" {
			c.Sources[i].ID = c.Sources[i].Location
		}
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
}

// ApplyEnv overrides fields from environment variables. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	if port := strings.TrimSpace(getenv("PORT")); port != "" {
		c.Listen = ":" + port
	}
	set("SLEEPCAL_LISTEN", &c.Listen)
	set("SLEEPCAL_TIMEZONE", &c.Timezone)
	set("SLEEPCAL_LOG_LEVEL", &c.LogLevel)
	set("SLEEPCAL_BACKEND", &c.Calendar.Backend)
	set("SLEEPCAL_CALENDAR_NAME", &c.Calendar.Name)
	set("SLEEPCAL_OWNER_EMAIL", &c.Calendar.OwnerEmail)
	set("GOOGLE_CALENDAR_CREDENTIALS", &c.Google.CredentialsJSON)
	set("GOOGLE_CALENDAR_CREDENTIALS_PATH", &c.Google.CredentialsFile)

	if v := strings.TrimSpace(getenv("SLEEPCAL_LOOKBACK_DAYS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SLEEPCAL_LOOKBACK_DAYS: %w", err)
		}
		c.LookbackDays = n
	}
	c.Normalize()
	return nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	switch c.Calendar.Backend {
	case BackendGoogle, BackendICS, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown calendar backend %q", c.Calendar.Backend))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	if c.RateLimit.PerMinute < 0 || c.RateLimit.PerHour < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	for i, s := range c.Sources {
		if s.Location == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: location is empty", i))
		}
	}
	return errors.Join(errs...)
}

// Location loads Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
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

	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file + rename, with 0600
// permissions. Parent directories are created with 0700.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".sleepcal-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
