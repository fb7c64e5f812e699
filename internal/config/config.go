package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/goodsign/monday"
	"gopkg.in/yaml.v3"

	"standby/internal/fileutil"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	ProviderGoogle = "google"
	ProviderICS    = "ics"

	defaultListen     = "127.0.0.1:8080"
	defaultLocale     = "en_US"
	defaultStateDir   = "/var/lib/standby"
	defaultCalendarID = "primary"
	defaultInterval   = time.Minute
	defaultMinRetry   = 30 * time.Second
	defaultDevicePoll = 15 * time.Second
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RefreshConfig controls the calendar refresh loop.
type RefreshConfig struct {
	// Interval is the steady-state refresh period and the backoff ceiling.
	Interval time.Duration `yaml:"interval" json:"interval"`
	// MinRetry is the first retry delay after a failure (backoff floor).
	MinRetry time.Duration `yaml:"min_retry" json:"min_retry"`
}

// CalendarConfig selects where the next event comes from.
type CalendarConfig struct {
	// Provider is "google" (default) or "ics".
	Provider string `yaml:"provider" json:"provider"`
	// CalendarID is the Google calendar to query; "primary" by default.
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`
	// ICS is the list of subscribed ICS sources, used when Provider is "ics".
	ICS []ICSConfig `yaml:"ics" json:"ics"`
}

// GoogleConfig holds the OAuth2 client used for sign-in.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"-"`
	// RedirectURL must point at /auth/callback of this server, e.g.
	// "http://127.0.0.1:8080/auth/callback".
	RedirectURL string `yaml:"redirect_url" json:"redirect_url"`
}

// DeviceConfig controls device status polling.
type DeviceConfig struct {
	// Battery selects the battery reader: "auto", "sysfs", "i2c", "mock", "none".
	Battery string `yaml:"battery" json:"battery"`
	// Bluetooth enables the BlueZ connection check.
	Bluetooth bool `yaml:"bluetooth" json:"bluetooth"`
	// Poll is how often battery/Bluetooth/network are sampled.
	Poll time.Duration `yaml:"poll" json:"poll"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for display and day boundaries.
	// Empty means the host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Locale selects weekday/month names on the date line (e.g. "en_US", "ko_KR").
	Locale string `yaml:"locale" json:"locale"`

	// CountdownSeconds shows "in 5m 3s" instead of "in 6m".
	CountdownSeconds bool `yaml:"countdown_seconds" json:"countdown_seconds"`

	Refresh  RefreshConfig  `yaml:"refresh" json:"refresh"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Google   GoogleConfig   `yaml:"google" json:"google"`
	Device   DeviceConfig   `yaml:"device" json:"device"`

	// StateDir holds the OAuth token, the cached event and the ICS cache.
	StateDir string `yaml:"state_dir" json:"state_dir"`

	// LogLevel is "debug", "info" or "error".
	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen: defaultListen,
		Locale: defaultLocale,
		Refresh: RefreshConfig{
			Interval: defaultInterval,
			MinRetry: defaultMinRetry,
		},
		Calendar: CalendarConfig{
			Provider:   ProviderGoogle,
			CalendarID: defaultCalendarID,
			ICS:        []ICSConfig{},
		},
		Device: DeviceConfig{
			Battery:   "auto",
			Bluetooth: true,
			Poll:      defaultDevicePoll,
		},
		StateDir: defaultStateDir,
		LogLevel: "info",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if !knownLocale(c.Locale) {
		c.Locale = defaultLocale
	}

	if c.Refresh.Interval <= 0 {
		c.Refresh.Interval = defaultInterval
	}
	if c.Refresh.MinRetry <= 0 {
		c.Refresh.MinRetry = defaultMinRetry
	}
	// The floor must sit below the ceiling or backoff degenerates.
	if c.Refresh.MinRetry > c.Refresh.Interval {
		c.Refresh.MinRetry = c.Refresh.Interval
	}

	switch c.Calendar.Provider {
	case ProviderGoogle, ProviderICS:
	default:
		c.Calendar.Provider = ProviderGoogle
	}
	if c.Calendar.CalendarID == "" {
		c.Calendar.CalendarID = defaultCalendarID
	}
	if c.Calendar.ICS == nil {
		c.Calendar.ICS = []ICSConfig{}
	}

	if c.Google.RedirectURL == "" {
		c.Google.RedirectURL = "http://" + c.Listen + "/auth/callback"
	}

	switch c.Device.Battery {
	case "auto", "sysfs", "i2c", "mock", "none":
	default:
		c.Device.Battery = "auto"
	}
	if c.Device.Poll <= 0 {
		c.Device.Poll = defaultDevicePoll
	}

	if c.StateDir == "" {
		c.StateDir = defaultStateDir
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Location resolves Timezone, falling back to time.Local when it is empty or
// unknown.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// MondayLocale is Locale as a monday.Locale.
func (c *Config) MondayLocale() monday.Locale { return monday.Locale(c.Locale) }

// TokenPath is where the signed-in account's OAuth token is stored.
func (c *Config) TokenPath() string { return filepath.Join(c.StateDir, "token.json") }

// EventPath is where the cached next event is stored.
func (c *Config) EventPath() string { return filepath.Join(c.StateDir, "next_event.json") }

// ICSCacheDir is the base directory for per-URL ICS caches.
func (c *Config) ICSCacheDir() string { return filepath.Join(c.StateDir, "ics-cache") }

func knownLocale(l string) bool {
	for _, known := range monday.ListLocales() {
		if string(known) == l {
			return true
		}
	}
	return false
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
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path atomically with
// 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, data, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
