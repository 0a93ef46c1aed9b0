package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds understood by internal/source.
const (
	SourceMock   = "mock"
	SourceHTTP   = "http"
	SourceICS    = "ics"
	SourceGoogle = "google"
)

// SourceConfig selects and parameterizes the event source.
type SourceConfig struct {
	// Kind is one of mock, http, ics, google.
	Kind string `yaml:"kind" json:"kind"`
	// URL is the endpoint for http/ics sources and an optional endpoint
	// override for the google source.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// CalendarID is the Google calendar to list ("primary" if empty).
	CalendarID string `yaml:"calendar_id,omitempty" json:"calendar_id,omitempty"`
	// APIKey authenticates the google source for public calendars.
	APIKey string `yaml:"api_key,omitempty" json:"-"`
	// DelayMs is the simulated latency of the mock source.
	DelayMs int `yaml:"delay_ms" json:"delay_ms"`
	// FailWith, if set, makes the mock source reject with this message.
	FailWith string `yaml:"fail_with,omitempty" json:"fail_with,omitempty"`
	// TimeoutSeconds bounds a single network fetch.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// QueryConfig controls the fetch/caching coordinator.
type QueryConfig struct {
	// StaleSeconds is how long a settled result is served before the next
	// read triggers a background refetch. 0 keeps results until invalidated.
	StaleSeconds int `yaml:"stale_seconds" json:"stale_seconds"`
	// FetchTimeoutSeconds bounds background fetches started by the
	// coordinator.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`
}

// CaptureConfig holds parameters for the headless PNG capture.
type CaptureConfig struct {
	Width          int    `yaml:"width" json:"width"`
	Height         int    `yaml:"height" json:"height"`
	Output         string `yaml:"output" json:"output"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the page and API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used to lay out the week and to interpret
	// the mock events' wall-clock times.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Locale names the locale table. Only "en-US" is available.
	Locale string `yaml:"locale" json:"locale"`

	// WeekStart overrides the locale's first weekday. Supported values:
	//   - "locale" (default)
	//   - "sunday"
	//   - "monday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// InitialDate (YYYY-MM-DD) is the date whose week is shown when the
	// request does not pick one. Empty means today.
	InitialDate string `yaml:"initial_date,omitempty" json:"initial_date,omitempty"`

	// LogLevel is debug, info or error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Source SourceConfig `yaml:"source" json:"source"`
	Query  QueryConfig  `yaml:"query" json:"query"`

	// Refresh is a cron spec (e.g. "*/15 * * * *") for periodic refetch.
	// Empty disables the scheduler.
	Refresh string `yaml:"refresh" json:"refresh"`

	Capture CaptureConfig `yaml:"capture" json:"capture"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const dateLayout = "2006-01-02"

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Local",
		Locale:      "en-US",
		WeekStart:   "locale",
		InitialDate: "2025-04-28",
		LogLevel:    "info",
		Source: SourceConfig{
			Kind:           SourceMock,
			DelayMs:        1000,
			TimeoutSeconds: 15,
		},
		Query: QueryConfig{
			StaleSeconds:        0,
			FetchTimeoutSeconds: 30,
		},
		Refresh: "",
		Capture: CaptureConfig{
			Width:          1280,
			Height:         800,
			Output:         "./cache/preview.png",
			TimeoutSeconds: 30,
		},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.Locale == "" {
		c.Locale = def.Locale
	}
	switch c.WeekStart {
	case "locale", "sunday", "monday":
	default:
		c.WeekStart = "locale"
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Source.Kind == "" {
		c.Source.Kind = SourceMock
	}
	if c.Source.DelayMs < 0 {
		c.Source.DelayMs = 0
	}
	if c.Source.TimeoutSeconds <= 0 {
		c.Source.TimeoutSeconds = def.Source.TimeoutSeconds
	}
	if c.Query.StaleSeconds < 0 {
		c.Query.StaleSeconds = 0
	}
	if c.Query.FetchTimeoutSeconds <= 0 {
		c.Query.FetchTimeoutSeconds = def.Query.FetchTimeoutSeconds
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = def.Capture.Width
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = def.Capture.Height
	}
	if c.Capture.Output == "" {
		c.Capture.Output = def.Capture.Output
	}
	if c.Capture.TimeoutSeconds <= 0 {
		c.Capture.TimeoutSeconds = def.Capture.TimeoutSeconds
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceMock, SourceGoogle:
	case SourceHTTP, SourceICS:
		if c.Source.URL == "" {
			return fmt.Errorf("source.url is required for %s source", c.Source.Kind)
		}
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	if c.InitialDate != "" {
		if _, err := time.Parse(dateLayout, c.InitialDate); err != nil {
			return fmt.Errorf("initial_date: %w", err)
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// InitialDay returns InitialDate in loc, or false when unset.
func (c *Config) InitialDay(loc *time.Location) (time.Time, bool) {
	if c.InitialDate == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(dateLayout, c.InitialDate, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshalled, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
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

	tmp, err := os.CreateTemp(dir, ".weekcal-config-*.tmp")
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
