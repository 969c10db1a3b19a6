package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	appLog "sportscal/internal/log"
)

// FeedConfig describes one ICS feed the ingest job pulls events from. The
// field defaults apply to every event in the feed, since tournament feeds
// rarely carry sport/age/gender metadata.
type FeedConfig struct {
	// ID is an internal identifier used for dedupe, caching and logging.
	ID string `yaml:"id" json:"id" validate:"required"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url" validate:"required,url"`

	Sport     string `yaml:"sport" json:"sport" validate:"required"`
	Location  string `yaml:"location" json:"location"`
	Age       string `yaml:"age" json:"age"`
	Gender    string `yaml:"gender" json:"gender"`
	EventType string `yaml:"event_type" json:"event_type"`
}

// IngestConfig controls the periodic feed import.
type IngestConfig struct {
	// Cron schedule for feed imports; empty disables the job.
	Cron string `yaml:"cron" json:"cron"`
	// HorizonDays bounds recurrence expansion into the future.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days" validate:"gte=1,lte=730"`
	// CacheDir keeps ETag/Last-Modified metadata and feed bodies.
	CacheDir string       `yaml:"cache_dir" json:"cache_dir"`
	Feeds    []FeedConfig `yaml:"feeds" json:"feeds" validate:"dive"`
}

// DigestConfig controls the daily "new events" email.
type DigestConfig struct {
	// Cron schedule for the digest; empty disables it.
	Cron          string `yaml:"cron" json:"cron"`
	LookbackHours int    `yaml:"lookback_hours" json:"lookback_hours" validate:"gte=1"`
	Recipient     string `yaml:"recipient" json:"recipient" validate:"omitempty,email"`
	CalendarURL   string `yaml:"calendar_url" json:"calendar_url" validate:"omitempty,url"`

	SMTPHost     string `yaml:"smtp_host" json:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port" json:"smtp_port" validate:"gte=0,lte=65535"`
	SMTPUser     string `yaml:"smtp_user" json:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password" json:"-"`
	Sender       string `yaml:"sender" json:"sender" validate:"omitempty,email"`
}

// Enabled reports whether the digest has everything it needs to send.
func (d DigestConfig) Enabled() bool {
	return d.Cron != "" && d.Recipient != "" && d.SMTPHost != "" && d.Sender != ""
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" validate:"required"`

	// Timezone is the IANA timezone used for display and calendar export.
	Timezone string `yaml:"timezone" json:"timezone" validate:"required"`

	// DatabaseURL is the Postgres DSN of the events store. DATABASE_URL in
	// the environment (or .env) wins over the file.
	DatabaseURL string `yaml:"database_url" json:"-"`

	// NotifyChannel is the LISTEN/NOTIFY channel fired on events changes.
	// The trigger installed by the store migrations notifies
	// events_changed, so no other value is accepted.
	NotifyChannel string `yaml:"notify_channel" json:"notify_channel" validate:"required,eq=events_changed"`

	// RefreshCron forces a periodic full re-fetch in case a notification
	// was missed.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	LogLevel  string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	LogFormat string `yaml:"log_format" json:"log_format" validate:"oneof=text json"`

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	Ingest IngestConfig `yaml:"ingest" json:"ingest"`
	Digest DigestConfig `yaml:"digest" json:"digest"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        "127.0.0.1:8080",
		Timezone:      "America/New_York",
		NotifyChannel: "events_changed",
		RefreshCron:   "*/30 * * * *",
		LogLevel:      "info",
		LogFormat:     "text",
		CORSOrigins:   []string{"http://localhost:3000"},
		Ingest: IngestConfig{
			Cron:        "0 6 * * *",
			HorizonDays: 365,
			CacheDir:    "./var/ics-cache",
			Feeds:       []FeedConfig{},
		},
		Digest: DigestConfig{
			Cron:          "0 8 * * *",
			LookbackHours: 24,
			SMTPHost:      "smtp.gmail.com",
			SMTPPort:      587,
		},
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
	if c.NotifyChannel == "" {
		c.NotifyChannel = def.NotifyChannel
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = def.CORSOrigins
	}
	if c.Ingest.HorizonDays <= 0 {
		c.Ingest.HorizonDays = def.Ingest.HorizonDays
	}
	if c.Ingest.CacheDir == "" {
		c.Ingest.CacheDir = def.Ingest.CacheDir
	}
	if c.Ingest.Feeds == nil {
		c.Ingest.Feeds = []FeedConfig{}
	}
	for i := range c.Ingest.Feeds {
		if c.Ingest.Feeds[i].ID == "" {
			c.Ingest.Feeds[i].ID = c.Ingest.Feeds[i].URL
		}
	}
	if c.Digest.LookbackHours <= 0 {
		c.Digest.LookbackHours = def.Digest.LookbackHours
	}
	if c.Digest.SMTPPort == 0 {
		c.Digest.SMTPPort = def.Digest.SMTPPort
	}
}

// applyEnv lets deployment secrets live outside the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.Digest.SMTPPassword = v
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		c.Digest.SMTPUser = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Digest.SMTPPort = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

var validate = validator.New()

// Validate checks field constraints after normalization.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// loadDotEnv copies path into the environment. A missing file is the
// normal case in production and is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - A .env file next to the working directory is loaded first, if any.
//   - If the config file does not exist, a default one is written with
//     0600 perms and returned.
//   - Otherwise the YAML is unmarshalled, normalized and overlaid with the
//     environment.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	if err := loadDotEnv(".env"); err != nil {
		appLog.Warn("ignoring unreadable .env file", "err", err.Error())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.applyEnv()
				return cfg, err
			}
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.applyEnv()

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

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".sportscal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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
