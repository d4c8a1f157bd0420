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

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// NOTE: YAML is the source of truth; a .env file and MEDREMIND_* variables
// override secrets and deployment specific values after the file is read
// or created.

const (
	NotifierMemory     = "memory"
	NotifierPersistent = "persistent"

	DelivererLog = "log"
	DelivererFCM = "fcm"

	// DefaultResyncCron rebuilds the reminder set hourly. Daily rules hold
	// only their next occurrence, so delivered reminders must be replaced.
	DefaultResyncCron = "0 * * * *"
	// ResyncOff disables the periodic resync.
	ResyncOff = "off"

	defaultSQLiteDSN = "./var/medremind.db"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// StoreConfig selects the local record store.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is a file path or ":memory:" for sqlite, a connection string for
	// postgres.
	DSN string `yaml:"dsn" json:"dsn"`
}

// SyncConfig describes the remote sync service. An empty BaseURL disables
// every remote call.
type SyncConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	UserID         string `yaml:"user_id" json:"user_id"`
	Secret         string `yaml:"secret,omitempty" json:"-"`
	// CacheDir holds cached caregiver views for offline use.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// NotifierConfig selects where reminder triggers are held and how due ones
// are delivered.
type NotifierConfig struct {
	// Kind is "persistent" (default) or "memory".
	Kind string `yaml:"kind" json:"kind"`
	// Deliverer is "log" (default) or "fcm".
	Deliverer       string   `yaml:"deliverer" json:"deliverer"`
	FCMCredentials  string   `yaml:"fcm_credentials,omitempty" json:"fcm_credentials,omitempty"`
	FCMTokens       []string `yaml:"fcm_tokens,omitempty" json:"fcm_tokens,omitempty"`
	DispatchSeconds int      `yaml:"dispatch_seconds" json:"dispatch_seconds"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone in which medication dates and times of day
	// are interpreted (e.g. "Europe/Moscow").
	Timezone string `yaml:"timezone" json:"timezone"`

	// HorizonDays is how many days ahead reminders are scheduled.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// LeadMinutes is how long before an occurrence its reminder fires.
	LeadMinutes int `yaml:"lead_minutes" json:"lead_minutes"`

	// ResyncCron is a standard 5-field cron spec for the periodic full
	// resync. "off" disables it.
	ResyncCron string `yaml:"resync_cron" json:"resync_cron"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Store    StoreConfig    `yaml:"store" json:"store"`
	Sync     SyncConfig     `yaml:"sync" json:"sync"`
	Notifier NotifierConfig `yaml:"notifier" json:"notifier"`

	// CORSOrigins lists the origins allowed to call the API from a browser.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 56
	}
	if c.LeadMinutes <= 0 {
		c.LeadMinutes = 10
	}
	if c.ResyncCron == "" {
		c.ResyncCron = DefaultResyncCron
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite" {
		c.Store.DSN = defaultSQLiteDSN
	}
	if c.Sync.TimeoutSeconds <= 0 {
		c.Sync.TimeoutSeconds = 10
	}
	if c.Sync.CacheDir == "" {
		c.Sync.CacheDir = "./var/remote-cache"
	}
	if c.Notifier.Kind == "" {
		c.Notifier.Kind = NotifierPersistent
	}
	if c.Notifier.Deliverer == "" {
		c.Notifier.Deliverer = DelivererLog
	}
	if c.Notifier.DispatchSeconds <= 0 {
		c.Notifier.DispatchSeconds = 30
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{}
	}
}

// Validate rejects values Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if c.ResyncEnabled() {
		if _, err := cron.ParseStandard(c.ResyncCron); err != nil {
			return fmt.Errorf("resync_cron %q: %w", c.ResyncCron, err)
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return errors.New("store dsn is empty")
	}
	switch c.Notifier.Kind {
	case NotifierMemory, NotifierPersistent:
	default:
		return fmt.Errorf("unknown notifier kind %q", c.Notifier.Kind)
	}
	switch c.Notifier.Deliverer {
	case DelivererLog:
	case DelivererFCM:
		if len(c.Notifier.FCMTokens) == 0 {
			return errors.New("fcm deliverer needs at least one device token")
		}
	default:
		return fmt.Errorf("unknown notifier deliverer %q", c.Notifier.Deliverer)
	}
	if c.Sync.BaseURL != "" && c.Sync.Secret == "" {
		return errors.New("sync base_url is set but the signing secret is empty")
	}
	return nil
}

// Location resolves Timezone. "Local" is resolved to the host's IANA zone
// where it can be found (TZ, then the /etc/localtime link) so that the name
// can be published in calendar feeds.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return localZone(), nil
	}
	return time.LoadLocation(c.Timezone)
}

func localZone() *time.Location {
	if tz := strings.TrimPrefix(os.Getenv("TZ"), ":"); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	if target, err := os.Readlink("/etc/localtime"); err == nil {
		if i := strings.LastIndex(target, "zoneinfo/"); i >= 0 {
			if loc, err := time.LoadLocation(target[i+len("zoneinfo/"):]); err == nil {
				return loc
			}
		}
	}
	return time.Local
}

// ResyncEnabled reports whether a periodic resync is configured.
func (c *Config) ResyncEnabled() bool {
	return c.ResyncCron != "" && c.ResyncCron != ResyncOff
}

func (c *Config) Lead() time.Duration {
	return time.Duration(c.LeadMinutes) * time.Minute
}

func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.Sync.TimeoutSeconds) * time.Second
}

func (c *Config) DispatchInterval() time.Duration {
	return time.Duration(c.Notifier.DispatchSeconds) * time.Second
}

// ApplyEnv overrides fields from MEDREMIND_* environment variables.
func (c *Config) ApplyEnv() {
	setString(&c.Listen, "MEDREMIND_LISTEN")
	setString(&c.Timezone, "MEDREMIND_TIMEZONE")
	setString(&c.LogLevel, "MEDREMIND_LOG_LEVEL")
	setString(&c.ResyncCron, "MEDREMIND_RESYNC_CRON")
	setString(&c.Store.Driver, "MEDREMIND_DB_DRIVER")
	setString(&c.Store.DSN, "MEDREMIND_DB_DSN")
	// The sqlite file default means nothing to postgres; Validate then
	// asks for a DSN.
	if c.Store.Driver == "postgres" && c.Store.DSN == defaultSQLiteDSN {
		c.Store.DSN = ""
	}
	setString(&c.Sync.BaseURL, "MEDREMIND_SYNC_URL")
	setString(&c.Sync.UserID, "MEDREMIND_SYNC_USER_ID")
	setString(&c.Sync.Secret, "MEDREMIND_SYNC_SECRET")
	setString(&c.Notifier.FCMCredentials, "MEDREMIND_FCM_CREDENTIALS")
	if v := getenv("MEDREMIND_FCM_TOKENS"); v != "" {
		c.Notifier.FCMTokens = splitList(v)
	}
	if v := getenv("MEDREMIND_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	if v := getenv("MEDREMIND_LEAD_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LeadMinutes = n
		}
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - .env in the working directory, if present, is loaded into the
//     environment first
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//   - Environment overrides are applied and the result validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	_ = godotenv.Load()

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run: create default config file.
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
		cfg.Normalize()
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
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

	tmp, err := os.CreateTemp(dir, ".medremind-config-*.tmp")
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

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
