// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Store backend identifiers accepted by StoreConfig.Type.
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreKeyring  = "keyring"
)

// Default state locations, used when store.path is empty.
const (
	DefaultFileStorePath   = "~/.sessionkeeper/state.json"
	DefaultSQLiteStorePath = "~/.sessionkeeper/state.db"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Target    TargetConfig    `mapstructure:"target" yaml:"target"`
	Keepalive KeepaliveConfig `mapstructure:"keepalive" yaml:"keepalive"`
	Harvest   HarvestConfig   `mapstructure:"harvest" yaml:"harvest"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Notify    NotifyConfig    `mapstructure:"notify" yaml:"notify"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// TargetConfig identifies the page whose session is kept alive.
// Match is a glob where '*' matches any run of characters; the tool refuses
// to act on a tab whose location does not match it.
type TargetConfig struct {
	URL   string `mapstructure:"url" yaml:"url"`
	Match string `mapstructure:"match" yaml:"match"`
}

// KeepaliveConfig tunes the reload loop.
type KeepaliveConfig struct {
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// HarvestConfig tunes the cookie harvester.
type HarvestConfig struct {
	Window               time.Duration `mapstructure:"window" yaml:"window"`
	SideFetch            bool          `mapstructure:"side_fetch" yaml:"side_fetch"`
	SideFetchConcurrency int           `mapstructure:"side_fetch_concurrency" yaml:"side_fetch_concurrency"`
	SideFetchRate        float64       `mapstructure:"side_fetch_rate" yaml:"side_fetch_rate"`
	SideFetchBurst       int           `mapstructure:"side_fetch_burst" yaml:"side_fetch_burst"`
	CookieTTL            time.Duration `mapstructure:"cookie_ttl" yaml:"cookie_ttl"`
	// Every makes the run daemon harvest and save cookies on its own tab at
	// this period. Zero disables it.
	Every time.Duration `mapstructure:"every" yaml:"every"`
}

// BrowserConfig holds settings for the Chromium instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	DisableGPU        bool          `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	DisableCache      bool          `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Stealth           bool          `mapstructure:"stealth" yaml:"stealth"`
	Persona           PersonaConfig `mapstructure:"persona" yaml:"persona"`
}

// PersonaConfig is the browser identity presented when stealth is on. Empty
// fields leave the browser's own value in place.
type PersonaConfig struct {
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent"`
	Platform  string   `mapstructure:"platform" yaml:"platform"`
	Languages []string `mapstructure:"languages" yaml:"languages"`
	Timezone  string   `mapstructure:"timezone" yaml:"timezone"`
	Locale    string   `mapstructure:"locale" yaml:"locale"`
}

// NetworkConfig tunes the side-fetch HTTP client.
type NetworkConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	MaxDrainBytes   int64         `mapstructure:"max_drain_bytes" yaml:"max_drain_bytes"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// StoreConfig selects and configures the persisted state backend.
type StoreConfig struct {
	Type           string `mapstructure:"type" yaml:"type"`
	Path           string `mapstructure:"path" yaml:"path"`
	DSN            string `mapstructure:"dsn" yaml:"-"`
	KeyringService string `mapstructure:"keyring_service" yaml:"keyring_service"`
}

// NotifyConfig controls desktop notifications.
type NotifyConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "sessionkeeper")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Target --
	v.SetDefault("target.url", "https://tousu.sina.com.cn/user/view")
	v.SetDefault("target.match", "https://tousu.sina.com.cn/user/view*")

	// -- Keepalive --
	v.SetDefault("keepalive.interval", "20m")
	v.SetDefault("keepalive.poll_interval", "5s")

	// -- Harvest --
	v.SetDefault("harvest.window", "3s")
	v.SetDefault("harvest.side_fetch", true)
	v.SetDefault("harvest.side_fetch_concurrency", 4)
	v.SetDefault("harvest.side_fetch_rate", 5.0)
	v.SetDefault("harvest.side_fetch_burst", 2)
	v.SetDefault("harvest.cookie_ttl", "24h")
	v.SetDefault("harvest.every", "0s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.user_data_dir", "~/.sessionkeeper/profile")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.persona.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	v.SetDefault("browser.persona.platform", "Win32")
	v.SetDefault("browser.persona.languages", []string{"zh-CN", "zh", "en"})
	v.SetDefault("browser.persona.timezone", "Asia/Shanghai")
	v.SetDefault("browser.persona.locale", "zh-CN")

	// -- Network --
	v.SetDefault("network.timeout", "15s")
	v.SetDefault("network.max_drain_bytes", 1<<20)
	v.SetDefault("network.ignore_tls_errors", false)

	// -- Store --
	v.SetDefault("store.type", StoreFile)
	v.SetDefault("store.path", "")
	v.SetDefault("store.keyring_service", "sessionkeeper")

	// -- Notify --
	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.timeout", "3s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The DSN carries credentials, keep it out of config files.
	_ = v.BindEnv("store.dsn", "SESSIONKEEPER_STORE_DSN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Store.Type == StorePostgres && cfg.Store.DSN == "" {
		cfg.Store.DSN = os.Getenv("SESSIONKEEPER_STORE_DSN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Target.Validate(); err != nil {
		return fmt.Errorf("target configuration invalid: %w", err)
	}
	if c.Keepalive.Interval <= 0 {
		return fmt.Errorf("keepalive.interval must be a positive duration")
	}
	if c.Keepalive.PollInterval <= 0 {
		return fmt.Errorf("keepalive.poll_interval must be a positive duration")
	}
	if err := c.Harvest.Validate(); err != nil {
		return fmt.Errorf("harvest configuration invalid: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the target URL and match pattern.
func (t *TargetConfig) Validate() error {
	if t.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("url is not parseable: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must be http or https, got %q", u.Scheme)
	}
	if t.Match == "" {
		return fmt.Errorf("match is required")
	}
	return nil
}

// Validate checks the harvester settings.
func (h *HarvestConfig) Validate() error {
	if h.Window <= 0 {
		return fmt.Errorf("window must be a positive duration")
	}
	if h.CookieTTL <= 0 {
		return fmt.Errorf("cookie_ttl must be a positive duration")
	}
	if h.Every < 0 {
		return fmt.Errorf("every must not be negative")
	}
	if !h.SideFetch {
		return nil
	}
	if h.SideFetchConcurrency <= 0 {
		return fmt.Errorf("side_fetch_concurrency must be a positive integer")
	}
	if h.SideFetchRate <= 0 {
		return fmt.Errorf("side_fetch_rate must be positive")
	}
	if h.SideFetchBurst <= 0 {
		return fmt.Errorf("side_fetch_burst must be a positive integer")
	}
	return nil
}

// ResolvedPath returns Path, or the backend's default location when Path is
// empty. Backends without a path return "".
func (s *StoreConfig) ResolvedPath() string {
	if s.Path != "" {
		return s.Path
	}
	switch s.Type {
	case StoreFile:
		return DefaultFileStorePath
	case StoreSQLite:
		return DefaultSQLiteStorePath
	}
	return ""
}

// Validate checks the store backend selection.
func (s *StoreConfig) Validate() error {
	switch s.Type {
	case StoreFile, StoreSQLite:
	case StorePostgres:
		if s.DSN == "" {
			return fmt.Errorf("dsn is required for the postgres backend (hint: set SESSIONKEEPER_STORE_DSN)")
		}
	case StoreKeyring:
		if s.KeyringService == "" {
			return fmt.Errorf("keyring_service is required for the keyring backend")
		}
	default:
		return fmt.Errorf("unknown type %q", s.Type)
	}
	return nil
}
