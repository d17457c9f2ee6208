package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the learning-session client
type Config struct {
	// Logging configuration
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// LMS REST backend
	API struct {
		URL        string        `yaml:"url"`
		Token      string        `yaml:"token"`
		Timeout    time.Duration `yaml:"timeout"`
		MaxRetries int           `yaml:"max_retries"`
		RetryDelay time.Duration `yaml:"retry_delay"`
		RateLimit  time.Duration `yaml:"rate_limit"`
		Burst      int           `yaml:"burst"`
	} `yaml:"api"`

	// Assessment runner (GraphQL)
	Assessment struct {
		URL          string        `yaml:"url"`
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"assessment"`

	// Learning session tracking
	Session struct {
		TickInterval      time.Duration `yaml:"tick_interval"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		HiddenExitAfter   time.Duration `yaml:"hidden_exit_after"`
		StartRetryDelay   time.Duration `yaml:"start_retry_delay"`
	} `yaml:"session"`

	// Commit ledger
	Ledger struct {
		Enabled bool   `yaml:"enabled"`
		Driver  string `yaml:"driver"`
		Path    string `yaml:"path"`
		DSN     string `yaml:"dsn"`
	} `yaml:"ledger"`

	// Client-side caches
	Cache struct {
		ModuleTTL time.Duration `yaml:"module_ttl"`
	} `yaml:"cache"`
}

// DefaultConfig returns a configuration populated with defaults only
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"
	cfg.API.Timeout = 30 * time.Second
	cfg.API.MaxRetries = 2
	cfg.API.RetryDelay = 500 * time.Millisecond
	cfg.API.RateLimit = 100 * time.Millisecond
	cfg.API.Burst = 10
	cfg.Assessment.PollInterval = 5 * time.Second
	cfg.Session.TickInterval = time.Second
	cfg.Session.HeartbeatInterval = 60 * time.Second
	cfg.Session.HiddenExitAfter = 10 * time.Minute
	cfg.Session.StartRetryDelay = 3 * time.Second
	cfg.Ledger.Driver = "sqlite-pure"
	cfg.Ledger.Path = "./data/ledger.db"
	cfg.Cache.ModuleTTL = 5 * time.Minute
	return cfg
}

// Load loads configuration from a file (if specified) and environment variables.
// Priority: 1) environment variables, 2) config file, 3) defaults
func Load(configFile string) (*Config, error) {
	cfg, err := Read(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read merges defaults, the config file and the environment like Load but
// skips validation. Offline commands such as the ledger report use it.
func Read(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	if configFile != "" {
		fileCfg, err := LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		mergeConfigs(cfg, fileCfg)
	}

	loadFromEnv(cfg)
	return cfg, nil
}

// LoadFromFile reads a YAML configuration file without applying defaults or env
func LoadFromFile(path string) (*Config, error) {
	if !filepath.IsAbs(path) {
		abspath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = abspath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	var missing []string

	if c.API.URL == "" {
		missing = append(missing, "LMS_API_URL")
	}
	if c.API.Token == "" {
		missing = append(missing, "LMS_API_TOKEN")
	}
	if len(missing) > 0 {
		return &ConfigError{
			Field: strings.Join(missing, ", "),
			Msg:   "required configuration values are missing",
		}
	}

	if c.Session.TickInterval <= 0 {
		return &ConfigError{Field: "session.tick_interval", Msg: "must be positive"}
	}
	if c.Session.HeartbeatInterval < 0 {
		return &ConfigError{Field: "session.heartbeat_interval", Msg: "must not be negative"}
	}
	switch c.Ledger.Driver {
	case "", "sqlite", "sqlite-pure":
		if c.Ledger.Enabled && c.Ledger.Path == "" {
			return &ConfigError{Field: "ledger.path", Msg: "is required when the ledger is enabled"}
		}
	case "postgres", "mysql", "mariadb":
		if c.Ledger.Enabled && c.Ledger.DSN == "" {
			return &ConfigError{Field: "ledger.dsn", Msg: "is required for " + c.Ledger.Driver}
		}
	default:
		return &ConfigError{Field: "ledger.driver", Msg: "must be sqlite, sqlite-pure, postgres, mysql or mariadb"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Msg
}

// loadFromEnv overrides cfg with any environment variables that are set
func loadFromEnv(cfg *Config) {
	if url := getEnv("LMS_API_URL", ""); url != "" {
		cfg.API.URL = strings.TrimSuffix(url, "/")
	}
	if token := getEnv("LMS_API_TOKEN", ""); token != "" {
		cfg.API.Token = token
	}
	if d := getDurationFromEnv("LMS_API_TIMEOUT", 0); d > 0 {
		cfg.API.Timeout = d
	}
	if n := getIntFromEnv("LMS_API_MAX_RETRIES", -1); n >= 0 {
		cfg.API.MaxRetries = n
	}
	if url := getEnv("LMS_ASSESSMENT_URL", ""); url != "" {
		cfg.Assessment.URL = url
	}

	if level := getEnv("LOG_LEVEL", ""); level != "" {
		cfg.Logging.Level = level
	}
	if format := getEnv("LOG_FORMAT", ""); format != "" {
		cfg.Logging.Format = format
	}

	if d := getDurationFromEnv("SESSION_HEARTBEAT_INTERVAL", -1); d >= 0 {
		cfg.Session.HeartbeatInterval = d
	}
	if d := getDurationFromEnv("SESSION_HIDDEN_EXIT_AFTER", 0); d > 0 {
		cfg.Session.HiddenExitAfter = d
	}

	if _, set := os.LookupEnv("LEDGER_ENABLED"); set {
		cfg.Ledger.Enabled = getBoolFromEnv("LEDGER_ENABLED", cfg.Ledger.Enabled)
	}
	if driver := getEnv("LEDGER_DRIVER", ""); driver != "" {
		cfg.Ledger.Driver = driver
	}
	if path := getEnv("LEDGER_PATH", ""); path != "" {
		cfg.Ledger.Path = path
	}
	if dsn := getEnv("LEDGER_DSN", ""); dsn != "" {
		cfg.Ledger.DSN = dsn
	}
}

// mergeConfigs copies every non-zero value of src into dst
func mergeConfigs(dst, src *Config) {
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}

	if src.API.URL != "" {
		dst.API.URL = strings.TrimSuffix(src.API.URL, "/")
	}
	if src.API.Token != "" {
		dst.API.Token = src.API.Token
	}
	if src.API.Timeout > 0 {
		dst.API.Timeout = src.API.Timeout
	}
	if src.API.MaxRetries > 0 {
		dst.API.MaxRetries = src.API.MaxRetries
	}
	if src.API.RetryDelay > 0 {
		dst.API.RetryDelay = src.API.RetryDelay
	}
	if src.API.RateLimit > 0 {
		dst.API.RateLimit = src.API.RateLimit
	}
	if src.API.Burst > 0 {
		dst.API.Burst = src.API.Burst
	}

	if src.Assessment.URL != "" {
		dst.Assessment.URL = src.Assessment.URL
	}
	if src.Assessment.PollInterval > 0 {
		dst.Assessment.PollInterval = src.Assessment.PollInterval
	}

	if src.Session.TickInterval > 0 {
		dst.Session.TickInterval = src.Session.TickInterval
	}
	if src.Session.HeartbeatInterval > 0 {
		dst.Session.HeartbeatInterval = src.Session.HeartbeatInterval
	}
	if src.Session.HiddenExitAfter > 0 {
		dst.Session.HiddenExitAfter = src.Session.HiddenExitAfter
	}
	if src.Session.StartRetryDelay > 0 {
		dst.Session.StartRetryDelay = src.Session.StartRetryDelay
	}

	if src.Ledger.Enabled {
		dst.Ledger.Enabled = true
	}
	if src.Ledger.Driver != "" {
		dst.Ledger.Driver = src.Ledger.Driver
	}
	if src.Ledger.Path != "" {
		dst.Ledger.Path = src.Ledger.Path
	}
	if src.Ledger.DSN != "" {
		dst.Ledger.DSN = src.Ledger.DSN
	}

	if src.Cache.ModuleTTL > 0 {
		dst.Cache.ModuleTTL = src.Cache.ModuleTTL
	}
}

// Helper functions for environment variable parsing
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getBoolFromEnv(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}

func getIntFromEnv(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		i, err := strconv.Atoi(value)
		if err != nil {
			return fallback
		}
		return i
	}
	return fallback
}

// getDurationFromEnv reads a duration from an environment variable or returns a default value
func getDurationFromEnv(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fallback
		}
		return d
	}
	return fallback
}
