package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Origin modes.
const (
	OriginService = "service"
	OriginPage    = "page"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds the mirror configuration.
type Config struct {
	// Origin
	BackendURL      string        `yaml:"backend_url"`
	OriginMode      string        `yaml:"origin_mode"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	UserAgent       string        `yaml:"user_agent"`

	// Refresh scheduling
	BatchSize    int           `yaml:"batch_size"`
	BatchDelay   time.Duration `yaml:"batch_delay"`
	QueueSize    int           `yaml:"queue_size"`
	DedupeWindow time.Duration `yaml:"dedupe_window"`
	DedupeSize   int           `yaml:"dedupe_size"`

	// Staleness
	HardTTL time.Duration `yaml:"hard_ttl"`
	SoftTTL time.Duration `yaml:"soft_ttl"`

	// Storage
	StoreDriver  string        `yaml:"store_driver"`
	DatabasePath string        `yaml:"database_path"`
	DatabaseURL  string        `yaml:"database_url"`
	L1Capacity   int           `yaml:"l1_capacity"`
	L1TTL        time.Duration `yaml:"l1_ttl"`

	// Serving
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     bool   `yaml:"verbose"`
}

// DefaultConfig returns defaults suited to a slow, unreliable origin.
func DefaultConfig() *Config {
	return &Config{
		BackendURL:      "http://localhost:8000",
		OriginMode:      OriginService,
		Timeout:         30 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    time.Second,
		RetryBackoffMax: time.Second,
		RateLimit:       5,
		RateBurst:       5,
		UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		BatchSize:       5,
		BatchDelay:      2 * time.Second,
		QueueSize:       256,
		DedupeWindow:    time.Minute,
		DedupeSize:      4096,
		HardTTL:         24 * time.Hour,
		SoftTTL:         12 * time.Hour,
		StoreDriver:     DriverSQLite,
		DatabasePath:    "data/wishmirror.db",
		L1Capacity:      10000,
		L1TTL:           30 * time.Second,
		ListenAddr:      ":8080",
		MetricsAddr:     "",
		Verbose:         false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backend URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("invalid backend URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("backend URL must include a host")
	}
	if c.OriginMode != OriginService && c.OriginMode != OriginPage {
		return fmt.Errorf("origin mode must be %s or %s", OriginService, OriginPage)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("rate burst must be positive when a rate limit is set")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.BatchDelay < 0 {
		return fmt.Errorf("batch delay cannot be negative")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.DedupeWindow < 0 {
		return fmt.Errorf("dedupe window cannot be negative")
	}
	if c.DedupeSize <= 0 {
		return fmt.Errorf("dedupe size must be positive")
	}

	if c.HardTTL <= 0 || c.SoftTTL <= 0 {
		return fmt.Errorf("staleness TTLs must be positive")
	}
	if c.SoftTTL > c.HardTTL {
		return fmt.Errorf("soft TTL (%s) cannot exceed hard TTL (%s)", c.SoftTTL, c.HardTTL)
	}

	switch c.StoreDriver {
	case DriverSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("database path cannot be empty for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database URL cannot be empty for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store driver must be sqlite, postgres, or memory")
	}
	if c.L1Capacity < 0 {
		return fmt.Errorf("l1 capacity cannot be negative")
	}
	if c.L1Capacity > 0 && c.L1TTL <= 0 {
		return fmt.Errorf("l1 TTL must be positive when the l1 cache is enabled")
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	return nil
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values. Durations use Go syntax ("30s", "12h").
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer when it is set.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}

// EnvDuration parses key as a Go duration when it is set.
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}
