package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	// Domain REST API and auth
	APIBaseURL string
	APIToken   string

	// Secondary backend (budget sync server) and its same-origin proxy
	SyncServerURL string
	ProxyURL      string
	Port          string

	// Durable storage tier
	StorageBackend string
	SQLiteDBPath   string
	PostgresDSN    string

	// AMQP change feed (optional)
	AMQPURL      string
	AMQPExchange string

	// Request layer
	RequestTimeout       time.Duration
	CacheTTL             time.Duration
	CacheSize            int
	CacheCleanupInterval time.Duration

	// Persistence facade and workspace session
	FlushDebounce time.Duration
	NotifyDelay   time.Duration

	LogLevel string
}

// fileConfig mirrors the TOML layout. Durations are strings ("5m") parsed with time.ParseDuration.
type fileConfig struct {
	API struct {
		BaseURL string `toml:"base_url"`
		Token   string `toml:"token"`
		Timeout string `toml:"timeout"`
	} `toml:"api"`
	Sync struct {
		ServerURL string `toml:"server_url"`
		ProxyURL  string `toml:"proxy_url"`
		Port      string `toml:"port"`
	} `toml:"sync"`
	Storage struct {
		Backend       string `toml:"backend"`
		SQLitePath    string `toml:"sqlite_path"`
		PostgresDSN   string `toml:"postgres_dsn"`
		FlushDebounce string `toml:"flush_debounce"`
	} `toml:"storage"`
	AMQP struct {
		URL      string `toml:"url"`
		Exchange string `toml:"exchange"`
	} `toml:"amqp"`
	Cache struct {
		TTL             string `toml:"ttl"`
		Size            int    `toml:"size"`
		CleanupInterval string `toml:"cleanup_interval"`
	} `toml:"cache"`
	Workspace struct {
		NotifyDelay string `toml:"notify_delay"`
	} `toml:"workspace"`
	LogLevel string `toml:"log_level"`
}

// Defaults returns the configuration used when neither a file nor the environment set a value.
func Defaults() *Config {
	return &Config{
		APIBaseURL:           "http://localhost:3000/api",
		SyncServerURL:        "http://localhost:5006",
		ProxyURL:             "http://localhost:8081/api/sync/activate",
		Port:                 "8081",
		StorageBackend:       "sqlite",
		SQLiteDBPath:         "./data/odzai.db",
		AMQPExchange:         "odzai.storage",
		RequestTimeout:       30 * time.Second,
		CacheTTL:             5 * time.Minute,
		CacheSize:            500,
		CacheCleanupInterval: time.Minute,
		FlushDebounce:        100 * time.Millisecond,
		NotifyDelay:          300 * time.Millisecond,
		LogLevel:             "info",
	}
}

// Load builds the configuration from defaults and environment variables.
func Load() *Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile layers defaults, the TOML file at path (if it exists) and the environment.
// An empty path falls back to ODZAI_CONFIG.
func LoadFile(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = os.Getenv("ODZAI_CONFIG")
	}
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.APIBaseURL, raw.API.BaseURL)
	setString(&c.APIToken, raw.API.Token)
	setString(&c.SyncServerURL, raw.Sync.ServerURL)
	setString(&c.ProxyURL, raw.Sync.ProxyURL)
	setString(&c.Port, raw.Sync.Port)
	setString(&c.StorageBackend, raw.Storage.Backend)
	setString(&c.SQLiteDBPath, raw.Storage.SQLitePath)
	setString(&c.PostgresDSN, raw.Storage.PostgresDSN)
	setString(&c.AMQPURL, raw.AMQP.URL)
	setString(&c.AMQPExchange, raw.AMQP.Exchange)
	setString(&c.LogLevel, raw.LogLevel)
	if raw.Cache.Size > 0 {
		c.CacheSize = raw.Cache.Size
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"api.timeout", raw.API.Timeout, &c.RequestTimeout},
		{"cache.ttl", raw.Cache.TTL, &c.CacheTTL},
		{"cache.cleanup_interval", raw.Cache.CleanupInterval, &c.CacheCleanupInterval},
		{"storage.flush_debounce", raw.Storage.FlushDebounce, &c.FlushDebounce},
		{"workspace.notify_delay", raw.Workspace.NotifyDelay, &c.NotifyDelay},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) applyEnv() {
	c.APIBaseURL = getEnv("ODZAI_API_URL", c.APIBaseURL)
	c.APIToken = getEnv("ODZAI_TOKEN", c.APIToken)
	c.SyncServerURL = getEnv("ODZAI_SYNC_URL", c.SyncServerURL)
	c.ProxyURL = getEnv("ODZAI_PROXY_URL", c.ProxyURL)
	c.Port = getEnv("PORT", c.Port)

	c.StorageBackend = getEnv("STORAGE_BACKEND", c.StorageBackend)
	c.SQLiteDBPath = getEnv("SQLITE_DB_PATH", c.SQLiteDBPath)
	c.PostgresDSN = getEnv("POSTGRES_DSN", c.PostgresDSN)

	c.AMQPURL = getEnv("AMQP_URL", c.AMQPURL)
	c.AMQPExchange = getEnv("AMQP_EXCHANGE", c.AMQPExchange)

	c.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.CacheTTL = getEnvDuration("CACHE_TTL", c.CacheTTL)
	c.CacheSize = getEnvInt("CACHE_SIZE", c.CacheSize)
	c.CacheCleanupInterval = getEnvDuration("CACHE_CLEANUP_INTERVAL", c.CacheCleanupInterval)
	c.FlushDebounce = getEnvDuration("STORAGE_FLUSH_DEBOUNCE", c.FlushDebounce)
	c.NotifyDelay = getEnvDuration("NOTIFY_DELAY", c.NotifyDelay)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if msg := validateHTTPURL("API URL", c.APIBaseURL, true); msg != "" {
		errors = append(errors, msg)
	}
	if msg := validateHTTPURL("sync server URL", c.SyncServerURL, false); msg != "" {
		errors = append(errors, msg)
	}
	if msg := validateHTTPURL("proxy URL", c.ProxyURL, false); msg != "" {
		errors = append(errors, msg)
	}

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{"memory", "sqlite", "postgres"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.StorageBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid storage backend '%s': must be one of %v", c.StorageBackend, validBackends))
	}

	switch c.StorageBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errors = append(errors, "Postgres DSN cannot be empty when using postgres backend")
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RequestTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid request timeout %v: must be at least 1 second", c.RequestTimeout))
	}
	if c.CacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be positive", c.CacheTTL))
	}
	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}
	if c.CacheCleanupInterval <= 0 {
		errors = append(errors, fmt.Sprintf("invalid cache cleanup interval %v: must be positive", c.CacheCleanupInterval))
	}
	if c.FlushDebounce < 0 || c.FlushDebounce > 10*time.Second {
		errors = append(errors, fmt.Sprintf("invalid flush debounce %v: must be between 0 and 10s", c.FlushDebounce))
	}
	if c.NotifyDelay < 0 {
		errors = append(errors, fmt.Sprintf("invalid notify delay %v: must not be negative", c.NotifyDelay))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func validateHTTPURL(name, raw string, required bool) string {
	if raw == "" {
		if required {
			return fmt.Sprintf("%s cannot be empty", name)
		}
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid %s '%s': %v", name, raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Sprintf("invalid %s scheme '%s': must be 'http' or 'https'", name, parsed.Scheme)
	}
	return ""
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
