package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is where Load looks for the YAML file.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for the query engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL system of record)
	Database DatabaseConfig `yaml:"database"`

	// Redis is optional; when Host is empty the scheduler runs without a distributed lock.
	Redis RedisConfig `yaml:"redis"`

	Datasource DatasourceConfig `yaml:"datasource"`
	LLM        LLMConfig        `yaml:"llm"`
	Cache      CacheConfig      `yaml:"cache"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`

	// DemoDatasourceID names the data source used by the credential-free demo flow.
	// Empty disables the demo flow.
	DemoDatasourceID string `yaml:"demo_datasource_id" env:"DEMO_DATASOURCE_ID" env-default:""`

	// Credential encryption key for stored connection descriptors.
	// Must be a 32-byte key, base64 encoded, or any passphrase. Empty means descriptors are stored in plaintext.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_query_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// DatasourceConfig holds datasource connection management settings.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle datasource connections are kept alive. 0 keeps them forever.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"30"`
	// HandshakeRetries is how many times a failed handshake is retried before giving up.
	HandshakeRetries int `yaml:"handshake_retries" env:"DATASOURCE_HANDSHAKE_RETRIES" env-default:"2"`
	// SchemaCacheMinutes is how long rendered schema text is reused per datasource.
	SchemaCacheMinutes int `yaml:"schema_cache_minutes" env:"DATASOURCE_SCHEMA_CACHE_MINUTES" env-default:"10"`
}

// LLMConfig selects and configures the language model used for NL→SQL translation.
type LLMConfig struct {
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"` // "openai" or "anthropic"
	BaseURL     string  `yaml:"base_url" env:"LLM_BASE_URL" env-default:""`
	Model       string  `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1000"`
}

// HasCredential reports whether an API key is configured.
func (c *LLMConfig) HasCredential() bool {
	return c.APIKey != ""
}

// CacheConfig holds query result cache settings.
type CacheConfig struct {
	DefaultTTLMinutes      int `yaml:"default_ttl_minutes" env:"CACHE_DEFAULT_TTL_MINUTES" env-default:"60"`
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes" env:"CACHE_CLEANUP_INTERVAL_MINUTES" env-default:"15"`
}

// CleanupInterval returns the cleanup interval as a duration.
func (c *CacheConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

// SchedulerConfig holds cron scheduler settings.
type SchedulerConfig struct {
	Enabled               bool `yaml:"enabled" env:"SCHEDULER_ENABLED" env-default:"true"`
	ResyncIntervalSeconds int  `yaml:"resync_interval_seconds" env:"SCHEDULER_RESYNC_INTERVAL_SECONDS" env-default:"60"`
	LockTTLSeconds        int  `yaml:"lock_ttl_seconds" env:"SCHEDULER_LOCK_TTL_SECONDS" env-default:"55"`
}

// ResyncInterval returns the resync interval as a duration.
func (c *SchedulerConfig) ResyncInterval() time.Duration {
	return time.Duration(c.ResyncIntervalSeconds) * time.Second
}

// LockTTL returns the per-firing lock TTL as a duration.
func (c *SchedulerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable overrides.
// If config.yaml does not exist, configuration is read from the environment alone.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom(DefaultConfigPath, version)
}

// LoadFrom is Load with an explicit YAML path.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q (expected openai or anthropic)", c.LLM.Provider)
	}
	if c.Scheduler.ResyncIntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.resync_interval_seconds must be positive")
	}
	if c.Cache.DefaultTTLMinutes <= 0 {
		return fmt.Errorf("cache.default_ttl_minutes must be positive")
	}
	if c.Datasource.HandshakeRetries < 0 {
		return fmt.Errorf("datasource.handshake_retries must not be negative")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection URL for the system of record.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port, url.QueryEscape(c.Database), c.SSLMode,
	)
}

// RedisAddr returns host:port for the Redis client.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
