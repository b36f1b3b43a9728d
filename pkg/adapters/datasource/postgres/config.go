package postgres

import (
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config contains PostgreSQL-specific connection options.
// A descriptor is either a connection URL / keyword DSN, or a YAML/JSON
// document with the fields below.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"` // "disable", "require", "verify-ca", "verify-full"

	// connString is set when the descriptor was already a DSN.
	connString string
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// ParseDescriptor builds a Config from a stored connection descriptor.
func ParseDescriptor(descriptor string) (*Config, error) {
	trimmed := strings.TrimSpace(descriptor)
	if trimmed == "" {
		return nil, fmt.Errorf("postgres descriptor is empty")
	}

	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		cfg := &Config{connString: trimmed}
		if u, err := url.Parse(trimmed); err == nil {
			cfg.Database = strings.TrimPrefix(u.Path, "/")
		}
		return cfg, nil
	}
	if strings.Contains(trimmed, "host=") && !strings.Contains(trimmed, "\n") && !strings.HasPrefix(trimmed, "{") {
		return &Config{connString: trimmed}, nil
	}

	cfg := &Config{
		Port:    DefaultPort(),
		SSLMode: DefaultSSLMode(),
	}
	if err := yaml.Unmarshal([]byte(trimmed), cfg); err != nil {
		return nil, fmt.Errorf("parse postgres descriptor: %w", err)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database is required")
	}
	return cfg, nil
}

// ConnectionString returns a PostgreSQL URL with every user-provided field escaped.
// Passwords routinely contain @, /, # or ? which would otherwise break URL parsing.
func (c *Config) ConnectionString() string {
	if c.connString != "" {
		return c.connString
	}

	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort()
	}

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		port,
		url.QueryEscape(c.Database),
		sslMode,
	)
}
