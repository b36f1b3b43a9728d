package mssql

import (
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	AuthMethodSQL              = "sql"
	AuthMethodServicePrincipal = "service_principal"
)

// Config contains SQL Server-specific connection options.
// A descriptor is either a sqlserver:// URL or a YAML/JSON document with these fields.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`

	// AuthMethod is "sql" or "service_principal"; empty auto-detects from the fields present.
	AuthMethod string `yaml:"auth_method"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Azure AD service principal
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	Encrypt                bool `yaml:"encrypt"`
	TrustServerCertificate bool `yaml:"trust_server_certificate"`
	ConnectionTimeout      int  `yaml:"connection_timeout"`

	connString string
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// ParseDescriptor builds a Config from a stored connection descriptor.
func ParseDescriptor(descriptor string) (*Config, error) {
	trimmed := strings.TrimSpace(descriptor)
	if trimmed == "" {
		return nil, fmt.Errorf("sqlserver descriptor is empty")
	}
	if strings.HasPrefix(trimmed, "sqlserver://") {
		return &Config{AuthMethod: AuthMethodSQL, connString: trimmed}, nil
	}

	cfg := &Config{
		Port:              DefaultPort(),
		Encrypt:           true,
		ConnectionTimeout: DefaultConnectionTimeout(),
	}
	if err := yaml.Unmarshal([]byte(trimmed), cfg); err != nil {
		return nil, fmt.Errorf("parse sqlserver descriptor: %w", err)
	}

	if cfg.AuthMethod == "" {
		switch {
		case cfg.ClientID != "":
			cfg.AuthMethod = AuthMethodServicePrincipal
		case cfg.Username != "":
			cfg.AuthMethod = AuthMethodSQL
		default:
			return nil, fmt.Errorf("could not auto-detect auth method; no credentials provided")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the config has all required fields for the selected auth method.
func (c *Config) Validate() error {
	if c.connString != "" {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.AuthMethod {
	case AuthMethodSQL:
		if c.Username == "" {
			return fmt.Errorf("username is required for SQL authentication")
		}
	case AuthMethodServicePrincipal:
		if c.TenantID == "" || c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("tenant_id, client_id and client_secret are required for service principal")
		}
	default:
		return fmt.Errorf("invalid auth method: %s (must be sql or service_principal)", c.AuthMethod)
	}
	return nil
}

// DriverName returns the database/sql driver registered for the auth method.
func (c *Config) DriverName() string {
	if c.AuthMethod == AuthMethodServicePrincipal {
		return "azuresql"
	}
	return "sqlserver"
}

// ConnectionString renders the sqlserver:// URL for the driver.
func (c *Config) ConnectionString() string {
	if c.connString != "" {
		return c.connString
	}

	query := url.Values{}
	query.Add("database", c.Database)
	query.Add("encrypt", fmt.Sprintf("%t", c.Encrypt))
	if c.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if c.ConnectionTimeout > 0 {
		query.Add("connection timeout", fmt.Sprintf("%d", c.ConnectionTimeout))
	}

	if c.AuthMethod == AuthMethodServicePrincipal {
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		query.Add("user id", c.ClientID)
		query.Add("password", c.ClientSecret)
		query.Add("tenant id", c.TenantID)
		return fmt.Sprintf("sqlserver://%s:%d?%s", c.Host, c.Port, query.Encode())
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(c.Username),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		query.Encode(),
	)
}
