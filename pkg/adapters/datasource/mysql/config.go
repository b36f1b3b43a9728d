package mysql

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// Config contains MySQL-specific connection options.
// A descriptor is either a go-sql-driver DSN (user:pass@tcp(host:port)/db) or a
// YAML/JSON document with the fields below.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	TLS      string `yaml:"tls"` // "true", "false", "skip-verify", "preferred"
}

// DefaultPort returns the default MySQL port.
func DefaultPort() int {
	return 3306
}

// ParseDescriptor builds a driver config from a stored connection descriptor.
// Time columns are always parsed into time.Time.
func ParseDescriptor(descriptor string) (*mysql.Config, error) {
	trimmed := strings.TrimSpace(descriptor)
	if trimmed == "" {
		return nil, fmt.Errorf("mysql descriptor is empty")
	}

	if strings.Contains(trimmed, "@") && strings.Contains(trimmed, "/") && !strings.HasPrefix(trimmed, "{") && !strings.Contains(trimmed, "\n") {
		dsn, err := mysql.ParseDSN(trimmed)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		dsn.ParseTime = true
		return dsn, nil
	}

	cfg := &Config{Port: DefaultPort()}
	if err := yaml.Unmarshal([]byte(trimmed), cfg); err != nil {
		return nil, fmt.Errorf("parse mysql descriptor: %w", err)
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
	return cfg.DriverConfig(), nil
}

// DriverConfig converts the descriptor fields to a go-sql-driver config.
func (c *Config) DriverConfig() *mysql.Config {
	dsn := mysql.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	dsn.DBName = c.Database
	dsn.ParseTime = true
	if c.TLS != "" {
		dsn.TLSConfig = c.TLS
	}
	return dsn
}
