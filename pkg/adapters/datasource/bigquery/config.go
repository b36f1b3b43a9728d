package bigquery

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config contains BigQuery connection options.
//
// A descriptor is a YAML/JSON document. It may be a service-account key file
// itself (type: service_account) with extra dataset/location keys, or a document
// that carries the key in credentials_json or points at it with credentials_file.
type Config struct {
	Type            string `yaml:"type"`
	ProjectID       string `yaml:"project_id"`
	Dataset         string `yaml:"dataset"`
	Location        string `yaml:"location"`
	CredentialsJSON string `yaml:"credentials_json"`
	CredentialsFile string `yaml:"credentials_file"`

	credentials []byte
}

// ParseDescriptor builds a Config from a stored connection descriptor.
func ParseDescriptor(descriptor string) (*Config, error) {
	trimmed := strings.TrimSpace(descriptor)
	if trimmed == "" {
		return nil, fmt.Errorf("bigquery descriptor is empty")
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(trimmed), cfg); err != nil {
		return nil, fmt.Errorf("parse bigquery descriptor: %w", err)
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required")
	}

	switch {
	case cfg.Type == "service_account":
		cfg.credentials = []byte(trimmed)
	case cfg.CredentialsJSON != "":
		cfg.credentials = []byte(cfg.CredentialsJSON)
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read bigquery credentials file: %w", err)
		}
		cfg.credentials = data
	}
	// No credentials falls back to application default credentials.
	return cfg, nil
}

// HasExplicitCredentials reports whether the descriptor carried a key.
func (c *Config) HasExplicitCredentials() bool {
	return len(c.credentials) > 0
}
