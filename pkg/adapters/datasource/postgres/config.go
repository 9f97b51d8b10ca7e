package postgres

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/config"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string // "disable", "require", "verify-ca", "verify-full"
	StatementTimeout time.Duration
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// FromBackendConfig creates a Config from a backend entry.
func FromBackendConfig(b datasource.BackendConfig) (*Config, error) {
	cfg := &Config{
		Host:             b.Host,
		Port:             b.Port,
		User:             b.User,
		Password:         b.Password,
		Database:         b.Database,
		SSLMode:          b.SSLMode,
		StatementTimeout: b.QueryTimeout,
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = DefaultSSLMode()
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

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// User-provided fields are URL-escaped so passwords containing @, /, # or ?
// do not break URL parsing. localhost is resolved for Docker.
func buildConnectionString(cfg *Config) string {
	host := config.ResolveHostForDocker(cfg.Host)

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		url.QueryEscape(cfg.SSLMode),
	)
}
