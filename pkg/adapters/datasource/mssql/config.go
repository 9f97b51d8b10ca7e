package mssql

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/config"
)

// Config contains SQL Server connection options. Only SQL authentication
// is supported.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int // seconds
	AppName                string
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromBackendConfig creates a Config from a backend entry. SSLMode
// "disable" turns encryption off; any other value keeps it on.
func FromBackendConfig(b datasource.BackendConfig) (*Config, error) {
	cfg := &Config{
		Host:              b.Host,
		Port:              b.Port,
		Database:          b.Database,
		Username:          b.User,
		Password:          b.Password,
		Encrypt:           b.SSLMode != "disable",
		ConnectionTimeout: DefaultConnectionTimeout(),
		AppName:           b.Options["app_name"],
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}

	if v, ok := b.Options["trust_server_certificate"]; ok {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid trust_server_certificate %q: %w", v, err)
		}
		cfg.TrustServerCertificate = trust
	}
	if v, ok := b.Options["connection_timeout"]; ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid connection_timeout %q: %w", v, err)
		}
		cfg.ConnectionTimeout = secs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config has all required fields.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required for SQL authentication")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// buildConnectionString builds a sqlserver:// URL for SQL authentication.
func buildConnectionString(cfg *Config) string {
	query := url.Values{}
	query.Add("database", cfg.Database)

	if cfg.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}
	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", strconv.Itoa(cfg.ConnectionTimeout))
	}
	if cfg.AppName != "" {
		query.Add("app name", cfg.AppName)
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(cfg.Username),
		url.QueryEscape(cfg.Password),
		config.ResolveHostForDocker(cfg.Host),
		cfg.Port,
		query.Encode(),
	)
}
