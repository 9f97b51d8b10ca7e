package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"modernc.org/sqlite"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/adapters/datasource"
)

// Dialect binds natively with ?N so repeated references share a position.
var Dialect = datasource.Dialect{Name: "sqlite", Placeholder: datasource.QuestionPlaceholder}

const defaultBusyTimeout = 5 * time.Second

// Config contains SQLite connection options.
type Config struct {
	// Path is a database file, or ":memory:" for a process-local database
	// shared by every connection of the pool.
	Path        string
	BusyTimeout time.Duration
}

// FromBackendConfig creates a Config from a backend entry. Database is
// accepted as an alias of Path.
func FromBackendConfig(b datasource.BackendConfig) (*Config, error) {
	path := b.Path
	if path == "" {
		path = b.Database
	}
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}

	cfg := &Config{Path: path, BusyTimeout: defaultBusyTimeout}
	if v, ok := b.Options["busy_timeout"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid busy_timeout %q: %w", v, err)
		}
		cfg.BusyTimeout = d
	}
	return cfg, nil
}

func (c *Config) inMemory() bool {
	return c.Path == ":memory:"
}

// buildDSN applies per-connection pragmas through the DSN so every pooled
// connection gets them, not just the first.
func buildDSN(backend string, cfg *Config) string {
	query := url.Values{}
	query.Add("_pragma", "busy_timeout("+strconv.FormatInt(cfg.BusyTimeout.Milliseconds(), 10)+")")
	query.Add("_pragma", "foreign_keys(1)")

	if cfg.inMemory() {
		// A named shared-cache database lives as long as one connection is open.
		query.Set("mode", "memory")
		query.Set("cache", "shared")
		return "file:" + url.PathEscape(backend) + "?" + query.Encode()
	}
	return "file:" + cfg.Path + "?" + query.Encode()
}

// NewPool opens a database/sql pool for one SQLite backend.
func NewPool(ctx context.Context, backend string, cfg *Config, mgr datasource.ConnectionManagerConfig) (*datasource.SQLDBPoolWrapper, error) {
	if !cfg.inMemory() {
		if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", buildDSN(backend, cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(int(mgr.PoolMaxConns))
	db.SetMaxIdleConns(max(int(mgr.PoolMinConns), 1))
	if cfg.inMemory() {
		// Closing the last connection would drop the database
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetConnMaxIdleTime(time.Duration(mgr.TTLMinutes) * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	if !cfg.inMemory() {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	return datasource.NewSQLDBPoolWrapper(db, datasource.SQLDBPoolOptions{
		Type:     "sqlite",
		Backend:  backend,
		Dialect:  Dialect,
		Classify: classifyError,
		Convert:  convertValue,
	}), nil
}

// classifyError extracts the SQLite result code.
func classifyError(err error) (string, string, bool) {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return "", "", false
	}
	return strconv.Itoa(sqliteErr.Code()), sqliteErr.Error(), true
}

// convertValue keeps TEXT affinity values as strings even when declared
// under a type name the driver does not recognize.
func convertValue(databaseType string, v any) any {
	if b, ok := v.([]byte); ok && strings.Contains(databaseType, "CHAR") {
		return string(b)
	}
	return v
}

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "sqlite",
			DisplayName: "SQLite",
			Description: "Embedded SQLite database file",
		},
		Dialect: Dialect,
		PoolFactory: func(ctx context.Context, name string, b datasource.BackendConfig, mgr datasource.ConnectionManagerConfig) (datasource.PoolConnector, error) {
			cfg, err := FromBackendConfig(b)
			if err != nil {
				return nil, err
			}
			return NewPool(ctx, name, cfg, mgr)
		},
	})
}
