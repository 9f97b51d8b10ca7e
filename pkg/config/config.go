package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/cache"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/monitor"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/services"
)

// Config holds all configuration for the report engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:""`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database is the optional PostgreSQL store for the execution log.
	Database DatabaseConfig `yaml:"database"`

	// Redis backs the result cache when cache.store is "redis".
	Redis RedisConfig `yaml:"redis"`

	Cache    CacheConfig    `yaml:"cache"`
	Executor ExecutorConfig `yaml:"executor"`
	Monitor  MonitorConfig  `yaml:"monitor"`

	// Datasource connection management configuration
	Datasource DatasourceConfig `yaml:"datasource"`

	// Backends are the named databases queries run against. Backend
	// passwords may be supplied as BACKEND_<NAME>_PASSWORD.
	Backends map[string]datasource.BackendConfig `yaml:"backends"`

	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:""`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_reports"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	// LogRetention bounds how long execution log rows are kept. Zero keeps
	// them forever.
	LogRetention time.Duration `yaml:"log_retention" env:"EXECUTION_LOG_RETENTION" env-default:"720h"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	// Store is "memory", "redis" or "none".
	Store          string        `yaml:"store" env:"CACHE_STORE" env-default:"memory"`
	MaxEntries     int           `yaml:"max_entries" env:"CACHE_MAX_ENTRIES" env-default:"1000"`
	EvictBatch     int           `yaml:"evict_batch" env:"CACHE_EVICT_BATCH" env-default:"100"`
	MaxCachedRows  int           `yaml:"max_cached_rows" env:"CACHE_MAX_CACHED_ROWS" env-default:"10000"`
	MinExecutionMs int           `yaml:"min_execution_ms" env:"CACHE_MIN_EXECUTION_MS" env-default:"100"`
	DefaultTTL     time.Duration `yaml:"default_ttl" env:"CACHE_DEFAULT_TTL" env-default:"1h"`
}

// ExecutorConfig controls synchronous and async execution.
type ExecutorConfig struct {
	MaxRows         int           `yaml:"max_rows" env:"EXECUTOR_MAX_ROWS" env-default:"1000"`
	DefaultTimeout  time.Duration `yaml:"default_timeout" env:"EXECUTOR_DEFAULT_TIMEOUT" env-default:"5m"`
	AsyncCeiling    time.Duration `yaml:"async_ceiling" env:"EXECUTOR_ASYNC_CEILING" env-default:"10m"`
	MaxConcurrent   int64         `yaml:"max_concurrent" env:"EXECUTOR_MAX_CONCURRENT" env-default:"16"`
	MaxTasks        int           `yaml:"max_tasks" env:"EXECUTOR_MAX_TASKS" env-default:"1000"`
	NativeBinding   bool          `yaml:"native_binding" env:"EXECUTOR_NATIVE_BINDING" env-default:"true"`
	DefaultBackend  string        `yaml:"default_backend" env:"EXECUTOR_DEFAULT_BACKEND" env-default:""`
	AuditExecutions bool          `yaml:"audit_executions" env:"EXECUTOR_AUDIT_EXECUTIONS" env-default:"false"`
}

// MonitorConfig sizes the performance monitor.
type MonitorConfig struct {
	HistorySize          int `yaml:"history_size" env:"MONITOR_HISTORY_SIZE" env-default:"1000"`
	SlowQueryThresholdMs int `yaml:"slow_query_threshold_ms" env:"MONITOR_SLOW_QUERY_THRESHOLD_MS" env-default:"5000"`
	SlowQueryLogSize     int `yaml:"slow_query_log_size" env:"MONITOR_SLOW_QUERY_LOG_SIZE" env-default:"100"`
}

// DatasourceConfig holds backend connection management settings.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle backend pools are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// PoolMaxConns is the maximum number of connections per backend pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	// PoolMinConns is the minimum number of connections per backend pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// A missing config.yaml is not an error; defaults and the environment apply.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	cfg.applyBackendSecrets()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyBackendSecrets fills backend passwords from BACKEND_<NAME>_PASSWORD.
// Backend hosts are resolved for Docker by the adapters; the log database
// and Redis are resolved here.
func (c *Config) applyBackendSecrets() {
	for name, b := range c.Backends {
		if pw, ok := os.LookupEnv(BackendPasswordEnv(name)); ok {
			b.Password = pw
			c.Backends[name] = b
		}
	}
	c.Database.Host = ResolveHostForDocker(c.Database.Host)
	c.Redis.Host = ResolveHostForDocker(c.Redis.Host)
}

// BackendPasswordEnv names the environment variable holding a backend's
// password.
func BackendPasswordEnv(name string) string {
	return "BACKEND_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_PASSWORD"
}

func (c *Config) validate() error {
	switch c.Cache.Store {
	case "memory", "none":
	case "redis":
		if c.Redis.Host == "" {
			return fmt.Errorf("cache store redis requires redis.host")
		}
	default:
		return fmt.Errorf("unknown cache store %q", c.Cache.Store)
	}

	for name, b := range c.Backends {
		if b.Type == "" {
			return fmt.Errorf("backend %q has no type", name)
		}
		if b.Type == "sqlite" && b.Path == "" {
			return fmt.Errorf("backend %q: sqlite requires path", name)
		}
	}

	if c.Executor.DefaultBackend != "" {
		if _, ok := c.Backends[c.Executor.DefaultBackend]; !ok {
			return fmt.Errorf("default backend %q is not configured", c.Executor.DefaultBackend)
		}
	}
	return nil
}

// HasDatabase reports whether an execution log database is configured.
func (c *DatabaseConfig) HasDatabase() bool {
	return c.Host != ""
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// CacheManagerConfig maps the cache section onto cache.Config.
func (c *Config) CacheManagerConfig() cache.Config {
	return cache.Config{
		MaxEntries:    c.Cache.MaxEntries,
		EvictBatch:    c.Cache.EvictBatch,
		MaxCachedRows: c.Cache.MaxCachedRows,
		MinExecution:  time.Duration(c.Cache.MinExecutionMs) * time.Millisecond,
		DefaultTTL:    c.Cache.DefaultTTL,
	}
}

// SQLExecutorConfig maps the executor section onto services.ExecutorConfig.
func (c *Config) SQLExecutorConfig() services.ExecutorConfig {
	return services.ExecutorConfig{
		MaxRows:         c.Executor.MaxRows,
		DefaultTimeout:  c.Executor.DefaultTimeout,
		NativeBinding:   c.Executor.NativeBinding,
		DefaultBackend:  c.Executor.DefaultBackend,
		AuditExecutions: c.Executor.AuditExecutions,
	}
}

// TaskRegistryConfig maps the executor section onto the async registry.
func (c *Config) TaskRegistryConfig() services.TaskRegistryConfig {
	return services.TaskRegistryConfig{
		Ceiling:       c.Executor.AsyncCeiling,
		MaxConcurrent: c.Executor.MaxConcurrent,
		MaxTasks:      c.Executor.MaxTasks,
	}
}

// MonitorSettings maps the monitor section onto monitor.Config.
func (c *Config) MonitorSettings() monitor.Config {
	return monitor.Config{
		HistorySize:        c.Monitor.HistorySize,
		SlowQueryThreshold: time.Duration(c.Monitor.SlowQueryThresholdMs) * time.Millisecond,
		SlowQueryLogSize:   c.Monitor.SlowQueryLogSize,
	}
}

// ConnectionManagerConfig maps the datasource section.
func (c *Config) ConnectionManagerConfig() datasource.ConnectionManagerConfig {
	return datasource.ConnectionManagerConfig{
		TTLMinutes:   c.Datasource.ConnectionTTLMinutes,
		PoolMaxConns: c.Datasource.PoolMaxConns,
		PoolMinConns: c.Datasource.PoolMinConns,
	}
}
