package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/results"
)

// Dialect binds natively with $N.
var Dialect = datasource.Dialect{Name: "postgres"}

// Pool wraps *pgxpool.Pool to implement datasource.PoolConnector.
type Pool struct {
	pool    *pgxpool.Pool
	backend string
}

// NewPool opens a pool for one backend. The statement timeout is attached to
// every connection as a runtime parameter.
func NewPool(ctx context.Context, backend string, cfg *Config, mgr datasource.ConnectionManagerConfig) (*Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = mgr.PoolMaxConns
	poolConfig.MinConns = mgr.PoolMinConns
	poolConfig.MaxConnIdleTime = time.Duration(mgr.TTLMinutes) * time.Minute
	if cfg.StatementTimeout > 0 {
		poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return &Pool{pool: pool, backend: backend}, nil
}

// Ping verifies the PostgreSQL connection is alive
func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes all connections in the PostgreSQL pool
func (p *Pool) Close() error {
	p.pool.Close()
	return nil
}

// GetType returns the database type
func (p *Pool) GetType() string {
	return "postgres"
}

// GetPool returns the underlying *pgxpool.Pool
func (p *Pool) GetPool() *pgxpool.Pool {
	return p.pool
}

// Acquire checks out one connection.
func (p *Pool) Acquire(ctx context.Context) (datasource.Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, datasource.WrapError(p.backend, "acquire", err, classifyError)
	}
	return &conn{conn: c, backend: p.backend}, nil
}

// pgxQueryer is the subset shared by *pgxpool.Conn and pgx.Tx.
type pgxQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func query(ctx context.Context, q pgxQueryer, backend, sql string, args []any) (results.Cursor, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, datasource.WrapError(backend, "query", err, classifyError)
	}
	return &cursor{rows: rows, backend: backend}, nil
}

// exec drains the result so errors and the command tag are populated;
// pgx defers execution until rows are consumed.
func exec(ctx context.Context, q pgxQueryer, backend, sql string, args []any) (int64, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return 0, datasource.WrapError(backend, "execute", err, classifyError)
	}
	defer rows.Close()

	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return 0, datasource.WrapError(backend, "execute", err, classifyError)
	}
	return rows.CommandTag().RowsAffected(), nil
}

type conn struct {
	conn    *pgxpool.Conn
	backend string
}

func (c *conn) Query(ctx context.Context, sql string, args ...any) (results.Cursor, error) {
	return query(ctx, c.conn, c.backend, sql, args)
}

func (c *conn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return exec(ctx, c.conn, c.backend, sql, args)
}

func (c *conn) Begin(ctx context.Context) (datasource.Tx, error) {
	t, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, datasource.WrapError(c.backend, "begin", err, classifyError)
	}
	return &tx{tx: t, backend: c.backend}, nil
}

func (c *conn) Dialect() datasource.Dialect { return Dialect }
func (c *conn) Backend() string             { return c.backend }
func (c *conn) Release()                    { c.conn.Release() }

type tx struct {
	tx      pgx.Tx
	backend string
}

func (t *tx) Query(ctx context.Context, sql string, args ...any) (results.Cursor, error) {
	return query(ctx, t.tx, t.backend, sql, args)
}

func (t *tx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return exec(ctx, t.tx, t.backend, sql, args)
}

func (t *tx) Commit(ctx context.Context) error {
	return datasource.WrapError(t.backend, "commit", t.tx.Commit(ctx), classifyError)
}

// Rollback after commit returns pgx.ErrTxClosed, which is ignored.
func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err == pgx.ErrTxClosed {
		return nil
	}
	return datasource.WrapError(t.backend, "rollback", err, classifyError)
}

var (
	_ datasource.PoolConnector = (*Pool)(nil)
	_ datasource.Conn          = (*conn)(nil)
	_ datasource.Tx            = (*tx)(nil)
)
