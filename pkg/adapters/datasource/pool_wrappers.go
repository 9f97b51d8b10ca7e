package datasource

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/results"
)

// ValueConverter adjusts a scanned database/sql value for its declared
// column type before it reaches the result converter.
type ValueConverter func(databaseType string, v any) any

// SQLDBPoolWrapper wraps *sql.DB to implement PoolConnector for drivers
// built on database/sql (MSSQL, SQLite).
type SQLDBPoolWrapper struct {
	db       *sql.DB
	typ      string
	backend  string
	dialect  Dialect
	classify ErrorClassifier
	convert  ValueConverter
}

// SQLDBPoolOptions configures a SQLDBPoolWrapper.
type SQLDBPoolOptions struct {
	Type     string
	Backend  string
	Dialect  Dialect
	Classify ErrorClassifier
	Convert  ValueConverter
}

// NewSQLDBPoolWrapper creates a new database/sql pool wrapper
func NewSQLDBPoolWrapper(db *sql.DB, opts SQLDBPoolOptions) *SQLDBPoolWrapper {
	return &SQLDBPoolWrapper{
		db:       db,
		typ:      opts.Type,
		backend:  opts.Backend,
		dialect:  opts.Dialect,
		classify: opts.Classify,
		convert:  opts.Convert,
	}
}

// Ping verifies the backend is reachable
func (w *SQLDBPoolWrapper) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Close closes all connections in the pool
func (w *SQLDBPoolWrapper) Close() error {
	return w.db.Close()
}

// GetType returns the backend type
func (w *SQLDBPoolWrapper) GetType() string {
	return w.typ
}

// GetDB returns the underlying *sql.DB
func (w *SQLDBPoolWrapper) GetDB() *sql.DB {
	return w.db
}

// Acquire pins one connection of the pool.
func (w *SQLDBPoolWrapper) Acquire(ctx context.Context) (Conn, error) {
	c, err := w.db.Conn(ctx)
	if err != nil {
		return nil, WrapError(w.backend, "acquire", err, w.classify)
	}
	return &sqlConn{conn: c, pool: w}, nil
}

// sqlQueryer is the subset shared by *sql.Conn and *sql.Tx.
type sqlQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (w *SQLDBPoolWrapper) query(ctx context.Context, q sqlQueryer, query string, args []any) (results.Cursor, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, WrapError(w.backend, "query", err, w.classify)
	}
	cur, err := newRowsCursor(rows, w.convert)
	if err != nil {
		rows.Close()
		return nil, WrapError(w.backend, "query", err, w.classify)
	}
	return &wrappedCursor{Cursor: cur, backend: w.backend, classify: w.classify}, nil
}

func (w *SQLDBPoolWrapper) exec(ctx context.Context, q sqlQueryer, query string, args []any) (int64, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, WrapError(w.backend, "execute", err, w.classify)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

type sqlConn struct {
	conn *sql.Conn
	pool *SQLDBPoolWrapper
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...any) (results.Cursor, error) {
	return c.pool.query(ctx, c.conn, query, args)
}

func (c *sqlConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return c.pool.exec(ctx, c.conn, query, args)
}

func (c *sqlConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, WrapError(c.pool.backend, "begin", err, c.pool.classify)
	}
	return &sqlTx{tx: tx, pool: c.pool}, nil
}

func (c *sqlConn) Dialect() Dialect { return c.pool.dialect }
func (c *sqlConn) Backend() string  { return c.pool.backend }

// Release returns the connection to the pool.
func (c *sqlConn) Release() {
	_ = c.conn.Close()
}

type sqlTx struct {
	tx   *sql.Tx
	pool *SQLDBPoolWrapper
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (results.Cursor, error) {
	return t.pool.query(ctx, t.tx, query, args)
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return t.pool.exec(ctx, t.tx, query, args)
}

func (t *sqlTx) Commit(context.Context) error {
	return WrapError(t.pool.backend, "commit", t.tx.Commit(), t.pool.classify)
}

// Rollback after a successful commit is a no-op.
func (t *sqlTx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return WrapError(t.pool.backend, "rollback", err, t.pool.classify)
}

// wrappedCursor maps iteration errors onto backend errors.
type wrappedCursor struct {
	results.Cursor
	backend  string
	classify ErrorClassifier
}

func (c *wrappedCursor) Err() error {
	return WrapError(c.backend, "query", c.Cursor.Err(), c.classify)
}

var (
	_ PoolConnector = (*SQLDBPoolWrapper)(nil)
	_ Conn          = (*sqlConn)(nil)
	_ Tx            = (*sqlTx)(nil)
)
