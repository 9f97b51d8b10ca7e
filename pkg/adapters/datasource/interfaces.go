package datasource

import (
	"context"
	"strconv"
	"time"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/results"
	sqlutil "github.com/ekaya-inc/ekaya-report-engine/pkg/sql"
)

// BackendConfig describes one named relational backend. Fields that do not
// apply to a backend type are ignored (Path is only read by sqlite).
type BackendConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Path     string `yaml:"path"`
	SSLMode  string `yaml:"ssl_mode"`

	// MaxConns overrides the connection manager's pool size for this backend.
	MaxConns int32 `yaml:"max_conns"`

	// QueryTimeout is attached to every connection as the backend-side
	// statement timeout. Zero disables it.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// Options holds driver-specific settings such as
	// trust_server_certificate for mssql.
	Options map[string]string `yaml:"options"`
}

// Dialect describes how a backend spells bound parameters.
type Dialect struct {
	Name string

	// Placeholder renders the 1-based position n. Nil means $N is native.
	Placeholder func(n int) string

	// InlineLiterals marks backends that cannot bind parameters natively;
	// templates are then rendered with inline SQL literals.
	InlineLiterals bool
}

// Rewrite converts $N placeholders produced by sql.Bind into the dialect's
// own style.
func (d Dialect) Rewrite(query string) string {
	if d.Placeholder == nil {
		return query
	}
	return sqlutil.RewritePlaceholders(query, d.Placeholder)
}

// AtPlaceholder renders @p1, @p2, ... as used by SQL Server.
func AtPlaceholder(n int) string {
	return "@p" + strconv.Itoa(n)
}

// QuestionPlaceholder renders ?1, ?2, ... as used by SQLite.
func QuestionPlaceholder(n int) string {
	return "?" + strconv.Itoa(n)
}

// Querier runs statements. Query results are streamed through a cursor that
// the caller must close.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (results.Cursor, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Tx is a backend transaction.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is a single pooled connection, exclusively owned by one execution
// until Release is called. Release must be called on every path.
type Conn interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
	Dialect() Dialect
	Backend() string
	Release()
}

// ConnectionProvider hands out pooled connections keyed by backend name.
type ConnectionProvider interface {
	Acquire(ctx context.Context, backend string) (Conn, error)
}
