package datasource

import "context"

// PoolConnector abstracts connection pool operations across backend types
// (PostgreSQL, MSSQL, SQLite).
type PoolConnector interface {
	// Ping verifies the pool can reach the backend
	Ping(ctx context.Context) error

	// Acquire checks out one connection for exclusive use
	Acquire(ctx context.Context) (Conn, error)

	// Close closes all connections in the pool
	Close() error

	// GetType returns the backend type for logging/stats
	GetType() string
}
