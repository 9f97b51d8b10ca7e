package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// classifyError extracts the SQLSTATE and message from a PostgreSQL error.
func classifyError(err error) (string, string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", "", false
	}
	msg := pgErr.Message
	if pgErr.Detail != "" {
		msg += " (" + pgErr.Detail + ")"
	}
	return pgErr.Code, msg, true
}
