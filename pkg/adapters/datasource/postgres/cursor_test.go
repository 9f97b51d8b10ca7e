package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/results"
)

func TestPgTypeNameFromOID_MapsToLogicalTypes(t *testing.T) {
	tests := []struct {
		oid     uint32
		name    string
		logical models.LogicalType
	}{
		{16, "BOOL", models.LogicalTypeBoolean},
		{17, "BYTEA", models.LogicalTypeBinary},
		{20, "INT8", models.LogicalTypeBigInt},
		{23, "INT4", models.LogicalTypeInteger},
		{25, "TEXT", models.LogicalTypeString},
		{700, "FLOAT4", models.LogicalTypeFloat},
		{701, "FLOAT8", models.LogicalTypeDouble},
		{1082, "DATE", models.LogicalTypeDate},
		{1083, "TIME", models.LogicalTypeTime},
		{1184, "TIMESTAMPTZ", models.LogicalTypeTimestamp},
		{1700, "NUMERIC", models.LogicalTypeDecimal},
		{2950, "UUID", models.LogicalTypeString},
		{3802, "JSONB", models.LogicalTypeObject},
		{1007, "INT4[]", models.LogicalTypeObject},
		{99999, "UNKNOWN", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := pgTypeNameFromOID(tt.oid)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.logical, results.LogicalTypeFromName(name))
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantMsg  string
		wantOK   bool
	}{
		{
			name:     "undefined table",
			err:      &pgconn.PgError{Code: "42P01", Message: `relation "nope" does not exist`},
			wantCode: "42P01",
			wantMsg:  `relation "nope" does not exist`,
			wantOK:   true,
		},
		{
			name:     "detail is appended",
			err:      fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505", Message: "duplicate key", Detail: "Key (id)=(1) already exists."}),
			wantCode: "23505",
			wantMsg:  "duplicate key (Key (id)=(1) already exists.)",
			wantOK:   true,
		},
		{name: "not a pg error", err: errors.New("dial tcp: refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg, ok := classifyError(tt.err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}
}
