package results

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

type fakeCursor struct {
	cols   []ColumnDescriptor
	rows   [][]any
	pos    int
	err    error
	closed bool
}

func (c *fakeCursor) Columns() []ColumnDescriptor { return c.cols }

func (c *fakeCursor) Next() bool {
	if c.pos >= len(c.rows) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Values() ([]any, error) { return c.rows[c.pos-1], nil }
func (c *fakeCursor) Err() error             { return c.err }
func (c *fakeCursor) Close()                 { c.closed = true }

func newCursor(n int) *fakeCursor {
	cur := &fakeCursor{cols: []ColumnDescriptor{
		{Name: "id", DatabaseType: "INT4"},
		{Name: "name", DatabaseType: "VARCHAR"},
	}}
	for i := 0; i < n; i++ {
		cur.rows = append(cur.rows, []any{int32(i), "row"})
	}
	return cur
}

func TestConvert_PreservesOrderAndTypes(t *testing.T) {
	cur := newCursor(3)
	out, err := NewConverter(zap.NewNop()).Convert(context.Background(), cur, 10)
	require.NoError(t, err)

	assert.True(t, cur.closed)
	assert.Equal(t, []models.ColumnInfo{
		{Name: "id", DatabaseType: "INT4", Type: models.LogicalTypeInteger},
		{Name: "name", DatabaseType: "VARCHAR", Type: models.LogicalTypeString},
	}, out.Columns)
	require.Len(t, out.Rows, 3)
	assert.Equal(t, int64(2), out.Rows[2]["id"])
	assert.Equal(t, 3, out.TotalRows)
	assert.False(t, out.Truncated)
}

func TestConvert_Truncation(t *testing.T) {
	tests := []struct {
		name      string
		rows      int
		maxRows   int
		kept      int
		truncated bool
	}{
		{"under limit", 5, 10, 5, false},
		{"at limit", 10, 10, 10, false},
		{"over limit", 1001, 1000, 1000, true},
		{"no limit", 50, 0, 50, false},
	}

	conv := NewConverter(zap.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := conv.Convert(context.Background(), newCursor(tt.rows), tt.maxRows)
			require.NoError(t, err)
			assert.Len(t, out.Rows, tt.kept)
			assert.Equal(t, tt.rows, out.TotalRows)
			assert.Equal(t, tt.truncated, out.Truncated)
		})
	}
}

func TestConvert_CursorError(t *testing.T) {
	cur := newCursor(1)
	cur.err = errors.New("connection reset")

	_, err := NewConverter(zap.NewNop()).Convert(context.Background(), cur, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.True(t, cur.closed)
}

func TestConvert_UnknownTypeFromValues(t *testing.T) {
	cur := &fakeCursor{
		cols: []ColumnDescriptor{{Name: "expr", DatabaseType: ""}},
		rows: [][]any{{nil}, {float64(1.5)}},
	}
	out, err := NewConverter(zap.NewNop()).Convert(context.Background(), cur, 0)
	require.NoError(t, err)
	assert.Equal(t, models.LogicalTypeDouble, out.Columns[0].Type)
}

func TestLogicalTypeFromName(t *testing.T) {
	tests := []struct {
		name     string
		expected models.LogicalType
	}{
		{"BOOL", models.LogicalTypeBoolean},
		{"bit", models.LogicalTypeBoolean},
		{"INT4", models.LogicalTypeInteger},
		{"INT UNSIGNED", models.LogicalTypeInteger},
		{"INT8", models.LogicalTypeBigInt},
		{"FLOAT4", models.LogicalTypeFloat},
		{"FLOAT8", models.LogicalTypeDouble},
		{"NUMERIC", models.LogicalTypeDecimal},
		{"DECIMAL(10,2)", models.LogicalTypeDecimal},
		{"MONEY", models.LogicalTypeDecimal},
		{"DATE", models.LogicalTypeDate},
		{"TIME", models.LogicalTypeTime},
		{"TIMESTAMPTZ", models.LogicalTypeTimestamp},
		{"DATETIME2", models.LogicalTypeTimestamp},
		{"NVARCHAR", models.LogicalTypeString},
		{"VARCHAR(255)", models.LogicalTypeString},
		{"UUID", models.LogicalTypeString},
		{"NTEXT", models.LogicalTypeClob},
		{"BYTEA", models.LogicalTypeBinary},
		{"IMAGE", models.LogicalTypeBlob},
		{"JSONB", models.LogicalTypeObject},
		{"INT4[]", models.LogicalTypeObject},
		{"_int4", models.LogicalTypeObject},
		{"UNKNOWN", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, LogicalTypeFromName(tt.name))
		})
	}
}

func TestNormalize(t *testing.T) {
	id := [16]byte{0x55, 0x0e, 0x84, 0x00, 0xe2, 0x9b, 0x41, 0xd4, 0xa7, 0x16, 0x44, 0x66, 0x55, 0x44, 0x00, 0x00}
	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		value    any
		typ      models.LogicalType
		expected any
	}{
		{"nil", nil, models.LogicalTypeString, nil},
		{"int32 widens", int32(7), models.LogicalTypeInteger, int64(7)},
		{"float32 widens", float32(0.5), models.LogicalTypeFloat, float64(0.5)},
		{"bytes to string", []byte("abc"), models.LogicalTypeString, "abc"},
		{"bytes stay binary", []byte{1, 2}, models.LogicalTypeBinary, []byte{1, 2}},
		{"uuid bytes", id, models.LogicalTypeString, "550e8400-e29b-41d4-a716-446655440000"},
		{"time untouched", ts, models.LogicalTypeTimestamp, ts},
		{"decimal text", []byte("12.50"), models.LogicalTypeDecimal, decimal.RequireFromString("12.50")},
		{
			"pg numeric",
			pgtype.Numeric{Int: big.NewInt(1999), Exp: -2, Valid: true},
			models.LogicalTypeDecimal,
			decimal.New(1999, -2),
		},
		{"pg numeric null", pgtype.Numeric{}, models.LogicalTypeDecimal, nil},
		{"pg time", pgtype.Time{Microseconds: int64((13*time.Hour + 4*time.Minute + 5*time.Second) / time.Microsecond), Valid: true}, models.LogicalTypeTime, "13:04:05"},
		{"unknown type stringified", struct{ A int }{1}, models.LogicalTypeObject, "{1}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.value, tt.typ)
			if d, ok := tt.expected.(decimal.Decimal); ok {
				require.IsType(t, decimal.Decimal{}, got)
				assert.True(t, d.Equal(got.(decimal.Decimal)), "got %v", got)
				return
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}
