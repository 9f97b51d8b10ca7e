package sql

import (
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractNames(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected []string
	}{
		{
			name:     "no parameters",
			sql:      "SELECT * FROM users",
			expected: nil,
		},
		{
			name:     "single parameter",
			sql:      "SELECT * FROM users WHERE id = ${user_id}",
			expected: []string{"user_id"},
		},
		{
			name:     "duplicate parameter appears once in first-seen order",
			sql:      "SELECT * FROM t WHERE b = ${b} AND a = ${a} OR c = ${b}",
			expected: []string{"b", "a"},
		},
		{
			name:     "spaces inside braces",
			sql:      "SELECT * FROM t WHERE a = ${ a }",
			expected: []string{"a"},
		},
		{
			name:     "dotted name",
			sql:      "SELECT * FROM t WHERE a = ${filter.status}",
			expected: []string{"filter.status"},
		},
		{
			name:     "postgres positional and mustache syntax are not placeholders",
			sql:      "SELECT * FROM t WHERE a = $1 AND b = {{b}}",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractNames(tt.sql))
		})
	}
}

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name       string
		template   string
		params     Params
		expected   string
		unresolved []string
	}{
		{
			name:     "integer",
			template: "SELECT * FROM patients WHERE id = ${id}",
			params:   Params{"id": Integer(42)},
			expected: "SELECT * FROM patients WHERE id = 42",
		},
		{
			name:     "string is quoted and escaped",
			template: "SELECT * FROM t WHERE name = ${name}",
			params:   Params{"name": String("O'Brien\\x\n\t")},
			expected: `SELECT * FROM t WHERE name = 'O''Brien\\x\n\t'`,
		},
		{
			name:     "decimal and boolean",
			template: "SELECT * FROM t WHERE price > ${price} AND active = ${active}",
			params:   Params{"price": Decimal(decimal.RequireFromString("10.50")), "active": Boolean(true)},
			expected: "SELECT * FROM t WHERE price > 10.5 AND active = TRUE",
		},
		{
			name:     "date without time",
			template: "SELECT * FROM t WHERE d >= ${start}",
			params:   Params{"start": Date(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))},
			expected: "SELECT * FROM t WHERE d >= '2024-01-15'",
		},
		{
			name:     "timestamp",
			template: "SELECT * FROM t WHERE d >= ${start}",
			params:   Params{"start": Date(time.Date(2024, 1, 15, 13, 4, 5, 0, time.UTC))},
			expected: "SELECT * FROM t WHERE d >= '2024-01-15 13:04:05'",
		},
		{
			name:     "list of mixed values",
			template: "SELECT * FROM t WHERE code IN ${codes}",
			params:   Params{"codes": List(String("a"), Integer(2))},
			expected: "SELECT * FROM t WHERE code IN ('a', 2)",
		},
		{
			name:     "empty list matches nothing",
			template: "SELECT * FROM t WHERE code IN ${codes}",
			params:   Params{"codes": List()},
			expected: "SELECT * FROM t WHERE code IN (NULL)",
		},
		{
			name:     "null",
			template: "SELECT * FROM t WHERE a IS NOT DISTINCT FROM ${a}",
			params:   Params{"a": Null()},
			expected: "SELECT * FROM t WHERE a IS NOT DISTINCT FROM NULL",
		},
		{
			name:       "unresolved placeholders are left untouched",
			template:   "SELECT * FROM t WHERE a = ${a} AND b = ${b} AND c = ${b}",
			params:     Params{"a": Integer(1)},
			expected:   "SELECT * FROM t WHERE a = 1 AND b = ${b} AND c = ${b}",
			unresolved: []string{"b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, unresolved := Substitute(tt.template, tt.params)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.unresolved, unresolved)
		})
	}
}

func TestSubstitute_IdempotentWithoutPlaceholders(t *testing.T) {
	once, _ := Substitute("SELECT * FROM t WHERE id = ${id} AND name = ${name}",
		Params{"id": Integer(7), "name": String("it's")})

	twice, unresolved := Substitute(once, Params{"id": Integer(8)})
	assert.Equal(t, once, twice)
	assert.Empty(t, unresolved)
}

func TestBind(t *testing.T) {
	tests := []struct {
		name       string
		template   string
		params     Params
		expected   string
		args       []any
		unresolved []string
	}{
		{
			name:     "repeated parameter reuses position",
			template: "SELECT * FROM t WHERE sender = ${user} OR receiver = ${user}",
			params:   Params{"user": String("bob")},
			expected: "SELECT * FROM t WHERE sender = $1 OR receiver = $1",
			args:     []any{"bob"},
		},
		{
			name:     "list expands to positions",
			template: "SELECT * FROM t WHERE id IN ${ids} AND owner = ${owner}",
			params:   Params{"ids": List(Integer(1), Integer(2)), "owner": String("bob")},
			expected: "SELECT * FROM t WHERE id IN ($1, $2) AND owner = $3",
			args:     []any{int64(1), int64(2), "bob"},
		},
		{
			name:     "null and empty list are inlined",
			template: "SELECT * FROM t WHERE a = ${a} OR id IN ${ids}",
			params:   Params{"a": Null(), "ids": List()},
			expected: "SELECT * FROM t WHERE a = NULL OR id IN (NULL)",
		},
		{
			name:       "unresolved",
			template:   "SELECT * FROM t WHERE a = ${a}",
			params:     Params{},
			expected:   "SELECT * FROM t WHERE a = ${a}",
			unresolved: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args, unresolved := Bind(tt.template, tt.params)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.args, args)
			assert.Equal(t, tt.unresolved, unresolved)
		})
	}
}

func TestPlaceholdersInStringLiterals(t *testing.T) {
	assert.Equal(t, []string{"q"}, PlaceholdersInStringLiterals("SELECT * FROM t WHERE name LIKE '%${q}%' AND id = ${id}"))
	assert.Nil(t, PlaceholdersInStringLiterals("SELECT * FROM t WHERE name = ${name} AND note = 'it''s'"))
}

func TestRewritePlaceholders(t *testing.T) {
	got := RewritePlaceholders("SELECT * FROM t WHERE a = $1 AND b = $12", func(n int) string {
		return "@p" + strconv.Itoa(n)
	})
	assert.Equal(t, "SELECT * FROM t WHERE a = @p1 AND b = @p12", got)
}

func TestSerializeParameters_RoundTrip(t *testing.T) {
	params := Params{
		"id":      Integer(42),
		"name":    String("Zoë \"quoted\""),
		"price":   Decimal(decimal.RequireFromString("19.99")),
		"active":  Boolean(false),
		"since":   Date(time.Date(2023, 12, 31, 23, 59, 59, 500, time.UTC)),
		"ids":     List(Integer(1), String("2"), List(Boolean(true))),
		"missing": Null(),
	}

	data, err := SerializeParameters(params)
	require.NoError(t, err)

	restored, err := DeserializeParameters(data)
	require.NoError(t, err)
	assert.True(t, params.Equal(restored), "round trip changed parameters: %s", data)

	// "42" and 42 stay distinct.
	data, err = SerializeParameters(Params{"id": String("42")})
	require.NoError(t, err)
	restored, err = DeserializeParameters(data)
	require.NoError(t, err)
	assert.Equal(t, KindString, restored["id"].Kind())
}

func TestDeserializeParameters_Invalid(t *testing.T) {
	_, err := DeserializeParameters([]byte(`{"a":{"type":"integer","value":"nope"}}`))
	assert.Error(t, err)

	_, err = DeserializeParameters([]byte(`{"a":{"type":"blob","value":1}}`))
	assert.Error(t, err)

	params, err := DeserializeParameters(nil)
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestFromAny(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected Value
	}{
		{"nil", nil, Null()},
		{"integral float from JSON", float64(42), Integer(42)},
		{"fractional float", 1.5, Decimal(decimal.RequireFromString("1.5"))},
		{"int", 7, Integer(7)},
		{"string slice", []string{"a", "b"}, List(String("a"), String("b"))},
		{"any slice", []any{1, "x"}, List(Integer(1), String("x"))},
		{"int slice via reflection", []int64{3, 4}, List(Integer(3), Integer(4))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.expected.Equal(FromAny(tt.input)), "got %v", FromAny(tt.input))
		})
	}
}

func TestParams_DoesNotShareStorage(t *testing.T) {
	original := Params{"ids": List(Integer(1))}
	clone := original.Clone()
	clone["ids"] = List(Integer(2))
	clone["new"] = Integer(3)

	assert.True(t, original["ids"].Equal(List(Integer(1))))
	_, ok := original["new"]
	assert.False(t, ok)
}
