package sql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

func newTestChecker() *SecurityChecker {
	return NewSecurityChecker(zap.NewNop())
}

func TestSecurityChecker_CleanQueries(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"simple select", "SELECT * FROM patients WHERE id = ${id}"},
		{"where 1=1 builder idiom", "SELECT * FROM orders WHERE 1=1 AND status = ${status}"},
		{"keyword inside literal", "SELECT * FROM audit WHERE action = 'DROP TABLE' AND note <> 'exec'"},
		{"column names containing keywords", "SELECT altered_at, kill_count, dropped FROM events"},
		{"legitimate union", "SELECT name FROM a UNION SELECT name FROM b"},
		{"trailing semicolon", "SELECT 1;"},
		{"update statement", "UPDATE orders SET status = 'closed' WHERE id = ${id}"},
		{"string comparison and numeric literal", "SELECT * FROM t WHERE status = 'open' AND priority = 1"},
	}

	checker := newTestChecker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := checker.Check(tt.sql, nil)
			assert.True(t, result.Valid, "violations: %v", result.Violations)
			assert.Equal(t, models.RiskLow, result.RiskLevel)
			assert.Empty(t, result.Violations)
		})
	}
}

func TestSecurityChecker_DropIsCritical(t *testing.T) {
	result := newTestChecker().Check("DROP TABLE patients", nil)

	assert.False(t, result.Valid)
	assert.Equal(t, models.RiskCritical, result.RiskLevel)
	assert.Contains(t, result.Violations, "dangerous keyword detected: DROP")
}

func TestSecurityChecker_MultipleStatements(t *testing.T) {
	result := newTestChecker().Check("SELECT 1; DROP TABLE x;", nil)

	assert.False(t, result.Valid)
	assert.GreaterOrEqual(t, result.RiskLevel, models.RiskHigh)
	assert.Contains(t, result.Violations, "multiple statements detected")
}

func TestSecurityChecker_Findings(t *testing.T) {
	tests := []struct {
		name      string
		sql       string
		params    Params
		check     string
		risk      models.RiskLevel
		wantValid bool
	}{
		{
			name:  "truncate",
			sql:   "TRUNCATE audit_log",
			check: CheckDangerousKeyword,
			risk:  models.RiskCritical,
		},
		{
			name:  "exec procedure",
			sql:   "EXEC xp_cmdshell 'dir'",
			check: CheckDangerousKeyword,
			risk:  models.RiskCritical,
		},
		{
			name:  "postgres file read",
			sql:   "SELECT pg_read_file('/etc/passwd')",
			check: CheckDangerousKeyword,
			risk:  models.RiskCritical,
		},
		{
			name:  "information schema",
			sql:   "SELECT table_name FROM information_schema.tables",
			check: CheckSystemCatalog,
			risk:  models.RiskHigh,
		},
		{
			name:  "sqlite master",
			sql:   "SELECT sql FROM sqlite_master",
			check: CheckSystemCatalog,
			risk:  models.RiskHigh,
		},
		{
			name:  "quote tautology in template",
			sql:   "SELECT * FROM users WHERE name = '' OR '1'='1'",
			check: CheckInjectionPattern,
			risk:  models.RiskHigh,
		},
		{
			name:  "script tag in template",
			sql:   "SELECT '<script>alert(1)</script>' AS x",
			check: CheckInjectionPattern,
			risk:  models.RiskHigh,
		},
		{
			name:   "injected parameter",
			sql:    "SELECT * FROM users WHERE name = ${name}",
			params: Params{"name": String("'; DROP TABLE users--")},
			check:  CheckParameter,
			risk:   models.RiskHigh,
		},
		{
			name:   "injected list item",
			sql:    "SELECT * FROM users WHERE name IN ${names}",
			params: Params{"names": List(String("alice"), String("' OR 1=1--"))},
			check:  CheckParameter,
			risk:   models.RiskHigh,
		},
		{
			name:   "script parameter",
			sql:    "SELECT * FROM notes WHERE body = ${body}",
			params: Params{"body": String(`<img src=x onerror=alert(1)>`)},
			check:  CheckParameter,
			risk:   models.RiskHigh,
		},
		{
			name:      "comment is medium and allowed",
			sql:       "SELECT * FROM t -- recent only",
			check:     CheckStructure,
			risk:      models.RiskMedium,
			wantValid: true,
		},
		{
			name:  "control characters",
			sql:   "SELECT * FROM t WHERE a = 1\x00",
			check: CheckStructure,
			risk:  models.RiskHigh,
		},
		{
			name:  "sleep",
			sql:   "SELECT * FROM t WHERE id = 1 AND pg_sleep(10) IS NULL",
			check: CheckSuspicious,
			risk:  models.RiskCritical,
		},
		{
			name:  "waitfor delay",
			sql:   "SELECT 1 WAITFOR DELAY '0:0:5'",
			check: CheckSuspicious,
			risk:  models.RiskCritical,
		},
		{
			name:  "into outfile",
			sql:   "SELECT * FROM users INTO OUTFILE '/tmp/u.txt'",
			check: CheckSuspicious,
			risk:  models.RiskCritical,
		},
		{
			name:  "union null probe",
			sql:   "SELECT name FROM users WHERE id = 1 UNION SELECT NULL, NULL FROM dual",
			check: CheckSuspicious,
			risk:  models.RiskHigh,
		},
		{
			name:  "numeric tautology",
			sql:   "SELECT * FROM users WHERE name = ${name} OR 1 = 1",
			check: CheckSuspicious,
			risk:  models.RiskHigh,
		},
		{
			name:  "string tautology",
			sql:   "SELECT * FROM users WHERE id = 5 OR 'a' = 'a'",
			check: CheckSuspicious,
			risk:  models.RiskHigh,
		},
	}

	checker := newTestChecker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := checker.Check(tt.sql, tt.params)

			assert.Equal(t, tt.wantValid, result.Valid, "violations: %v", result.Violations)
			assert.Equal(t, tt.risk, result.RiskLevel, "violations: %v", result.Violations)

			found := false
			for _, f := range result.Findings {
				if f.Check == tt.check {
					found = true
					break
				}
			}
			assert.True(t, found, "expected a %s finding, got %+v", tt.check, result.Findings)
		})
	}
}

func TestSecurityChecker_CleanParameters(t *testing.T) {
	values := []string{
		"12345",
		"user@example.com",
		"2024-01-15",
		"550e8400-e29b-41d4-a716-446655440000",
		"laptop computers",
		"O'Brien",
		"This is a note -- with dashes",
		"SELECT the best option from the menu",
	}

	checker := newTestChecker()
	for _, v := range values {
		t.Run(v, func(t *testing.T) {
			result := checker.Check("SELECT * FROM t WHERE a = ${a}", Params{"a": String(v)})
			assert.True(t, result.Valid, "violations: %v", result.Violations)
		})
	}
}

func TestSecurityChecker_EscalatesManyLowFindings(t *testing.T) {
	long := strings.Repeat("a", 5000)
	params := Params{"a": String(long), "b": String(long), "c": String(long)}

	result := newTestChecker().Check("SELECT * FROM t WHERE a = ${a} AND b = ${b} AND c = ${c}", params)

	require.Len(t, result.Findings, 3)
	assert.Equal(t, models.RiskMedium, result.RiskLevel)
	assert.True(t, result.Valid, "medium risk may proceed")
}

func TestSecurityChecker_Monotonic(t *testing.T) {
	base := []string{
		"SELECT * FROM patients WHERE id = 1",
		"SELECT * FROM t -- comment",
		"SELECT * FROM information_schema.tables",
	}

	checker := newTestChecker()
	for _, sql := range base {
		t.Run(sql, func(t *testing.T) {
			before := checker.Check(sql, nil)
			after := checker.Check(sql+"\nDROP TABLE patients", nil)
			assert.GreaterOrEqual(t, after.RiskLevel, before.RiskLevel)
			assert.Equal(t, models.RiskCritical, after.RiskLevel)
		})
	}
}

func TestValidateComplexity(t *testing.T) {
	tests := []struct {
		name      string
		sql       string
		valid     bool
		cartesian bool
		depth     int
		joins     int
	}{
		{
			name:  "simple",
			sql:   "SELECT a FROM t WHERE b IN (SELECT b FROM u)",
			valid: true,
			depth: 1,
		},
		{
			name:  "deep nesting",
			sql:   "SELECT ((((((1))))))",
			depth: 6,
		},
		{
			name:      "comma join without JOIN",
			sql:       "SELECT * FROM a, b, c",
			cartesian: true,
		},
		{
			name:  "explicit joins",
			sql:   "SELECT * FROM a JOIN b ON a.id = b.a_id LEFT JOIN c ON c.id = b.c_id",
			valid: true,
			joins: 2,
		},
		{
			name:  "extract from is not a table list",
			sql:   "SELECT EXTRACT(YEAR FROM created_at), id FROM orders WHERE id > 1",
			valid: true,
			depth: 1,
		},
		{
			name:  "too many joins",
			sql:   "SELECT * FROM t" + strings.Repeat(" JOIN t2 ON 1 = 1", 11),
			joins: 11,
		},
	}

	checker := newTestChecker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := checker.ValidateComplexity(tt.sql)
			assert.Equal(t, tt.valid, result.Valid, "violations: %v", result.Violations)
			assert.Equal(t, tt.cartesian, result.CartesianRisk)
			if tt.depth > 0 {
				assert.Equal(t, tt.depth, result.NestingDepth)
			}
			assert.Equal(t, tt.joins, result.JoinCount)
		})
	}
}

func TestSecurityChecker_BackslashDoesNotExtendLiteral(t *testing.T) {
	tests := []struct {
		name  string
		sql   string
		check string
		risk  models.RiskLevel
	}{
		{
			name:  "delay function between backslash literals",
			sql:   `SELECT '\' AS b, pg_sleep(5) AS c, '\' AS a -- '`,
			check: CheckSuspicious,
			risk:  models.RiskCritical,
		},
		{
			name:  "catalog between backslash literals",
			sql:   `SELECT '\' AS b, table_name FROM information_schema.tables WHERE '\' = 'x' -- '`,
			check: CheckSystemCatalog,
			risk:  models.RiskHigh,
		},
		{
			name:  "drop between backslash literals",
			sql:   `SELECT '\' AS b; DROP TABLE patients; SELECT '\' -- '`,
			check: CheckDangerousKeyword,
			risk:  models.RiskCritical,
		},
	}

	checker := newTestChecker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := checker.Check(tt.sql, nil)

			assert.False(t, result.Valid)
			assert.Equal(t, tt.risk, result.RiskLevel, "violations: %v", result.Violations)

			found := false
			for _, f := range result.Findings {
				if f.Check == tt.check {
					found = true
					break
				}
			}
			assert.True(t, found, "expected a %s finding, got %+v", tt.check, result.Findings)
		})
	}
}

func TestStripLiterals_BackslashIsText(t *testing.T) {
	assert.Equal(t, `SELECT ' ' AS b, pg_sleep(5)`, StripLiterals(`SELECT '\' AS b, pg_sleep(5)`))
	assert.False(t, scan(`SELECT 'C:\dir\' AS p`, scanOptions{}).unterminated)
}

func TestSecurityChecker_PlaceholderInsideLiteral(t *testing.T) {
	checker := newTestChecker()

	result := checker.Check("SELECT name FROM patients WHERE name LIKE '%${q}%'", Params{"q": String(" OR 1=1 OR ")})
	assert.False(t, result.Valid)
	assert.Contains(t, result.Violations, "placeholder inside string literal: q")

	bound := checker.Check("SELECT name FROM patients WHERE name LIKE '%' || ${q} || '%'", Params{"q": String("Ann")})
	assert.True(t, bound.Valid, "violations: %v", bound.Violations)
}
