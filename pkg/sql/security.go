package sql

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/logging"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

// Check names, reported in SecurityFinding.Check.
const (
	CheckDangerousKeyword = "dangerous_keyword"
	CheckSystemCatalog    = "system_catalog"
	CheckInjectionPattern = "injection_pattern"
	CheckParameter        = "parameter"
	CheckStructure        = "structure"
	CheckSuspicious       = "suspicious_pattern"
)

// escalationThreshold is the finding count above which risk is raised to
// at least MEDIUM.
const escalationThreshold = 2

type pattern struct {
	re       *regexp.Regexp
	label    string
	severity models.RiskLevel
}

func newPattern(expr, label string, severity models.RiskLevel) pattern {
	return pattern{re: regexp.MustCompile(expr), label: label, severity: severity}
}

// Keyword scans run on text with literals blanked and comments removed.
var dangerousKeywords = []pattern{
	newPattern(`(?i)\bDROP\b`, "DROP", models.RiskCritical),
	newPattern(`(?i)\bTRUNCATE\b`, "TRUNCATE", models.RiskCritical),
	newPattern(`(?i)\bALTER\b`, "ALTER", models.RiskCritical),
	newPattern(`(?i)\bGRANT\b`, "GRANT", models.RiskCritical),
	newPattern(`(?i)\bREVOKE\b`, "REVOKE", models.RiskCritical),
	newPattern(`(?i)\bEXEC(UTE)?\b`, "EXEC", models.RiskCritical),
	newPattern(`(?i)\bSHUTDOWN\b`, "SHUTDOWN", models.RiskCritical),
	newPattern(`(?i)\bKILL\b`, "KILL", models.RiskCritical),
	newPattern(`(?i)\bxp_\w+`, "extended stored procedure", models.RiskCritical),
	newPattern(`(?i)\bsp_(oacreate|configure|executesql|addsrvrolemember|password)\b`, "system stored procedure", models.RiskCritical),
	newPattern(`(?i)\bLOAD_FILE\s*\(`, "LOAD_FILE", models.RiskCritical),
	newPattern(`(?i)\bLOAD\s+DATA\b`, "LOAD DATA", models.RiskCritical),
	newPattern(`(?i)\bpg_(read_file|read_binary_file|ls_dir|stat_file)\s*\(`, "server file read", models.RiskCritical),
	newPattern(`(?i)\blo_(import|export)\s*\(`, "large object file access", models.RiskCritical),
	newPattern(`(?i)\bCOPY\b[\s\S]*\bPROGRAM\b`, "COPY PROGRAM", models.RiskCritical),
	newPattern(`(?i)\bdblink(_exec)?\s*\(`, "dblink", models.RiskCritical),
	newPattern(`(?i)\bOPENROWSET\s*\(|\bOPENDATASOURCE\s*\(`, "ad hoc remote query", models.RiskCritical),
	newPattern(`(?i)\bpg_(terminate|cancel)_backend\s*\(`, "backend termination", models.RiskCritical),
}

var systemCatalogs = []pattern{
	newPattern(`(?i)\binformation_schema\b`, "information_schema", models.RiskHigh),
	newPattern(`(?i)\bpg_catalog\b`, "pg_catalog", models.RiskHigh),
	newPattern(`(?i)\bpg_(shadow|authid|user|roles|stat_activity|settings|class|namespace|proc|database|tables)\b`, "postgres system view", models.RiskHigh),
	newPattern(`(?i)\bmysql\s*\.\s*(user|db|tables_priv)\b`, "mysql system table", models.RiskHigh),
	newPattern(`(?i)\bperformance_schema\b`, "performance_schema", models.RiskHigh),
	newPattern(`(?i)\bsys\s*\.\s*(objects|tables|columns|databases|sql_logins|server_principals|sysobjects)\b`, "sql server system view", models.RiskHigh),
	newPattern(`(?i)\b(sysobjects|syscolumns|sysusers|syslogins)\b`, "sql server system table", models.RiskHigh),
	newPattern(`(?i)\bsqlite_(master|schema|temp_master)\b`, "sqlite schema table", models.RiskHigh),
	newPattern(`(?i)\b(dba|all)_(users|tables|tab_columns)\b`, "oracle dictionary view", models.RiskHigh),
	newPattern(`(?i)\bv\$(version|session|instance)\b`, "oracle dynamic view", models.RiskHigh),
}

// Injection patterns run on raw text since they look at quotes.
var injectionPatterns = []pattern{
	newPattern(`(?i)'\s*(or|and)\s+('[^']*'|\d+)\s*=\s*('[^']*'?|\d+)`, "quote followed by boolean comparison", models.RiskHigh),
	newPattern(`(?i)'\s*(--|/\*)`, "quote followed by comment", models.RiskHigh),
	newPattern(`(?i)'\s*;\s*\w`, "quote terminating a statement", models.RiskHigh),
	newPattern(`(?i);\s*(drop|delete|update|insert|alter|create|truncate|exec|shutdown|grant)\b`, "stacked statement", models.RiskHigh),
	newPattern(`(?i)\bchar\s*\(\s*\d+(\s*,\s*\d+){3,}\s*\)`, "character-code obfuscation", models.RiskHigh),
	newPattern(`(?i)\b0x[0-9a-f]{16,}\b`, "hex-encoded payload", models.RiskHigh),
	newPattern(`(?i)<\s*script\b`, "script tag", models.RiskHigh),
	newPattern(`(?i)javascript\s*:`, "javascript URI", models.RiskHigh),
	newPattern(`(?i)\bon(load|error|click|mouseover|focus|blur|submit)\s*=`, "event handler attribute", models.RiskHigh),
	newPattern(`(?i)(&lt;|&gt;|%3c|%3e|&#x?0*(3c|60);?)`, "encoded angle bracket", models.RiskHigh),
}

// Parameter values get the injection and script patterns, not the keyword
// scans: a parameter is data, and "drop" is a legitimate word.
var parameterPatterns = injectionPatterns

var suspiciousPatterns = []pattern{
	newPattern(`(?i)\b(pg_sleep|sleep|benchmark)\s*\(`, "time-delay function", models.RiskCritical),
	newPattern(`(?i)\bwaitfor\s+(delay|time)\b`, "WAITFOR delay", models.RiskCritical),
	newPattern(`(?i)\bdbms_(lock\.sleep|pipe\.receive_message)\b`, "oracle delay", models.RiskCritical),
	newPattern(`(?i)\binto\s+(outfile|dumpfile)\b`, "file output", models.RiskCritical),
	newPattern(`(?i)\bCOPY\b[^;]*\bTO\s+('|STDOUT\b)`, "COPY TO file", models.RiskCritical),
	newPattern(`(?i)\butl_file\b`, "UTL_FILE", models.RiskCritical),
	newPattern(`(?i)\bunion(\s+all)?\s+select\s+(null|\d+)(\s*,\s*(null|\d+))*\s*(--|#|from\b|$)`, "UNION-based probe", models.RiskHigh),
	newPattern(`(?i)\b(and|or)\s+(\d+)\s*=\s*(\d+)\b`, "numeric tautology", models.RiskHigh),
}

// stringTautology catches OR 'a'='a'. Go regexp has no backreferences, so
// the two sides are compared in code.
var stringTautology = regexp.MustCompile(`(?i)\b(and|or)\s+'([^']*)'\s*=\s*'([^']*)'`)

// SecurityChecker performs heuristic static analysis of SQL templates and
// parameter values. It is a cheap first-line filter, not a substitute for
// bound parameters at the backend.
type SecurityChecker struct {
	logger          *zap.Logger
	maxParamLength  int
	maxNestingDepth int
	maxJoinCount    int
}

// NewSecurityChecker creates a checker with default complexity limits.
func NewSecurityChecker(logger *zap.Logger) *SecurityChecker {
	return &SecurityChecker{
		logger:          logger.Named("sql-security"),
		maxParamLength:  4096,
		maxNestingDepth: 5,
		maxJoinCount:    10,
	}
}

type findings struct {
	list []models.SecurityFinding
}

func (f *findings) add(check, message string, severity models.RiskLevel) {
	f.list = append(f.list, models.SecurityFinding{Check: check, Message: message, Severity: severity})
}

func (f *findings) scan(check, text string, patterns []pattern, format string) {
	for _, pt := range patterns {
		if pt.re.MatchString(text) {
			f.add(check, fmt.Sprintf(format, pt.label), pt.severity)
		}
	}
}

// Check analyzes sqlText and params. Every check runs and contributes
// findings. The risk level is the highest finding severity, raised to at
// least MEDIUM when more than two findings accumulated. The result is valid
// only while risk stays below HIGH, so any CRITICAL finding rejects.
func (c *SecurityChecker) Check(sqlText string, params Params) *models.SecurityCheckResult {
	var f findings
	code := StripLiterals(sqlText)

	// 1. Dangerous keywords.
	f.scan(CheckDangerousKeyword, code, dangerousKeywords, "dangerous keyword detected: %s")

	// 2. System catalogs.
	f.scan(CheckSystemCatalog, code, systemCatalogs, "system catalog access detected: %s")

	// 3. Injection patterns on the template.
	f.scan(CheckInjectionPattern, sqlText, injectionPatterns, "possible injection attack: %s")

	// 4. Parameter values.
	fingerprints := make(map[string]string)
	for _, name := range params.Names() {
		value := params[name]
		if hit := CheckParameterForInjection(name, value); hit != nil {
			fingerprints[name] = hit.Fingerprint
			f.add(CheckParameter, fmt.Sprintf("possible injection attack in parameter '%s' (fingerprint %s)", name, hit.Fingerprint), models.RiskHigh)
		}
		for _, s := range stringPayloads(value) {
			for _, pt := range parameterPatterns {
				if pt.re.MatchString(s) {
					f.add(CheckParameter, fmt.Sprintf("parameter '%s' contains %s", name, pt.label), pt.severity)
				}
			}
			if hasControlChars(s) {
				f.add(CheckParameter, fmt.Sprintf("parameter '%s' contains control characters", name), models.RiskHigh)
			}
			if len(s) > c.maxParamLength {
				f.add(CheckParameter, fmt.Sprintf("parameter '%s' is unusually long (%d bytes)", name, len(s)), models.RiskLow)
			}
		}
	}

	// 5. Structure.
	scanned := scan(sqlText, scanOptions{})
	if HasMultipleStatements(sqlText) {
		f.add(CheckStructure, "multiple statements detected", models.RiskHigh)
	}
	if scanned.hasComment {
		f.add(CheckStructure, "SQL comments present", models.RiskMedium)
	}
	if names := PlaceholdersInStringLiterals(sqlText); len(names) > 0 {
		f.add(CheckStructure, "placeholder inside string literal: "+strings.Join(names, ", "), models.RiskHigh)
	}
	if scanned.unterminated {
		f.add(CheckStructure, "unterminated string literal or comment", models.RiskHigh)
	}
	if hasControlChars(sqlText) {
		f.add(CheckStructure, "non-printable control characters present", models.RiskHigh)
	}

	// 6. Suspicious shapes.
	f.scan(CheckSuspicious, code, suspiciousPatterns, "suspicious pattern detected: %s")
	for _, m := range stringTautology.FindAllStringSubmatch(sqlText, -1) {
		if m[2] == m[3] {
			f.add(CheckSuspicious, "suspicious pattern detected: string tautology", models.RiskHigh)
			break
		}
	}

	result := aggregate(f.list)
	result.Details = map[string]any{
		"finding_count": len(f.list),
		"query_type":    string(DetectQueryType(sqlText)),
	}
	if len(fingerprints) > 0 {
		result.Details["fingerprints"] = fingerprints
	}

	if !result.Valid {
		c.logger.Warn("SQL rejected by security check",
			zap.String("risk_level", result.RiskLevel.String()),
			zap.Strings("violations", result.Violations),
			zap.String("sql", logging.SanitizeQuery(sqlText)),
		)
	} else if len(result.Violations) > 0 {
		c.logger.Debug("SQL passed security check with findings",
			zap.String("risk_level", result.RiskLevel.String()),
			zap.Strings("violations", result.Violations),
		)
	}

	return result
}

func aggregate(list []models.SecurityFinding) *models.SecurityCheckResult {
	result := &models.SecurityCheckResult{
		Violations: make([]string, 0, len(list)),
		Findings:   list,
		RiskLevel:  models.RiskLow,
	}
	for _, finding := range list {
		result.Violations = append(result.Violations, finding.Message)
		if finding.Severity > result.RiskLevel {
			result.RiskLevel = finding.Severity
		}
	}
	if len(list) > escalationThreshold && result.RiskLevel < models.RiskMedium {
		result.RiskLevel = models.RiskMedium
	}
	result.Valid = result.RiskLevel < models.RiskHigh
	return result
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

var (
	joinRegex = regexp.MustCompile(`(?i)\bjoin\b`)
	fromRegex = regexp.MustCompile(`(?is)\bfrom\b(.+?)(\bwhere\b|\bgroup\s+by\b|\border\s+by\b|\bhaving\b|\blimit\b|\bunion\b|\bwindow\b|$)`)
)

// ValidateComplexity flags queries that are likely to be expensive:
// parenthesis nesting deeper than the limit, more joins than the limit, and
// comma-joined FROM lists with no JOIN (a likely Cartesian product).
func (c *SecurityChecker) ValidateComplexity(sqlText string) *models.ComplexityCheckResult {
	code := StripLiterals(sqlText)
	result := &models.ComplexityCheckResult{Violations: []string{}}

	depth := 0
	for _, r := range code {
		switch r {
		case '(':
			depth++
			if depth > result.NestingDepth {
				result.NestingDepth = depth
			}
		case ')':
			if depth > 0 {
				depth--
			}
		}
	}
	if result.NestingDepth > c.maxNestingDepth {
		result.Violations = append(result.Violations,
			fmt.Sprintf("nesting depth %d exceeds limit %d", result.NestingDepth, c.maxNestingDepth))
	}

	result.JoinCount = len(joinRegex.FindAllStringIndex(code, -1))
	if result.JoinCount > c.maxJoinCount {
		result.Violations = append(result.Violations,
			fmt.Sprintf("join count %d exceeds limit %d", result.JoinCount, c.maxJoinCount))
	}

	for _, m := range fromRegex.FindAllStringSubmatch(code, -1) {
		tables := countTopLevelItems(m[1])
		if tables > result.FromTableCount {
			result.FromTableCount = tables
		}
	}
	if result.FromTableCount > 1 && result.JoinCount == 0 {
		result.CartesianRisk = true
		result.Violations = append(result.Violations,
			fmt.Sprintf("possible Cartesian product: %d comma-joined tables without JOIN", result.FromTableCount))
	}

	result.Valid = len(result.Violations) == 0
	return result
}

// countTopLevelItems counts comma-separated items outside parentheses. A
// subquery in the FROM list stops the count at its opening parenthesis
// depth, so "FROM (SELECT a, b FROM t) x" counts one item.
func countTopLevelItems(clause string) int {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return 0
	}
	items, depth := 1, 0
	for _, r := range clause {
		switch r {
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return items
			}
			depth--
		case ',':
			if depth == 0 {
				items++
			}
		}
	}
	return items
}
