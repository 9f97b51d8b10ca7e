package sql

import (
	"regexp"
	"strings"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

// modifyingCTEPattern matches CTEs that contain data-modifying operations.
// Example: WITH deleted AS (DELETE FROM ...) SELECT * FROM deleted
var modifyingCTEPattern = regexp.MustCompile(`(?i)\bAS\s*\(\s*(INSERT|UPDATE|DELETE|MERGE)\b`)

// DetectQueryType decides the execution path from the leading keyword.
// Comments and opening parentheses before the keyword are ignored.
//
//	SELECT, WITH             -> SELECT (WITH wrapping or followed by a write -> MUTATION)
//	INSERT, UPDATE, DELETE   -> MUTATION
//	CALL, EXEC, EXECUTE      -> PROCEDURE
//	anything else            -> OTHER (executed like a mutation)
func DetectQueryType(sqlText string) models.QueryType {
	code := StripComments(sqlText)
	normalized := strings.ToUpper(strings.TrimLeft(strings.TrimSpace(code), "( \t\r\n"))

	switch leadingKeyword(normalized) {
	case "SELECT":
		return models.QueryTypeSelect
	case "WITH":
		stripped := StripLiterals(code)
		if modifyingCTEPattern.MatchString(stripped) {
			return models.QueryTypeMutation
		}
		switch mainStatementKeyword(stripped) {
		case "SELECT", "VALUES", "TABLE", "":
			return models.QueryTypeSelect
		default:
			return models.QueryTypeMutation
		}
	case "INSERT", "UPDATE", "DELETE", "MERGE", "REPLACE", "UPSERT":
		return models.QueryTypeMutation
	case "CALL", "EXEC", "EXECUTE":
		return models.QueryTypeProcedure
	default:
		return models.QueryTypeOther
	}
}

func leadingKeyword(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r == '_')
	})
	if end < 0 {
		return s
	}
	return s[:end]
}

// statementKeywords are the keywords that can start the main statement of a
// WITH query.
var statementKeywords = map[string]bool{
	"SELECT": true, "VALUES": true, "TABLE": true,
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "REPLACE": true, "UPSERT": true,
}

// mainStatementKeyword returns the first statement keyword found outside
// parentheses after the CTE list of code, which must have literals blanked
// and comments removed. It returns "" when none is found.
func mainStatementKeyword(code string) string {
	depth := 0
	var word strings.Builder
	flush := func() string {
		w := strings.ToUpper(word.String())
		word.Reset()
		if depth == 0 && statementKeywords[w] {
			return w
		}
		return ""
	}

	for _, r := range code {
		if r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			word.WriteRune(r)
			continue
		}
		if w := flush(); w != "" {
			return w
		}
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		}
	}
	return flush()
}
