package sql

import (
	"strings"
	"unicode"
)

// scanOptions controls what scan rewrites.
type scanOptions struct {
	blankLiterals bool // replace the contents of '...' with spaces, keeping the quotes
	dropComments  bool // replace -- and /* */ comments with a single space
	normalize     bool // lower-case code and collapse whitespace outside literals
}

// scanResult reports what the scanner saw outside string literals.
type scanResult struct {
	text         string
	hasComment   bool
	unterminated bool
}

// scan walks sqlText once, tracking single-quoted literals, double-quoted
// identifiers, line comments and block comments. Inside a literal only ''
// escapes a quote; a backslash is ordinary text, as in Postgres with
// standard_conforming_strings, SQLite and SQL Server.
func scan(sqlText string, opts scanOptions) scanResult {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateLineComment
		stateBlockComment
	)

	var out strings.Builder
	out.Grow(len(sqlText))
	res := scanResult{}
	state := stateNormal
	runes := []rune(sqlText)
	lastSpace := false

	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch state {
		case stateNormal:
			switch {
			case ch == '\'':
				state = stateSingleQuote
				out.WriteRune(ch)
			case ch == '"':
				state = stateDoubleQuote
				out.WriteRune(ch)
			case ch == '-' && next == '-':
				state = stateLineComment
				res.hasComment = true
				i++
				if opts.dropComments {
					out.WriteRune(' ')
				} else {
					out.WriteString("--")
				}
			case ch == '/' && next == '*':
				state = stateBlockComment
				res.hasComment = true
				i++
				if opts.dropComments {
					out.WriteRune(' ')
				} else {
					out.WriteString("/*")
				}
			case opts.normalize && unicode.IsSpace(ch):
				if out.Len() > 0 && !lastSpace {
					out.WriteRune(' ')
				}
				lastSpace = true
				continue
			case opts.normalize:
				out.WriteRune(unicode.ToLower(ch))
			default:
				out.WriteRune(ch)
			}
			lastSpace = false

		case stateSingleQuote:
			switch {
			case ch == '\'' && next == '\'':
				i++
				if opts.blankLiterals {
					out.WriteString("  ")
				} else {
					out.WriteString("''")
				}
			case ch == '\'':
				state = stateNormal
				out.WriteRune(ch)
			default:
				if opts.blankLiterals {
					out.WriteRune(' ')
				} else {
					out.WriteRune(ch)
				}
			}

		case stateDoubleQuote:
			if ch == '"' {
				state = stateNormal
			}
			out.WriteRune(ch)

		case stateLineComment:
			if ch == '\n' {
				state = stateNormal
				out.WriteRune(ch)
			} else if !opts.dropComments {
				out.WriteRune(ch)
			}

		case stateBlockComment:
			if ch == '*' && next == '/' {
				state = stateNormal
				i++
				if !opts.dropComments {
					out.WriteString("*/")
				}
			} else if !opts.dropComments {
				out.WriteRune(ch)
			}
		}
	}

	res.unterminated = state == stateSingleQuote || state == stateDoubleQuote || state == stateBlockComment
	res.text = out.String()
	return res
}

// StripComments removes -- and /* */ comments that are outside string
// literals, replacing each with a single space.
func StripComments(sqlText string) string {
	return scan(sqlText, scanOptions{dropComments: true}).text
}

// StripLiterals blanks the contents of single-quoted literals and removes
// comments, so keyword scans only see executable SQL text.
func StripLiterals(sqlText string) string {
	return scan(sqlText, scanOptions{blankLiterals: true, dropComments: true}).text
}

// HasComments reports whether sqlText contains a comment outside string
// literals.
func HasComments(sqlText string) bool {
	return scan(sqlText, scanOptions{}).hasComment
}

// HasMultipleStatements reports whether a semicolon separates two
// statements. A single trailing semicolon is allowed.
func HasMultipleStatements(sqlText string) bool {
	code := strings.TrimSpace(StripLiterals(sqlText))
	code = strings.TrimRight(code, "; \t\r\n")
	return strings.Contains(code, ";")
}

// StripTrailingSemicolon removes a trailing semicolon and surrounding
// whitespace.
func StripTrailingSemicolon(sqlText string) string {
	sqlText = strings.TrimRight(sqlText, " \t\n\r")
	for strings.HasSuffix(sqlText, ";") {
		sqlText = strings.TrimSuffix(sqlText, ";")
		sqlText = strings.TrimRight(sqlText, " \t\n\r")
	}
	return sqlText
}

// NormalizeForKey lower-cases sqlText, drops comments and collapses runs of
// whitespace so that cosmetically different templates compare equal.
// String literal contents are left untouched.
func NormalizeForKey(sqlText string) string {
	stripped := StripComments(sqlText)
	normalized := scan(stripped, scanOptions{normalize: true}).text
	return StripTrailingSemicolon(strings.TrimSpace(normalized))
}
