package sql

import (
	"regexp"
	"strconv"
	"strings"
)

// placeholderRegex matches ${parameter_name} placeholders in SQL templates.
// Names start with a letter or underscore, followed by letters, digits,
// underscores or dots.
var placeholderRegex = regexp.MustCompile(`\$\{\s*([a-zA-Z_][\w.]*)\s*\}`)

// ExtractNames returns the placeholder names in template, deduplicated, in
// order of first appearance.
//
//	ExtractNames("SELECT * FROM t WHERE a = ${a} OR b = ${b} OR c = ${a}")
//	// []string{"a", "b"}
func ExtractNames(template string) []string {
	matches := placeholderRegex.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool)
	var names []string

	for _, match := range matches {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	return names
}

// Substitute replaces every ${name} in template with the SQL literal for
// params[name]. Placeholders without a value are left untouched and their
// names are returned so the caller can warn; this is not an error because
// templates may intentionally leave optional fragments.
//
// Substitute is idempotent on text without placeholders.
func Substitute(template string, params Params) (string, []string) {
	var unresolved []string
	seen := make(map[string]bool)

	out := placeholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRegex.FindStringSubmatch(match)[1]
		value, ok := params[name]
		if !ok {
			if !seen[name] {
				seen[name] = true
				unresolved = append(unresolved, name)
			}
			return match
		}
		return FormatLiteral(value)
	})

	return out, unresolved
}

// Bind rewrites template for native parameter binding. Each distinct scalar
// placeholder becomes a positional $N reused on repeat; list values expand to
// a parenthesized run of positions. Null values are inlined as NULL because
// an untyped bound null cannot be typed by every backend.
//
//	Bind("SELECT * FROM t WHERE id IN ${ids} AND owner = ${owner}",
//	    Params{"ids": List(Integer(1), Integer(2)), "owner": String("bob")})
//	// "SELECT * FROM t WHERE id IN ($1, $2) AND owner = $3", []any{1, 2, "bob"}
func Bind(template string, params Params) (string, []any, []string) {
	var (
		args       []any
		unresolved []string
	)
	positions := make(map[string]string)
	seen := make(map[string]bool)

	out := placeholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRegex.FindStringSubmatch(match)[1]
		if rendered, ok := positions[name]; ok {
			return rendered
		}

		value, ok := params[name]
		if !ok {
			if !seen[name] {
				seen[name] = true
				unresolved = append(unresolved, name)
			}
			return match
		}

		var rendered string
		switch value.Kind() {
		case KindNull:
			rendered = "NULL"
		case KindList:
			items := value.Items()
			if len(items) == 0 {
				rendered = "(NULL)"
				break
			}
			refs := make([]string, len(items))
			for i, item := range items {
				if item.IsNull() {
					refs[i] = "NULL"
					continue
				}
				args = append(args, item.Any())
				refs[i] = "$" + strconv.Itoa(len(args))
			}
			rendered = "(" + strings.Join(refs, ", ") + ")"
		default:
			args = append(args, value.Any())
			rendered = "$" + strconv.Itoa(len(args))
		}

		positions[name] = rendered
		return rendered
	})

	return out, args, unresolved
}

// FormatLiteral renders v as an inline SQL literal.
func FormatLiteral(v Value) string {
	switch v.Kind() {
	case KindNull:
		return "NULL"
	case KindString:
		return QuoteString(v.Str())
	case KindInteger:
		return strconv.FormatInt(v.Int(), 10)
	case KindDecimal:
		return v.Dec().String()
	case KindBoolean:
		if v.Bool() {
			return "TRUE"
		}
		return "FALSE"
	case KindDate:
		return "'" + formatDate(v.Time()) + "'"
	case KindList:
		items := v.Items()
		if len(items) == 0 {
			// Matches nothing in an IN list.
			return "(NULL)"
		}
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = FormatLiteral(item)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return "NULL"
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `''`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\x00", "",
)

// QuoteString quotes s as a single-quoted SQL string literal.
func QuoteString(s string) string {
	return "'" + literalEscaper.Replace(s) + "'"
}

// PlaceholdersInStringLiterals returns placeholder names that appear inside
// single-quoted literals. Such placeholders cannot be bound natively because
// the backend treats $N inside a string as text.
//
//	PlaceholdersInStringLiterals("SELECT * FROM t WHERE name LIKE '%${q}%'")
//	// []string{"q"}
func PlaceholdersInStringLiterals(template string) []string {
	var problems []string
	seen := make(map[string]bool)

	inString := false
	stringStart := 0
	i := 0

	for i < len(template) {
		ch := template[i]

		if ch == '\'' {
			if inString {
				if i+1 < len(template) && template[i+1] == '\'' {
					i += 2
					continue
				}
				content := template[stringStart+1 : i]
				for _, match := range placeholderRegex.FindAllStringSubmatch(content, -1) {
					if !seen[match[1]] {
						seen[match[1]] = true
						problems = append(problems, match[1])
					}
				}
				inString = false
			} else {
				inString = true
				stringStart = i
			}
		}
		i++
	}

	return problems
}

// RewritePlaceholders converts $N positional placeholders to another style.
// format receives the 1-based position, e.g. func(n int) string { return "@p" + strconv.Itoa(n) }.
func RewritePlaceholders(query string, format func(n int) string) string {
	return positionalRegex.ReplaceAllStringFunc(query, func(match string) string {
		n, err := strconv.Atoi(match[1:])
		if err != nil {
			return match
		}
		return format(n)
	})
}

var positionalRegex = regexp.MustCompile(`\$(\d+)`)
