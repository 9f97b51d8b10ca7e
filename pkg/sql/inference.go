package sql

import (
	"strings"
	"unicode"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

var (
	dateTokens    = tokenSet("date", "time", "timestamp", "datetime", "since", "until")
	listTokens    = tokenSet("list", "ids", "array", "items", "values")
	integerTokens = tokenSet("id", "count", "num", "number", "qty", "quantity", "limit", "offset", "page", "size", "age")
	decimalTokens = tokenSet("amount", "price", "rate", "cost", "total", "balance", "fee", "ratio", "percent")
	booleanTokens = tokenSet("flag", "is", "has", "enabled", "active", "deleted")
)

// InferDefinition synthesizes a definition from the parameter name when the
// template owner declared none. It is a convenience, not a source of truth.
//
// Names are split on underscores, dashes, dots and camelCase boundaries and
// matched token-wise, so "valid" does not look like an id. Tokens that match
// nothing are tried as run-together words ("userid", "startdate"), where a
// known word must sit at the start or end next to a remainder long enough to
// be a word of its own. Precedence is date, list, integer, decimal, boolean,
// then string.
//
//	InferDefinition("start_date").Type // DATE
//	InferDefinition("customerIds").Type // LIST
//	InferDefinition("order_id").Type // INTEGER
//	InferDefinition("is_active").Type // BOOLEAN
//	InferDefinition("totalamount").Type // DECIMAL
func InferDefinition(name string) models.ParameterDefinition {
	tokens := splitName(name)

	typ := models.ParameterTypeString
	switch {
	case hasAny(tokens, dateTokens) || hasSuffixToken(tokens, "at", "on"):
		typ = models.ParameterTypeDate
	case hasAny(tokens, listTokens):
		typ = models.ParameterTypeList
	case hasAny(tokens, integerTokens):
		typ = models.ParameterTypeInteger
	case hasAny(tokens, decimalTokens):
		typ = models.ParameterTypeDecimal
	case hasAny(tokens, booleanTokens):
		typ = models.ParameterTypeBoolean
	default:
		typ = inferCompound(tokens)
	}

	return models.ParameterDefinition{
		Name:     name,
		Type:     typ,
		Inferred: true,
	}
}

type compoundRule struct {
	typ      models.ParameterType
	suffixes []string
	prefixes []string
}

// compoundRules apply to single run-together tokens. Words that commonly end
// unrelated English words (rate, fee, age, at, time) are left out.
var compoundRules = []compoundRule{
	{typ: models.ParameterTypeDate, suffixes: []string{"date", "datetime", "timestamp"}, prefixes: []string{"date"}},
	{typ: models.ParameterTypeList, suffixes: []string{"ids", "list"}},
	{typ: models.ParameterTypeInteger, suffixes: []string{"id", "count", "num"}},
	{typ: models.ParameterTypeDecimal, suffixes: []string{"amount", "price", "total", "balance"}, prefixes: []string{"total"}},
}

func inferCompound(tokens []string) models.ParameterType {
	for _, rule := range compoundRules {
		for _, tok := range tokens {
			for _, suf := range rule.suffixes {
				if strings.HasSuffix(tok, suf) && wordLike(len(tok)-len(suf), suf) {
					return rule.typ
				}
			}
			for _, pre := range rule.prefixes {
				if strings.HasPrefix(tok, pre) && wordLike(len(tok)-len(pre), pre) {
					return rule.typ
				}
			}
		}
	}
	// isactive, hasdeleted
	for _, tok := range tokens {
		for _, pre := range []string{"is", "has"} {
			if strings.HasPrefix(tok, pre) && booleanTokens[tok[len(pre):]] {
				return models.ParameterTypeBoolean
			}
		}
	}
	return models.ParameterTypeString
}

// wordLike reports whether a remainder of n letters next to part is long
// enough to count as a separate word. Two-letter parts need more context:
// "userid" qualifies, "valid" does not.
func wordLike(n int, part string) bool {
	if len(part) <= 2 {
		return n >= 4
	}
	return n >= 3
}

// InferDefinitions returns a definition for every placeholder in template
// that is not already covered by declared.
func InferDefinitions(template string, declared []models.ParameterDefinition) []models.ParameterDefinition {
	known := make(map[string]bool, len(declared))
	out := make([]models.ParameterDefinition, 0, len(declared))
	for _, d := range declared {
		known[d.Name] = true
		out = append(out, d)
	}
	for _, name := range ExtractNames(template) {
		if !known[name] {
			out = append(out, InferDefinition(name))
		}
	}
	return out
}

func tokenSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func hasAny(tokens []string, set map[string]bool) bool {
	for _, t := range tokens {
		if set[t] {
			return true
		}
	}
	return false
}

// hasSuffixToken matches created_at / updated_on style names. A single
// token ("at") does not count.
func hasSuffixToken(tokens []string, suffixes ...string) bool {
	if len(tokens) < 2 {
		return false
	}
	last := tokens[len(tokens)-1]
	for _, s := range suffixes {
		if last == s {
			return true
		}
	}
	return false
}

// splitName splits snake_case, kebab-case, dotted and camelCase names into
// lower-case tokens.
func splitName(name string) []string {
	var tokens []string
	var cur strings.Builder
	runes := []rune(name)

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}

	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r):
			// Break before an upper-case rune that starts a new word:
			// customerIds -> customer, ids; HTTPCode -> http, code.
			if i > 0 && (unicode.IsLower(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				flush()
			}
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}
