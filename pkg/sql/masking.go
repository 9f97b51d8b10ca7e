package sql

import (
	"strings"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/logging"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

// sensitiveNameHints mark parameters that are masked even without a
// definition flagging them.
var sensitiveNameHints = []string{"password", "passwd", "secret", "token", "apikey", "api_key", "ssn", "credit_card"}

// MaskParameters returns a log-safe copy of params. Values of sensitive
// parameters are replaced according to their MaskPattern; "{last4}" in a
// pattern is replaced by the last four characters of the value.
func MaskParameters(params Params, defs []models.ParameterDefinition) map[string]any {
	if params == nil {
		return nil
	}

	byName := make(map[string]models.ParameterDefinition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}

	out := make(map[string]any, len(params))
	for name, value := range params {
		def, ok := byName[name]
		switch {
		case ok && def.Sensitive:
			out[name] = maskValue(value, def.MaskPattern)
		case looksSensitive(name):
			out[name] = logging.RedactedText
		default:
			out[name] = value.Any()
		}
	}
	return out
}

func maskValue(v Value, pattern string) string {
	if pattern == "" {
		return logging.RedactedText
	}
	if strings.Contains(pattern, "{last4}") {
		s := []rune(v.String())
		last4 := ""
		if len(s) > 4 {
			last4 = string(s[len(s)-4:])
		}
		return strings.ReplaceAll(pattern, "{last4}", last4)
	}
	return pattern
}

func looksSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range sensitiveNameHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
