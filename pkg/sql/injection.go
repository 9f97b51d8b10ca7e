package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a parameter value that libinjection
// classified as SQL injection.
type InjectionCheckResult struct {
	ParamName   string
	ParamValue  string
	Fingerprint string // libinjection fingerprint of the detected pattern
}

// CheckParameterForInjection runs libinjection over the string payloads of
// value. Only strings can carry injection; numbers, booleans and dates are
// skipped. List items are checked individually.
//
//	CheckParameterForInjection("search", String("'; DROP TABLE users--"))
//	// &InjectionCheckResult{ParamName: "search", Fingerprint: "s;T(c" ...}
func CheckParameterForInjection(paramName string, value Value) *InjectionCheckResult {
	for _, s := range stringPayloads(value) {
		isSQLi, fingerprint := libinjection.IsSQLi(s)
		if isSQLi {
			return &InjectionCheckResult{
				ParamName:   paramName,
				ParamValue:  s,
				Fingerprint: string(fingerprint),
			}
		}
	}
	return nil
}

// CheckAllParameters returns one result per parameter that failed the
// injection check, in sorted name order.
func CheckAllParameters(params Params) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for _, name := range params.Names() {
		if result := CheckParameterForInjection(name, params[name]); result != nil {
			results = append(results, result)
		}
	}
	return results
}

func stringPayloads(v Value) []string {
	switch v.Kind() {
	case KindString:
		return []string{v.Str()}
	case KindList:
		var out []string
		for _, item := range v.Items() {
			out = append(out, stringPayloads(item)...)
		}
		return out
	}
	return nil
}
