package models

import "strings"

// RiskLevel is the ordered severity assigned by the security checker.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskLevelNames = [...]string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (r RiskLevel) String() string {
	if r < RiskLow || r > RiskCritical {
		return "UNKNOWN"
	}
	return riskLevelNames[r]
}

// MarshalText renders the level by name so JSON payloads read LOW/MEDIUM/...
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a level name, case-insensitively.
func (r *RiskLevel) UnmarshalText(text []byte) error {
	name := strings.ToUpper(strings.TrimSpace(string(text)))
	for i, n := range riskLevelNames {
		if n == name {
			*r = RiskLevel(i)
			return nil
		}
	}
	*r = RiskLow
	return nil
}

// SecurityFinding is one violation raised by a security check.
type SecurityFinding struct {
	Check    string    `json:"check"`
	Message  string    `json:"message"`
	Severity RiskLevel `json:"severity"`
}

// SecurityCheckResult is the verdict of a static security check.
// It is created fresh per call and never persisted.
type SecurityCheckResult struct {
	Valid      bool              `json:"valid"`
	Violations []string          `json:"violations"`
	Findings   []SecurityFinding `json:"findings,omitempty"`
	RiskLevel  RiskLevel         `json:"risk_level"`
	Details    map[string]any    `json:"details,omitempty"`
}

// ComplexityCheckResult is the verdict of the optional complexity gate.
type ComplexityCheckResult struct {
	Valid          bool     `json:"valid"`
	Violations     []string `json:"violations"`
	NestingDepth   int      `json:"nesting_depth"`
	JoinCount      int      `json:"join_count"`
	CartesianRisk  bool     `json:"cartesian_risk"`
	FromTableCount int      `json:"from_table_count"`
}
