package models

// ParameterType is the declared type of a template parameter.
type ParameterType string

const (
	ParameterTypeString  ParameterType = "STRING"
	ParameterTypeInteger ParameterType = "INTEGER"
	ParameterTypeDecimal ParameterType = "DECIMAL"
	ParameterTypeBoolean ParameterType = "BOOLEAN"
	ParameterTypeDate    ParameterType = "DATE"
	ParameterTypeList    ParameterType = "LIST"
)

// ParameterDefinition is the contract for a single template parameter.
// Definitions are supplied by the template owner or inferred from the
// parameter name, and are read-only during an execution.
type ParameterDefinition struct {
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required"`
	Default     any           `json:"default,omitempty"` // nil if no default

	// Bounds. Nil means unbounded.
	MinLength *int     `json:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`

	// Sensitive values are masked before they reach logs or the execution log.
	Sensitive   bool   `json:"sensitive,omitempty"`
	MaskPattern string `json:"mask_pattern,omitempty"` // e.g. "***" or "####-{last4}"

	// Inferred is true when the definition was synthesized from the name.
	Inferred bool `json:"inferred,omitempty"`
}
