package sql

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// wireValue is the tagged JSON form of a Value. The tag keeps "42" and 42
// distinct and lets dates and decimals round-trip exactly.
type wireValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes v in tagged form.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Type: v.kind.String()}
	var payload any

	switch v.kind {
	case KindNull:
		return json.Marshal(w)
	case KindString:
		payload = v.s
	case KindInteger:
		payload = v.i
	case KindDecimal:
		payload = v.d.String()
	case KindBoolean:
		payload = v.b
	case KindDate:
		payload = v.t.Format(time.RFC3339Nano)
	case KindList:
		payload = v.list
		if v.list == nil {
			payload = []Value{}
		}
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	w.Value = raw
	return json.Marshal(w)
}

// UnmarshalJSON decodes the tagged form produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("failed to decode parameter value: %w", err)
	}

	switch w.Type {
	case "null", "":
		*v = Null()
	case "string":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("invalid string value: %w", err)
		}
		*v = String(s)
	case "integer":
		var n json.Number
		if err := json.Unmarshal(w.Value, &n); err != nil {
			return fmt.Errorf("invalid integer value: %w", err)
		}
		i, err := n.Int64()
		if err != nil {
			return fmt.Errorf("invalid integer value: %w", err)
		}
		*v = Integer(i)
	case "decimal":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("invalid decimal value: %w", err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("invalid decimal value: %w", err)
		}
		*v = Decimal(d)
	case "boolean":
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return fmt.Errorf("invalid boolean value: %w", err)
		}
		*v = Boolean(b)
	case "date":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("invalid date value: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid date value: %w", err)
		}
		*v = Date(t)
	case "list":
		var items []Value
		if err := json.Unmarshal(w.Value, &items); err != nil {
			return fmt.Errorf("invalid list value: %w", err)
		}
		*v = List(items...)
	default:
		return fmt.Errorf("unknown parameter value type %q", w.Type)
	}
	return nil
}

// SerializeParameters encodes params so that DeserializeParameters restores
// an equal map.
func SerializeParameters(params Params) ([]byte, error) {
	if params == nil {
		params = Params{}
	}
	data, err := json.Marshal(map[string]Value(params))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize parameters: %w", err)
	}
	return data, nil
}

// DeserializeParameters decodes data produced by SerializeParameters.
func DeserializeParameters(data []byte) (Params, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Params{}, nil
	}
	var m map[string]Value
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to deserialize parameters: %w", err)
	}
	return Params(m), nil
}

// Equal reports whether both maps hold the same names with equal values.
func (p Params) Equal(o Params) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
