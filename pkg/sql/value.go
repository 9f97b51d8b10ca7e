// Package sql holds the parameter processing and static security analysis
// applied to SQL templates before they reach a backend.
package sql

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// Kind identifies which field of a Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInteger
	KindDecimal
	KindBoolean
	KindDate
	KindList
)

var kindNames = map[Kind]string{
	KindNull:    "null",
	KindString:  "string",
	KindInteger: "integer",
	KindDecimal: "decimal",
	KindBoolean: "boolean",
	KindDate:    "date",
	KindList:    "list",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Value is a dynamically typed parameter value. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	i    int64
	d    decimal.Decimal
	b    bool
	t    time.Time
	list []Value
}

// Params maps parameter name to value.
type Params map[string]Value

func Null() Value { return Value{} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Integer(i int64) Value { return Value{kind: KindInteger, i: i} }
func Decimal(d decimal.Decimal) Value { return Value{kind: KindDecimal, d: d} }
func Float(f float64) Value { return Value{kind: KindDecimal, d: decimal.NewFromFloat(f)} }
func Boolean(b bool) Value { return Value{kind: KindBoolean, b: b} }
func Date(t time.Time) Value { return Value{kind: KindDate, t: t} }

// List builds a list value. Nested lists are allowed but render flattened
// only one level deep.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string payload. Valid only for KindString.
func (v Value) Str() string { return v.s }

// Int returns the integer payload. Valid only for KindInteger.
func (v Value) Int() int64 { return v.i }

// Dec returns the decimal payload. Valid only for KindDecimal.
func (v Value) Dec() decimal.Decimal { return v.d }

// Bool returns the boolean payload. Valid only for KindBoolean.
func (v Value) Bool() bool { return v.b }

// Time returns the date payload. Valid only for KindDate.
func (v Value) Time() time.Time { return v.t }

// Items returns a copy of the list payload. Valid only for KindList.
func (v Value) Items() []Value {
	cp := make([]Value, len(v.list))
	copy(cp, v.list)
	return cp
}

// IsBlank reports whether the value is null, an empty or whitespace-only
// string, or an empty list.
func (v Value) IsBlank() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return strings.TrimSpace(v.s) == ""
	case KindList:
		return len(v.list) == 0
	}
	return false
}

// Equal compares kind and payload. Decimals compare numerically and dates by
// instant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindInteger:
		return v.i == o.i
	case KindDecimal:
		return v.d.Equal(o.d)
	case KindBoolean:
		return v.b == o.b
	case KindDate:
		return v.t.Equal(o.t)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Any converts the value to a plain Go value suitable for driver binding
// and JSON output.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInteger:
		return v.i
	case KindDecimal:
		return v.d
	case KindBoolean:
		return v.b
	case KindDate:
		return v.t
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Any()
		}
		return out
	}
	return nil
}

// String renders the value for diagnostics and cache keys. It is not a SQL
// literal; use FormatLiteral for that.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.s
	case KindInteger:
		return fmt.Sprintf("%d", v.i)
	case KindDecimal:
		return v.d.String()
	case KindBoolean:
		if v.b {
			return "true"
		}
		return "false"
	case KindDate:
		return formatDate(v.t)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			if item.kind == KindString {
				parts[i] = strconv.Quote(item.s)
				continue
			}
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return ""
}

// FromAny converts a loosely typed value (as decoded from JSON or supplied by
// a caller) into a Value. json.Number values become integers when integral.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Boolean(t)
	case int:
		return Integer(int64(t))
	case int8, int16, int32, int64, uint, uint8, uint16, uint32:
		return Integer(cast.ToInt64(t))
	case uint64:
		if t > 1<<63-1 {
			return Decimal(decimal.RequireFromString(fmt.Sprintf("%d", t)))
		}
		return Integer(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		if t == float64(int64(t)) && t < 1<<53 && t > -(1<<53) {
			return Integer(int64(t))
		}
		return Float(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Integer(i)
		}
		if d, err := decimal.NewFromString(t.String()); err == nil {
			return Decimal(d)
		}
		return String(t.String())
	case decimal.Decimal:
		return Decimal(t)
	case time.Time:
		return Date(t)
	case *time.Time:
		if t == nil {
			return Null()
		}
		return Date(*t)
	case []Value:
		return List(t...)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return List(items...)
	case []string:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = String(item)
		}
		return List(items...)
	}

	rv := reflect.ValueOf(x)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = FromAny(rv.Index(i).Interface())
		}
		return List(items...)
	}
	return String(fmt.Sprint(x))
}

// ParamsFromMap converts a loosely typed map into Params.
func ParamsFromMap(m map[string]any) Params {
	if m == nil {
		return nil
	}
	out := make(Params, len(m))
	for k, v := range m {
		out[k] = FromAny(v)
	}
	return out
}

// ToMap converts params back into plain Go values.
func (p Params) ToMap() map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.Any()
	}
	return out
}

// Clone returns a copy that shares no list storage with p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		if v.kind == KindList {
			v = List(v.list...)
		}
		out[k] = v
	}
	return out
}

// Names returns parameter names in sorted order.
func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Canonical renders params as a deterministic string: sorted names, each
// value in its tagged JSON form so "1" and 1 differ and no string content
// can imitate a separator.
func (p Params) Canonical() string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range p.Names() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')
		raw, err := p[name].MarshalJSON()
		if err != nil {
			raw, _ = json.Marshal(p[name].kind.String())
		}
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.String()
}

func formatDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:04:05")
}
