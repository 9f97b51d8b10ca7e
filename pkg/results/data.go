package results

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

// DefaultPageSize is used when Paginate is called with a non-positive size.
const DefaultPageSize = 20

// maxUniqueTracked caps distinct-value tracking per column in Summarize.
const maxUniqueTracked = 100

// Page is one slice of an in-memory result.
type Page struct {
	Data       []models.Row `json:"data"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalRows  int          `json:"total_rows"`
	TotalPages int          `json:"total_pages"`
}

// Paginate returns the 1-indexed page of data. Pages past the end are empty.
func Paginate(data []models.Row, page, size int) Page {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	total := len(data)
	p := Page{
		Data:       []models.Row{},
		Page:       page,
		PageSize:   size,
		TotalRows:  total,
		TotalPages: (total + size - 1) / size,
	}
	start := (page - 1) * size
	if start >= total {
		return p
	}
	end := min(start+size, total)
	p.Data = data[start:end]
	return p
}

// FilterOperator is one of the comparison operators FilterData supports.
type FilterOperator string

const (
	OpEquals      FilterOperator = "EQUALS"
	OpNotEquals   FilterOperator = "NOT_EQUALS"
	OpContains    FilterOperator = "CONTAINS"
	OpStartsWith  FilterOperator = "STARTS_WITH"
	OpEndsWith    FilterOperator = "ENDS_WITH"
	OpGreaterThan FilterOperator = "GT"
	OpGreaterOrEq FilterOperator = "GTE"
	OpLessThan    FilterOperator = "LT"
	OpLessOrEq    FilterOperator = "LTE"
	OpIsNull      FilterOperator = "IS_NULL"
	OpIsNotNull   FilterOperator = "IS_NOT_NULL"
)

// FilterData returns the rows whose column satisfies op against value.
// String operators compare the text form case-sensitively. Comparisons
// against a null cell are false except for IS_NULL.
func FilterData(data []models.Row, column string, op FilterOperator, value any) ([]models.Row, error) {
	match, err := matcher(op, value)
	if err != nil {
		return nil, err
	}
	out := make([]models.Row, 0, len(data))
	for _, row := range data {
		if match(row[column]) {
			out = append(out, row)
		}
	}
	return out, nil
}

func matcher(op FilterOperator, value any) (func(any) bool, error) {
	text := func(v any) string { return cast.ToString(v) }
	switch FilterOperator(strings.ToUpper(string(op))) {
	case OpIsNull:
		return func(v any) bool { return v == nil }, nil
	case OpIsNotNull:
		return func(v any) bool { return v != nil }, nil
	case OpEquals:
		return func(v any) bool { return v != nil && compareValues(v, value) == 0 }, nil
	case OpNotEquals:
		return func(v any) bool { return v != nil && compareValues(v, value) != 0 }, nil
	case OpContains:
		return func(v any) bool { return v != nil && strings.Contains(text(v), text(value)) }, nil
	case OpStartsWith:
		return func(v any) bool { return v != nil && strings.HasPrefix(text(v), text(value)) }, nil
	case OpEndsWith:
		return func(v any) bool { return v != nil && strings.HasSuffix(text(v), text(value)) }, nil
	case OpGreaterThan:
		return func(v any) bool { return v != nil && compareValues(v, value) > 0 }, nil
	case OpGreaterOrEq:
		return func(v any) bool { return v != nil && compareValues(v, value) >= 0 }, nil
	case OpLessThan:
		return func(v any) bool { return v != nil && compareValues(v, value) < 0 }, nil
	case OpLessOrEq:
		return func(v any) bool { return v != nil && compareValues(v, value) <= 0 }, nil
	}
	return nil, fmt.Errorf("unsupported filter operator %q", op)
}

// SortData returns a copy of data ordered by column. Nulls sort before
// every other value ascending and after them descending. The sort is stable.
func SortData(data []models.Row, column string, descending bool) []models.Row {
	out := append([]models.Row(nil), data...)
	sort.SliceStable(out, func(i, j int) bool {
		c := compareValues(out[i][column], out[j][column])
		if descending {
			return c > 0
		}
		return c < 0
	})
	return out
}

// compareValues orders two cell values. Numbers compare numerically,
// times chronologically, booleans false < true, and anything else by its
// text form.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if da, ok := toDecimal(a); ok {
		if db, ok := toDecimal(b); ok {
			return da.Cmp(db)
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, err := cast.ToTimeE(b); err == nil {
			return ta.Compare(tb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, err := cast.ToBoolE(b); err == nil {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(cast.ToString(a), cast.ToString(b))
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, true
	case int64:
		return decimal.NewFromInt(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int32:
		return decimal.NewFromInt(int64(val)), true
	case float64:
		return decimal.NewFromFloat(val), true
	case float32:
		return decimal.NewFromFloat32(val), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

// ColumnSummary holds per-column statistics for a materialized result.
type ColumnSummary struct {
	Column      string `json:"column"`
	NullCount   int    `json:"null_count"`
	UniqueCount int    `json:"unique_count"`
	// UniqueCapped is set when UniqueCount stopped at the tracking cap.
	UniqueCapped bool `json:"unique_capped"`
}

// Summary describes a materialized result.
type Summary struct {
	RowCount int             `json:"row_count"`
	Columns  []ColumnSummary `json:"columns"`
}

// Summarize computes null counts and bounded distinct-value counts.
func Summarize(data []models.Row, columns []string) Summary {
	s := Summary{RowCount: len(data), Columns: make([]ColumnSummary, 0, len(columns))}
	for _, col := range columns {
		cs := ColumnSummary{Column: col}
		seen := make(map[string]struct{})
		for _, row := range data {
			v := row[col]
			if v == nil {
				cs.NullCount++
				continue
			}
			key := fmt.Sprintf("%T:%v", v, v)
			if _, ok := seen[key]; ok {
				continue
			}
			if len(seen) >= maxUniqueTracked {
				cs.UniqueCapped = true
				continue
			}
			seen[key] = struct{}{}
		}
		cs.UniqueCount = len(seen)
		s.Columns = append(s.Columns, cs)
	}
	return s
}
