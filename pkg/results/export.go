package results

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

// ExportFormat selects the output of Export.
type ExportFormat string

const (
	FormatCSV   ExportFormat = "CSV"
	FormatJSON  ExportFormat = "JSON"
	FormatYAML  ExportFormat = "YAML"
	FormatExcel ExportFormat = "EXCEL"
)

var ErrExportNotSupported = errors.New("export format not supported")

// Export renders rows in the requested format. Columns fix the field order;
// when empty, the keys of the first row are used in sorted order.
func Export(data []models.Row, columns []string, format ExportFormat) ([]byte, error) {
	if len(columns) == 0 && len(data) > 0 {
		columns = sortedKeys(data[0])
	}
	switch ExportFormat(strings.ToUpper(string(format))) {
	case FormatCSV:
		return exportCSV(data, columns)
	case FormatJSON:
		return exportJSON(data, columns)
	case FormatYAML:
		return exportYAML(data, columns)
	case FormatExcel:
		return nil, fmt.Errorf("%w: %s", ErrExportNotSupported, FormatExcel)
	}
	return nil, fmt.Errorf("%w: %s", ErrExportNotSupported, format)
}

func exportCSV(data []models.Row, columns []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(columns))
	for _, row := range data {
		for i, col := range columns {
			record[i] = cellText(row[col])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// exportJSON writes an array of objects. Each object keeps column order,
// which a plain map would lose.
func exportJSON(data []models.Row, columns []string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range data {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, col := range columns {
			if j > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(col)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(row[col])
			if err != nil {
				return nil, fmt.Errorf("encode column %s: %w", col, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// exportYAML writes a sequence of mappings in column order.
func exportYAML(data []models.Row, columns []string) ([]byte, error) {
	doc := &yaml.Node{Kind: yaml.SequenceNode}
	for _, row := range data {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for _, col := range columns {
			var val yaml.Node
			if err := val.Encode(yamlValue(row[col])); err != nil {
				return nil, fmt.Errorf("encode column %s: %w", col, err)
			}
			m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: col}, &val)
		}
		doc.Content = append(doc.Content, m)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("flush yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// yamlValue maps values yaml.v3 has no natural form for onto strings.
func yamlValue(v any) any {
	switch val := v.(type) {
	case time.Time, []byte, decimal.Decimal:
		return cellText(val)
	}
	return v
}

func cellText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
	return cast.ToString(v)
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []models.ColumnInfo) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func sortedKeys(row models.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
