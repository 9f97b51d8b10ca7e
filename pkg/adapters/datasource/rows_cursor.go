package datasource

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/results"
)

var stringTypes = map[string]bool{
	"CHAR": true, "NCHAR": true, "VARCHAR": true, "NVARCHAR": true,
	"TEXT": true, "NTEXT": true, "CLOB": true,
}

// rowsCursor adapts *sql.Rows to results.Cursor.
type rowsCursor struct {
	rows    *sql.Rows
	columns []results.ColumnDescriptor
	convert ValueConverter
	closed  bool
}

func newRowsCursor(rows *sql.Rows, convert ValueConverter) (*rowsCursor, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]results.ColumnDescriptor, len(columnTypes))
	for i, ct := range columnTypes {
		columns[i] = results.ColumnDescriptor{
			Name:         ct.Name(),
			DatabaseType: strings.ToUpper(ct.DatabaseTypeName()),
		}
	}

	return &rowsCursor{rows: rows, columns: columns, convert: convert}, nil
}

func (c *rowsCursor) Columns() []results.ColumnDescriptor { return c.columns }

func (c *rowsCursor) Next() bool { return c.rows.Next() }

func (c *rowsCursor) Values() ([]any, error) {
	values := make([]any, len(c.columns))
	valuePtrs := make([]any, len(c.columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := c.rows.Scan(valuePtrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	for i, val := range values {
		if val == nil {
			continue
		}
		dbType := c.columns[i].DatabaseType
		// Drivers hand back text columns as []byte
		if b, ok := val.([]byte); ok && stringTypes[baseTypeName(dbType)] {
			values[i] = string(b)
			continue
		}
		if c.convert != nil {
			values[i] = c.convert(dbType, val)
		}
	}
	return values, nil
}

func (c *rowsCursor) Err() error { return c.rows.Err() }

func (c *rowsCursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	_ = c.rows.Close()
}

// baseTypeName strips a length or precision suffix: VARCHAR(20) -> VARCHAR.
func baseTypeName(dbType string) string {
	if i := strings.IndexByte(dbType, '('); i >= 0 {
		return strings.TrimSpace(dbType[:i])
	}
	return dbType
}
