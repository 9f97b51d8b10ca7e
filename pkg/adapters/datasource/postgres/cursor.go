package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/results"
)

// cursor adapts pgx.Rows to results.Cursor.
type cursor struct {
	rows    pgx.Rows
	backend string
	columns []results.ColumnDescriptor
}

func (c *cursor) Columns() []results.ColumnDescriptor {
	if c.columns == nil {
		fieldDescs := c.rows.FieldDescriptions()
		c.columns = make([]results.ColumnDescriptor, len(fieldDescs))
		for i, fd := range fieldDescs {
			c.columns[i] = results.ColumnDescriptor{
				Name:         fd.Name,
				DatabaseType: pgTypeNameFromOID(fd.DataTypeOID),
			}
		}
	}
	return c.columns
}

func (c *cursor) Next() bool { return c.rows.Next() }

func (c *cursor) Values() ([]any, error) {
	values, err := c.rows.Values()
	if err != nil {
		return nil, fmt.Errorf("failed to read row values: %w", err)
	}
	return values, nil
}

func (c *cursor) Err() error {
	return datasource.WrapError(c.backend, "query", c.rows.Err(), classifyError)
}

func (c *cursor) Close() { c.rows.Close() }

// pgTypeNameFromOID maps PostgreSQL type OIDs to type names.
// Unknown types return "UNKNOWN".
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 17:
		return "BYTEA"
	case 18:
		return "CHAR"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 25:
		return "TEXT"
	case 26:
		return "OID"
	case 114:
		return "JSON"
	case 142:
		return "XML"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 790:
		return "MONEY"
	case 1042:
		return "BPCHAR"
	case 1043:
		return "VARCHAR"
	case 1082:
		return "DATE"
	case 1083:
		return "TIME"
	case 1114:
		return "TIMESTAMP"
	case 1184:
		return "TIMESTAMPTZ"
	case 1186:
		return "INTERVAL"
	case 1266:
		return "TIMETZ"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	case 3802:
		return "JSONB"
	case 1000:
		return "BOOL[]"
	case 1005:
		return "INT2[]"
	case 1007:
		return "INT4[]"
	case 1016:
		return "INT8[]"
	case 1009:
		return "TEXT[]"
	case 1015:
		return "VARCHAR[]"
	case 1021:
		return "FLOAT4[]"
	case 1022:
		return "FLOAT8[]"
	case 2951:
		return "UUID[]"
	case 3807:
		return "JSONB[]"
	default:
		return "UNKNOWN"
	}
}
