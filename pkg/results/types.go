package results

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

var logicalTypesByName = map[string]models.LogicalType{
	"BOOL":    models.LogicalTypeBoolean,
	"BOOLEAN": models.LogicalTypeBoolean,
	"BIT":     models.LogicalTypeBoolean,

	"INT2":      models.LogicalTypeInteger,
	"INT4":      models.LogicalTypeInteger,
	"INT":       models.LogicalTypeInteger,
	"INTEGER":   models.LogicalTypeInteger,
	"SMALLINT":  models.LogicalTypeInteger,
	"TINYINT":   models.LogicalTypeInteger,
	"MEDIUMINT": models.LogicalTypeInteger,
	"SERIAL":    models.LogicalTypeInteger,

	"INT8":      models.LogicalTypeBigInt,
	"BIGINT":    models.LogicalTypeBigInt,
	"BIGSERIAL": models.LogicalTypeBigInt,
	"OID":       models.LogicalTypeBigInt,

	"FLOAT4": models.LogicalTypeFloat,
	"REAL":   models.LogicalTypeFloat,

	"FLOAT8":           models.LogicalTypeDouble,
	"FLOAT":            models.LogicalTypeDouble,
	"DOUBLE":           models.LogicalTypeDouble,
	"DOUBLE PRECISION": models.LogicalTypeDouble,

	"NUMERIC":    models.LogicalTypeDecimal,
	"DECIMAL":    models.LogicalTypeDecimal,
	"MONEY":      models.LogicalTypeDecimal,
	"SMALLMONEY": models.LogicalTypeDecimal,

	"DATE": models.LogicalTypeDate,

	"TIME":   models.LogicalTypeTime,
	"TIMETZ": models.LogicalTypeTime,

	"TIMESTAMP":      models.LogicalTypeTimestamp,
	"TIMESTAMPTZ":    models.LogicalTypeTimestamp,
	"DATETIME":       models.LogicalTypeTimestamp,
	"DATETIME2":      models.LogicalTypeTimestamp,
	"SMALLDATETIME":  models.LogicalTypeTimestamp,
	"DATETIMEOFFSET": models.LogicalTypeTimestamp,

	"CHAR":             models.LogicalTypeString,
	"BPCHAR":           models.LogicalTypeString,
	"NCHAR":            models.LogicalTypeString,
	"VARCHAR":          models.LogicalTypeString,
	"NVARCHAR":         models.LogicalTypeString,
	"TEXT":             models.LogicalTypeString,
	"STRING":           models.LogicalTypeString,
	"UUID":             models.LogicalTypeString,
	"UNIQUEIDENTIFIER": models.LogicalTypeString,

	"NTEXT":      models.LogicalTypeClob,
	"CLOB":       models.LogicalTypeClob,
	"NCLOB":      models.LogicalTypeClob,
	"MEDIUMTEXT": models.LogicalTypeClob,
	"LONGTEXT":   models.LogicalTypeClob,

	"BYTEA":     models.LogicalTypeBinary,
	"BINARY":    models.LogicalTypeBinary,
	"VARBINARY": models.LogicalTypeBinary,

	"BLOB":     models.LogicalTypeBlob,
	"IMAGE":    models.LogicalTypeBlob,
	"LONGBLOB": models.LogicalTypeBlob,

	"JSON":     models.LogicalTypeObject,
	"JSONB":    models.LogicalTypeObject,
	"XML":      models.LogicalTypeObject,
	"INTERVAL": models.LogicalTypeObject,
}

// LogicalTypeFromName maps a driver type name (as reported by pgx,
// go-mssqldb or sqlite) onto a logical type. Size modifiers such as
// VARCHAR(20) are ignored. An empty result means the name was not
// recognized and the type should be taken from the values.
func LogicalTypeFromName(name string) models.LogicalType {
	n := strings.ToUpper(strings.TrimSpace(name))
	if i := strings.IndexByte(n, '('); i >= 0 {
		n = strings.TrimSpace(n[:i])
	}
	n = strings.TrimSpace(strings.TrimSuffix(n, "UNSIGNED"))
	if n == "" || n == "UNKNOWN" {
		return ""
	}
	if strings.HasSuffix(n, "[]") || strings.HasPrefix(n, "_") {
		return models.LogicalTypeObject
	}
	if t, ok := logicalTypesByName[n]; ok {
		return t
	}
	switch {
	case strings.Contains(n, "CHAR"), strings.Contains(n, "TEXT"):
		return models.LogicalTypeString
	case strings.Contains(n, "INT"):
		return models.LogicalTypeInteger
	case strings.Contains(n, "TIMESTAMP"):
		return models.LogicalTypeTimestamp
	}
	return ""
}

// LogicalTypeOfValue infers a logical type from a normalized value.
func LogicalTypeOfValue(v any) models.LogicalType {
	switch v.(type) {
	case bool:
		return models.LogicalTypeBoolean
	case int64:
		return models.LogicalTypeBigInt
	case float64:
		return models.LogicalTypeDouble
	case decimal.Decimal:
		return models.LogicalTypeDecimal
	case time.Time:
		return models.LogicalTypeTimestamp
	case string:
		return models.LogicalTypeString
	case []byte:
		return models.LogicalTypeBinary
	}
	return models.LogicalTypeObject
}

// Normalize converts a raw driver value into one of the small set of Go
// types results carry: nil, bool, int64, float64, decimal.Decimal,
// time.Time, string, []byte, or a JSON-compatible map/slice.
func Normalize(v any, typ models.LogicalType) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, int64, float64, time.Time, decimal.Decimal:
		return coerceDecimal(val, typ)
	case string:
		return coerceDecimal(val, typ)
	case []byte:
		if typ == models.LogicalTypeBinary || typ == models.LogicalTypeBlob {
			return append([]byte(nil), val...)
		}
		return coerceDecimal(string(val), typ)
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val <= math.MaxInt64 {
			return int64(val)
		}
		return decimal.RequireFromString(strconv.FormatUint(val, 10))
	case float32:
		return float64(val)
	case [16]byte:
		return uuid.UUID(val).String()
	case uuid.UUID:
		return val.String()
	case pgtype.Numeric:
		return normalizeNumeric(val)
	case pgtype.Time:
		if !val.Valid {
			return nil
		}
		d := time.Duration(val.Microseconds) * time.Microsecond
		return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	case map[string]any, []any:
		return val
	case driver.Valuer:
		inner, err := val.Value()
		if err != nil {
			return fmt.Sprint(v)
		}
		return Normalize(inner, typ)
	}
	return fmt.Sprint(v)
}

func coerceDecimal(v any, typ models.LogicalType) any {
	if typ != models.LogicalTypeDecimal {
		return v
	}
	switch val := v.(type) {
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(val)); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(val)
	case int64:
		return decimal.NewFromInt(val)
	}
	return v
}

func normalizeNumeric(n pgtype.Numeric) any {
	switch {
	case !n.Valid:
		return nil
	case n.NaN:
		return "NaN"
	case n.InfinityModifier == pgtype.Infinity:
		return "Infinity"
	case n.InfinityModifier == pgtype.NegativeInfinity:
		return "-Infinity"
	case n.Int == nil:
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
