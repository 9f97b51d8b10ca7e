package mssql

import (
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"
)

// isDecimalType reports types the driver returns as decimal text.
func isDecimalType(sqlType string) bool {
	switch strings.ToUpper(sqlType) {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return true
	}
	return false
}

// convertValue turns driver-specific raw values into portable ones.
// UNIQUEIDENTIFIER bytes use SQL Server's mixed-endian layout and are
// decoded to the canonical string form; decimals arrive as text bytes.
func convertValue(databaseType string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}

	switch {
	case strings.EqualFold(databaseType, "UNIQUEIDENTIFIER"):
		var id mssqldb.UniqueIdentifier
		if err := id.Scan(b); err == nil {
			return id.String()
		}
	case isDecimalType(databaseType):
		return string(b)
	case strings.EqualFold(databaseType, "XML"):
		return string(b)
	}
	return v
}
