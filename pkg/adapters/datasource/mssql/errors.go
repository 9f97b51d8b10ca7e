package mssql

import (
	"errors"
	"strconv"

	mssqldb "github.com/microsoft/go-mssqldb"
)

// classifyError extracts the SQL Server error number and message.
func classifyError(err error) (string, string, bool) {
	var msErr mssqldb.Error
	if errors.As(err, &msErr) {
		return strconv.FormatInt(int64(msErr.Number), 10), msErr.Message, true
	}
	var msErrPtr *mssqldb.Error
	if errors.As(err, &msErrPtr) {
		return strconv.FormatInt(int64(msErrPtr.Number), 10), msErrPtr.Message, true
	}
	return "", "", false
}
