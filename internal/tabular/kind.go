// ABOUTME: Maps driver-reported column type names to tabular kinds.
// ABOUTME: Used by the agent when describing a result set.

package tabular

import "strings"

// KindFromDatabaseType maps a database/sql DatabaseTypeName to a Kind.
// Unknown names map to KindOther.
func KindFromDatabaseType(name string) Kind {
	n := strings.ToUpper(strings.TrimSpace(name))
	if i := strings.IndexByte(n, '('); i >= 0 {
		n = n[:i]
	}

	switch n {
	case "INT", "INT2", "INT4", "SMALLINT", "TINYINT", "MEDIUMINT":
		return KindInt
	case "INT8", "BIGINT", "INTEGER":
		return KindLong
	case "NUMERIC", "DECIMAL", "MONEY", "SMALLMONEY":
		return KindDecimal
	case "FLOAT", "FLOAT4", "FLOAT8", "REAL", "DOUBLE", "DOUBLE PRECISION":
		return KindDouble
	case "DATE", "DATETIME", "DATETIME2", "SMALLDATETIME", "TIMESTAMP", "TIMESTAMPTZ", "DATETIMEOFFSET":
		return KindDateTime
	case "BOOL", "BOOLEAN", "BIT":
		return KindBool
	case "TEXT", "VARCHAR", "NVARCHAR", "CHAR", "NCHAR", "BPCHAR", "NTEXT", "UUID", "UNIQUEIDENTIFIER", "NAME", "CLOB":
		return KindString
	}
	return KindOther
}
