// ABOUTME: DDL generation for the destination table from the first accumulated page.
// ABOUTME: Maps column kinds to PostgreSQL types; every column is nullable.

package bulk

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/2389/sql-relay/internal/tabular"
)

// ColumnType maps a value kind to its destination column type.
// Unrecognized kinds fall back to TEXT.
func ColumnType(k tabular.Kind) string {
	switch k {
	case tabular.KindString:
		return "TEXT"
	case tabular.KindInt:
		return "INTEGER"
	case tabular.KindLong:
		return "BIGINT"
	case tabular.KindDecimal:
		return "NUMERIC(18,2)"
	case tabular.KindDouble:
		return "DOUBLE PRECISION"
	case tabular.KindDateTime:
		return "TIMESTAMP"
	case tabular.KindBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// ColumnNames returns the destination column names. Blank names become
// ColumnN, N being the 1-based position.
func ColumnNames(columns []tabular.Column) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			name = fmt.Sprintf("Column%d", i+1)
		}
		names[i] = name
	}
	return names
}

// CreateSchemaSQL returns the statement creating schema if missing.
func CreateSchemaSQL(schema string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{schema}.Sanitize()
}

// DropTableSQL returns the statement dropping ref if present.
func DropTableSQL(ref TableRef) string {
	return "DROP TABLE IF EXISTS " + ref.Quoted()
}

// CreateTableSQL returns the CREATE TABLE statement for columns.
func CreateTableSQL(ref TableRef, columns []tabular.Column) string {
	names := ColumnNames(columns)
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = fmt.Sprintf("%s %s NULL", pgx.Identifier{names[i]}.Sanitize(), ColumnType(c.Kind))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", ref.Quoted(), strings.Join(defs, ", "))
}
