// ABOUTME: Infers the destination schema and table from the source query text.
// ABOUTME: Finds the reference after FROM, strips quoting and applies the dbo/last-two-parts policy.

package bulk

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

// DefaultSchema is used when the table reference has no schema qualifier.
const DefaultSchema = "dbo"

// ErrSchemaInference is returned when no usable table reference is found.
var ErrSchemaInference = errors.New("cannot infer destination table")

// TableRef is a schema-qualified table name.
type TableRef struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

// String renders schema.table without quoting.
func (r TableRef) String() string {
	return r.Schema + "." + r.Table
}

// Identifier returns the pgx identifier for the table.
func (r TableRef) Identifier() pgx.Identifier {
	return pgx.Identifier{r.Schema, r.Table}
}

// Quoted renders the safely quoted "schema"."table".
func (r TableRef) Quoted() string {
	return r.Identifier().Sanitize()
}

// A name part is a [bracketed], "quoted" or `backticked` identifier, or a bare run of
// characters that cannot end a table reference. Single quotes are excluded so a FROM
// inside a string literal never matches.
const namePart = "(?:\\[[^\\]]+\\]|\"[^\"]+\"|`[^`]+`|[^\\s,;()\\[\\]\"`.']+)"

// stringLiteral matches a single-quoted SQL literal, including doubled-quote escapes.
var stringLiteral = regexp.MustCompile(`'(?:[^']|'')*'`)

var fromPattern = regexp.MustCompile(`(?is)\bFROM\s+(` + namePart + `(?:\s*\.\s*` + namePart + `)*)`)

// InferTable finds the first table referenced after FROM in query.
//
//	SELECT * FROM Widgets               -> dbo.Widgets
//	SELECT * FROM dbo.Customers         -> dbo.Customers
//	SELECT * FROM [MyDb].[sales].[Orders] -> sales.Orders
func InferTable(query string) (TableRef, error) {
	m := fromPattern.FindStringSubmatch(stringLiteral.ReplaceAllString(query, "''"))
	if m == nil {
		return TableRef{}, fmt.Errorf("%w: no FROM clause in query", ErrSchemaInference)
	}
	return ParseTableName(m[1])
}

// ParseTableName splits a possibly quoted dotted name using the same policy
// as InferTable: one part gets the default schema, two parts are
// schema.table, and three or more keep the last two.
func ParseTableName(name string) (TableRef, error) {
	var parts []string
	for _, p := range splitName(name) {
		p = strings.Trim(strings.TrimSpace(p), "[]\"`")
		p = strings.TrimSpace(p)
		if p == "" {
			return TableRef{}, fmt.Errorf("%w: empty name part in %q", ErrSchemaInference, name)
		}
		parts = append(parts, p)
	}

	switch len(parts) {
	case 0:
		return TableRef{}, fmt.Errorf("%w: empty table name", ErrSchemaInference)
	case 1:
		return TableRef{Schema: DefaultSchema, Table: parts[0]}, nil
	default:
		n := len(parts)
		return TableRef{Schema: parts[n-2], Table: parts[n-1]}, nil
	}
}

// splitName splits on dots that are outside brackets and quotes.
func splitName(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	var parts []string
	var cur strings.Builder
	var closer rune
	for _, r := range name {
		switch {
		case closer != 0:
			cur.WriteRune(r)
			if r == closer {
				closer = 0
			}
		case r == '[':
			closer = ']'
			cur.WriteRune(r)
		case r == '"' || r == '`':
			closer = r
			cur.WriteRune(r)
		case r == '.':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(parts, cur.String())
}
