// ABOUTME: Ordered-column, ordered-row table with a declared value kind per column.
// ABOUTME: This is the wire payload of Batch frames and the accumulator of the bulk loader.

package tabular

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrColumnMismatch is returned when appending a table whose column set differs.
var ErrColumnMismatch = errors.New("column set mismatch")

// Kind is the declared value kind of a column.
type Kind string

const (
	KindString   Kind = "string"
	KindInt      Kind = "int"
	KindLong     Kind = "long"
	KindDecimal  Kind = "decimal"
	KindDouble   Kind = "double"
	KindDateTime Kind = "datetime"
	KindBool     Kind = "bool"
	KindOther    Kind = "other"
)

// Column is a named, typed column.
type Column struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Table is a page of tabular data. Cells hold canonical Go values:
// string, int32, int64, decimal text (string), float64, time.Time, bool, or nil.
type Table struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// New creates an empty table with the given columns.
func New(columns []Column) *Table {
	return &Table{Columns: columns, Rows: [][]any{}}
}

// RowCount returns the number of rows.
func (t *Table) RowCount() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// SameColumns reports whether both tables declare the same ordered column set.
func (t *Table) SameColumns(other *Table) bool {
	if len(t.Columns) != len(other.Columns) {
		return false
	}
	for i := range t.Columns {
		if t.Columns[i] != other.Columns[i] {
			return false
		}
	}
	return true
}

// Append adds the rows of other. The column sets must match exactly.
func (t *Table) Append(other *Table) error {
	if !t.SameColumns(other) {
		return fmt.Errorf("%w: have %v, got %v", ErrColumnMismatch, t.ColumnNames(), other.ColumnNames())
	}
	t.Rows = append(t.Rows, other.Rows...)
	return nil
}

// Page returns rows [offset, offset+size).
func (t *Table) Page(offset, size int) [][]any {
	if offset >= len(t.Rows) {
		return nil
	}
	end := offset + size
	if end > len(t.Rows) {
		end = len(t.Rows)
	}
	return t.Rows[offset:end]
}

// UnmarshalJSON decodes a table and converts every cell to the canonical
// value for its column kind.
func (t *Table) UnmarshalJSON(data []byte) error {
	var raw struct {
		Columns []Column            `json:"columns"`
		Rows    [][]json.RawMessage `json:"rows"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Columns == nil {
		return errors.New("table has no columns")
	}

	rows := make([][]any, len(raw.Rows))
	for i, rawRow := range raw.Rows {
		if len(rawRow) != len(raw.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(rawRow), len(raw.Columns))
		}
		row := make([]any, len(rawRow))
		for j, cell := range rawRow {
			v, err := decodeCell(raw.Columns[j].Kind, cell)
			if err != nil {
				return fmt.Errorf("row %d column %q: %w", i, raw.Columns[j].Name, err)
			}
			row[j] = v
		}
		rows[i] = row
	}

	t.Columns = raw.Columns
	t.Rows = rows
	return nil
}

// Decode parses a JSON-encoded table.
func Decode(data []byte) (*Table, error) {
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func decodeCell(kind Kind, cell json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(cell)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	switch kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return string(trimmed), nil

	case KindInt:
		n, err := parseInteger(v, 32)
		if err != nil {
			return nil, err
		}
		return int32(n), nil

	case KindLong:
		return parseInteger(v, 64)

	case KindDecimal:
		switch x := v.(type) {
		case json.Number:
			return x.String(), nil
		case string:
			if _, err := strconv.ParseFloat(x, 64); err != nil {
				return nil, fmt.Errorf("invalid decimal %q", x)
			}
			return x, nil
		}
		return nil, fmt.Errorf("invalid decimal %s", trimmed)

	case KindDouble:
		switch x := v.(type) {
		case json.Number:
			return x.Float64()
		case string:
			return strconv.ParseFloat(x, 64)
		}
		return nil, fmt.Errorf("invalid double %s", trimmed)

	case KindDateTime:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("invalid datetime %s", trimmed)
		}
		return parseDateTime(s)

	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("invalid bool %s", trimmed)
		}
		return b, nil
	}

	if s, ok := v.(string); ok {
		return s, nil
	}
	return string(trimmed), nil
}

func parseInteger(v any, bits int) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		return strconv.ParseInt(x.String(), 10, bits)
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, bits)
	}
	return 0, fmt.Errorf("invalid integer %v", v)
}

func parseDateTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", s)
}
