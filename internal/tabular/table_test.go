// ABOUTME: Tests for table decoding, per-kind normalization and appending.
// ABOUTME: Covers malformed rows, mismatched columns and paging.

package tabular

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_NormalizesKinds(t *testing.T) {
	raw := `{"columns":[
		{"name":"Id","kind":"int"},
		{"name":"Big","kind":"long"},
		{"name":"Price","kind":"decimal"},
		{"name":"Ratio","kind":"double"},
		{"name":"At","kind":"datetime"},
		{"name":"Active","kind":"bool"},
		{"name":"Name","kind":"string"},
		{"name":"Blob","kind":"other"}
	],"rows":[[7, 9007199254740993, 12.50, 0.25, "2024-03-01T10:00:00Z", true, "alice", "x"]]}`

	tbl, err := Decode([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, 1, tbl.RowCount())

	row := tbl.Rows[0]
	assert.Equal(t, int32(7), row[0])
	assert.Equal(t, int64(9007199254740993), row[1])
	assert.Equal(t, "12.50", row[2])
	assert.Equal(t, 0.25, row[3])
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), row[4])
	assert.Equal(t, true, row[5])
	assert.Equal(t, "alice", row[6])
	assert.Equal(t, "x", row[7])
}

func TestDecode_NullCells(t *testing.T) {
	tbl, err := Decode([]byte(`{"columns":[{"name":"a","kind":"int"},{"name":"b","kind":"string"}],"rows":[[null,null]]}`))
	require.NoError(t, err)
	assert.Nil(t, tbl.Rows[0][0])
	assert.Nil(t, tbl.Rows[0][1])
}

func TestDecode_DateTimeWithoutZone(t *testing.T) {
	tbl, err := Decode([]byte(`{"columns":[{"name":"d","kind":"datetime"}],"rows":[["2024-01-02 03:04:05"]]}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), tbl.Rows[0][0])
}

func TestDecode_Errors(t *testing.T) {
	cases := map[string]string{
		"not json":       `{bad`,
		"no columns":     `{"rows":[]}`,
		"short row":      `{"columns":[{"name":"a","kind":"int"},{"name":"b","kind":"int"}],"rows":[[1]]}`,
		"int overflow":   `{"columns":[{"name":"a","kind":"int"}],"rows":[[3000000000]]}`,
		"bad bool":       `{"columns":[{"name":"a","kind":"bool"}],"rows":[["yes"]]}`,
		"bad datetime":   `{"columns":[{"name":"a","kind":"datetime"}],"rows":[["yesterday"]]}`,
		"bad decimal":    `{"columns":[{"name":"a","kind":"decimal"}],"rows":[["abc"]]}`,
		"fractional int": `{"columns":[{"name":"a","kind":"long"}],"rows":[[1.5]]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestDecode_EmptyRows(t *testing.T) {
	tbl, err := Decode([]byte(`{"columns":[{"name":"a","kind":"string"}],"rows":[]}`))
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.RowCount())
	assert.Equal(t, []string{"a"}, tbl.ColumnNames())
}

func TestTable_RoundTripKeepsValues(t *testing.T) {
	tbl := New([]Column{{Name: "id", Kind: KindLong}, {Name: "amount", Kind: KindDecimal}})
	tbl.Rows = append(tbl.Rows, []any{int64(1), "3.10"})

	data, err := json.Marshal(tbl)
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, tbl.Rows, back.Rows)
}

func TestTable_Append(t *testing.T) {
	cols := []Column{{Name: "id", Kind: KindInt}}
	a := New(cols)
	a.Rows = append(a.Rows, []any{int32(1)})
	b := New(cols)
	b.Rows = append(b.Rows, []any{int32(2)}, []any{int32(3)})

	require.NoError(t, a.Append(b))
	assert.Equal(t, 3, a.RowCount())

	other := New([]Column{{Name: "id", Kind: KindLong}})
	err := a.Append(other)
	assert.ErrorIs(t, err, ErrColumnMismatch)
	assert.Equal(t, 3, a.RowCount())
}

func TestTable_Page(t *testing.T) {
	tbl := New([]Column{{Name: "n", Kind: KindInt}})
	for i := range 1010 {
		tbl.Rows = append(tbl.Rows, []any{int32(i)})
	}

	assert.Len(t, tbl.Page(0, 500), 500)
	assert.Len(t, tbl.Page(500, 500), 500)
	assert.Len(t, tbl.Page(1000, 500), 10)
	assert.Nil(t, tbl.Page(1010, 500))
}

func TestKindFromDatabaseType(t *testing.T) {
	assert.Equal(t, KindInt, KindFromDatabaseType("int4"))
	assert.Equal(t, KindLong, KindFromDatabaseType("BIGINT"))
	assert.Equal(t, KindDecimal, KindFromDatabaseType("numeric(18,2)"))
	assert.Equal(t, KindDouble, KindFromDatabaseType("FLOAT8"))
	assert.Equal(t, KindDateTime, KindFromDatabaseType("TIMESTAMPTZ"))
	assert.Equal(t, KindBool, KindFromDatabaseType("bool"))
	assert.Equal(t, KindString, KindFromDatabaseType("VARCHAR"))
	assert.Equal(t, KindOther, KindFromDatabaseType("JSONB"))
}
