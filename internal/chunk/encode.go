// ABOUTME: Encoders for the typed chunk prefixes, used by the agent executor.
// ABOUTME: Parse in frame.go is the inverse of every function here.

package chunk

import (
	"encoding/json"
	"fmt"

	"github.com/2389/sql-relay/internal/tabular"
)

// EncodeSchema renders a Schema: chunk.
func EncodeSchema(columns []tabular.Column) (string, error) {
	data, err := json.Marshal(Schema{Columns: columns})
	if err != nil {
		return "", fmt.Errorf("encoding schema: %w", err)
	}
	return SchemaPrefix + string(data), nil
}

// EncodeBatch renders a Batch:<seq>: chunk carrying one table page.
func EncodeBatch(seq int, page *tabular.Table) (string, error) {
	data, err := json.Marshal(page)
	if err != nil {
		return "", fmt.Errorf("encoding batch %d: %w", seq, err)
	}
	return fmt.Sprintf("%s%d:%s", BatchPrefix, seq, data), nil
}

// EncodeSummary renders a Summary: chunk.
func EncodeSummary(batches, totalRows int) string {
	data, _ := json.Marshal(Summary{Batches: batches, TotalRows: totalRows})
	return SummaryPrefix + string(data)
}

// EncodeError renders an Error: control chunk.
func EncodeError(err error) string {
	return ErrorPrefix + " " + err.Error()
}
