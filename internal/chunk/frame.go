// ABOUTME: Chunk sub-protocol shared by the agent encoder and the relay decoder.
// ABOUTME: Classifies raw chunk text into control, schema, batch, summary or data frames.

package chunk

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/2389/sql-relay/internal/tabular"
)

// ErrProtocol marks a chunk that claims a typed prefix but cannot be parsed.
var ErrProtocol = errors.New("chunk protocol error")

// Kind identifies the class of a parsed frame.
type Kind int

const (
	KindData Kind = iota
	KindControl
	KindSchema
	KindBatch
	KindSummary
)

func (k Kind) String() string {
	switch k {
	case KindControl:
		return "control"
	case KindSchema:
		return "schema"
	case KindBatch:
		return "batch"
	case KindSummary:
		return "summary"
	default:
		return "data"
	}
}

// Wire prefixes.
const (
	SchemaPrefix  = "Schema:"
	BatchPrefix   = "Batch:"
	SummaryPrefix = "Summary:"
	ErrorPrefix   = "Error:"
)

// Status texts sent by the agent around a query. They are classified as control frames.
const (
	StreamStarting    = "Starting data stream from"
	QueryStarting     = "Starting query execution..."
	QueryCompleted    = "Query execution completed"
	QueryFailed       = "Query execution failed"
	StreamCompleted   = "Data stream completed"
	InvalidQueryIndex = "Invalid query index."
	NoConfiguration   = "No connection configuration available."
)

var controlPrefixes = []string{
	StreamStarting,
	QueryStarting,
	QueryCompleted,
	QueryFailed,
	StreamCompleted,
	ErrorPrefix,
}

// Summary marks the normal end of data for a streamed query.
type Summary struct {
	Batches   int `json:"batches"`
	TotalRows int `json:"totalRows"`
}

// Schema announces the columns of the batches that follow.
type Schema struct {
	Columns []tabular.Column `json:"columns"`
}

// Frame is the typed interpretation of one raw chunk.
type Frame struct {
	Kind Kind
	// Raw is the chunk text after trimming.
	Raw string
	// Payload holds the text after the prefix: the control text, schema JSON,
	// batch JSON or summary JSON.
	Payload string
	// Sequence is the batch number for batch frames.
	Sequence int

	Schema  *Schema
	Table   *tabular.Table
	Summary *Summary
}

// IsError reports whether this is a control frame carrying an agent-side error.
func (f Frame) IsError() bool {
	return f.Kind == KindControl && strings.HasPrefix(f.Raw, ErrorPrefix)
}

// Parse classifies a raw chunk. The first matching rule wins: control texts,
// then the Schema, Batch and Summary prefixes, then opaque data. A typed
// prefix with an unparseable body returns an error wrapping ErrProtocol.
func Parse(raw string) (Frame, error) {
	text := strings.TrimSpace(raw)
	frame := Frame{Kind: KindData, Raw: text, Payload: text}

	for _, p := range controlPrefixes {
		if strings.HasPrefix(text, p) {
			frame.Kind = KindControl
			return frame, nil
		}
	}

	switch {
	case strings.HasPrefix(text, SchemaPrefix):
		frame.Kind = KindSchema
		frame.Payload = strings.TrimSpace(text[len(SchemaPrefix):])
		var s Schema
		if err := json.Unmarshal([]byte(frame.Payload), &s); err != nil {
			return frame, fmt.Errorf("%w: schema: %v", ErrProtocol, err)
		}
		frame.Schema = &s

	case strings.HasPrefix(text, BatchPrefix):
		frame.Kind = KindBatch
		rest := text[len(BatchPrefix):]
		seq, body, ok := strings.Cut(rest, ":")
		if !ok {
			return frame, fmt.Errorf("%w: batch without sequence", ErrProtocol)
		}
		n, err := parseSequence(seq)
		if err != nil {
			return frame, err
		}
		frame.Sequence = n
		frame.Payload = strings.TrimSpace(body)
		tbl, err := tabular.Decode([]byte(frame.Payload))
		if err != nil {
			return frame, fmt.Errorf("%w: batch %d: %v", ErrProtocol, n, err)
		}
		frame.Table = tbl

	case strings.HasPrefix(text, SummaryPrefix):
		frame.Kind = KindSummary
		frame.Payload = strings.TrimSpace(text[len(SummaryPrefix):])
		var s Summary
		if err := json.Unmarshal([]byte(frame.Payload), &s); err != nil {
			return frame, fmt.Errorf("%w: summary: %v", ErrProtocol, err)
		}
		frame.Summary = &s
	}

	return frame, nil
}

func parseSequence(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: batch sequence %q", ErrProtocol, s)
	}
	return n, nil
}
