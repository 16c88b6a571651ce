// ABOUTME: In-memory destination used by tests and dry runs.
// ABOUTME: Records executed statements and the rows copied into each table.

package bulk

import (
	"context"
	"errors"
	"sync"

	"github.com/2389/sql-relay/internal/tabular"
)

// MemoryDestination holds tables keyed by "schema.table".
type MemoryDestination struct {
	mu         sync.Mutex
	statements []string
	tables     map[string]*tabular.Table

	// FailOpen, FailExec and FailCopy inject errors.
	FailOpen error
	FailExec error
	FailCopy error
	// FailCopyAfter lets that many CopyRows calls succeed before FailCopy applies.
	FailCopyAfter int

	copies int
}

// NewMemoryDestination creates an empty destination.
func NewMemoryDestination() *MemoryDestination {
	return &MemoryDestination{tables: make(map[string]*tabular.Table)}
}

// Open is an Opener.
func (m *MemoryDestination) Open(ctx context.Context, connString string) (Target, error) {
	if m.FailOpen != nil {
		return nil, m.FailOpen
	}
	return &memoryTarget{dest: m}, nil
}

// Statements returns executed DDL in order.
func (m *MemoryDestination) Statements() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statements...)
}

// Table returns a copy of the rows loaded into ref.
func (m *MemoryDestination) Table(ref TableRef) (*tabular.Table, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[ref.String()]
	if !ok {
		return nil, false
	}
	cp := tabular.New(append([]tabular.Column(nil), t.Columns...))
	cp.Rows = append(cp.Rows, t.Rows...)
	return cp, true
}

type memoryTarget struct {
	dest   *MemoryDestination
	closed bool
}

func (t *memoryTarget) Exec(ctx context.Context, sql string) error {
	m := t.dest
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailExec != nil {
		return m.FailExec
	}
	m.statements = append(m.statements, sql)
	return nil
}

func (t *memoryTarget) CopyRows(ctx context.Context, ref TableRef, columns []tabular.Column, names []string, rows [][]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m := t.dest
	m.mu.Lock()
	defer m.mu.Unlock()

	m.copies++
	if m.FailCopy != nil && m.copies > m.FailCopyAfter {
		return 0, m.FailCopy
	}

	tbl, ok := m.tables[ref.String()]
	if !ok {
		cols := make([]tabular.Column, len(columns))
		for i, c := range columns {
			cols[i] = tabular.Column{Name: names[i], Kind: c.Kind}
		}
		tbl = tabular.New(cols)
		m.tables[ref.String()] = tbl
	}
	tbl.Rows = append(tbl.Rows, rows...)
	return int64(len(rows)), nil
}

func (t *memoryTarget) Close(ctx context.Context) error {
	if t.closed {
		return errors.New("target already closed")
	}
	t.closed = true
	return nil
}
