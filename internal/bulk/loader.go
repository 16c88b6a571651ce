// ABOUTME: Bulk loader: replaces the destination table and copies accumulated rows in pages.
// ABOUTME: Each step fails with its own sentinel error; copied pages are not rolled back.

package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/sql-relay/internal/tabular"
)

const (
	// DefaultPageSize is the number of rows per bulk-copy call.
	DefaultPageSize = 500
	// DefaultPageTimeout bounds a single bulk-copy call.
	DefaultPageTimeout = 300 * time.Second
)

var (
	// ErrDestinationUnavailable covers a missing destination or a failed connection.
	ErrDestinationUnavailable = errors.New("destination unavailable")
	// ErrDDL covers schema creation, drop and create table failures.
	ErrDDL = errors.New("ddl execution failed")
	// ErrBulkCopy covers failures while copying rows.
	ErrBulkCopy = errors.New("bulk copy failed")
)

// Target is an open connection to a destination database.
type Target interface {
	Exec(ctx context.Context, sql string) error
	CopyRows(ctx context.Context, ref TableRef, columns []tabular.Column, names []string, rows [][]any) (int64, error)
	Close(ctx context.Context) error
}

// Opener opens a Target for a connection string.
type Opener func(ctx context.Context, connString string) (Target, error)

// RowsObserver is told how many rows each page copied. Used for metrics.
type RowsObserver interface {
	RowsLoaded(ctx context.Context, n int64)
}

// Loader creates destination tables and copies rows into them.
type Loader struct {
	open        Opener
	pageSize    int
	pageTimeout time.Duration
	observer    RowsObserver
	logger      *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithPageSize overrides DefaultPageSize.
func WithPageSize(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

// WithPageTimeout overrides DefaultPageTimeout.
func WithPageTimeout(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.pageTimeout = d
		}
	}
}

// WithObserver sets a RowsObserver.
func WithObserver(o RowsObserver) Option {
	return func(l *Loader) { l.observer = o }
}

// NewLoader creates a Loader using open to reach destinations.
func NewLoader(open Opener, logger *slog.Logger, opts ...Option) *Loader {
	l := &Loader{
		open:        open,
		pageSize:    DefaultPageSize,
		pageTimeout: DefaultPageTimeout,
		logger:      logger.With("component", "bulk"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// PageSize returns the configured rows per page.
func (l *Loader) PageSize() int {
	return l.pageSize
}

// Load is one table replacement in progress. It owns the destination
// connection until Close.
type Load struct {
	Table   TableRef
	Columns []tabular.Column

	loader *Loader
	target Target
	names  []string
}

// Begin connects to the destination, creates the schema if missing, drops
// any existing table of the same name and creates it from columns.
func (l *Loader) Begin(ctx context.Context, connString string, ref TableRef, columns []tabular.Column) (*Load, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no columns to create %s", ErrDDL, ref)
	}

	target, err := l.open(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDestinationUnavailable, err)
	}

	steps := []string{
		CreateSchemaSQL(ref.Schema),
		DropTableSQL(ref),
		CreateTableSQL(ref, columns),
	}
	for _, stmt := range steps {
		if err := target.Exec(ctx, stmt); err != nil {
			_ = target.Close(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("%w: %s: %w", ErrDDL, stmt, err)
		}
	}

	l.logger.Info("destination table created", "table", ref.String(), "columns", len(columns))
	return &Load{
		Table:   ref,
		Columns: columns,
		loader:  l,
		target:  target,
		names:   ColumnNames(columns),
	}, nil
}

// Insert copies rows in pages. It returns the number of rows copied before
// any failure.
func (ld *Load) Insert(ctx context.Context, rows [][]any) (int64, error) {
	l := ld.loader
	var total int64

	for offset := 0; offset < len(rows); offset += l.pageSize {
		end := min(offset+l.pageSize, len(rows))

		pageCtx, cancel := context.WithTimeout(ctx, l.pageTimeout)
		n, err := ld.target.CopyRows(pageCtx, ld.Table, ld.Columns, ld.names, rows[offset:end])
		cancel()

		total += n
		if l.observer != nil && n > 0 {
			l.observer.RowsLoaded(ctx, n)
		}
		if err != nil {
			return total, fmt.Errorf("%w: rows %d-%d of %s: %w", ErrBulkCopy, offset, end, ld.Table, err)
		}
		l.logger.Debug("page copied", "table", ld.Table.String(), "rows", n, "total", total)
	}

	l.logger.Info("destination rows inserted", "table", ld.Table.String(), "rows", total)
	return total, nil
}

// Close releases the destination connection.
func (ld *Load) Close(ctx context.Context) error {
	return ld.target.Close(ctx)
}
