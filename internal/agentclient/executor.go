// ABOUTME: Runs configured queries against the agent's local database via database/sql
// ABOUTME: Produces full JSON results, connectivity test texts and paged chunk streams

package agentclient

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/2389/sql-relay/internal/chunk"
	"github.com/2389/sql-relay/internal/tabular"
	"github.com/2389/sql-relay/proto/relay"
)

const (
	// DefaultPageSize is the number of rows per Batch chunk.
	DefaultPageSize = 500
	// DefaultQueryTimeout bounds a single query execution.
	DefaultQueryTimeout = 300 * time.Second
)

// Result texts reported back to the relay.
const (
	ConnectionSuccessful = "Connection successful."
	ConnectionErrorText  = "Connection error: "
	NoConnectionString   = "No connection string configured."
)

// ChunkSender delivers one chunk; last marks the end of the stream.
type ChunkSender func(data string, last bool) error

// OpenFunc opens a database handle for a connection string.
type OpenFunc func(dsn string) (*sql.DB, error)

// Executor runs SQL on behalf of relay commands. Every operation opens its
// own handle and closes it before returning.
type Executor struct {
	open         OpenFunc
	pageSize     int
	queryTimeout time.Duration
	logger       *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithOpenFunc replaces the driver selection.
func WithOpenFunc(fn OpenFunc) ExecutorOption {
	return func(e *Executor) {
		if fn != nil {
			e.open = fn
		}
	}
}

// WithStreamPageSize sets the rows per Batch chunk.
func WithStreamPageSize(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithQueryTimeout sets the per-query timeout.
func WithQueryTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.queryTimeout = d
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(logger *slog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		open:         OpenDatabase,
		pageSize:     DefaultPageSize,
		queryTimeout: DefaultQueryTimeout,
		logger:       logger.With("component", "executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OpenDatabase picks a driver from the shape of dsn: postgres URLs and
// keyword DSNs go to pgx, file paths and sqlite: URLs go to sqlite.
func OpenDatabase(dsn string) (*sql.DB, error) {
	driver, source := DriverFor(dsn)
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	return db, nil
}

// DriverFor returns the database/sql driver name and data source for dsn.
func DriverFor(dsn string) (driver, source string) {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "pgx", d
	case strings.HasPrefix(lower, "sqlite://"):
		return "sqlite", d[len("sqlite://"):]
	case strings.HasPrefix(lower, "sqlite:"):
		return "sqlite", d[len("sqlite:"):]
	case strings.HasPrefix(lower, "file:"), d == ":memory:",
		strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return "sqlite", d
	}
	return "pgx", d
}

// RunQuery executes the query at queryIndex of the first connection, or
// every query of every connection when queryIndex is empty or not a number.
// The result is a JSON array with one table or "Error: ..." string per query.
func (e *Executor) RunQuery(ctx context.Context, cfg *relay.AgentConfiguration, queryIndex string) string {
	var results []any

	switch {
	case cfg == nil || len(cfg.Connections) == 0:
		results = append(results, chunk.NoConfiguration)

	default:
		idx, err := strconv.Atoi(strings.TrimSpace(queryIndex))
		if err != nil {
			for _, conn := range cfg.Connections {
				for _, q := range conn.Queries {
					results = append(results, e.queryResult(ctx, conn.ConnectionString, q))
				}
			}
			break
		}

		conn := cfg.Connections[0]
		if idx < 0 || idx >= len(conn.Queries) {
			results = append(results, chunk.InvalidQueryIndex)
			break
		}
		results = append(results, e.queryResult(ctx, conn.ConnectionString, conn.Queries[idx]))
	}

	if results == nil {
		results = []any{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		e.logger.Error("encoding full result", "error", err)
		data, _ = json.Marshal([]string{chunk.ErrorPrefix + " " + err.Error()})
	}
	return string(data)
}

func (e *Executor) queryResult(ctx context.Context, dsn, query string) any {
	table, err := e.queryTable(ctx, dsn, query)
	if err != nil {
		e.logger.Warn("query failed", "error", err)
		return chunk.ErrorPrefix + " " + err.Error()
	}
	e.logger.Info("query executed", "rows", table.RowCount())
	return table
}

func (e *Executor) queryTable(ctx context.Context, dsn, query string) (*tabular.Table, error) {
	var table *tabular.Table
	err := e.withRows(ctx, dsn, query, func(columns []tabular.Column, rows *sql.Rows) error {
		table = tabular.New(columns)
		return scanRows(rows, columns, func(row []any) error {
			table.Rows = append(table.Rows, row)
			return nil
		})
	})
	return table, err
}

// TestConnection opens the first configured connection and reports the outcome.
func (e *Executor) TestConnection(ctx context.Context, cfg *relay.AgentConfiguration) string {
	if cfg == nil || len(cfg.Connections) == 0 || strings.TrimSpace(cfg.Connections[0].ConnectionString) == "" {
		return NoConnectionString
	}

	db, err := e.open(cfg.Connections[0].ConnectionString)
	if err != nil {
		return ConnectionErrorText + err.Error()
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return ConnectionErrorText + err.Error()
	}
	return ConnectionSuccessful
}

// Stream runs one query of the first connection and sends its result as
// Schema, Batch and Summary chunks framed by status texts. An empty index
// means query 0. Failures are reported in-band; the returned error is only
// set when send itself fails.
func (e *Executor) Stream(ctx context.Context, cfg *relay.AgentConfiguration, queryIndex string, send ChunkSender) error {
	if err := send(chunk.QueryStarting, false); err != nil {
		return err
	}

	fail := func(msg string) error {
		if err := send(chunk.ErrorPrefix+" "+msg, false); err != nil {
			return err
		}
		return send(chunk.QueryFailed, true)
	}

	if cfg == nil || len(cfg.Connections) == 0 {
		return fail(chunk.NoConfiguration)
	}
	conn := cfg.Connections[0]

	idx := 0
	if s := strings.TrimSpace(queryIndex); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fail(fmt.Sprintf("Invalid query index %s", queryIndex))
		}
		idx = n
	}
	if idx < 0 || idx >= len(conn.Queries) {
		return fail(fmt.Sprintf("Query index %d out of range", idx))
	}
	if strings.TrimSpace(conn.ConnectionString) == "" {
		return fail("Connection string not configured.")
	}

	var sendErr error
	batches, total := 0, 0
	err := e.withRows(ctx, conn.ConnectionString, conn.Queries[idx], func(columns []tabular.Column, rows *sql.Rows) error {
		schema, err := chunk.EncodeSchema(columns)
		if err != nil {
			return err
		}
		if sendErr = send(schema, false); sendErr != nil {
			return sendErr
		}

		page := tabular.New(columns)
		flush := func() error {
			if page.RowCount() == 0 {
				return nil
			}
			batches++
			total += page.RowCount()
			raw, err := chunk.EncodeBatch(batches, page)
			if err != nil {
				return err
			}
			if sendErr = send(raw, false); sendErr != nil {
				return sendErr
			}
			page = tabular.New(columns)
			return nil
		}

		err = scanRows(rows, columns, func(row []any) error {
			page.Rows = append(page.Rows, row)
			if page.RowCount() >= e.pageSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return err
		}
		return flush()
	})
	if sendErr != nil {
		return sendErr
	}
	if err != nil {
		e.logger.Warn("stream query failed", "batches", batches, "error", err)
		return fail(err.Error())
	}

	e.logger.Info("stream query completed", "batches", batches, "rows", total)
	if err := send(chunk.EncodeSummary(batches, total), false); err != nil {
		return err
	}
	return send(chunk.StreamCompleted, true)
}

// withRows opens dsn, runs query and hands the described columns and rows to fn.
func (e *Executor) withRows(ctx context.Context, dsn, query string, fn func([]tabular.Column, *sql.Rows) error) error {
	db, err := e.open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return fmt.Errorf("describing columns: %w", err)
	}
	columns := make([]tabular.Column, len(types))
	for i, ct := range types {
		columns[i] = tabular.Column{Name: ct.Name(), Kind: tabular.KindFromDatabaseType(ct.DatabaseTypeName())}
	}

	if err := fn(columns, rows); err != nil {
		return err
	}
	return rows.Err()
}

func scanRows(rows *sql.Rows, columns []tabular.Column, fn func([]any) error) error {
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		for i, col := range columns {
			values[i] = canonicalValue(col.Kind, values[i])
		}
		if err := fn(values); err != nil {
			return err
		}
	}
	return nil
}

// canonicalValue converts a driver value to the Go type tabular expects for kind.
func canonicalValue(kind tabular.Kind, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}

	switch kind {
	case tabular.KindInt:
		if n, ok := asInt64(v); ok {
			return int32(n)
		}
	case tabular.KindLong:
		if n, ok := asInt64(v); ok {
			return n
		}
	case tabular.KindDecimal:
		switch x := v.(type) {
		case string:
			return x
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		default:
			return fmt.Sprint(x)
		}
	case tabular.KindDouble:
		switch x := v.(type) {
		case float64:
			return x
		case float32:
			return float64(x)
		}
		if n, ok := asInt64(v); ok {
			return float64(n)
		}
	case tabular.KindBool:
		if b, ok := v.(bool); ok {
			return b
		}
		if n, ok := asInt64(v); ok {
			return n != 0
		}
	case tabular.KindString:
		if s, ok := v.(string); ok {
			return s
		}
		if t, ok := v.(time.Time); ok {
			return t.Format(time.RFC3339Nano)
		}
		return fmt.Sprint(v)
	}
	return v
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int:
		return int64(x), true
	case int16:
		return int64(x), true
	case int8:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	}
	return 0, false
}
