// ABOUTME: PostgreSQL bulk-load target built on a single pgx connection and COPY FROM.
// ABOUTME: Converts canonical cell values to pgx-encodable values per column kind.

package bulk

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/2389/sql-relay/internal/tabular"
)

// PostgresTarget is a Target backed by one pgx connection, scoped to a single load.
type PostgresTarget struct {
	conn *pgx.Conn
}

// OpenPostgres is an Opener for PostgreSQL connection strings.
func OpenPostgres(ctx context.Context, connString string) (Target, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connecting to destination: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("pinging destination: %w", err)
	}
	return &PostgresTarget{conn: conn}, nil
}

// Exec runs a DDL statement.
func (p *PostgresTarget) Exec(ctx context.Context, sql string) error {
	_, err := p.conn.Exec(ctx, sql)
	return err
}

// CopyRows copies rows with the COPY protocol.
func (p *PostgresTarget) CopyRows(ctx context.Context, ref TableRef, columns []tabular.Column, names []string, rows [][]any) (int64, error) {
	converted, err := convertRows(columns, rows)
	if err != nil {
		return 0, err
	}
	return p.conn.CopyFrom(ctx, ref.Identifier(), names, pgx.CopyFromRows(converted))
}

// Close closes the connection.
func (p *PostgresTarget) Close(ctx context.Context) error {
	return p.conn.Close(ctx)
}

func convertRows(columns []tabular.Column, rows [][]any) ([][]any, error) {
	out := make([][]any, len(rows))
	for i, row := range rows {
		conv := make([]any, len(row))
		for j, v := range row {
			c, err := convertValue(columns[j].Kind, v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, columns[j].Name, err)
			}
			conv[j] = c
		}
		out[i] = conv
	}
	return out, nil
}

func convertValue(kind tabular.Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case tabular.KindDecimal:
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		var n pgtype.Numeric
		if err := n.Scan(s); err != nil {
			return nil, fmt.Errorf("decimal %q: %w", s, err)
		}
		return n, nil
	case tabular.KindString, tabular.KindOther:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
	return v, nil
}
