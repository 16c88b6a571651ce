// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Schema is managed by goose migrations embedded in the binary

package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/2389/sql-relay/proto/relay"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// Migrations are applied on open. Parent directories are created if needed.
// The path ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	inMemory := path == ":memory:"
	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if inMemory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.runMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// GetAgentConfiguration returns the saved configuration for an agent.
// Returns ErrNotFound if none has been saved.
func (s *SQLiteStore) GetAgentConfiguration(ctx context.Context, agentID string) (*relay.AgentConfiguration, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT configuration FROM agent_configurations WHERE agent_id = ?`, agentID,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent configuration: %w", err)
	}

	var cfg relay.AgentConfiguration
	if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
		return nil, fmt.Errorf("decoding agent configuration: %w", err)
	}
	return &cfg, nil
}

// SaveAgentConfiguration inserts or replaces an agent's configuration
func (s *SQLiteStore) SaveAgentConfiguration(ctx context.Context, agentID string, cfg *relay.AgentConfiguration) error {
	blob, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding agent configuration: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_configurations (agent_id, custom_name, configuration, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			custom_name = excluded.custom_name,
			configuration = excluded.configuration,
			updated_at = excluded.updated_at
	`, agentID, cfg.CustomAgentName, string(blob), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving agent configuration: %w", err)
	}

	s.logger.Debug("saved agent configuration", "agent_id", agentID, "connections", len(cfg.Connections))
	return nil
}

// ListAgentConfigurations returns every saved configuration keyed by agent id
func (s *SQLiteStore) ListAgentConfigurations(ctx context.Context) (map[string]*relay.AgentConfiguration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_id, configuration FROM agent_configurations`)
	if err != nil {
		return nil, fmt.Errorf("querying agent configurations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*relay.AgentConfiguration)
	for rows.Next() {
		var id, blob string
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning agent configuration: %w", err)
		}
		var cfg relay.AgentConfiguration
		if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
			return nil, fmt.Errorf("decoding configuration for %s: %w", id, err)
		}
		out[id] = &cfg
	}
	return out, rows.Err()
}

// CreateDestination inserts a new destination.
// Returns ErrDuplicateDestination if the id already exists.
func (s *SQLiteStore) CreateDestination(ctx context.Context, d *Destination) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO destinations (id, name, connection_string, table_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		d.ID,
		d.Name,
		d.ConnectionString,
		d.TableName,
		d.CreatedAt.UTC().Format(time.RFC3339),
		d.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateDestination
		}
		return fmt.Errorf("inserting destination: %w", err)
	}

	s.logger.Debug("created destination", "destination_id", d.ID)
	return nil
}

// GetDestination retrieves a destination by id.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetDestination(ctx context.Context, id string) (*Destination, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, connection_string, table_name, created_at, updated_at
		FROM destinations
		WHERE id = ?
	`, id)

	d, err := scanDestination(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying destination: %w", err)
	}
	return d, nil
}

// ListDestinations returns all destinations ordered by creation time
func (s *SQLiteStore) ListDestinations(ctx context.Context) ([]*Destination, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, connection_string, table_name, created_at, updated_at
		FROM destinations
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying destinations: %w", err)
	}
	defer rows.Close()

	var out []*Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning destination: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDestination replaces an existing destination.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) UpdateDestination(ctx context.Context, d *Destination) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE destinations
		SET name = ?, connection_string = ?, table_name = ?, updated_at = ?
		WHERE id = ?
	`,
		d.Name,
		d.ConnectionString,
		d.TableName,
		d.UpdatedAt.UTC().Format(time.RFC3339),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating destination: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated destination", "destination_id", d.ID)
	return nil
}

// DeleteDestination removes a destination.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) DeleteDestination(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM destinations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting destination: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDestination(row scanner) (*Destination, error) {
	var d Destination
	var createdAtStr, updatedAtStr string

	if err := row.Scan(&d.ID, &d.Name, &d.ConnectionString, &d.TableName, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	var err error
	d.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &d, nil
}
