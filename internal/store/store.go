// ABOUTME: Store interface and data types for sql-relay persistence
// ABOUTME: Agent configurations keyed by agent id and bulk-load destinations keyed by id

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/sql-relay/proto/relay"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateDestination is returned when creating a destination whose id is taken
var ErrDuplicateDestination = errors.New("destination already exists")

// Destination is a bulk-load target database
type Destination struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	ConnectionString string    `json:"connectionString"`
	TableName        string    `json:"tableName,omitempty"` // optional override of the inferred table
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// AgentConfigurationStore persists the configuration pushed to each agent
type AgentConfigurationStore interface {
	GetAgentConfiguration(ctx context.Context, agentID string) (*relay.AgentConfiguration, error)
	SaveAgentConfiguration(ctx context.Context, agentID string, cfg *relay.AgentConfiguration) error
	ListAgentConfigurations(ctx context.Context) (map[string]*relay.AgentConfiguration, error)
}

// DestinationStore is CRUD over destination records
type DestinationStore interface {
	CreateDestination(ctx context.Context, d *Destination) error
	GetDestination(ctx context.Context, id string) (*Destination, error)
	ListDestinations(ctx context.Context) ([]*Destination, error)
	UpdateDestination(ctx context.Context, d *Destination) error
	DeleteDestination(ctx context.Context, id string) error
}

// Store is the full persistence surface used by the relay
type Store interface {
	AgentConfigurationStore
	DestinationStore

	// Ping reports whether the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
