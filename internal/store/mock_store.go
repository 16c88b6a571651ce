// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/2389/sql-relay/proto/relay"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu           sync.RWMutex
	configs      map[string]*relay.AgentConfiguration // keyed by agent ID
	destinations map[string]*Destination              // keyed by destination ID

	// GetDestinationCalls counts GetDestination invocations
	GetDestinationCalls int
	// PingErr is returned from Ping when set
	PingErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		configs:      make(map[string]*relay.AgentConfiguration),
		destinations: make(map[string]*Destination),
	}
}

// GetAgentConfiguration returns a copy of the saved configuration.
func (m *MockStore) GetAgentConfiguration(ctx context.Context, agentID string) (*relay.AgentConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConfiguration(cfg), nil
}

// SaveAgentConfiguration stores a copy of cfg.
func (m *MockStore) SaveAgentConfiguration(ctx context.Context, agentID string, cfg *relay.AgentConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.configs[agentID] = cloneConfiguration(cfg)
	return nil
}

// ListAgentConfigurations returns copies of all configurations.
func (m *MockStore) ListAgentConfigurations(ctx context.Context) (map[string]*relay.AgentConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*relay.AgentConfiguration, len(m.configs))
	for id, cfg := range m.configs {
		out[id] = cloneConfiguration(cfg)
	}
	return out, nil
}

// CreateDestination stores a new destination.
func (m *MockStore) CreateDestination(ctx context.Context, d *Destination) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.destinations[d.ID]; exists {
		return ErrDuplicateDestination
	}
	cp := *d
	m.destinations[d.ID] = &cp
	return nil
}

// GetDestination retrieves a destination by ID.
func (m *MockStore) GetDestination(ctx context.Context, id string) (*Destination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetDestinationCalls++
	d, ok := m.destinations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// ListDestinations returns destinations sorted by creation time.
func (m *MockStore) ListDestinations(ctx context.Context) ([]*Destination, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Destination, 0, len(m.destinations))
	for _, d := range m.destinations {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateDestination replaces an existing destination.
func (m *MockStore) UpdateDestination(ctx context.Context, d *Destination) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.destinations[d.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *d
	cp.CreatedAt = existing.CreatedAt
	m.destinations[d.ID] = &cp
	return nil
}

// DeleteDestination removes a destination.
func (m *MockStore) DeleteDestination(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.destinations[id]; !ok {
		return ErrNotFound
	}
	delete(m.destinations, id)
	return nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

var _ Store = (*MockStore)(nil)
var _ Store = (*SQLiteStore)(nil)

func cloneConfiguration(cfg *relay.AgentConfiguration) *relay.AgentConfiguration {
	if cfg == nil {
		return nil
	}
	out := &relay.AgentConfiguration{CustomAgentName: cfg.CustomAgentName}
	for _, c := range cfg.Connections {
		out.Connections = append(out.Connections, relay.ConnectionConfig{
			ID:               c.ID,
			ConnectionString: c.ConnectionString,
			Queries:          append([]string(nil), c.Queries...),
		})
	}
	return out
}
