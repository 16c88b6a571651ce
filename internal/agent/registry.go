// ABOUTME: Process-wide directory of agents keyed by agent id.
// ABOUTME: Tracks online state, transport handle, configuration and last results per agent.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/sql-relay/internal/events"
	"github.com/2389/sql-relay/internal/store"
	"github.com/2389/sql-relay/proto/relay"
)

// Record is a snapshot of one agent's state.
type Record struct {
	ID                 string                    `json:"agentId"`
	PrimaryName        string                    `json:"primaryName"`
	CustomName         string                    `json:"customName,omitempty"`
	Online             bool                      `json:"online"`
	ConnectionID       string                    `json:"connectionId,omitempty"`
	LastConnectedAt    time.Time                 `json:"lastConnectedAt"`
	LastDisconnectedAt *time.Time                `json:"lastDisconnectedAt,omitempty"`
	LastSeenAt         time.Time                 `json:"lastSeenAt"`
	Configuration      *relay.AgentConfiguration `json:"configuration,omitempty"`
	LastResult         string                    `json:"-"`
	LastResultAt       *time.Time                `json:"lastResultAt,omitempty"`
	LastTestResult     string                    `json:"lastTestResult,omitempty"`
}

// DisplayName prefers the custom name.
func (r Record) DisplayName() string {
	if r.CustomName != "" {
		return r.CustomName
	}
	return r.PrimaryName
}

type entry struct {
	mu   sync.Mutex
	rec  Record
	conn *Connection
}

// Registry maps agent ids to records. Records are created on first
// registration and never removed; disconnects only mark them offline.
type Registry struct {
	entries   sync.Map // agentID -> *entry
	configs   store.AgentConfigurationStore
	publisher events.Publisher
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. publisher may be nil.
func NewRegistry(configs store.AgentConfigurationStore, publisher events.Publisher, logger *slog.Logger) *Registry {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Registry{
		configs:   configs,
		publisher: publisher,
		logger:    logger.With("component", "registry"),
	}
}

func (r *Registry) load(agentID string) (*entry, bool) {
	v, ok := r.entries.Load(agentID)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

func (r *Registry) loadOrCreate(agentID string) *entry {
	v, _ := r.entries.LoadOrStore(agentID, &entry{rec: Record{ID: agentID}})
	return v.(*entry)
}

// Register records a connection for agentID. It loads any persisted
// configuration, prefers a saved custom name over the one the agent sent,
// marks the agent online, notifies subscribers and pushes the configuration
// to the agent if one exists. A previous handle for the same agent is replaced.
func (r *Registry) Register(ctx context.Context, agentID, primaryName, customName string, conn *Connection) (Record, error) {
	cfg, err := r.configs.GetAgentConfiguration(ctx, agentID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("loading agent configuration", "agent_id", agentID, "error", err)
		}
		cfg = nil
	}

	e := r.loadOrCreate(agentID)

	e.mu.Lock()
	now := time.Now().UTC()
	name := customName
	if cfg != nil && cfg.CustomAgentName != "" {
		name = cfg.CustomAgentName
	}
	replaced := e.conn != nil && e.conn != conn

	e.conn = conn
	e.rec.PrimaryName = primaryName
	e.rec.CustomName = name
	e.rec.Online = true
	e.rec.ConnectionID = conn.ID
	e.rec.LastConnectedAt = now
	e.rec.LastSeenAt = now
	if cfg != nil {
		e.rec.Configuration = cfg
	}
	snapshot := e.rec
	e.mu.Unlock()

	r.logger.Info("=== AGENT CONNECTED ===",
		"agent_id", agentID,
		"name", snapshot.DisplayName(),
		"connection_id", conn.ID,
		"replaced_handle", replaced,
		"has_configuration", cfg != nil,
	)
	r.publisher.Publish(events.New(events.TypeAgentConnected, agentID, snapshot))

	if cfg != nil {
		msg := &relay.ServerMessage{Configuration: cfg}
		if err := conn.Send(msg); err != nil {
			return snapshot, fmt.Errorf("%w: pushing configuration: %w", ErrSendFailed, err)
		}
	}
	return snapshot, nil
}

// MarkDisconnected flips the agent owning conn offline. It is a no-op when
// the agent has already re-registered with a newer handle.
func (r *Registry) MarkDisconnected(conn *Connection) bool {
	e, ok := r.load(conn.AgentID)
	if !ok {
		return false
	}

	e.mu.Lock()
	if e.conn != conn {
		e.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	e.conn = nil
	e.rec.Online = false
	e.rec.ConnectionID = ""
	e.rec.LastDisconnectedAt = &now
	snapshot := e.rec
	e.mu.Unlock()

	r.logger.Info("=== AGENT DISCONNECTED ===",
		"agent_id", conn.AgentID,
		"name", snapshot.DisplayName(),
		"connection_id", conn.ID,
	)
	r.publisher.Publish(events.New(events.TypeAgentDisconnected, conn.AgentID, snapshot))
	return true
}

// Lookup returns a snapshot of the agent's record.
func (r *Registry) Lookup(agentID string) (Record, bool) {
	e, ok := r.load(agentID)
	if !ok {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// connection returns the live handle for agentID.
func (r *Registry) connection(agentID string) (*Connection, error) {
	e, ok := r.load(agentID)
	if !ok {
		return nil, ErrAgentNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.rec.Online || e.conn == nil {
		return nil, ErrAgentOffline
	}
	return e.conn, nil
}

// update applies fn to the record under its lock and returns the new snapshot.
func (r *Registry) update(agentID string, fn func(*Record)) (Record, bool) {
	e, ok := r.load(agentID)
	if !ok {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.rec)
	return e.rec, true
}

// Touch records activity from the agent, such as a heartbeat.
func (r *Registry) Touch(agentID string) {
	r.update(agentID, func(rec *Record) {
		rec.LastSeenAt = time.Now().UTC()
	})
}

// List returns snapshots of all records ordered by agent id.
func (r *Registry) List() []Record {
	var out []Record
	r.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		out = append(out, e.rec)
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnlineCount returns the number of agents currently online.
func (r *Registry) OnlineCount() int {
	n := 0
	r.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if e.rec.Online {
			n++
		}
		e.mu.Unlock()
		return true
	})
	return n
}
