// ABOUTME: Represents a single connected agent's transport handle.
// ABOUTME: Serializes sends on the bidirectional stream, which is not safe for concurrent use.

package agent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/sql-relay/proto/relay"
)

// Sender is the send half of an agent stream.
type Sender interface {
	Send(*relay.ServerMessage) error
}

// Connection is one live transport session. A reconnecting agent gets a new
// Connection; the handle identity is what MarkDisconnected matches on.
type Connection struct {
	ID          string // transport handle id, unique per session
	AgentID     string
	ConnectedAt time.Time

	stream Sender
	mu     sync.Mutex
	logger *slog.Logger
}

// NewConnection wraps a stream for agentID.
func NewConnection(agentID string, stream Sender, logger *slog.Logger) *Connection {
	id := uuid.New().String()
	return &Connection{
		ID:          id,
		AgentID:     agentID,
		ConnectedAt: time.Now(),
		stream:      stream,
		logger:      logger.With("agent_id", agentID, "connection_id", id),
	}
}

// Send transmits a ServerMessage to the agent.
func (c *Connection) Send(msg *relay.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.stream.Send(msg); err != nil {
		c.logger.Warn("send to agent failed", "error", err)
		return err
	}
	return nil
}
