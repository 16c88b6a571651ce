// ABOUTME: Status and data-changed notifications emitted by the relay
// ABOUTME: Event envelope, event type names and the Publisher interface

package events

import "time"

// Event types.
const (
	TypeAgentConnected       = "agent_connected"
	TypeAgentDisconnected    = "agent_disconnected"
	TypeConfigurationUpdated = "configuration_updated"
	TypeResultReceived       = "result_received"
	TypeTestResult           = "test_result"
	TypeStreamChunk          = "stream_chunk"
)

// Event is a single notification. Data is JSON-encodable and type specific.
type Event struct {
	Type      string    `json:"type"`
	AgentID   string    `json:"agentId"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher accepts events. Implementations must not block the caller for long.
type Publisher interface {
	Publish(event Event)
}

// New builds an Event stamped with the current time.
func New(eventType, agentID string, data any) Event {
	return Event{Type: eventType, AgentID: agentID, Data: data, Timestamp: time.Now().UTC()}
}

// Fanout publishes each event to every non-nil publisher in order.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(event Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(event)
		}
	}
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
