// ABOUTME: Message envelopes exchanged between relay and agents over RelayControl.AgentStream.
// ABOUTME: Exactly one payload field is set per envelope; getters are nil-safe.

package relay

// AgentMessage is sent from an agent to the relay.
type AgentMessage struct {
	Register   *RegisterAgent `json:"register,omitempty"`
	Heartbeat  *Heartbeat     `json:"heartbeat,omitempty"`
	FullResult *FullResult    `json:"full_result,omitempty"`
	Chunk      *DataChunk     `json:"chunk,omitempty"`
	TestResult *TestResult    `json:"test_result,omitempty"`
}

func (m *AgentMessage) GetRegister() *RegisterAgent {
	if m == nil {
		return nil
	}
	return m.Register
}

func (m *AgentMessage) GetHeartbeat() *Heartbeat {
	if m == nil {
		return nil
	}
	return m.Heartbeat
}

func (m *AgentMessage) GetFullResult() *FullResult {
	if m == nil {
		return nil
	}
	return m.FullResult
}

func (m *AgentMessage) GetChunk() *DataChunk {
	if m == nil {
		return nil
	}
	return m.Chunk
}

func (m *AgentMessage) GetTestResult() *TestResult {
	if m == nil {
		return nil
	}
	return m.TestResult
}

// RegisterAgent is the first message on every agent stream.
type RegisterAgent struct {
	AgentID     string `json:"agent_id"`
	PrimaryName string `json:"primary_name"`
	CustomName  string `json:"custom_name,omitempty"`
}

// Heartbeat keeps the agent's last-seen timestamp fresh.
type Heartbeat struct {
	TimestampMs int64 `json:"timestamp_ms"`
}

// FullResult carries a one-shot, non-streamed result: a JSON array with one
// element per executed query.
type FullResult struct {
	AgentID string `json:"agent_id"`
	JSON    string `json:"json"`
}

// DataChunk is one unit of a streamed result. IsLastChunk is set on the final
// chunk of a stream.
type DataChunk struct {
	AgentID     string `json:"agent_id"`
	Data        string `json:"data"`
	IsLastChunk bool   `json:"is_last_chunk"`
}

// TestResult reports the outcome of a TestConnection command.
type TestResult struct {
	AgentID string `json:"agent_id"`
	Result  string `json:"result"`
}

// ServerMessage is sent from the relay to an agent.
type ServerMessage struct {
	Welcome        *Welcome            `json:"welcome,omitempty"`
	RunQuery       *RunQuery           `json:"run_query,omitempty"`
	StartStream    *StartStream        `json:"start_stream,omitempty"`
	TestConnection *TestConnection     `json:"test_connection,omitempty"`
	Configuration  *AgentConfiguration `json:"configuration,omitempty"`
}

func (m *ServerMessage) GetWelcome() *Welcome {
	if m == nil {
		return nil
	}
	return m.Welcome
}

func (m *ServerMessage) GetRunQuery() *RunQuery {
	if m == nil {
		return nil
	}
	return m.RunQuery
}

func (m *ServerMessage) GetStartStream() *StartStream {
	if m == nil {
		return nil
	}
	return m.StartStream
}

func (m *ServerMessage) GetTestConnection() *TestConnection {
	if m == nil {
		return nil
	}
	return m.TestConnection
}

func (m *ServerMessage) GetConfiguration() *AgentConfiguration {
	if m == nil {
		return nil
	}
	return m.Configuration
}

// Welcome acknowledges a registration.
type Welcome struct {
	ServerID string `json:"server_id"`
	AgentID  string `json:"agent_id"`
}

// RunQuery asks the agent for a full result. An empty QueryIndex runs every
// configured query of every connection.
type RunQuery struct {
	QueryIndex string `json:"query_index,omitempty"`
}

// StartStream asks the agent for chunked delivery of one query's result set.
type StartStream struct {
	QueryIndex string `json:"query_index,omitempty"`
}

// TestConnection asks the agent to open its first configured connection.
type TestConnection struct{}

// AgentConfiguration is the per-agent list of connections and queries.
type AgentConfiguration struct {
	Connections     []ConnectionConfig `json:"connections"`
	CustomAgentName string             `json:"custom_agent_name,omitempty"`
}

// ConnectionConfig is one connection string and its ordered queries.
type ConnectionConfig struct {
	ID               string   `json:"id"`
	ConnectionString string   `json:"connection_string"`
	Queries          []string `json:"queries"`
}
