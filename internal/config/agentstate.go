// ABOUTME: Agent-side state file persisted as TOML
// ABOUTME: Holds the stable agent id, custom name and the last pushed configuration

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/2389/sql-relay/proto/relay"
)

// AgentState is what an agent remembers across restarts.
type AgentState struct {
	AgentID     string            `toml:"agent_id"`
	CustomName  string            `toml:"custom_name,omitempty"`
	Connections []StateConnection `toml:"connections,omitempty"`
}

// StateConnection mirrors relay.ConnectionConfig in TOML form.
type StateConnection struct {
	ID               string   `toml:"id"`
	ConnectionString string   `toml:"connection_string"`
	Queries          []string `toml:"queries"`
}

// DefaultAgentStatePath returns $XDG_CONFIG_HOME/sql-relay/agent.toml.
func DefaultAgentStatePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "agent.toml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sql-relay", "agent.toml")
}

// LoadAgentState reads the state file at path. A missing file yields a fresh
// state with a newly generated agent id, which is written back immediately so
// the id stays stable.
func LoadAgentState(path string) (*AgentState, error) {
	var st AgentState
	_, err := toml.DecodeFile(path, &st)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading agent state: %w", err)
	}

	if st.AgentID == "" {
		st.AgentID = uuid.NewString()
		if err := st.Save(path); err != nil {
			return nil, err
		}
	}
	return &st, nil
}

// Save writes the state atomically via a temp file and rename.
func (s *AgentState) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".agent-*.toml")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(s); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding agent state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing agent state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing agent state: %w", err)
	}
	return nil
}

// Configuration returns the remembered configuration in wire form.
func (s *AgentState) Configuration() *relay.AgentConfiguration {
	cfg := &relay.AgentConfiguration{CustomAgentName: s.CustomName}
	for _, c := range s.Connections {
		cfg.Connections = append(cfg.Connections, relay.ConnectionConfig{
			ID:               c.ID,
			ConnectionString: c.ConnectionString,
			Queries:          append([]string(nil), c.Queries...),
		})
	}
	return cfg
}

// Apply replaces the remembered configuration with cfg. An empty custom
// name in cfg keeps the current one.
func (s *AgentState) Apply(cfg *relay.AgentConfiguration) {
	if cfg == nil {
		return
	}
	if cfg.CustomAgentName != "" {
		s.CustomName = cfg.CustomAgentName
	}
	s.Connections = s.Connections[:0]
	for _, c := range cfg.Connections {
		s.Connections = append(s.Connections, StateConnection{
			ID:               c.ID,
			ConnectionString: c.ConnectionString,
			Queries:          append([]string(nil), c.Queries...),
		})
	}
}
