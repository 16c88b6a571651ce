// ABOUTME: Tests for the agent TOML state file
// ABOUTME: Covers id generation, persistence and configuration round trips

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/sql-relay/proto/relay"
)

func TestLoadAgentState_GeneratesStableID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agent.toml")

	first, err := LoadAgentState(path)
	require.NoError(t, err)
	require.NotEmpty(t, first.AgentID)

	_, err = os.Stat(path)
	require.NoError(t, err, "state written on first load")

	second, err := LoadAgentState(path)
	require.NoError(t, err)
	assert.Equal(t, first.AgentID, second.AgentID)
}

func TestAgentState_ApplyAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.toml")
	st, err := LoadAgentState(path)
	require.NoError(t, err)

	st.Apply(&relay.AgentConfiguration{
		CustomAgentName: "warehouse",
		Connections: []relay.ConnectionConfig{{
			ID:               "c1",
			ConnectionString: "postgres://localhost/src",
			Queries:          []string{"SELECT * FROM dbo.Orders", "SELECT 1"},
		}},
	})
	require.NoError(t, st.Save(path))

	reloaded, err := LoadAgentState(path)
	require.NoError(t, err)
	assert.Equal(t, st.AgentID, reloaded.AgentID)
	assert.Equal(t, "warehouse", reloaded.CustomName)

	cfg := reloaded.Configuration()
	require.Len(t, cfg.Connections, 1)
	assert.Equal(t, "postgres://localhost/src", cfg.Connections[0].ConnectionString)
	assert.Equal(t, []string{"SELECT * FROM dbo.Orders", "SELECT 1"}, cfg.Connections[0].Queries)
	assert.Equal(t, "warehouse", cfg.CustomAgentName)
}

func TestAgentState_ApplyKeepsNameWhenEmpty(t *testing.T) {
	st := &AgentState{AgentID: "a", CustomName: "kept"}
	st.Apply(&relay.AgentConfiguration{})
	assert.Equal(t, "kept", st.CustomName)
	assert.Empty(t, st.Connections)

	st.Apply(nil)
	assert.Equal(t, "kept", st.CustomName)
}

func TestLoadAgentState_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.toml")
	require.NoError(t, os.WriteFile(path, []byte("agent_id = [unterminated"), 0600))

	_, err := LoadAgentState(path)
	assert.Error(t, err)
}
