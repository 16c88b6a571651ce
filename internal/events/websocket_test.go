// ABOUTME: Tests for the websocket event endpoint
// ABOUTME: Dials a real httptest server with the coder/websocket client

package events

import (
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsocketHub_ForwardsFilteredEvents(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	hub := NewWebsocketHub(b, slog.Default())

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?agentId=agent-1"
	conn, _, err := websocket.Dial(t.Context(), url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.ConnectionCount())

	b.Publish(New(TypeAgentConnected, "agent-2", nil))
	b.Publish(New(TypeConfigurationUpdated, "agent-1", map[string]string{"name": "east"}))

	var got Event
	require.NoError(t, wsjson.Read(t.Context(), conn, &got))
	assert.Equal(t, TypeConfigurationUpdated, got.Type)
	assert.Equal(t, "agent-1", got.AgentID)
	assert.Equal(t, map[string]any{"name": "east"}, got.Data)
}

func TestWebsocketHub_UnsubscribesOnClose(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	hub := NewWebsocketHub(b, slog.Default())

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.Dial(t.Context(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close(websocket.StatusNormalClosure, "bye")
	assert.Eventually(t, func() bool { return b.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
