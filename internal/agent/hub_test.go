// ABOUTME: Tests for hub commands, configuration pushes and one-shot waiters.
// ABOUTME: Verifies not-found/offline/send-failure errors and callback side effects.

package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/sql-relay/internal/events"
	"github.com/2389/sql-relay/internal/store"
	"github.com/2389/sql-relay/proto/relay"
)

type chunkWrite struct {
	agentID string
	chunk   string
	last    bool
}

type fakeSink struct {
	mu     sync.Mutex
	writes []chunkWrite
}

func (f *fakeSink) Write(agentID, chunk string, last bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, chunkWrite{agentID, chunk, last})
	return true
}

type hubFixture struct {
	hub    *Hub
	store  *store.MockStore
	sink   *fakeSink
	pub    *recordingPublisher
	stream *fakeStream
	conn   *Connection
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	st := store.NewMockStore()
	pub := &recordingPublisher{}
	sink := &fakeSink{}
	reg := NewRegistry(st, pub, slog.Default())
	hub := NewHub(reg, st, sink, pub, slog.Default())

	stream := &fakeStream{}
	conn := NewConnection("agent-1", stream, slog.Default())
	_, err := reg.Register(t.Context(), "agent-1", "HOST-A", "", conn)
	require.NoError(t, err)

	return &hubFixture{hub: hub, store: st, sink: sink, pub: pub, stream: stream, conn: conn}
}

func TestHub_CommandsToUnknownAgent(t *testing.T) {
	f := newHubFixture(t)
	ctx := t.Context()

	assert.ErrorIs(t, f.hub.RunQuery(ctx, "ghost", "0"), ErrAgentNotFound)
	assert.ErrorIs(t, f.hub.StartStream(ctx, "ghost", ""), ErrAgentNotFound)
	assert.ErrorIs(t, f.hub.TestConnection(ctx, "ghost"), ErrAgentNotFound)
	_, err := f.hub.PushConfiguration(ctx, "ghost", &relay.AgentConfiguration{})
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestHub_CommandsToOfflineAgent(t *testing.T) {
	f := newHubFixture(t)
	f.hub.Registry().MarkDisconnected(f.conn)

	assert.ErrorIs(t, f.hub.RunQuery(t.Context(), "agent-1", "0"), ErrAgentOffline)
	assert.ErrorIs(t, f.hub.StartStream(t.Context(), "agent-1", "0"), ErrAgentOffline)
}

func TestHub_CommandsAreDelivered(t *testing.T) {
	f := newHubFixture(t)
	ctx := t.Context()

	require.NoError(t, f.hub.RunQuery(ctx, "agent-1", "2"))
	require.NoError(t, f.hub.StartStream(ctx, "agent-1", "0"))
	require.NoError(t, f.hub.TestConnection(ctx, "agent-1"))

	msgs := f.stream.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "2", msgs[0].GetRunQuery().QueryIndex)
	assert.Equal(t, "0", msgs[1].GetStartStream().QueryIndex)
	assert.NotNil(t, msgs[2].GetTestConnection())
}

func TestHub_SendFailure(t *testing.T) {
	f := newHubFixture(t)
	f.stream.err = errors.New("stream closed")

	err := f.hub.RunQuery(t.Context(), "agent-1", "0")
	assert.ErrorIs(t, err, ErrSendFailed)
}

func TestHub_PushConfigurationOnline(t *testing.T) {
	f := newHubFixture(t)
	cfg := &relay.AgentConfiguration{
		CustomAgentName: "Renamed",
		Connections:     []relay.ConnectionConfig{{ID: "c1", Queries: []string{"SELECT 1"}}},
	}

	rec, err := f.hub.PushConfiguration(t.Context(), "agent-1", cfg)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", rec.CustomName)

	saved, err := f.store.GetAgentConfiguration(t.Context(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", saved.CustomAgentName)

	msgs := f.stream.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, cfg, msgs[0].GetConfiguration())
	assert.Contains(t, f.pub.types(), events.TypeConfigurationUpdated)
}

func TestHub_PushConfigurationOfflineIsSavedAndPushedOnReconnect(t *testing.T) {
	f := newHubFixture(t)
	f.hub.Registry().MarkDisconnected(f.conn)

	cfg := &relay.AgentConfiguration{Connections: []relay.ConnectionConfig{{ID: "c1", Queries: []string{"SELECT 2"}}}}
	_, err := f.hub.PushConfiguration(t.Context(), "agent-1", cfg)
	require.NoError(t, err)
	assert.Empty(t, f.stream.messages())

	next := &fakeStream{}
	_, err = f.hub.Registry().Register(t.Context(), "agent-1", "HOST-A", "", NewConnection("agent-1", next, slog.Default()))
	require.NoError(t, err)
	require.Len(t, next.messages(), 1)
	assert.Equal(t, "SELECT 2", next.messages()[0].GetConfiguration().Connections[0].Queries[0])
}

func TestHub_RunQueryAndWait(t *testing.T) {
	f := newHubFixture(t)

	go func() {
		assert.Eventually(t, func() bool { return len(f.stream.messages()) == 1 }, time.Second, time.Millisecond)
		f.hub.HandleFullResult("agent-1", `["result"]`)
	}()

	got, err := f.hub.RunQueryAndWait(t.Context(), "agent-1", "")
	require.NoError(t, err)
	assert.Equal(t, `["result"]`, got)

	rec, _ := f.hub.Registry().Lookup("agent-1")
	assert.Equal(t, `["result"]`, rec.LastResult)
	assert.NotNil(t, rec.LastResultAt)
}

func TestHub_WaiterConsumedOnce(t *testing.T) {
	f := newHubFixture(t)
	assert.False(t, f.hub.complete("agent-1", waitFullResult, "nobody waiting"))

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	_, err := f.hub.RunQueryAndWait(ctx, "agent-1", "0")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	f.hub.mu.Lock()
	assert.Empty(t, f.hub.waiters, "waiter removed after timeout")
	f.hub.mu.Unlock()
}

func TestHub_ConcurrentWaitIsRejected(t *testing.T) {
	f := newHubFixture(t)

	type reply struct {
		result string
		err    error
	}
	first := make(chan reply, 1)
	go func() {
		result, err := f.hub.RunQueryAndWait(t.Context(), "agent-1", "0")
		first <- reply{result, err}
	}()
	require.Eventually(t, func() bool { return len(f.stream.messages()) == 1 }, time.Second, time.Millisecond)

	_, err := f.hub.RunQueryAndWait(t.Context(), "agent-1", "1")
	require.ErrorIs(t, err, ErrWaitInProgress)
	assert.Len(t, f.stream.messages(), 1, "rejected caller sends no command")

	f.hub.HandleFullResult("agent-1", `["first"]`)
	select {
	case r := <-first:
		require.NoError(t, r.err)
		assert.Equal(t, `["first"]`, r.result)
	case <-time.After(time.Second):
		t.Fatal("first waiter never completed")
	}

	go func() {
		assert.Eventually(t, func() bool { return len(f.stream.messages()) == 2 }, time.Second, time.Millisecond)
		f.hub.HandleFullResult("agent-1", `["second"]`)
	}()
	got, err := f.hub.RunQueryAndWait(t.Context(), "agent-1", "1")
	require.NoError(t, err)
	assert.Equal(t, `["second"]`, got)
}

func TestHub_TestConnectionAndWait(t *testing.T) {
	f := newHubFixture(t)

	go func() {
		assert.Eventually(t, func() bool { return len(f.stream.messages()) == 1 }, time.Second, time.Millisecond)
		f.hub.HandleTestResult("agent-1", "Connection successful.")
	}()

	got, err := f.hub.TestConnectionAndWait(t.Context(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Connection successful.", got)

	rec, _ := f.hub.Registry().Lookup("agent-1")
	assert.Equal(t, "Connection successful.", rec.LastTestResult)
}

func TestHub_WaitOnUnknownAgentFailsFast(t *testing.T) {
	f := newHubFixture(t)
	_, err := f.hub.RunQueryAndWait(t.Context(), "ghost", "0")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestHub_HandleChunkForwardsToSink(t *testing.T) {
	f := newHubFixture(t)
	f.hub.HandleChunk("agent-1", "Batch:1:{}", false)
	f.hub.HandleChunk("agent-1", "Data stream completed", true)

	require.Len(t, f.sink.writes, 2)
	assert.Equal(t, chunkWrite{"agent-1", "Data stream completed", true}, f.sink.writes[1])
	assert.Contains(t, f.pub.types(), events.TypeStreamChunk)
}
