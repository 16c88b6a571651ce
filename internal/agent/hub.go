// ABOUTME: Server-to-agent commands and agent-to-server callbacks over the agent transport.
// ABOUTME: Owns one-shot waiters that let an HTTP caller block on a full result or test result.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/sql-relay/internal/events"
	"github.com/2389/sql-relay/internal/store"
	"github.com/2389/sql-relay/proto/relay"
)

// ErrAgentNotFound indicates the specified agent was never registered.
var ErrAgentNotFound = errors.New("agent not found")

// ErrAgentOffline indicates the agent is known but has no live connection.
var ErrAgentOffline = errors.New("agent offline")

// ErrSendFailed indicates a command could not be delivered to the agent.
var ErrSendFailed = errors.New("failed to send command to agent")

// ErrWaitInProgress is returned when another caller is already waiting on the
// same agent for the same kind of result.
var ErrWaitInProgress = errors.New("another request is already waiting on this agent")

// ChunkSink receives streamed chunks. Implemented by the stream bridge.
type ChunkSink interface {
	Write(agentID, chunk string, last bool) bool
}

type waitKind int

const (
	waitFullResult waitKind = iota
	waitTestResult
)

type waitKey struct {
	agentID string
	kind    waitKind
}

// Hub issues commands to agents and accepts their callbacks.
type Hub struct {
	registry  *Registry
	configs   store.AgentConfigurationStore
	chunks    ChunkSink
	publisher events.Publisher
	logger    *slog.Logger

	mu      sync.Mutex
	waiters map[waitKey]chan string
}

// NewHub creates a Hub. publisher may be nil.
func NewHub(registry *Registry, configs store.AgentConfigurationStore, chunks ChunkSink, publisher events.Publisher, logger *slog.Logger) *Hub {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Hub{
		registry:  registry,
		configs:   configs,
		chunks:    chunks,
		publisher: publisher,
		logger:    logger.With("component", "hub"),
		waiters:   make(map[waitKey]chan string),
	}
}

// Registry returns the hub's registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) send(agentID string, msg *relay.ServerMessage) error {
	conn, err := h.registry.connection(agentID)
	if err != nil {
		return err
	}
	if err := conn.Send(msg); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

// RunQuery asks the agent for a one-shot full result. An empty index runs
// every configured query.
func (h *Hub) RunQuery(ctx context.Context, agentID, queryIndex string) error {
	h.logger.Debug("run query", "agent_id", agentID, "query_index", queryIndex)
	return h.send(agentID, &relay.ServerMessage{RunQuery: &relay.RunQuery{QueryIndex: queryIndex}})
}

// StartStream asks the agent to stream one query's result as chunks.
func (h *Hub) StartStream(ctx context.Context, agentID, queryIndex string) error {
	h.logger.Debug("start stream", "agent_id", agentID, "query_index", queryIndex)
	return h.send(agentID, &relay.ServerMessage{StartStream: &relay.StartStream{QueryIndex: queryIndex}})
}

// TestConnection asks the agent to verify its configured connection.
func (h *Hub) TestConnection(ctx context.Context, agentID string) error {
	h.logger.Debug("test connection", "agent_id", agentID)
	return h.send(agentID, &relay.ServerMessage{TestConnection: &relay.TestConnection{}})
}

// PushConfiguration persists cfg and delivers it to the agent if online.
// The agent must be known. An offline agent receives it on next registration.
func (h *Hub) PushConfiguration(ctx context.Context, agentID string, cfg *relay.AgentConfiguration) (Record, error) {
	if _, ok := h.registry.Lookup(agentID); !ok {
		return Record{}, ErrAgentNotFound
	}

	if err := h.configs.SaveAgentConfiguration(ctx, agentID, cfg); err != nil {
		return Record{}, fmt.Errorf("saving configuration: %w", err)
	}

	rec, _ := h.registry.update(agentID, func(rec *Record) {
		rec.Configuration = cfg
		if cfg.CustomAgentName != "" {
			rec.CustomName = cfg.CustomAgentName
		}
	})

	err := h.send(agentID, &relay.ServerMessage{Configuration: cfg})
	switch {
	case errors.Is(err, ErrAgentOffline):
		h.logger.Info("agent offline, configuration saved for next registration", "agent_id", agentID)
	case err != nil:
		return rec, err
	}

	h.publisher.Publish(events.New(events.TypeConfigurationUpdated, agentID, cfg))
	return rec, nil
}

// RunQueryAndWait sends RunQuery and blocks until the agent pushes its full
// result or ctx is done.
func (h *Hub) RunQueryAndWait(ctx context.Context, agentID, queryIndex string) (string, error) {
	return h.sendAndWait(ctx, agentID, waitFullResult, func() error {
		return h.RunQuery(ctx, agentID, queryIndex)
	})
}

// TestConnectionAndWait sends TestConnection and blocks for the result text.
func (h *Hub) TestConnectionAndWait(ctx context.Context, agentID string) (string, error) {
	return h.sendAndWait(ctx, agentID, waitTestResult, func() error {
		return h.TestConnection(ctx, agentID)
	})
}

func (h *Hub) sendAndWait(ctx context.Context, agentID string, kind waitKind, send func() error) (string, error) {
	key := waitKey{agentID: agentID, kind: kind}
	ch := make(chan string, 1)

	h.mu.Lock()
	if _, busy := h.waiters[key]; busy {
		h.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrWaitInProgress, agentID)
	}
	h.waiters[key] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if h.waiters[key] == ch {
			delete(h.waiters, key)
		}
		h.mu.Unlock()
	}()

	if err := send(); err != nil {
		return "", err
	}

	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// complete hands result to the outstanding waiter, if any, exactly once.
func (h *Hub) complete(agentID string, kind waitKind, result string) bool {
	key := waitKey{agentID: agentID, kind: kind}

	h.mu.Lock()
	ch, ok := h.waiters[key]
	if ok {
		delete(h.waiters, key)
	}
	h.mu.Unlock()

	if !ok {
		return false
	}
	ch <- result
	return true
}

// HandleFullResult stores a pushed full result and completes any waiter.
func (h *Hub) HandleFullResult(agentID, json string) {
	rec, ok := h.registry.update(agentID, func(rec *Record) {
		rec.LastResult = json
		at := time.Now().UTC()
		rec.LastResultAt = &at
	})
	if !ok {
		h.logger.Warn("full result from unknown agent", "agent_id", agentID)
		return
	}

	waited := h.complete(agentID, waitFullResult, json)
	h.logger.Info("full result received", "agent_id", agentID, "bytes", len(json), "waiter", waited)
	h.publisher.Publish(events.New(events.TypeResultReceived, agentID, map[string]any{
		"bytes":        len(json),
		"lastResultAt": rec.LastResultAt,
	}))
}

// HandleChunk forwards a streamed chunk to the stream bridge.
func (h *Hub) HandleChunk(agentID, chunk string, last bool) {
	delivered := h.chunks.Write(agentID, chunk, last)
	h.publisher.Publish(events.New(events.TypeStreamChunk, agentID, map[string]any{
		"bytes":     len(chunk),
		"last":      last,
		"delivered": delivered,
	}))
}

// HandleTestResult stores a connectivity test result and completes any waiter.
func (h *Hub) HandleTestResult(agentID, result string) {
	if _, ok := h.registry.update(agentID, func(rec *Record) {
		rec.LastTestResult = result
	}); !ok {
		h.logger.Warn("test result from unknown agent", "agent_id", agentID)
		return
	}

	h.complete(agentID, waitTestResult, result)
	h.logger.Info("test result received", "agent_id", agentID, "result", result)
	h.publisher.Publish(events.New(events.TypeTestResult, agentID, result))
}
