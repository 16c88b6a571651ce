// Package agent tracks agents connected to the relay and talks to them.
//
// # Registry
//
// The Registry is the process-wide directory of agents, keyed by agent ID:
//
//	reg := agent.NewRegistry(store, publisher, logger)
//
// Key operations:
//
//   - Register(ctx, id, primary, custom, conn): mark online, push saved configuration
//   - MarkDisconnected(conn): mark offline if conn is still the agent's handle
//   - Lookup(id): snapshot of one record
//   - List(): snapshots of all records
//
// Records are created on first registration and never deleted. A reconnect
// with the same ID replaces the handle; a late disconnect from the old
// handle is ignored.
//
// # Hub
//
// The Hub sends commands over an agent's stream and accepts its callbacks:
//
//   - RunQuery, StartStream, TestConnection, PushConfiguration
//   - HandleFullResult, HandleChunk, HandleTestResult
//
// Commands to an unknown agent fail with ErrAgentNotFound, to a known but
// disconnected agent with ErrAgentOffline, and on a broken stream with
// ErrSendFailed.
//
// RunQueryAndWait and TestConnectionAndWait register a one-shot waiter keyed
// by agent ID before sending, so a fast reply is never missed. A waiter is
// consumed by the first matching callback.
//
// # Thread Safety
//
// Each record has its own mutex; the directory itself is a sync.Map, so
// work on one agent never blocks another. Connection serializes Send.
package agent
