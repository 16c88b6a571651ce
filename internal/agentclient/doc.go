// Package agentclient is the agent side of the relay transport.
//
// A Client dials the relay's RelayControl.AgentStream, sends RegisterAgent
// with its persisted id, waits for Welcome and then serves commands until the
// stream breaks, at which point it reconnects after the delay chosen by its
// RetryPolicy. Each command runs in its own goroutine; sends are serialized.
//
// The Executor opens the configured database through database/sql, using the
// pgx stdlib driver for PostgreSQL DSNs and modernc sqlite for file paths,
// and reports results in the formats the relay expects:
//
//   - runQuery: a JSON array with one table or "Error: ..." string per query
//   - testConnection: "Connection successful." or "Connection error: ..."
//   - startStream: status text, Schema:, Batch:<n>: pages, Summary:, then
//     "Data stream completed" as the last chunk
package agentclient
