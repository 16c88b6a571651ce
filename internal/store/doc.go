// Package store provides persistent storage for the relay using SQLite.
//
// # Architecture
//
// The Store interface combines two narrower interfaces:
//
//   - AgentConfigurationStore: the configuration pushed to each agent, keyed by agent ID
//   - DestinationStore: CRUD over bulk-load destinations
//
// SQLiteStore implements Store on modernc.org/sqlite. Its schema lives in
// migrations/*.sql, embedded and applied with goose on open.
//
// CachedStore wraps any Store with a ristretto cache for GetDestination,
// which the streaming path calls once per bulk request. Updates and deletes
// invalidate the cached entry.
//
// MockStore is an in-memory implementation for tests in other packages.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/sql-relay/relay.db")
//	if err != nil {
//	    return err
//	}
//	cached, err := store.NewCachedStore(s, 5*time.Minute)
//
// All methods return ErrNotFound for missing records.
package store
