// Package config handles configuration loading for sql-relay.
//
// # Overview
//
// The relay reads a YAML file with environment variable expansion. The agent
// keeps a small TOML state file instead.
//
// # Configuration File
//
// Default location:
//
//  1. Path from SQL_RELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/sql-relay/relay.yaml (~/.config when unset)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${SQL_RELAY_DB}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  grpc_addr: "0.0.0.0:50051"  # agent connections
//	  http_addr: "0.0.0.0:8080"   # HTTP API
//
//	database:
//	  path: "/var/lib/sql-relay/relay.db"
//
//	stream:
//	  read_timeout: "30s"   # inactivity window per chunk
//	  result_wait: "30s"    # bound for ?wait=true requests
//
//	bulk:
//	  page_size: 500
//	  page_timeout: "300s"
//
//	cache:
//	  destination_ttl: "5m"
//
//	events:
//	  nats_url: "nats://localhost:4222"   # optional
//	  nats_subject: "sqlrelay.events"
//
//	telemetry:
//	  otlp_endpoint: "localhost:4317"     # optional
//	  service_name: "sql-relay"
//
//	tailscale:
//	  enabled: false
//	  hostname: "sql-relay"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Durations use time.ParseDuration syntax and must be positive.
//
// # Agent State
//
// LoadAgentState reads $XDG_CONFIG_HOME/sql-relay/agent.toml, generating and
// persisting a stable agent_id on first use. Pushed configurations are
// remembered there so an agent can serve commands before the relay
// resends them.
package config
