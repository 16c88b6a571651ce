// Package gateway orchestrates the sql-relay server components.
//
// # Overview
//
// The gateway owns the agent-facing gRPC server, the HTTP API, the SQLite
// store (behind a destination cache), the agent registry and hub, the stream
// bridge, the bulk loader pipeline and event fan-out.
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - Store reachable and at least one agent online
//   - GET /api/agents - List agent records
//   - GET /api/agents/{id} - One agent record
//   - GET|POST /api/agents/{id}/configuration - Read or push configuration
//   - POST /api/agents/{id}/run?queryIndex=&wait= - Full-result query
//   - GET /api/agents/{id}/result - Last full result
//   - POST /api/agents/{id}/test?wait= - Connectivity test
//   - GET /api/agents/{id}/stream?queryIndex=&destinationId= - SSE stream
//   - /api/destinations - Destination CRUD
//   - GET /api/events?agentId= - Websocket status events
//
// Errors are JSON bodies of the form {"error": "..."}. Unknown agents and
// destinations are 404, offline agents and bad input 400, delivery failures 502.
//
// # SSE Streaming
//
// Each pipeline element is one event named after its kind:
//
//	event: data
//	data: {"kind":"data","text":"{\"columns\":[...],\"rows\":[...]}"}
//
//	event: notice
//	data: {"kind":"notice","text":"Table dbo.Orders created."}
//
//	event: done
//	data: {"batches":2,"rows":510,"failed":false,"rowsLoaded":510}
//
// A stream that fails ends with an error event followed by done.
//
// # gRPC Service
//
//	service RelayControl {
//	    rpc AgentStream(stream AgentMessage) returns (stream ServerMessage);
//	}
//
// Messages travel with the JSON codec registered by proto/relay.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // returns after ctx is canceled and servers have stopped
package gateway
