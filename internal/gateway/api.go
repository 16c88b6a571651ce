// ABOUTME: HTTP API handlers for agents: listing, configuration, run, result and test commands
// ABOUTME: Shared JSON/SSE response helpers and the error-to-status mapping live here too

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/2389/sql-relay/internal/agent"
	"github.com/2389/sql-relay/internal/bulk"
	"github.com/2389/sql-relay/internal/config"
	"github.com/2389/sql-relay/internal/store"
	"github.com/2389/sql-relay/proto/relay"
)

// errBadRequest marks caller input errors.
var errBadRequest = errors.New("bad request")

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrAgentNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrAgentOffline),
		errors.Is(err, errBadRequest),
		errors.Is(err, bulk.ErrSchemaInference):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrDuplicateDestination), errors.Is(err, agent.ErrWaitInProgress):
		return http.StatusConflict
	case errors.Is(err, agent.ErrSendFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON error body with the mapped status. Server
// errors are logged and their detail withheld.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	g.sendJSONError(w, code, msg)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes v with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("encoding response", "error", err)
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, dataJSON)
	return err
}

// resultWait bounds ?wait=true requests.
func (g *Gateway) resultWait() time.Duration {
	if g.config.Stream.ResultWait > 0 {
		return g.config.Stream.ResultWait
	}
	return config.DefaultResultWait
}

// wantWait reports whether ?wait= asks the handler to block for the agent's reply.
func wantWait(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("wait"))
	return err == nil && v
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store is reachable and at least one agent is online.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}

	online := g.registry.OnlineCount()
	if online == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", online)
}

// handleListAgents handles GET /api/agents.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := g.registry.List()
	if agents == nil {
		agents = []agent.Record{}
	}
	g.writeJSON(w, http.StatusOK, agents)
}

// handleGetAgent handles GET /api/agents/{agentID}.
func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	rec, ok := g.registry.Lookup(chi.URLParam(r, "agentID"))
	if !ok {
		g.writeError(w, r, agent.ErrAgentNotFound)
		return
	}
	g.writeJSON(w, http.StatusOK, rec)
}

// handleGetConfiguration returns the agent's saved configuration, or an
// empty one if nothing has been pushed yet.
func (g *Gateway) handleGetConfiguration(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if _, ok := g.registry.Lookup(agentID); !ok {
		g.writeError(w, r, agent.ErrAgentNotFound)
		return
	}

	cfg, err := g.store.GetAgentConfiguration(r.Context(), agentID)
	if errors.Is(err, store.ErrNotFound) {
		cfg = &relay.AgentConfiguration{Connections: []relay.ConnectionConfig{}}
	} else if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, cfg)
}

// handlePushConfiguration persists a configuration and pushes it to the agent.
func (g *Gateway) handlePushConfiguration(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var cfg relay.AgentConfiguration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		g.writeError(w, r, fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err))
		return
	}
	for i := range cfg.Connections {
		if cfg.Connections[i].ID == "" {
			cfg.Connections[i].ID = uuid.NewString()
		}
	}
	if cfg.Connections == nil {
		cfg.Connections = []relay.ConnectionConfig{}
	}

	rec, err := g.hub.PushConfiguration(r.Context(), agentID, &cfg)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, rec)
}

// handleRunQuery handles POST /api/agents/{agentID}/run?queryIndex=&wait=.
// Without wait the command is fire-and-forget and the result is fetched
// later from /result.
func (g *Gateway) handleRunQuery(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	queryIndex := r.URL.Query().Get("queryIndex")

	if !wantWait(r) {
		if err := g.hub.RunQuery(r.Context(), agentID, queryIndex); err != nil {
			g.writeError(w, r, err)
			return
		}
		g.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.resultWait())
	defer cancel()

	result, err := g.hub.RunQueryAndWait(ctx, agentID, queryIndex)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeRawJSON(w, result)
}

// handleLastResult returns the most recent full result pushed by the agent.
func (g *Gateway) handleLastResult(w http.ResponseWriter, r *http.Request) {
	rec, ok := g.registry.Lookup(chi.URLParam(r, "agentID"))
	if !ok {
		g.writeError(w, r, agent.ErrAgentNotFound)
		return
	}
	if rec.LastResult == "" {
		g.writeError(w, r, fmt.Errorf("no result yet: %w", store.ErrNotFound))
		return
	}
	writeRawJSON(w, rec.LastResult)
}

// writeRawJSON passes an agent-produced JSON document through unchanged.
func writeRawJSON(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// handleTestConnection handles POST /api/agents/{agentID}/test?wait=.
func (g *Gateway) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	if !wantWait(r) {
		if err := g.hub.TestConnection(r.Context(), agentID); err != nil {
			g.writeError(w, r, err)
			return
		}
		g.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.resultWait())
	defer cancel()

	result, err := g.hub.TestConnectionAndWait(ctx, agentID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"result": result})
}
