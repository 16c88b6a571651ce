// ABOUTME: SSE endpoint that streams a query's result from an agent, optionally bulk-loading it
// ABOUTME: Resolves the destination and table up front, opens the session, then sends StartStream

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/sql-relay/internal/agent"
	"github.com/2389/sql-relay/internal/bulk"
	"github.com/2389/sql-relay/internal/pipeline"
)

// streamDone is the final SSE event of a stream that was not cancelled.
type streamDone struct {
	Batches    int   `json:"batches"`
	Rows       int   `json:"rows"`
	Failed     bool  `json:"failed"`
	RowsLoaded int64 `json:"rowsLoaded,omitempty"`
}

// handleStream handles /api/agents/{agentID}/stream?queryIndex=&destinationId=.
// Each pipeline element becomes one SSE event named after its kind.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agentID := chi.URLParam(r, "agentID")
	queryIndex := r.URL.Query().Get("queryIndex")
	destinationID := r.URL.Query().Get("destinationId")

	rec, ok := g.registry.Lookup(agentID)
	if !ok {
		g.writeError(w, r, agent.ErrAgentNotFound)
		return
	}
	if !rec.Online {
		g.writeError(w, r, agent.ErrAgentOffline)
		return
	}

	var plan *pipeline.BulkPlan
	if destinationID != "" {
		var err error
		plan, err = g.resolveBulkPlan(ctx, rec, queryIndex, destinationID)
		if err != nil {
			g.writeError(w, r, err)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// The session must exist before the agent can push its first chunk.
	session := g.bridge.Open(agentID)
	if err := g.hub.StartStream(ctx, agentID, queryIndex); err != nil {
		g.bridge.Close(session)
		g.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	started := time.Now()
	emit := func(e pipeline.Element) error {
		if err := g.writeSSEEvent(w, string(e.Kind), e); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	out, err := g.pipeline.Run(ctx, session, plan, emit)

	outcome := "completed"
	switch {
	case ctx.Err() != nil:
		outcome = "cancelled"
	case err != nil || out.Failed:
		outcome = "failed"
	}
	g.metrics.StreamFinished(context.WithoutCancel(ctx), started, plan != nil, outcome)

	log := g.logger.With("agent_id", agentID, "session_id", session.ID)
	if outcome == "cancelled" {
		log.Info("stream cancelled by caller", "batches", out.Batches)
		return
	}
	log.Info("stream finished",
		"outcome", outcome,
		"batches", out.Batches,
		"rows", out.Rows,
		"rows_loaded", out.RowsLoaded,
		"duration", time.Since(started),
	)

	_ = g.writeSSEEvent(w, "done", streamDone{
		Batches:    out.Batches,
		Rows:       out.Rows,
		Failed:     outcome == "failed",
		RowsLoaded: out.RowsLoaded,
	})
	flusher.Flush()
}

// resolveBulkPlan looks up the destination and works out the target table
// from the destination's table hint or the query the agent will run.
func (g *Gateway) resolveBulkPlan(ctx context.Context, rec agent.Record, queryIndex, destinationID string) (*pipeline.BulkPlan, error) {
	dest, err := g.store.GetDestination(ctx, destinationID)
	if err != nil {
		return nil, fmt.Errorf("%w: destination %s: %w", bulk.ErrDestinationUnavailable, destinationID, err)
	}

	var ref bulk.TableRef
	if dest.TableName != "" {
		ref, err = bulk.ParseTableName(dest.TableName)
	} else {
		var query string
		query, err = configuredQuery(rec, queryIndex)
		if err != nil {
			return nil, err
		}
		ref, err = bulk.InferTable(query)
	}
	if err != nil {
		return nil, err
	}

	return &pipeline.BulkPlan{
		DestinationID: dest.ID,
		ConnString:    dest.ConnectionString,
		Table:         ref,
	}, nil
}

// configuredQuery returns connections[0].queries[index]; an empty index means 0.
func configuredQuery(rec agent.Record, queryIndex string) (string, error) {
	cfg := rec.Configuration
	if cfg == nil || len(cfg.Connections) == 0 {
		return "", fmt.Errorf("%w: agent %s has no configured connection", errBadRequest, rec.ID)
	}
	queries := cfg.Connections[0].Queries

	idx := 0
	if queryIndex != "" {
		n, err := strconv.Atoi(queryIndex)
		if err != nil {
			return "", fmt.Errorf("%w: invalid queryIndex %q", errBadRequest, queryIndex)
		}
		idx = n
	}
	if idx < 0 || idx >= len(queries) {
		return "", fmt.Errorf("%w: queryIndex %d out of range (%d queries)", errBadRequest, idx, len(queries))
	}
	return queries[idx], nil
}
