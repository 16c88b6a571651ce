// ABOUTME: HTTP CRUD handlers for bulk-load destinations
// ABOUTME: Reads go through the cached store; writes invalidate the cached entry

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/2389/sql-relay/internal/bulk"
	"github.com/2389/sql-relay/internal/store"
)

// DestinationRequest is the body of create and update calls.
type DestinationRequest struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name"`
	ConnectionString string `json:"connectionString"`
	TableName        string `json:"tableName,omitempty"`
}

func (req *DestinationRequest) validate() error {
	if strings.TrimSpace(req.ConnectionString) == "" {
		return fmt.Errorf("%w: connectionString is required", errBadRequest)
	}
	if req.TableName != "" {
		if _, err := bulk.ParseTableName(req.TableName); err != nil {
			return fmt.Errorf("%w: tableName: %v", errBadRequest, err)
		}
	}
	return nil
}

func decodeDestination(r *http.Request) (*DestinationRequest, error) {
	var req DestinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// handleListDestinations handles GET /api/destinations.
func (g *Gateway) handleListDestinations(w http.ResponseWriter, r *http.Request) {
	dests, err := g.store.ListDestinations(r.Context())
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if dests == nil {
		dests = []*store.Destination{}
	}
	g.writeJSON(w, http.StatusOK, dests)
}

// handleCreateDestination handles POST /api/destinations. A missing id is generated.
func (g *Gateway) handleCreateDestination(w http.ResponseWriter, r *http.Request) {
	req, err := decodeDestination(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	now := time.Now().UTC()
	d := &store.Destination{
		ID:               req.ID,
		Name:             req.Name,
		ConnectionString: req.ConnectionString,
		TableName:        req.TableName,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	if err := g.store.CreateDestination(r.Context(), d); err != nil {
		g.writeError(w, r, err)
		return
	}
	g.logger.Info("destination created", "destination_id", d.ID)
	g.writeJSON(w, http.StatusCreated, d)
}

// handleGetDestination handles GET /api/destinations/{destinationID}.
func (g *Gateway) handleGetDestination(w http.ResponseWriter, r *http.Request) {
	d, err := g.store.GetDestination(r.Context(), chi.URLParam(r, "destinationID"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, d)
}

// handleUpdateDestination handles PUT /api/destinations/{destinationID}.
func (g *Gateway) handleUpdateDestination(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "destinationID")
	req, err := decodeDestination(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	existing, err := g.store.GetDestination(r.Context(), id)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	updated := *existing
	updated.Name = req.Name
	updated.ConnectionString = req.ConnectionString
	updated.TableName = req.TableName
	updated.UpdatedAt = time.Now().UTC()

	if err := g.store.UpdateDestination(r.Context(), &updated); err != nil {
		g.writeError(w, r, err)
		return
	}
	g.logger.Info("destination updated", "destination_id", id)
	g.writeJSON(w, http.StatusOK, &updated)
}

// handleDeleteDestination handles DELETE /api/destinations/{destinationID}.
func (g *Gateway) handleDeleteDestination(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "destinationID")
	if err := g.store.DeleteDestination(r.Context(), id); err != nil {
		g.writeError(w, r, err)
		return
	}
	g.logger.Info("destination deleted", "destination_id", id)
	w.WriteHeader(http.StatusNoContent)
}
