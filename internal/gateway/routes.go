// ABOUTME: HTTP routing for the relay API using chi
// ABOUTME: Health probes, agent commands, SSE streaming, destination CRUD and the event websocket

package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/2389/sql-relay/internal/telemetry"
)

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(telemetry.HTTPMiddleware(g.config.Telemetry.ServiceName))

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Handle("/events", g.websockets)

		r.Get("/agents", g.handleListAgents)
		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Get("/", g.handleGetAgent)
			r.Get("/configuration", g.handleGetConfiguration)
			r.Post("/configuration", g.handlePushConfiguration)
			r.Post("/run", g.handleRunQuery)
			r.Get("/result", g.handleLastResult)
			r.Post("/test", g.handleTestConnection)
			r.Get("/stream", g.handleStream)
			r.Post("/stream", g.handleStream)
		})

		r.Route("/destinations", func(r chi.Router) {
			r.Get("/", g.handleListDestinations)
			r.Post("/", g.handleCreateDestination)
			r.Get("/{destinationID}", g.handleGetDestination)
			r.Put("/{destinationID}", g.handleUpdateDestination)
			r.Delete("/{destinationID}", g.handleDeleteDestination)
		})
	})

	return r
}
