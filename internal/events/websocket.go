// ABOUTME: WebSocket endpoint streaming relay events to administrative subscribers
// ABOUTME: Each connection gets its own broadcaster subscription, optionally filtered by agentId

package events

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const wsWriteTimeout = 5 * time.Second

// WebsocketHub upgrades HTTP requests and forwards broadcaster events as JSON frames.
type WebsocketHub struct {
	broadcaster *Broadcaster
	logger      *slog.Logger
	conns       atomic.Int64
}

// NewWebsocketHub creates a hub reading from broadcaster.
func NewWebsocketHub(broadcaster *Broadcaster, logger *slog.Logger) *WebsocketHub {
	return &WebsocketHub{
		broadcaster: broadcaster,
		logger:      logger.With("component", "websocket"),
	}
}

// ServeHTTP handles GET /api/events[?agentId=].
func (h *WebsocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	agentID := r.URL.Query().Get("agentId")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.conns.Add(1)
	defer h.conns.Add(-1)
	h.logger.Info("websocket connected", "remote", r.RemoteAddr, "agent_id", agentID)

	// CloseRead consumes control frames and cancels ctx when the peer goes away.
	ctx = ws.CloseRead(ctx)
	events, _ := h.broadcaster.Subscribe(ctx, agentID)

	for {
		select {
		case <-ctx.Done():
			_ = ws.Close(websocket.StatusNormalClosure, "")
			h.logger.Info("websocket disconnected", "remote", r.RemoteAddr)
			return

		case ev, ok := <-events:
			if !ok {
				_ = ws.Close(websocket.StatusGoingAway, "relay shutting down")
				return
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, ws, ev)
			writeCancel()
			if err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *WebsocketHub) ConnectionCount() int {
	return int(h.conns.Load())
}
