package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pushguard/src/internal/gateway"
)

// handleWebsocket streams every published task snapshot to the client,
// starting with the current one.
func (s *Server) handleWebsocket(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	id, updates := gw.Cache.Subscribe()
	defer gw.Cache.Unsubscribe(id)

	if snap := gw.Snapshot(); snap.Version > 0 || len(snap.Records) > 0 {
		if err := ws.WriteJSON(newSnapshotResponse(snap)); err != nil {
			slog.Warn("failed to send initial snapshot", "error", err)
			return
		}
	}

	// the read loop only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-s.done:
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := ws.WriteJSON(newSnapshotResponse(snap)); err != nil {
				slog.Warn("failed to stream snapshot", "subscriber", id, "error", err)
				return
			}
		}
	}
}
