package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const livePingInterval = 30 * time.Second

// handleLive upgrades to a websocket and streams the caller's progress events
// until the client disconnects.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	id := identity(r)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "user_id", id.UserID, "error", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := s.bus.Subscribe(id.UserID)
	defer cancel()

	ctx := r.Context()
	pings := time.NewTicker(livePingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-pings.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				slog.Debug("live stream write failed", "user_id", id.UserID, "error", err)
				return
			}
		}
	}
}
