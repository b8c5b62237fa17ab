package server

import (
	"net/http"

	"CollabFM/logger"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StageWebSocketHandler GET /ws/collaborations，推送阶段变更
func (h *APIHandler) StageWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "Realtime updates not available")
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[Server] websocket upgrade failed", logger.ErrorField(err))
		return
	}
	h.hub.Serve(r.Context(), conn)
}
