package handler

import (
	"net/http"

	"github.com/aurorabench/converge-backend/internal/realtime"
)

// WebsocketUpgrade handles GET /ws: upgrades to a websocket connection that
// the caller then drives with join_room/leave_room frames to receive the
// Real-time Fan-out's events for a room.
func WebsocketUpgrade(hub *realtime.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Upgrade(w, r); err != nil {
			respondError(w, err)
		}
	}
}
