package handlers

import (
	"net/http"

	"bizledger/internal/websocket"
)

// Changes streams the caller's change events. Browsers pass the token as
// ?token= since they cannot set headers on an upgrade.
func (h *Handler) Changes(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	websocket.ServeWS(w, r, h.hub, owner)
}
