package realtime

import (
	"github.com/noah-isme/teamhub-realtime/internal/dto"
	"github.com/noah-isme/teamhub-realtime/internal/presence"
)

// Hub fans events out to connections tracked by the presence registry, outside
// of any room.
type Hub struct {
	registry *presence.Registry
}

// NewHub creates a hub over the given registry.
func NewHub(registry *presence.Registry) *Hub {
	return &Hub{registry: registry}
}

// BroadcastAll delivers event to every live connection and returns how many accepted it.
func (h *Hub) BroadcastAll(event dto.SocketEvent) int {
	delivered := 0
	for _, conn := range h.registry.Connections() {
		if conn.Deliver(event) {
			delivered++
		}
	}
	return delivered
}

// PushToUser delivers event to every connection bound to userID.
func (h *Hub) PushToUser(userID string, event dto.SocketEvent) int {
	delivered := 0
	for _, conn := range h.registry.UserConns(userID) {
		if conn.Deliver(event) {
			delivered++
		}
	}
	return delivered
}

// Connections reports the number of live connections.
func (h *Hub) Connections() int {
	return len(h.registry.Connections())
}
