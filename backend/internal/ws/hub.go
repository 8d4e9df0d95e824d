package ws

import (
	"context"
	"sync"

	"syncServer/backend/internal/cache"
	"syncServer/backend/internal/collab"
)

// Hub tracks live connections per document room and per user. It is the
// engine's local broadcast collaborator: SendToUser delivers an event to
// every open connection of one user. A user may hold several
// connections (tabs, devices), so rooms store connections, not ids.
type Hub struct {
	presence cache.PresenceCache

	mu sync.RWMutex
	// docID -> set of connections
	rooms map[string]map[*Conn]struct{}
	// userID -> set of connections
	users map[string]map[*Conn]struct{}
}

func NewHub(p cache.PresenceCache) *Hub {
	return &Hub{
		presence: p,
		rooms:    make(map[string]map[*Conn]struct{}),
		users:    make(map[string]map[*Conn]struct{}),
	}
}

func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
	if h.users[c.userID] == nil {
		h.users[c.userID] = make(map[*Conn]struct{})
	}
	h.users[c.userID][c] = struct{}{}
}

func (h *Hub) Leave(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
	if conns, ok := h.users[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.users, c.userID)
		}
	}
}

// SendToUser implements collab.Broadcaster. Delivery is best-effort: a
// user with no open connection is not an error, and full per-connection
// queues drop the frame.
func (h *Hub) SendToUser(ctx context.Context, userID string, evt collab.Event) error {
	h.mu.RLock()
	conns := h.users[userID]
	targets := make([]*Conn, 0, len(conns))
	for c := range conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	e := evt
	for _, c := range targets {
		c.enqueue(ServerMessage{Type: e.Event, UserID: userID, Event: &e})
	}
	return nil
}

// BroadcastPresence pushes the live member list to everyone in a room.
func (h *Hub) BroadcastPresence(docID string, members []cache.Member) {
	h.mu.RLock()
	conns := h.rooms[docID]
	targets := make([]*Conn, 0, len(conns))
	for c := range conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	msg := ServerMessage{Type: "presence", DocID: docID, Members: members}
	for _, c := range targets {
		c.enqueue(msg)
	}
}
