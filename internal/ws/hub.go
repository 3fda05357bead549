package ws

import (
	"encoding/json"
	"sync"
)

// Hub is the broadcast dispatcher: it knows every connected client and which
// room each one has joined, and delivers addressed envelopes room-scoped,
// globally, or to a single connection.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	byRoom  map[*Client]string
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		byRoom:  make(map[*Client]string),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Unregister drops the client from its room and the global set.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c)
	delete(h.clients, c)
}

// JoinRoom moves the client into roomID (a client is in at most one room)
// and records its media participant identity.
func (h *Hub) JoinRoom(c *Client, roomID, identity string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c)
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
	h.byRoom[c] = roomID
	c.identity = identity
}

func (h *Hub) LeaveRoom(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c)
}

func (h *Hub) leaveLocked(c *Client) {
	roomID, ok := h.byRoom[c]
	if !ok {
		return
	}
	delete(h.rooms[roomID], c)
	if len(h.rooms[roomID]) == 0 {
		delete(h.rooms, roomID)
	}
	delete(h.byRoom, c)
	c.identity = ""
}

// RoomOf returns the room the client has joined and its participant identity.
func (h *Hub) RoomOf(c *Client) (roomID, identity string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byRoom[c], c.identity
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// BroadcastRoom delivers to every client joined to roomID.
func (h *Hub) BroadcastRoom(roomID string, env Envelope) {
	b, _ := json.Marshal(env)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[roomID] {
		c.enqueue(b)
	}
}

// BroadcastAll delivers to every connected client.
func (h *Hub) BroadcastAll(env Envelope) {
	b, _ := json.Marshal(env)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.enqueue(b)
	}
}

// SendTo delivers to a single connection (direct responses, error events).
func (h *Hub) SendTo(c *Client, env Envelope) {
	b, _ := json.Marshal(env)
	c.enqueue(b)
}

// SendToUser delivers to every connection authenticated as userID. A user
// may hold several connections at once; all of them get the envelope.
func (h *Hub) SendToUser(userID string, env Envelope) {
	b, _ := json.Marshal(env)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.UserID == userID {
			c.enqueue(b)
		}
	}
}
