package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/typing"
)

// Hub maps room names to the connections subscribed to them.
// Lock order is hub, then room.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]*room
	joined  map[string]map[string]struct{}
	logger  *zap.Logger
}

type room struct {
	mu      sync.Mutex
	members map[string]*Client
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]*room),
		joined:  make(map[string]map[string]struct{}),
		logger:  logger,
	}
}

// Register makes c addressable. Only registered clients can join rooms.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID()] = c
	if _, ok := h.joined[c.ID()]; !ok {
		h.joined[c.ID()] = make(map[string]struct{})
	}
}

// Unregister removes c from every room it joined.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name := range h.joined[c.ID()] {
		h.removeLocked(name, c.ID())
	}
	delete(h.joined, c.ID())
	delete(h.clients, c.ID())
}

// Join subscribes c to name. It reports whether c was newly added.
func (h *Hub) Join(c *Client, name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID()]; !ok {
		return false
	}
	r, ok := h.rooms[name]
	if !ok {
		r = &room{members: make(map[string]*Client)}
		h.rooms[name] = r
	}
	r.mu.Lock()
	_, already := r.members[c.ID()]
	r.members[c.ID()] = c
	r.mu.Unlock()
	h.joined[c.ID()][name] = struct{}{}
	return !already
}

// Leave unsubscribes c from name. It reports whether c was a member.
func (h *Hub) Leave(c *Client, name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rooms, ok := h.joined[c.ID()]; ok {
		delete(rooms, name)
	}
	return h.removeLocked(name, c.ID())
}

func (h *Hub) removeLocked(name, connID string) bool {
	r, ok := h.rooms[name]
	if !ok {
		return false
	}
	r.mu.Lock()
	_, member := r.members[connID]
	delete(r.members, connID)
	empty := len(r.members) == 0
	r.mu.Unlock()
	if empty {
		delete(h.rooms, name)
	}
	return member
}

// InRoom reports whether connID is subscribed to name.
func (h *Hub) InRoom(connID, name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.joined[connID][name]
	return ok
}

// TypistJoined reports whether the connection that started t is still
// subscribed to the group room. It backs typing.WithGuard.
func (h *Hub) TypistJoined(t typing.Typist, groupID int64) bool {
	return h.InRoom(t.ConnID, models.GroupRoom(groupID))
}

// RoomSize returns the number of subscribers of name.
func (h *Hub) RoomSize(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[name]
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// UserInRoom reports whether any connection of userID other than
// exceptConnID is subscribed to name.
func (h *Hub) UserInRoom(userID int64, name, exceptConnID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[name]
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.members {
		if id != exceptConnID && !c.closed() && c.userID() == userID {
			return true
		}
	}
	return false
}

// UserConnected reports whether userID has a live authenticated connection
// on this hub other than exceptConnID.
func (h *Hub) UserConnected(userID int64, exceptConnID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		if id != exceptConnID && !c.closed() && c.State() == StateAuthenticated && c.userID() == userID {
			return true
		}
	}
	return false
}

// Client looks up a registered connection.
func (h *Hub) Client(connID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	return c, ok
}

// Clients returns a snapshot of registered connections.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// BroadcastRoom delivers event to every subscriber of name except
// exceptConnID. The event is encoded once. Frames are queued while the room
// lock is held, so events sent to one room keep their order for every
// subscriber. Closed or slow subscribers are skipped.
func (h *Hub) BroadcastRoom(name string, event models.Event, exceptConnID string) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal broadcast failed", zap.String("event", event.Event), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[name]
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.members {
		if id == exceptConnID {
			continue
		}
		c.deliver(event.Event, payload)
	}
}

// SendToUser pushes event to every connection of userID.
func (h *Hub) SendToUser(userID int64, event models.Event) {
	h.BroadcastRoom(models.UserRoom(userID), event, "")
}

// EvictUser removes every connection of userID from the group room and
// reports how many were subscribed.
func (h *Hub) EvictUser(userID, groupID int64) int {
	name := models.GroupRoom(groupID)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id, c := range h.clients {
		if c.userID() != userID {
			continue
		}
		c.removeGroup(groupID)
		if rooms, ok := h.joined[id]; ok {
			delete(rooms, name)
		}
		if h.removeLocked(name, id) {
			n++
		}
	}
	return n
}
