package chat

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub maps each user to the set of their currently open websocket sessions
// and fans events out to them. A user can hold several sessions at once
// (multiple tabs); the per-user set is dropped as soon as it empties.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool
	log     *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]bool),
		log:     log,
	}
}

// Connect registers a session under the user. Duplicate sessions are fine.
func (h *Hub) Connect(userID string, c *Client) {
	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]bool)
	}
	h.clients[userID][c] = true
	sessions := len(h.clients[userID])
	h.mu.Unlock()

	h.log.Info("client connected", "user_id", userID, "sessions", sessions)
}

// Disconnect removes one session. The last session for a user removes the
// whole per-user entry. Safe to call for a session that was already dropped.
func (h *Hub) Disconnect(userID string, c *Client) {
	h.mu.Lock()
	set, ok := h.clients[userID]
	removed := false
	if ok && set[c] {
		delete(set, c)
		removed = true
		if len(set) == 0 {
			delete(h.clients, userID)
		}
	}
	h.mu.Unlock()

	if removed {
		c.closeSend()
		h.log.Info("client disconnected", "user_id", userID)
	}
}

// SendToUser delivers an event to every live session of the user. A session
// whose send buffer is full (or that is gone) is dropped, never retried; the
// failure does not reach the other sessions or the caller. A user with no
// sessions is a silent no-op. Events enqueued on one session are written out
// in order by its writePump.
func (h *Hub) SendToUser(userID string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("marshal event", "error", err)
		return
	}

	// enqueue is safe against a concurrent Disconnect: the client's own lock
	// orders every enqueue before or after the close.
	var dead []*Client
	h.mu.RLock()
	for c := range h.clients[userID] {
		if !c.enqueue(payload) {
			dead = append(dead, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dead {
		h.log.Warn("send failed, dropping session", "user_id", userID)
		h.Disconnect(userID, c)
	}
}

// SendToParticipants fans an event out to every participant of the
// conversation, the sender's other sessions included. No ordering is
// promised between different participants' deliveries.
func (h *Hub) SendToParticipants(conv *Conversation, event any) {
	for _, userID := range conv.Participants {
		h.SendToUser(userID, event)
	}
}

// Sessions reports how many live sessions the user currently has.
func (h *Hub) Sessions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
