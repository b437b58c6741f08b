package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	myMiddleware "chitchat/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

type Handler struct {
	hub     *Hub
	service *Service
	log     *slog.Logger
}

func NewHandler(hub *Hub, service *Service, log *slog.Logger) *Handler {
	return &Handler{hub: hub, service: service, log: log}
}

// ServeWs upgrades the request to a duplex connection and registers it under
// the authenticated user.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", "error", err)
		return
	}

	client := NewClient(h.hub, h.service, conn, userID, h.log)
	h.hub.Connect(userID, client)
	client.Start()
}

type startConversationRequest struct {
	IsGroup       bool     `json:"is_group"`
	ParticipantID string   `json:"participant_id,omitempty"`
	Participants  []string `json:"participants,omitempty"`
	GroupName     string   `json:"group_name,omitempty"`
}

// StartConversation finds-or-creates a private chat, or creates a group.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(string)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var (
		conv *Conversation
		err  error
	)
	if req.IsGroup {
		conv, err = h.service.StartGroup(r.Context(), userID, req.Participants, req.GroupName)
	} else {
		conv, err = h.service.StartPrivate(r.Context(), userID, req.ParticipantID)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(conv)
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(string)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.service.DeleteConversation(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

// GetRecentChats serves the cold-start conversation list.
func (h *Handler) GetRecentChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(string)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	convs, err := h.service.ListRecent(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if convs == nil {
		convs = []*Conversation{}
	}
	json.NewEncoder(w).Encode(convs)
}

func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(string)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	msgs, err := h.service.ListMessages(r.Context(), conversationID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	json.NewEncoder(w).Encode(msgs)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrConversationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrNotAParticipant):
		status = http.StatusForbidden
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrInvalidConversation):
		status = http.StatusBadRequest
	case errors.Is(err, ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
