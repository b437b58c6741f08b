package chat

import (
	"sort"
	"strings"
	"time"
)

// ---------------------------------------------
// Database & API Models
// ---------------------------------------------

type Conversation struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	IsGroup      bool      `json:"is_group"`
	GroupName    string    `json:"group_name,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"timestamp"`
}

// pairKey builds the dedup key for a private conversation: the unordered
// participant pair, sorted so (a,b) and (b,a) collide.
func pairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

// ---------------------------------------------
// Wire Events
// ---------------------------------------------

// Inbound is what the frontend SENDS over the websocket. The sender identity
// comes from the authenticated connection, never from the payload.
type Inbound struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

const EventTypeMessage = "message"

type NewMessageEvent struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id"`
	Message        *Message `json:"message"`
}

type NewChatEvent struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func newMessageEvent(m *Message) NewMessageEvent {
	return NewMessageEvent{Type: "new_message", ConversationID: m.ConversationID, Message: m}
}

func newChatEvent(conversationID string) NewChatEvent {
	return NewChatEvent{Type: "new_chat", ChatID: conversationID}
}

func newErrorEvent(err error) ErrorEvent {
	return ErrorEvent{Type: "error", Error: err.Error()}
}
