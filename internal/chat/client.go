package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum message size allowed from peer.

	sendBufferSize = 256
)

// MessageSender is what the Client needs from the router. The interface
// keeps the connection plumbing decoupled from the chat logic.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID, senderID, text string) (*Message, error)
}

// Client is a middleman between one websocket session and the hub.
type Client struct {
	hub    *Hub
	router MessageSender
	conn   *websocket.Conn
	send   chan []byte
	userID string
	log    *slog.Logger

	// mu orders every enqueue against closeSend: the readPump can still
	// produce replies after the hub has dropped this session.
	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, router MessageSender, conn *websocket.Conn, userID string, log *slog.Logger) *Client {
	return &Client{
		hub:    hub,
		router: router,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: userID,
		log:    log,
	}
}

// Start launches the read and write pumps. The caller must have registered
// the client with the hub first.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump pumps inbound events from the websocket into the router.
func (c *Client) readPump() {
	defer func() {
		// Closing the connection deregisters the session promptly; any
		// in-flight send to it fails silently at the hub.
		c.hub.Disconnect(c.userID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read", "user_id", c.userID, "error", err)
			}
			return
		}

		var ev Inbound
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.reply(newErrorEvent(err))
			continue
		}
		if ev.Type != EventTypeMessage {
			continue
		}

		if _, err := c.router.SendMessage(context.Background(), ev.ConversationID, c.userID, ev.Text); err != nil {
			// Validation errors go back to the offending session only.
			c.reply(newErrorEvent(err))
		}
	}
}

// reply enqueues an event on this session only, bypassing the hub.
func (c *Client) reply(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	c.enqueue(payload)
}

// enqueue places a payload on the send queue unless the session is already
// closed or its buffer is full. Reports whether the payload was queued.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend marks the session closed and shuts the send queue down, which
// stops the writePump. Only the hub calls this, exactly once per session.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	close(c.send)
}

// writePump pumps queued events to the websocket connection. Draining a
// single channel from a single goroutine is what gives FIFO per connection.
// Each event goes out as its own text frame so clients can JSON-parse frames
// one at a time.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub dropped this session.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
