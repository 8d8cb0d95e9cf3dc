// Package ws pushes device events to presentation clients over websockets
// and hands their commands back to the core.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/redmonkez12/loyalty-card/internal/logging"
)

const (
	authTimeout    = 5 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
	sendBuffer     = 256
)

var ErrHubStopped = errors.New("websocket hub stopped")

// AuthFunc validates a session token and returns the identity it belongs to
type AuthFunc func(token string) (identityID string, err error)

// MessageHandler is called for every command a client sends
type MessageHandler func(ctx context.Context, client *Client, messageType string, data json.RawMessage) error

// Message is the envelope for both directions
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Client struct {
	ID         string
	IdentityID string
	conn       *websocket.Conn
	send       chan []byte
	hub        *Hub
	closed     bool // guarded by hub.mu
}

// Hub tracks authenticated connections. Register and unregister go
// through Run so the client map has a single writer.
type Hub struct {
	clients        map[string]*Client
	mu             sync.RWMutex
	register       chan *Client
	unregister     chan *Client
	authFunc       AuthFunc
	messageHandler MessageHandler
	upgrader       websocket.Upgrader
	logger         *logging.Logger
	ctx            context.Context
}

// NewHub returns a hub that accepts any origin when allowedOrigins is empty
func NewHub(authFunc AuthFunc, allowedOrigins []string, logger *logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 10),
		unregister: make(chan *Client, 10),
		authFunc:   authFunc,
		logger:     logger,
		ctx:        context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

func (h *Hub) SetMessageHandler(handler MessageHandler) {
	h.messageHandler = handler
}

// Run owns client registration until ctx ends, then disconnects everyone
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, client := range h.clients {
				h.dropLocked(client)
			}
			h.mu.Unlock()
			h.logger.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.logger.Info("websocket client registered", "client_id", client.ID, "identity_id", client.IdentityID)

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Info("websocket client unregistered", "client_id", client.ID)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; ok {
		h.dropLocked(client)
	}
}

func (h *Hub) dropLocked(client *Client) {
	delete(h.clients, client.ID)
	if !client.closed {
		client.closed = true
		close(client.send)
	}
}

// Broadcast queues message for every client. Clients that cannot keep up
// are dropped.
func (h *Hub) Broadcast(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("websocket client too slow, disconnecting", "client_id", id)
			h.dropLocked(client)
		}
	}
}

// BroadcastTyped wraps data in a Message envelope and broadcasts it
func (h *Hub) BroadcastTyped(msgType string, data any) error {
	msg, err := encode(msgType, data)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// ClientCount reports the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DisconnectMismatched drops every client authenticated as someone other
// than identityID. An empty identityID drops everyone.
func (h *Hub) DisconnectMismatched(identityID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for _, client := range h.clients {
		if identityID != "" && client.IdentityID == identityID {
			continue
		}
		h.dropLocked(client)
		dropped++
	}
	if dropped > 0 {
		h.logger.Info("disconnected websocket clients of a previous identity", "count", dropped, "identity_id", identityID)
	}
	return dropped
}

// FollowIdentity disconnects stale clients each time the signed-in
// identity changes, until ctx ends or states is closed. identityOf returns ""
// for a signed-out state.
func FollowIdentity[T any](ctx context.Context, h *Hub, states <-chan T, identityOf func(T) string) {
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			h.DisconnectMismatched(identityOf(state))
		}
	}
}

// Relay broadcasts every value from events under msgType until ctx ends or
// events is closed
func Relay[T any](ctx context.Context, h *Hub, msgType string, events <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.BroadcastTyped(msgType, ev); err != nil {
				h.logger.Error("failed to relay event", "type", msgType, "error", err)
			}
		}
	}
}

// ServeWS upgrades the request and authenticates the connection. The token
// may be given as a "token" query parameter or as the first message.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
		var authMsg struct {
			Token string `json:"token"`
		}
		if err := conn.ReadJSON(&authMsg); err != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseProtocolError, "auth timeout"))
			_ = conn.Close()
			h.logger.Warn("websocket auth failed", "reason", "no auth message")
			return
		}
		token = authMsg.Token
	}

	identityID, err := h.authFunc(token)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": "invalid token"})
		_ = conn.Close()
		h.logger.Warn("websocket auth failed", "reason", "invalid token", "error", err)
		return
	}

	client := &Client{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		hub:        h,
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := conn.WriteJSON(map[string]string{"status": "authenticated", "identity_id": identityID}); err != nil {
		_ = conn.Close()
		return
	}

	h.mu.RLock()
	ctx := h.ctx
	h.mu.RUnlock()

	select {
	case h.register <- client:
	case <-ctx.Done():
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// SendTyped queues a message for this client only
func (c *Client) SendTyped(msgType string, data any) error {
	msg, err := encode(msgType, data)
	if err != nil {
		return err
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.closed {
		return ErrHubStopped
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return fmt.Errorf("send buffer full for client %s", c.ID)
	}
}

func (c *Client) readPump() {
	logger := c.hub.logger.With("client_id", c.ID)
	c.hub.mu.RLock()
	hubCtx := c.hub.ctx
	c.hub.mu.RUnlock()

	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-hubCtx.Done():
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("failed to parse websocket message", "error", err)
			continue
		}

		if c.hub.messageHandler == nil {
			continue
		}

		if err := c.hub.messageHandler(logging.WithLogger(hubCtx, logger), c, msg.Type, msg.Data); err != nil {
			logger.Warn("websocket message handler failed", "type", msg.Type, "error", err)
			_ = c.SendTyped("error", map[string]string{"type": msg.Type, "error": err.Error()})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encode(msgType string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	msg, err := json.Marshal(Message{Type: msgType, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", msgType, err)
	}
	return msg, nil
}
