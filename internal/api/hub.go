package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"today-planner/internal/identity"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 * 1024
)

// Message types pushed on the change feed.
const (
	MessageTasks    = "tasks"
	MessageError    = "error"
	MessageRollover = "rollover"
	MessagePong     = "pong"
)

// Message is the change feed format. Clients reload the named bucket on
// "tasks", and show Text on "error".
type Message struct {
	Type   string `json:"type"`
	Bucket string `json:"bucket,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Client is one WebSocket connection of a signed-in user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	// signedIn is set once the connection holds an identity session.
	signedIn bool
}

type envelope struct {
	userID string
	data   []byte
}

// Hub fans change notifications out to every connection of the affected user.
// Each user with at least one open connection counts as signed in.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	identity   *identity.Provider
}

func NewHub(provider *identity.Provider) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		broadcast:  make(chan envelope, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		identity:   provider,
	}
}

// Run serves the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, conns := range h.clients {
				for c := range conns {
					close(c.send)
				}
			}
			h.clients = nil
			return
		case c := <-h.register:
			conns, ok := h.clients[c.userID]
			if !ok {
				conns = make(map[*Client]struct{})
				h.clients[c.userID] = conns
			}
			conns[c] = struct{}{}
			slog.Debug("websocket connected", "user", c.userID, "connections", len(conns))
		case c := <-h.unregister:
			h.drop(c)
		case env := <-h.broadcast:
			for c := range h.clients[env.userID] {
				select {
				case c.send <- env.data:
				default:
					slog.Warn("websocket send buffer full, dropping client", "user", c.userID)
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	conns, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(h.clients, c.userID)
	}
	slog.Debug("websocket disconnected", "user", c.userID)
}

// Broadcast sends msg to all of the user's connections.
func (h *Hub) Broadcast(userID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal websocket message", "err", err)
		return
	}
	select {
	case h.broadcast <- envelope{userID: userID, data: data}:
	case <-h.done:
	}
}

// Attach registers the connection and signs the user in. It returns once the
// hub knows about the client.
func (h *Hub) Attach(conn *websocket.Conn, userID string) *Client {
	c := &Client{hub: h, conn: conn, send: make(chan []byte, 256), userID: userID}
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
		return c
	}
	if h.identity != nil {
		h.identity.SignIn(userID)
		c.signedIn = true
	}
	return c
}

func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
	if c.signedIn {
		h.identity.SignOut(c.userID)
		c.signedIn = false
	}
}

// ReadPump handles pings and the close handshake. Nothing else is expected
// from the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.detach(c)
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
				slog.Warn("websocket read", "user", c.userID, "err", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "ping" {
			continue
		}
		c.hub.Broadcast(c.userID, Message{Type: MessagePong})
	}
}

// WritePump forwards queued messages and keeps the connection alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
