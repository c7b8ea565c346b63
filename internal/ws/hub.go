// Package ws fans broadcast messages out to the websocket connections of a
// session room. Rooms are dumb transport: payload shaping and game logic
// live in the api layer.
package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
	}
}

// Add registers a connection with a session room and starts its write
// pump. The caller owns the read side through Client.Read.
func (h *Hub) Add(sessionID string, conn *websocket.Conn) *Client {
	c := &Client{
		hub:       h,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[sessionID] = room
	}
	room[c] = struct{}{}
	size := len(room)
	h.mu.Unlock()

	slog.Info("ws: connection joined room", "session", sessionID, "connections", size)

	go c.writePump()
	return c
}

// Broadcast queues a message to every connection in the session room.
// Connections that cannot keep up are dropped.
func (h *Hub) Broadcast(sessionID string, message []byte) {
	h.mu.RLock()
	var slow []*Client
	for c := range h.rooms[sessionID] {
		select {
		case c.send <- message:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("ws: dropping slow connection", "session", sessionID)
		c.Close()
	}
}

// CloseRoom disconnects every client of a torn-down session.
func (h *Hub) CloseRoom(sessionID string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[sessionID]))
	for c := range h.rooms[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}

// RoomSize reports the number of live connections in a session room.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[c.sessionID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.sessionID)
	}
}

// Client is one websocket connection inside a session room. PlayerID is
// set by the api layer once the connection identifies itself.
type Client struct {
	hub       *Hub
	sessionID string
	conn      *websocket.Conn
	send      chan []byte

	once sync.Once
	done chan struct{}

	PlayerID string
}

func (c *Client) SessionID() string { return c.sessionID }

// Send queues a message for this connection only, used for per-connection
// error notifications.
func (c *Client) Send(message []byte) {
	select {
	case c.send <- message:
	case <-c.done:
	}
}

// Read blocks for the next message from the peer.
func (c *Client) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Close unregisters the connection and tears it down. Safe to call more
// than once.
func (c *Client) Close() {
	c.once.Do(func() {
		c.hub.remove(c)
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
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
