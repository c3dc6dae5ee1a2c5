package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second // spec §4.8: "connection keepalive at 25s ping, 60s pong"
	maxMessageSize = 1 << 16
	sendBufferSize = 256
)

// Client is one connected socket, tagged with the identity (rider or
// driver id) and role it authenticated as.
type Client struct {
	ID   string
	Role string
	Send chan *Message

	hub    *Hub
	conn   *websocket.Conn
	logger *zap.Logger

	mu        sync.RWMutex
	rooms     map[string]struct{}
	lastRoom  string
	closeOnce sync.Once

	userID   uuid.UUID
	hasIdent bool
}

// SetContext stashes the authenticated identity this socket was upgraded
// for, so inbound handlers dispatched through the Hub don't need a
// separate identity lookup per message.
func (c *Client) SetContext(userID uuid.UUID) {
	c.mu.Lock()
	c.userID = userID
	c.hasIdent = true
	c.mu.Unlock()
}

// UserID returns the identity set by SetContext, if any.
func (c *Client) UserID() (uuid.UUID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.hasIdent
}

// NewClient wires a raw websocket connection into the hub's client model.
func NewClient(id string, conn *websocket.Conn, hub *Hub, role string, logger *zap.Logger) *Client {
	return &Client{
		ID:     id,
		Role:   role,
		Send:   make(chan *Message, sendBufferSize),
		hub:    hub,
		conn:   conn,
		logger: logger,
		rooms:  make(map[string]struct{}),
	}
}

// GetRide returns the most recently joined room, or "" if the client
// isn't in any. Kept for callers that only ever track a single ride room
// per client; a client auto-joined into several rooms at once (spec
// §4.8: user/driver/ride/admin simultaneously) should use Rooms instead.
func (c *Client) GetRide() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRoom
}

// Rooms returns every room this client currently belongs to.
func (c *Client) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	return out
}

func (c *Client) joinRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.lastRoom = room
	c.mu.Unlock()
}

func (c *Client) leaveRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	if c.lastRoom == room {
		c.lastRoom = ""
	}
	c.mu.Unlock()
}

func (c *Client) leaveAllRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	c.rooms = make(map[string]struct{})
	c.lastRoom = ""
	return out
}

// SendMessage delivers msg to this client's outbound queue without
// blocking the caller. A client whose queue is full is treated as stuck
// (dead write pump, slow consumer) and disconnected rather than letting
// one slow client back-pressure the whole hub.
func (c *Client) SendMessage(msg *Message) {
	defer func() {
		// Send may already be closed by a concurrent overflow disconnect.
		_ = recover()
	}()

	select {
	case c.Send <- msg:
	default:
		c.hub.disconnectStuckClient(c)
	}
}

// ReadPump pumps inbound messages from the socket to the hub, dispatching
// each through the hub's registered handlers. It closes the connection
// and unregisters the client on any read error.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.String("clientId", c.ID), zap.Error(err))
			}
			return
		}
		c.hub.HandleMessage(c, &msg)
	}
}

// WritePump pumps the client's outbound queue to the socket and sends
// periodic pings, per spec §4.8's 25s/60s keepalive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
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
