// Package websocket is the connection layer of the Event Bus / Room
// Router (spec §4.8): bookkeeping for connected clients, ride-room
// fan-out, and direct per-client delivery. Cross-instance fan-out is a
// separate concern layered on top by pkg/eventbus.
package websocket

import "sync"

// Hub tracks connected clients and their ride-room memberships, and
// routes inbound messages to registered handlers.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan *Message

	mu      sync.RWMutex
	clients map[string]*Client
	rides   map[string]map[string]*Client

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc
}

// NewHub builds an empty Hub. Call Run in its own goroutine to start
// processing registrations and broadcasts.
func NewHub() *Hub {
	return &Hub{
		Register:   make(chan *Client, 64),
		Unregister: make(chan *Client, 64),
		Broadcast:  make(chan *Message, 256),
		clients:    make(map[string]*Client),
		rides:      make(map[string]map[string]*Client),
		handlers:   make(map[string]HandlerFunc),
	}
}

// Run processes registration/unregistration and broadcast traffic until
// the caller stops feeding it (it never returns on its own).
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)
		case client := <-h.Unregister:
			h.unregisterClient(client)
		case msg := <-h.Broadcast:
			h.SendToAll(msg)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.clients[client.ID]; ok && existing != client {
		h.removeFromRideLocked(existing)
	}
	h.clients[client.ID] = client
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.clients[client.ID]; !ok || current != client {
		return
	}
	delete(h.clients, client.ID)
	h.removeFromRideLocked(client)
	client.closeOnce.Do(func() { close(client.Send) })
}

func (h *Hub) removeFromRideLocked(client *Client) {
	for _, room := range client.leaveAllRooms() {
		if members, ok := h.rides[room]; ok {
			delete(members, client.ID)
			if len(members) == 0 {
				delete(h.rides, room)
			}
		}
	}
}

// disconnectStuckClient tears down a client whose send queue overflowed,
// without routing through the Unregister channel (the caller may itself
// be on the hub's hot path).
func (h *Hub) disconnectStuckClient(client *Client) {
	h.mu.Lock()
	if current, ok := h.clients[client.ID]; ok && current == client {
		delete(h.clients, client.ID)
		h.removeFromRideLocked(client)
	}
	h.mu.Unlock()

	client.closeOnce.Do(func() { close(client.Send) })
}

// GetClient returns the registered client for id, if any.
func (h *Hub) GetClient(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

// GetClientCount returns the number of currently registered clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// AddClientToRide joins clientID into room, without evicting any other
// room it already belongs to — a client may hold its ride_{id} room, its
// user_{id}/driver_{id} identity room, and admin simultaneously (spec
// §4.8 reconnection bookkeeping auto-joins all of these at once).
func (h *Hub) AddClientToRide(clientID, rideID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return
	}

	members, ok := h.rides[rideID]
	if !ok {
		members = make(map[string]*Client)
		h.rides[rideID] = members
	}
	members[clientID] = client
	client.joinRoom(rideID)
}

// RemoveClientFromRide removes clientID from room, pruning it entirely
// once empty.
func (h *Hub) RemoveClientFromRide(clientID, rideID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rides[rideID]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(h.rides, rideID)
	}

	if client, ok := h.clients[clientID]; ok {
		client.leaveRoom(rideID)
	}
}

// GetClientsInRide returns the clients currently joined to ride_{rideID}.
func (h *Hub) GetClientsInRide(rideID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.rides[rideID]
	if !ok {
		return nil
	}
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// GetRideCount returns the number of ride rooms with at least one member.
func (h *Hub) GetRideCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rides)
}

// SendToUser delivers msg directly to clientID's socket, a no-op if the
// client is not connected.
func (h *Hub) SendToUser(clientID string, msg *Message) {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	client.SendMessage(msg)
}

// SendToRide fans msg out to every client currently joined to ride_{rideID}.
func (h *Hub) SendToRide(rideID string, msg *Message) {
	for _, client := range h.GetClientsInRide(rideID) {
		client.SendMessage(msg)
	}
}

// SendToAll broadcasts msg to every connected client (the `admin` and
// `admin_support_online` rooms are modeled as plain client sets joined
// via AddClientToRide like any other room; SendToAll additionally covers
// true fleet-wide announcements).
func (h *Hub) SendToAll(msg *Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.SendMessage(msg)
	}
}

// RegisterHandler wires a HandlerFunc to an inbound message type.
func (h *Hub) RegisterHandler(msgType string, handler HandlerFunc) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[msgType] = handler
}

// HandleMessage dispatches msg to its registered handler, if any. Unknown
// message types are dropped silently rather than erroring the connection.
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	h.handlersMu.RLock()
	handler, ok := h.handlers[msg.Type]
	h.handlersMu.RUnlock()
	if !ok {
		return
	}
	handler(client, msg)
}
