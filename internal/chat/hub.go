package chat

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Client represents a connected client with transport-agnostic connection.
type Client struct {
	ID   string
	Conn Conn
	// Username is empty until the client registers. Once the client is
	// registered with a Hub it is guarded by the Hub.
	Username string
	// Outgoing queues encoded frames for the client's writer.
	Outgoing chan []byte
}

// NewClient creates a client with a fresh ID and an outgoing queue of the
// given size.
func NewClient(conn Conn, buffer int) *Client {
	return &Client{
		ID:       uuid.NewString(),
		Conn:     conn,
		Outgoing: make(chan []byte, buffer),
	}
}

// Hub manages all connected clients and handles broadcast.
// TCP and WebSocket clients share a single Hub.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub. Once it returns no broadcast
// will send to the client's Outgoing queue, so the caller may close it.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Rename sets the client's username and returns the previous one.
func (h *Hub) Rename(client *Client, username string) (previous string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	previous = client.Username
	client.Username = username
	return previous
}

// Username returns the client's current username.
func (h *Hub) Username(client *Client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return client.Username
}

// Usernames returns the sorted names of registered clients.
func (h *Hub) Usernames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.clients))
	for c := range h.clients {
		if c.Username != "" {
			names = append(names, c.Username)
		}
	}
	slices.Sort(names)
	return names
}

// Send queues frame for one client. It reports false when the client is
// gone or its queue is full.
func (h *Hub) Send(client *Client, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.clients[client] {
		return false
	}
	select {
	case client.Outgoing <- frame:
		return true
	default:
		return false
	}
}

// Broadcast queues frame for every registered client except the given one,
// which may be nil. Clients without a username receive nothing. It never
// blocks: clients whose queue is full miss the frame. It returns the number
// of clients that missed it.
func (h *Hub) Broadcast(frame []byte, except *Client) (dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c == except || c.Username == "" {
			continue
		}
		select {
		case c.Outgoing <- frame:
		default:
			dropped++
		}
	}
	return dropped
}
