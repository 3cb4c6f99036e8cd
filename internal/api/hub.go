package api

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/defiguard/internal/logging"
	"github.com/defiguard/internal/models"
)

const (
	// DefaultHistory is the number of messages kept per recipient for polling
	DefaultHistory = 50
	// DefaultWriteWait bounds a single websocket write; a peer slower than this is dropped
	DefaultWriteWait = 10 * time.Second
)

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // gorilla connections allow one concurrent writer
}

func (c *client) writeJSON(v interface{}, wait time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// Hub is the dispatcher's outbox: it pushes messages to live websocket clients of the
// recipient and keeps a bounded per-recipient backlog.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	history map[string][]models.OutboundMessage
	keep    int
	wait    time.Duration
}

// NewHub creates a hub retaining up to keep messages per recipient
func NewHub(keep int) *Hub {
	if keep <= 0 {
		keep = DefaultHistory
	}
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		history: make(map[string][]models.OutboundMessage),
		keep:    keep,
		wait:    DefaultWriteWait,
	}
}

// WithWriteTimeout replaces the per-write deadline
func (h *Hub) WithWriteTimeout(d time.Duration) *Hub {
	if d > 0 {
		h.wait = d
	}
	return h
}

// addClient registers a websocket connection for recipient
func (h *Hub) addClient(recipient string, conn *websocket.Conn) *client {
	c := &client{conn: conn}
	h.mu.Lock()
	if h.clients[recipient] == nil {
		h.clients[recipient] = make(map[*client]struct{})
	}
	h.clients[recipient][c] = struct{}{}
	h.mu.Unlock()
	return c
}

// removeClient unregisters and closes a connection
func (h *Hub) removeClient(recipient string, c *client) {
	h.mu.Lock()
	if set, ok := h.clients[recipient]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, recipient)
		}
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Send records msg and pushes it to every live connection of its recipient.
// A recipient without connections is not an error.
func (h *Hub) Send(ctx context.Context, msg models.OutboundMessage) error {
	h.mu.Lock()
	backlog := append(h.history[msg.Recipient], msg)
	if len(backlog) > h.keep {
		backlog = append([]models.OutboundMessage(nil), backlog[len(backlog)-h.keep:]...)
	}
	h.history[msg.Recipient] = backlog

	targets := make([]*client, 0, len(h.clients[msg.Recipient]))
	for c := range h.clients[msg.Recipient] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.writeJSON(msg, h.wait); err != nil {
			logging.FromContext(ctx).WithField("recipient", msg.Recipient).WithError(err).Debug("Dropping websocket client")
			h.removeClient(msg.Recipient, c)
		}
	}
	return nil
}

// Messages returns the retained messages for recipient, oldest first
func (h *Hub) Messages(recipient string) []models.OutboundMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]models.OutboundMessage(nil), h.history[recipient]...)
}

// Connections returns the number of live websocket clients
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
