package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bytedance/sonic"
)

// Hub tracks subscribers and delivers published messages to the ones
// whose topic matches.
type Hub struct {
	name   string
	logger *slog.Logger

	clients    map[*Client]struct{}
	publish    chan Message
	register   chan *Client
	unregister chan *Client

	// Closed when Run returns.
	done chan struct{}

	mu      sync.RWMutex
	running bool
}

// New creates a hub. Start it with Run.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("component", "hub", "hub", name),
		clients:    make(map[*Client]struct{}),
		publish:    make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run delivers messages until ctx is done, then disconnects every
// client. Call it once, in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		for c := range h.clients {
			h.drop(c)
		}
		h.running = false
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("subscriber connected", "topic", c.topic, "clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("subscriber disconnected", "topic", c.topic, "clients", n)

		case m := <-h.publish:
			h.mu.Lock()
			h.deliver(m)
			h.mu.Unlock()
		}
	}
}

// deliver hands m to every matching client. Clients whose buffer is full
// are disconnected. h.mu must be held.
func (h *Hub) deliver(m Message) {
	for c := range h.clients {
		if !c.wants(m) {
			continue
		}
		select {
		case c.send <- m:
		default:
			h.drop(c)
			h.logger.Warn("dropped slow subscriber", "topic", c.topic)
		}
	}
}

// drop closes c's queue and forgets it. h.mu must be held.
func (h *Hub) drop(c *Client) {
	close(c.send)
	delete(h.clients, c)
}

// Send queues m without blocking. It is dropped when the queue is full.
func (h *Hub) Send(m Message) {
	select {
	case h.publish <- m:
	default:
		h.logger.Warn("publish queue full, dropping message", "topic", m.Topic)
	}
}

// Publish encodes v as JSON and sends it under topic.
func (h *Hub) Publish(topic string, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	h.Send(Message{Topic: topic, Data: data})
	return nil
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Pending returns the number of queued messages.
func (h *Hub) Pending() int {
	return len(h.publish)
}
