// Package hub owns every live connection and delivers outbound events.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	pkglog "github.com/weiawesome/wes-chat-hub/pkg/log"
)

// ErrStopped is returned when events are sent after the run loop exited.
var ErrStopped = errors.New("hub stopped")

const outboundBuffer = 1024

// delivery is one queued frame; an empty target means every client.
type delivery struct {
	target string
	data   []byte
}

// Hub fans events out to clients. Broadcast and Unicast share one FIFO queue
// so a single caller's events reach each client in the order they were sent.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	outbound   chan delivery
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan delivery, outboundBuffer),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and deliveries until ctx is cancelled. Every
// remaining client is closed on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.mu.Lock()
		for id, client := range h.clients {
			delete(h.clients, id)
			close(client.Send)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			if prev, ok := h.clients[client.ID]; ok && prev != client {
				close(prev.Send)
			}
			h.clients[client.ID] = client
			h.mu.Unlock()
			l := pkglog.L()
			l.Debug().Str(pkglog.FieldConnID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.removeClient(client)

		case d := <-h.outbound:
			if d.target == "" {
				h.mu.RLock()
				targets := make([]*Client, 0, len(h.clients))
				for _, client := range h.clients {
					targets = append(targets, client)
				}
				h.mu.RUnlock()
				for _, client := range targets {
					h.deliver(client, d.data)
				}
				continue
			}

			h.mu.RLock()
			client, ok := h.clients[d.target]
			h.mu.RUnlock()
			if ok {
				h.deliver(client, d.data)
			}
		}
	}
}

// deliver must only be called from the run loop.
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		l := pkglog.L()
		l.Warn().Str(pkglog.FieldConnID, client.ID).Msg("send buffer full, dropping client")
		h.removeClient(client)
	}
}

// removeClient must only be called from the run loop.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.clients[client.ID]; ok && current == client {
		delete(h.clients, client.ID)
		close(client.Send)
		l := pkglog.L()
		l.Debug().Str(pkglog.FieldConnID, client.ID).Msg("client unregistered")
	}
}

// Register attaches client. It returns false when the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister detaches client. Unknown or already removed clients are ignored.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues msg for every connected client.
func (h *Hub) Broadcast(msg interface{}) error {
	return h.enqueue("", msg)
}

// Unicast queues msg for one connection. It is a no-op if the connection is
// gone by the time the event is delivered.
func (h *Hub) Unicast(connID string, msg interface{}) error {
	if connID == "" {
		return nil
	}
	return h.enqueue(connID, msg)
}

func (h *Hub) enqueue(target string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	select {
	case <-h.done:
		return ErrStopped
	default:
	}

	select {
	case h.outbound <- delivery{target: target, data: data}:
		return nil
	case <-h.done:
		return ErrStopped
	}
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
