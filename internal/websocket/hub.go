// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/scanguard/internal/alerting"
	"github.com/tomtom215/scanguard/internal/logging"
	"github.com/tomtom215/scanguard/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled indicates the parent context was canceled.
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was exceeded.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Control message types. Event messages use the alerting event name as type.
const (
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// ErrHubBusy is returned by Publish when the broadcast queue is full.
var ErrHubBusy = errors.New("websocket hub broadcast queue full")

// Message is the wire format sent to clients.
type Message struct {
	Type      string      `json:"type"`
	Target    string      `json:"target,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// envelope carries a message and its routing.
type envelope struct {
	msg      Message
	audience string
	target   string
}

// Hub maintains the set of active clients and routes events to them:
// admin events to admin clients, employee and customer events to the
// client whose subject matches the event target.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan envelope, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// String implements fmt.Stringer for suture logging.
func (h *Hub) String() string {
	return "websocket-hub"
}

// Serve runs the hub until ctx is canceled, then closes every client and
// returns ctx.Err(). It is a suture service.
//
// DETERMINISM: Uses priority-based selection:
// - Priority 1: Context cancellation (shutdown)
// - Priority 2: Client lifecycle events (Register/Unregister)
// - Priority 3: Broadcast messages
// so client state is settled before a message is routed.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Info().
		Str("subject", client.identity.Subject).
		Bool("admin", client.identity.Admin).
		Int("total_clients", total).
		Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// logGracefulShutdown closes all clients and logs the shutdown. ctx.Err()
// is not logged as an error; cancellation is the normal stop path.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// sortedClients returns clients in ID order. Caller holds h.mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// deliver sends env to every client it is addressed to, in client ID order.
// Clients whose send buffer is full are dropped.
func (h *Hub) deliver(env envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var toRemove []*Client
	sent := 0
	for _, client := range h.sortedClients() {
		if !client.identity.Receives(env.audience, env.target) {
			continue
		}
		select {
		case client.send <- env.msg:
			sent++
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		metrics.WSErrors.WithLabelValues("slow_client").Inc()
		logging.Warn().Str("subject", client.identity.Subject).Msg("websocket client too slow, disconnected")
	}
	if len(toRemove) > 0 {
		metrics.WSConnections.Set(float64(len(h.clients)))
	}

	logging.Debug().
		Str("type", env.msg.Type).
		Str("audience", env.audience).
		Int("recipients", sent).
		Msg("websocket event delivered")
}

// closeAllClients closes every client in ID order.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.sortedClients() {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WSConnections.Set(0)
}

// Publish queues event for routing. It never blocks: a full queue returns
// ErrHubBusy and the event is dropped.
func (h *Hub) Publish(_ context.Context, event alerting.Event) error {
	env := envelope{
		msg: Message{
			Type:      event.Name,
			Target:    event.Target,
			Data:      event.Data,
			Timestamp: event.Timestamp,
		},
		audience: event.Audience,
		target:   event.Target,
	}

	select {
	case h.broadcast <- env:
		return nil
	default:
		metrics.WSErrors.WithLabelValues("broadcast_full").Inc()
		logging.Warn().Str("event", event.Name).Msg("broadcast channel full, dropping event")
		return ErrHubBusy
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MarshalMessage converts a message to JSON
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
