// Package websocket streams license and session events to connected
// clients.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"fitcore/internal/infrastructure"
)

// TypeConnection is sent to a client right after it registered.
const TypeConnection = "connection"

// broadcastBuffer bounds the events queued between Publish and the hub loop.
const broadcastBuffer = 64

// Message is one event as written to clients
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id,omitempty"`
}

type outbound struct {
	ctx       context.Context
	eventType string
	payload   []byte
}

// Hub maintains the set of active clients and broadcasts events to them.
// Run must be running for clients to register.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	count      chan chan int

	done    chan struct{}
	logger  *slog.Logger
	metrics *infrastructure.DaemonMetrics
	now     func() time.Time
}

// NewHub creates a hub. metrics may be nil.
func NewHub(metrics *infrastructure.DaemonMetrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan outbound, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		now:        time.Now,
	}
}

// Run serves registrations and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(ctx, c)
			}
			h.logger.InfoContext(ctx, "Hub shutting down")
			return nil

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.metrics.RecordEventClient(ctx, 1)
			h.logger.InfoContext(ctx, "Client registered",
				slog.String("client_id", c.id),
				slog.String("remote_addr", c.remoteAddr),
				slog.Int("total_clients", len(h.clients)),
			)
			if msg, err := h.encode(ctx, TypeConnection, map[string]string{"client_id": c.id}); err == nil {
				c.send <- msg
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(ctx, c)
				h.logger.InfoContext(ctx, "Client unregistered",
					slog.String("client_id", c.id),
					slog.Duration("connection_duration", time.Since(c.connectedAt)),
					slog.Int("total_clients", len(h.clients)),
				)
			}

		case reply := <-h.count:
			reply <- len(h.clients)

		case out := <-h.broadcast:
			dropped := 0
			for c := range h.clients {
				select {
				case c.send <- out.payload:
				default:
					dropped++
					h.drop(out.ctx, c)
					h.logger.WarnContext(out.ctx, "Client send buffer full, disconnecting",
						slog.String("client_id", c.id))
				}
			}
			h.metrics.RecordEventPublished(out.ctx, out.eventType, dropped)
			h.logger.DebugContext(out.ctx, "Broadcast event",
				slog.String("type", out.eventType),
				slog.Int("client_count", len(h.clients)),
			)
		}
	}
}

// drop removes c and closes its send channel, which ends its write pump.
func (h *Hub) drop(ctx context.Context, c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.metrics.RecordEventClient(ctx, -1)
}

func (h *Hub) encode(ctx context.Context, eventType string, data any) ([]byte, error) {
	payload, err := json.Marshal(Message{
		Type:      eventType,
		Data:      data,
		Timestamp: h.now().UTC(),
		TraceID:   infrastructure.TraceIDFromContext(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "Error marshaling event",
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
	}
	return payload, err
}

// Publish queues an event for every connected client. It never blocks: when
// the queue is full or the hub has stopped the event is dropped.
func (h *Hub) Publish(ctx context.Context, eventType string, data any) {
	payload, err := h.encode(ctx, eventType, data)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- outbound{ctx: context.WithoutCancel(ctx), eventType: eventType, payload: payload}:
	case <-h.done:
	default:
		h.logger.WarnContext(ctx, "Event queue full, dropping event", slog.String("type", eventType))
		h.metrics.RecordEventPublished(ctx, eventType, 1)
	}
}

// ClientCount returns the number of registered clients, or 0 once the hub
// has stopped.
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Register adds c. It returns false when the hub has stopped or ctx ended
// first.
func (h *Hub) Register(ctx context.Context, c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Unregister removes c if it is still registered.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
