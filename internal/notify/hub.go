// Package notify delivers escalation lifecycle events to staff dashboards and
// downstream systems.
package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/myle1996kh/base-chatbot/internal/domain"
	"github.com/myle1996kh/base-chatbot/internal/metrics"
)

const (
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

type client struct {
	id   string
	send chan domain.Event
	// done is closed when the hub drops the client.
	done chan struct{}
	once sync.Once
}

func (c *client) drop() {
	c.once.Do(func() { close(c.done) })
}

// Hub tracks WebSocket subscribers per tenant and broadcasts events to them.
type Hub struct {
	mu      sync.RWMutex
	tenants map[string]map[string]*client

	originPatterns []string
	metrics        *metrics.Metrics
}

// NewHub creates a hub accepting upgrades from the given origin patterns.
// An empty pattern list only allows same-host requests.
func NewHub(originPatterns []string, m *metrics.Metrics) *Hub {
	return &Hub{
		tenants:        make(map[string]map[string]*client),
		originPatterns: originPatterns,
		metrics:        m,
	}
}

// Name implements Sink.
func (h *Hub) Name() string { return "websocket" }

// Send queues the event for every subscriber of the event's tenant.
// Subscribers whose buffer is full are disconnected.
func (h *Hub) Send(_ context.Context, ev domain.Event) error {
	h.mu.RLock()
	var slow []*client
	for _, c := range h.tenants[ev.TenantID] {
		select {
		case c.send <- ev:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("Dropping slow websocket subscriber", "tenant_id", ev.TenantID, "conn_id", c.id)
		h.unregister(ev.TenantID, c)
	}
	return nil
}

// Count returns the number of subscribers for a tenant.
func (h *Hub) Count(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants[tenantID])
}

func (h *Hub) register(tenantID string) *client {
	c := &client{
		id:   uuid.NewString(),
		send: make(chan domain.Event, clientBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	conns, ok := h.tenants[tenantID]
	if !ok {
		conns = make(map[string]*client)
		h.tenants[tenantID] = conns
	}
	conns[c.id] = c
	h.mu.Unlock()

	h.metrics.RecordWebSocketConnect()
	slog.Info("Websocket subscriber registered", "tenant_id", tenantID, "conn_id", c.id)
	return c
}

func (h *Hub) unregister(tenantID string, c *client) {
	h.mu.Lock()
	conns := h.tenants[tenantID]
	_, ok := conns[c.id]
	if ok {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(h.tenants, tenantID)
		}
	}
	h.mu.Unlock()

	c.drop()
	if ok {
		h.metrics.RecordWebSocketDisconnect()
		slog.Info("Websocket subscriber unregistered", "tenant_id", tenantID, "conn_id", c.id)
	}
}

// CloseAll drops every subscriber. Used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.tenants
	h.tenants = make(map[string]map[string]*client)
	h.mu.Unlock()

	for _, conns := range all {
		for _, c := range conns {
			c.drop()
			h.metrics.RecordWebSocketDisconnect()
		}
	}
}

// ServeTenant upgrades the request and streams the tenant's events until the
// client goes away or the hub drops it. Clients are not expected to send data.
func (h *Hub) ServeTenant(w http.ResponseWriter, r *http.Request, tenantID string) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("Failed to accept websocket", "error", err, "tenant_id", tenantID)
		return
	}

	c := h.register(tenantID)
	defer h.unregister(tenantID, c)

	// CloseRead discards client frames and cancels ctx once the peer closes.
	ctx := ws.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			if err := ws.Close(websocket.StatusPolicyViolation, "subscriber too slow"); err != nil {
				slog.Debug("Failed to close websocket", "error", err, "conn_id", c.id)
			}
			return
		case ev := <-c.send:
			if err := h.write(ctx, ws, ev); err != nil {
				slog.Debug("Websocket write failed", "error", err, "conn_id", c.id)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, ws *websocket.Conn, ev domain.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, ev)
}
