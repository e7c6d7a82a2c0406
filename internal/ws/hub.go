package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
)

var ErrConnClosed = errors.New("connection not registered")

type client struct {
	conn *websocket.Conn
	info ConnInfo

	// Serializes writes; gorilla/websocket allows one concurrent writer.
	writeMu sync.Mutex
}

// Hub holds the live websocket connections keyed by connection id and is the
// push transport behind the message router. Connection lifecycle (presence
// registration, room cascade) is driven by the handler; the hub only writes.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// Add registers a live connection.
func (h *Hub) Add(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[info.ConnID] = &client{conn: conn, info: info}
}

// Remove drops a connection and closes it. Removing an unknown id is a no-op;
// the return value tells the caller whether this call performed the removal,
// so disconnect cleanup runs exactly once even when close events repeat.
func (h *Hub) Remove(connID string) bool {
	h.mu.Lock()
	cl, ok := h.clients[connID]
	if ok {
		delete(h.clients, connID)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	if cl.conn != nil {
		cl.conn.Close()
	}
	return true
}

// Push writes one event to one connection.
func (h *Hub) Push(connID string, event models.WireEvent) error {
	h.mu.RLock()
	cl, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return ErrConnClosed
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	cl.writeMu.Lock()
	err = cl.conn.WriteMessage(websocket.TextMessage, payload)
	cl.writeMu.Unlock()
	if err != nil {
		h.publishWSError(cl.info, err)
	}
	return err
}

// Broadcast writes one event to every live connection. Write failures are
// absorbed; the failing connection's read loop will observe the close and
// run the normal disconnect cleanup.
func (h *Hub) Broadcast(event models.WireEvent) {
	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients))
	for _, cl := range h.clients {
		conns = append(conns, cl)
	}
	h.mu.RUnlock()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("broadcast marshal failed: %v", err)
		return
	}
	for _, cl := range conns {
		cl.writeMu.Lock()
		err := cl.conn.WriteMessage(websocket.TextMessage, payload)
		cl.writeMu.Unlock()
		if err != nil {
			log.Printf("websocket write error: %v", err)
			h.publishWSError(cl.info, err)
		}
	}
}

// Count reports the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.messenger", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   wsEventPayload(info, "ws_error", time.Since(info.ConnectedAt), err.Error()),
	}, headers)
	observability.IncWSEvent("ws_error")
}

func wsEventPayload(info ConnInfo, event string, elapsed time.Duration, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": elapsed.Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
}
