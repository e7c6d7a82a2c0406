package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messenger-service/internal/ledger"
	"messenger-service/internal/middleware"
	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
	"messenger-service/internal/repositories"
	"messenger-service/internal/router"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler owns the live channel: handshake, presence registration, the
// client-event read loop, and exactly-once disconnect cleanup.
type Handler struct {
	hub       *Hub
	registry  *presence.Registry
	rooms     *presence.RoomIndex
	ledger    *ledger.Ledger
	router    *router.Router
	groups    repositories.GroupRepository
	messages  repositories.MessageRepository
	users     repositories.UserRepository
	jwtSecret string
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, registry *presence.Registry, rooms *presence.RoomIndex, led *ledger.Ledger, rt *router.Router, groups repositories.GroupRepository, messages repositories.MessageRepository, users repositories.UserRepository, jwtSecret string) *Handler {
	return &Handler{
		hub:       hub,
		registry:  registry,
		rooms:     rooms,
		ledger:    led,
		router:    rt,
		groups:    groups,
		messages:  messages,
		users:     users,
		jwtSecret: jwtSecret,
	}
}

// Handle upgrades the connection, registers presence, and serves the read loop.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messenger-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token != "" {
		token = trimBearer(token)
	} else {
		token = c.Query("token")
	}

	userID, err := middleware.UserIDFromToken(h.jwtSecret, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.Add(conn, info)
	h.registry.Register(userID, info.ConnID)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(ctx, info, "ws_connect", "")

	// The new connection always gets the current snapshot directly; the
	// presence-changed broadcast only fires when the user was not online yet.
	if err := h.hub.Push(info.ConnID, models.WireEvent{
		Type:    models.EventPresenceSnapshot,
		UserIDs: h.registry.OnlineUsers(),
	}); err != nil {
		log.Printf("initial presence push failed: %v", err)
	}

	// The request context ends when this handler returns; the read loop
	// outlives it but keeps the trace values.
	go h.readLoop(context.WithoutCancel(ctx), conn, info)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, info ConnInfo) {
	var closeReason string
	defer h.disconnect(ctx, info, &closeReason)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}

		var event models.ClientEvent
		if err := json.Unmarshal(data, &event); err != nil {
			observability.IncWSEvent("ws_bad_event")
			continue
		}
		h.handleClientEvent(ctx, info, event)
	}
}

func (h *Handler) handleClientEvent(ctx context.Context, info ConnInfo, event models.ClientEvent) {
	switch event.Type {
	case models.EventJoinRoom:
		h.joinRoom(ctx, info, event.GroupID)
	case models.EventSetActive:
		h.setActive(info.UserID, event)
	case models.EventMarkSeen:
		h.markSeen(ctx, info.UserID, event.ConversationKey)
	default:
		observability.IncWSEvent("ws_bad_event")
	}
}

// joinRoom adds the connection to the group's live room after checking the
// durable membership record. Join is idempotent.
func (h *Handler) joinRoom(ctx context.Context, info ConnInfo, groupID int64) {
	if groupID <= 0 {
		observability.IncWSEvent("ws_bad_event")
		return
	}
	member, err := h.groups.IsMember(ctx, groupID, info.UserID)
	if err != nil {
		log.Printf("join room membership check failed: %v", err)
		return
	}
	if !member {
		observability.IncWSEvent("join_denied")
		return
	}
	h.rooms.Join(info.ConnID, groupID)
	observability.IncWSEvent("join_room")
}

// setActive switches the user's open conversation; the ledger makes the
// deactivate/activate pair atomic.
func (h *Handler) setActive(userID int64, event models.ClientEvent) {
	switch {
	case event.PeerID > 0:
		h.ledger.SetActive(userID, models.ViewPeer(event.PeerID))
	case event.GroupID > 0:
		h.ledger.SetActive(userID, models.ViewGroup(event.GroupID))
	default:
		h.ledger.MarkInactive(userID)
	}
	observability.IncWSEvent("set_active")
}

// markSeen is the explicit acknowledgement: reset the viewer's unseen counter,
// persist the seen flags, and tell the peer their messages were seen.
func (h *Handler) markSeen(ctx context.Context, userID int64, rawKey string) {
	key, err := models.ParseConversationKey(rawKey)
	if err != nil {
		observability.IncWSEvent("ws_bad_event")
		return
	}
	h.ledger.AcknowledgeSeen(key, userID)

	if peerID, ok := key.PeerID(); ok {
		ids, err := h.messages.MarkPeerConversationSeen(ctx, userID, peerID)
		if err != nil {
			log.Printf("mark conversation seen failed: %v", err)
			return
		}
		h.router.NotifySeen(peerID, ids...)
	}
	observability.IncWSEvent("mark_seen")
}

// disconnect runs the cleanup cascade exactly once per connection: hub
// removal, presence unregister (which drops every joined room), and the
// last-seen write when the user's final connection is gone.
func (h *Handler) disconnect(ctx context.Context, info ConnInfo, closeReason *string) {
	if !h.hub.Remove(info.ConnID) {
		return
	}

	userID, wentOffline := h.registry.Unregister(info.ConnID)
	if wentOffline {
		h.ledger.MarkInactive(userID)
		if err := h.users.UpdateLastSeen(ctx, userID, time.Now()); err != nil {
			log.Printf("last seen update failed for user %d: %v", userID, err)
		}
	}

	observability.DecWSActive()
	observability.IncWSEvent("ws_disconnect")
	h.publishLifecycle(ctx, info, "ws_disconnect", *closeReason)
}

func (h *Handler) publishLifecycle(ctx context.Context, info ConnInfo, event, reason string) {
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, "ws_events.messenger", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   wsEventPayload(info, event, time.Since(info.ConnectedAt), reason),
	}, headers)
}

func trimBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return header
}
