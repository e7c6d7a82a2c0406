package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/ledger"
	"messenger-service/internal/models"
	"messenger-service/internal/moderation"
	"messenger-service/internal/repositories"
	"messenger-service/internal/router"
	"messenger-service/internal/telemetry"
)

// MessageHandler manages the peer-chat endpoints: the sidebar, conversation
// fetches (which double as the seen acknowledgement), sends, edits, and the
// per-viewer delete/clear operations.
type MessageHandler struct {
	users    repositories.UserRepository
	messages repositories.MessageRepository
	ledger   *ledger.Ledger
	router   *router.Router
	gate     moderation.Gate
	audit    *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(users repositories.UserRepository, messages repositories.MessageRepository, led *ledger.Ledger, rt *router.Router, gate moderation.Gate, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{
		users:    users,
		messages: messages,
		ledger:   led,
		router:   rt,
		gate:     gate,
		audit:    audit,
	}
}

// ListUsers returns every other user plus the caller's unseen count per peer.
func (h *MessageHandler) ListUsers(c *gin.Context) {
	userID := c.GetInt64("userID")

	users, err := h.users.ListOthers(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}

	unseen, err := h.messages.CountUnseenByPeer(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unseen counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users, "unseen_messages": unseen})
}

// GetConversation returns the ordered peer conversation and acknowledges it
// as seen: counter reset, seen flags persisted, peer notified.
func (h *MessageHandler) GetConversation(c *gin.Context) {
	peerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID := c.GetInt64("userID")

	msgs, err := h.messages.PeerConversation(c.Request.Context(), userID, peerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	seenIDs, err := h.messages.MarkPeerConversationSeen(c.Request.Context(), userID, peerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark conversation seen"})
		return
	}
	h.ledger.AcknowledgeSeen(models.PeerKey(peerID), userID)
	h.router.NotifySeen(peerID, seenIDs...)

	for i := range msgs {
		if msgs[i].SenderID == peerID {
			msgs[i].Seen = true
		}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// SendMessage runs the moderation gate, persists the message, and hands it to
// the router. The response reflects persistence only; live pushes are
// fire-and-forget.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	receiverID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID := c.GetInt64("userID")
	if receiverID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot message yourself"})
		return
	}

	var in models.MessageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if in.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message has no content"})
		return
	}
	if h.gate.IsForbidden(in.Text) {
		h.emitAudit(c, "WARN", "message rejected by moderation gate")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "message contains restricted info"})
		return
	}

	msg, err := h.messages.CreatePeerMessage(c.Request.Context(), userID, receiverID, in)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	if _, err := h.router.Deliver(c.Request.Context(), msg); err != nil {
		log.Printf("deliver message %d failed: %v", msg.ID, err)
	}
	h.emitAudit(c, "INFO", "message sent")
	c.JSON(http.StatusCreated, msg)
}

// MarkMessageSeen flags one message seen and notifies its sender.
func (h *MessageHandler) MarkMessageSeen(c *gin.Context) {
	messageID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	msg, err := h.messages.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}

	if err := h.messages.MarkSeen(c.Request.Context(), messageID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark seen"})
		return
	}
	h.router.NotifySeen(msg.SenderID, messageID)
	c.Status(http.StatusNoContent)
}

// EditMessage replaces a message's text. Only the original sender may edit;
// the edited copy is fanned out so open views replace it in place.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	messageID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID := c.GetInt64("userID")

	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.gate.IsForbidden(req.Text) {
		h.emitAudit(c, "WARN", "edit rejected by moderation gate")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "message contains restricted info"})
		return
	}

	msg, err := h.messages.EditMessage(c.Request.Context(), messageID, userID, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrMessageNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		case errors.Is(err, repositories.ErrNotSender):
			c.JSON(http.StatusForbidden, gin.H{"error": "only the sender can edit"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to edit message"})
		}
		return
	}

	if err := h.router.DeliverEdit(c.Request.Context(), msg); err != nil {
		log.Printf("deliver edit %d failed: %v", msg.ID, err)
	}
	h.emitAudit(c, "INFO", "message edited")
	c.JSON(http.StatusOK, msg)
}

// DeleteChat soft-deletes the whole peer conversation for the caller only.
func (h *MessageHandler) DeleteChat(c *gin.Context) {
	peerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID := c.GetInt64("userID")

	if err := h.messages.DeletePeerConversationFor(c.Request.Context(), userID, peerID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete chat"})
		return
	}
	h.ledger.AcknowledgeSeen(models.PeerKey(peerID), userID)
	h.emitAudit(c, "INFO", "chat deleted for caller")
	c.Status(http.StatusNoContent)
}

// ClearChat hides the current peer conversation history for the caller only.
func (h *MessageHandler) ClearChat(c *gin.Context) {
	peerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID := c.GetInt64("userID")

	if err := h.messages.ClearConversationFor(c.Request.Context(), userID, models.PeerKey(peerID)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear chat"})
		return
	}
	h.ledger.AcknowledgeSeen(models.PeerKey(peerID), userID)
	h.emitAudit(c, "INFO", "chat cleared for caller")
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
