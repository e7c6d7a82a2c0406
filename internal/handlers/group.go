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

// GroupHandler manages group endpoints: creation, listing, membership
// management, and group messaging.
type GroupHandler struct {
	groups   repositories.GroupRepository
	messages repositories.MessageRepository
	ledger   *ledger.Ledger
	router   *router.Router
	gate     moderation.Gate
	audit    *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(groups repositories.GroupRepository, messages repositories.MessageRepository, led *ledger.Ledger, rt *router.Router, gate moderation.Gate, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{
		groups:   groups,
		messages: messages,
		ledger:   led,
		router:   rt,
		gate:     gate,
		audit:    audit,
	}
}

// CreateGroup handles POST /api/groups. The creator is always a member.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	userID := c.GetInt64("userID")

	var req struct {
		Name       string  `json:"name" binding:"required"`
		GroupImage string  `json:"group_image"`
		MemberIDs  []int64 `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.groups.CreateGroup(c.Request.Context(), userID, req.Name, req.GroupImage, req.MemberIDs)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create group"})
		return
	}

	h.emitAudit(c, "INFO", "group created")
	c.JSON(http.StatusCreated, gin.H{"group": group})
}

// ListGroups returns groups the caller belongs to.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	userID := c.GetInt64("userID")
	groups, err := h.groups.ListGroupsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load groups"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// GetGroupMessages returns the group conversation for a member and
// acknowledges the caller's unseen count for the group.
func (h *GroupHandler) GetGroupMessages(c *gin.Context) {
	groupID, ok := parseIDParam(c, "group_id")
	if !ok {
		return
	}
	userID := c.GetInt64("userID")

	if !h.requireMember(c, groupID, userID) {
		return
	}

	msgs, err := h.messages.GroupConversation(c.Request.Context(), userID, groupID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	h.ledger.AcknowledgeSeen(models.GroupKey(groupID), userID)

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostGroupMessage persists a group message and routes it to the live room.
func (h *GroupHandler) PostGroupMessage(c *gin.Context) {
	groupID, ok := parseIDParam(c, "group_id")
	if !ok {
		return
	}
	userID := c.GetInt64("userID")

	if !h.requireMember(c, groupID, userID) {
		return
	}

	var in models.MessageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if in.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message has no content"})
		return
	}
	if h.gate.IsForbidden(in.Text) {
		h.emitAudit(c, "WARN", "group message rejected by moderation gate")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "message contains restricted info"})
		return
	}

	msg, err := h.messages.CreateGroupMessage(c.Request.Context(), userID, groupID, in)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	if _, err := h.router.Deliver(c.Request.Context(), msg); err != nil {
		log.Printf("deliver group message %d failed: %v", msg.ID, err)
	}
	h.emitAudit(c, "INFO", "group message sent")
	c.JSON(http.StatusCreated, msg)
}

// RenameGroup changes the group name. Creator only.
func (h *GroupHandler) RenameGroup(c *gin.Context) {
	groupID, ok := parseIDParam(c, "group_id")
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.requireCreator(c, groupID) {
		return
	}

	if err := h.groups.Rename(c.Request.Context(), groupID, req.Name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrGroupNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not rename group"})
		return
	}
	h.emitAudit(c, "INFO", "group renamed")
	c.Status(http.StatusNoContent)
}

// AddMember adds a user to the durable membership record. Creator only.
func (h *GroupHandler) AddMember(c *gin.Context) {
	groupID, ok := parseIDParam(c, "group_id")
	if !ok {
		return
	}

	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.requireCreator(c, groupID) {
		return
	}

	if err := h.groups.AddMember(c.Request.Context(), groupID, req.UserID); err != nil {
		if errors.Is(err, repositories.ErrAlreadyMember) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user is already a member"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not add member"})
		return
	}
	h.emitAudit(c, "INFO", "group member added")
	c.Status(http.StatusNoContent)
}

// RemoveMember removes a user from the durable membership record. Creator
// only. The removed member's live room join, if any, is pruned lazily at the
// next delivery.
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	groupID, ok := parseIDParam(c, "group_id")
	if !ok {
		return
	}

	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.requireCreator(c, groupID) {
		return
	}

	if err := h.groups.RemoveMember(c.Request.Context(), groupID, req.UserID); err != nil {
		if errors.Is(err, repositories.ErrNotMember) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user is not a member"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove member"})
		return
	}
	h.ledger.AcknowledgeSeen(models.GroupKey(groupID), req.UserID)
	h.emitAudit(c, "INFO", "group member removed")
	c.Status(http.StatusNoContent)
}

// ClearGroupChat hides the current group history for the caller only.
func (h *GroupHandler) ClearGroupChat(c *gin.Context) {
	groupID, ok := parseIDParam(c, "group_id")
	if !ok {
		return
	}
	userID := c.GetInt64("userID")

	if !h.requireMember(c, groupID, userID) {
		return
	}

	if err := h.messages.ClearConversationFor(c.Request.Context(), userID, models.GroupKey(groupID)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear group chat"})
		return
	}
	h.ledger.AcknowledgeSeen(models.GroupKey(groupID), userID)
	h.emitAudit(c, "INFO", "group chat cleared for caller")
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) requireMember(c *gin.Context, groupID, userID int64) bool {
	member, err := h.groups.IsMember(c.Request.Context(), groupID, userID)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return false
	}
	if !member {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return false
	}
	return true
}

func (h *GroupHandler) requireCreator(c *gin.Context, groupID int64) bool {
	userID := c.GetInt64("userID")
	group, err := h.groups.GetGroup(c.Request.Context(), groupID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrGroupNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "group not found"})
		return false
	}
	if group.CreatedBy != userID {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "only the group creator may do this"})
		return false
	}
	return true
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
