package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"crm-messaging/internal/middleware"
	"crm-messaging/internal/models"
	"crm-messaging/internal/repositories"
	"crm-messaging/internal/telemetry"
	"crm-messaging/internal/ws"
)

// ConversationHandler manages conversation lifecycle endpoints.
type ConversationHandler struct {
	convRepo repositories.ConversationRepository
	hub      *ws.Hub
	audit    *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(convRepo repositories.ConversationRepository, hub *ws.Hub, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{convRepo: convRepo, hub: hub, audit: audit}
}

// List returns the caller's conversations by descending recency, each
// carrying the caller's role.
func (h *ConversationHandler) List(c *gin.Context) {
	userID := middleware.UserID(c)

	conversations, err := h.convRepo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// StartDirect creates or returns the direct conversation with a peer.
func (h *ConversationHandler) StartDirect(c *gin.Context) {
	var req struct {
		PeerID int `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	if userID == req.PeerID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a conversation with yourself"})
		return
	}

	conv, err := h.convRepo.CreateOrGetDirect(c.Request.Context(), userID, req.PeerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	c.JSON(http.StatusOK, conv)
}

// CreateGroup creates a group or announcement conversation with the
// caller as admin.
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Kind      models.ConversationKind `json:"kind"`
		Title     string                  `json:"title" binding:"required"`
		MemberIDs []int                   `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Kind == "" {
		req.Kind = models.KindGroup
	}
	if req.Kind != models.KindGroup && req.Kind != models.KindAnnouncement {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation kind"})
		return
	}

	userID := middleware.UserID(c)
	conv, err := h.convRepo.CreateGroup(c.Request.Context(), userID, req.Kind, req.Title, req.MemberIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	c.JSON(http.StatusCreated, conv)
}

// SetLocked locks or unlocks a conversation. Privileged roles only;
// members of a locked conversation can read but not write.
func (h *ConversationHandler) SetLocked(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	var req struct {
		Locked *bool `json:"locked" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	role, err := h.convRepo.Role(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(roleErrorStatus(err), gin.H{"error": "not a participant"})
		return
	}
	if !role.Privileged() {
		c.JSON(http.StatusForbidden, gin.H{"error": "requires a privileged role"})
		return
	}

	if err := h.convRepo.SetLocked(c.Request.Context(), conversationID, *req.Locked); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not update lock"})
		return
	}

	h.audit.Emit(c.Request.Context(), "info",
		"conversation "+conversationID+" locked="+strconv.FormatBool(*req.Locked),
		requestIDFromContext(c), userID)
	h.broadcastUpdated(c, conversationID)
	c.Status(http.StatusNoContent)
}

// AddParticipant adds or reactivates a member. Privileged roles only.
func (h *ConversationHandler) AddParticipant(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	var req struct {
		UserID int                    `json:"user_id" binding:"required"`
		Role   models.ParticipantRole `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = models.RoleMember
	}

	userID := middleware.UserID(c)
	role, err := h.convRepo.Role(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(roleErrorStatus(err), gin.H{"error": "not a participant"})
		return
	}
	if !role.Privileged() {
		c.JSON(http.StatusForbidden, gin.H{"error": "requires a privileged role"})
		return
	}

	if err := h.convRepo.AddParticipant(c.Request.Context(), conversationID, req.UserID, req.Role); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not add participant"})
		return
	}

	h.broadcastUpdated(c, conversationID)
	c.Status(http.StatusNoContent)
}

// RemoveParticipant soft-removes a member. A member may remove itself;
// removing anyone else requires a privileged role.
func (h *ConversationHandler) RemoveParticipant(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	targetID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	userID := middleware.UserID(c)
	role, err := h.convRepo.Role(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(roleErrorStatus(err), gin.H{"error": "not a participant"})
		return
	}
	if targetID != userID && !role.Privileged() {
		c.JSON(http.StatusForbidden, gin.H{"error": "requires a privileged role"})
		return
	}

	if err := h.convRepo.DeactivateParticipant(c.Request.Context(), conversationID, targetID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrNotParticipant) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not remove participant"})
		return
	}

	if targetID != userID {
		h.audit.Emit(c.Request.Context(), "warn",
			"participant "+strconv.Itoa(targetID)+" removed from conversation "+conversationID,
			requestIDFromContext(c), userID)
	}
	h.broadcastUpdated(c, conversationID)
	c.Status(http.StatusNoContent)
}

// broadcastUpdated pushes the fresh conversation state to connected
// participants.
func (h *ConversationHandler) broadcastUpdated(c *gin.Context, conversationID string) {
	conv, err := h.convRepo.Get(c.Request.Context(), conversationID)
	if err != nil {
		return
	}
	participants, err := h.convRepo.ParticipantIDs(c.Request.Context(), conversationID)
	if err != nil {
		return
	}
	h.hub.BroadcastToUsers(participants,
		models.NewFrame(models.EventConversationUpdated, conv), 0)
}

func roleErrorStatus(err error) int {
	if errors.Is(err, repositories.ErrNotParticipant) {
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
