package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"crm-messaging/internal/middleware"
	"crm-messaging/internal/models"
	"crm-messaging/internal/repositories"
	"crm-messaging/internal/telemetry"
	"crm-messaging/internal/ws"
)

// MessageHandler manages durable message writes and reads.
type MessageHandler struct {
	convRepo    repositories.ConversationRepository
	messageRepo repositories.MessageRepository
	hub         *ws.Hub
	audit       *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(convRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, hub *ws.Hub, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{convRepo: convRepo, messageRepo: messageRepo, hub: hub, audit: audit}
}

// List returns a conversation's messages ascending by sent_at, with
// reactions and read receipts attached.
func (h *MessageHandler) List(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := middleware.UserID(c)

	if _, err := h.convRepo.Role(c.Request.Context(), conversationID, userID); err != nil {
		c.JSON(roleErrorStatus(err), gin.H{"error": "not a participant"})
		return
	}

	msgs, err := h.messageRepo.ListByConversation(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	receipts, err := h.messageRepo.ListReceipts(c.Request.Context(), ids)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load receipts"})
		return
	}
	byMessage := make(map[string][]models.ReadReceipt)
	for _, r := range receipts {
		byMessage[r.MessageID] = append(byMessage[r.MessageID], r)
	}
	for i := range msgs {
		msgs[i].Receipts = byMessage[msgs[i].ID]
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Create durably stores a message. Writing to a locked conversation is
// rejected unless the caller holds a privileged role. A client-supplied
// id is honored so live echo and durable row stay one message.
func (h *MessageHandler) Create(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := middleware.UserID(c)

	var req struct {
		ID             string             `json:"id"`
		Content        string             `json:"content"`
		MessageType    models.MessageType `json:"message_type"`
		SentAt         time.Time          `json:"sent_at"`
		ReplyToID      *string            `json:"reply_to_message_id"`
		AttachmentURL  string             `json:"attachment_url"`
		AttachmentName string             `json:"attachment_name"`
		AttachmentMime string             `json:"attachment_mime"`
		AttachmentSize int64              `json:"attachment_size"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Content == "" && req.AttachmentURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty message"})
		return
	}

	conv, err := h.convRepo.Get(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	role, err := h.convRepo.Role(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(roleErrorStatus(err), gin.H{"error": "not a participant"})
		return
	}
	if conv.Locked && !role.Privileged() {
		c.JSON(http.StatusForbidden, gin.H{"error": "conversation is locked"})
		return
	}

	msg, err := h.messageRepo.Create(c.Request.Context(), models.Message{
		ID:             req.ID,
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        req.Content,
		Type:           req.MessageType,
		SentAt:         req.SentAt,
		ReplyToID:      req.ReplyToID,
		AttachmentURL:  req.AttachmentURL,
		AttachmentName: req.AttachmentName,
		AttachmentMime: req.AttachmentMime,
		AttachmentSize: req.AttachmentSize,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrReplyTargetGone) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "reply target does not exist"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	if err := h.convRepo.Bump(c.Request.Context(), conversationID, msg.PreviewLabel(), msg.SentAt); err == nil {
		h.broadcastUpdated(c, conversationID)
	}

	c.JSON(http.StatusCreated, msg)
}

// Edit replaces content. Sender only.
func (h *MessageHandler) Edit(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	messageID := c.Param("message_id")
	userID := middleware.UserID(c)

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.convRepo.Role(c.Request.Context(), conversationID, userID); err != nil {
		c.JSON(roleErrorStatus(err), gin.H{"error": "not a participant"})
		return
	}

	msg, err := h.messageRepo.Edit(c.Request.Context(), messageID, userID, req.Content)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrNotSender) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": "could not edit message"})
		return
	}

	h.fanOut(c, conversationID, models.NewFrame(models.EventMessageUpdated, msg), userID)
	c.JSON(http.StatusOK, msg)
}

// Delete soft-deletes a message. Sender only.
func (h *MessageHandler) Delete(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	messageID := c.Param("message_id")
	userID := middleware.UserID(c)

	if _, err := h.convRepo.Role(c.Request.Context(), conversationID, userID); err != nil {
		c.JSON(roleErrorStatus(err), gin.H{"error": "not a participant"})
		return
	}

	if err := h.messageRepo.SoftDelete(c.Request.Context(), messageID, userID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrNotSender) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": "could not delete message"})
		return
	}

	h.audit.Emit(c.Request.Context(), "info",
		"message "+messageID+" deleted in conversation "+conversationID,
		requestIDFromContext(c), userID)
	h.fanOut(c, conversationID, models.NewFrame(models.EventMessageDeleted, models.MessageDeletedPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
	}), userID)
	c.Status(http.StatusNoContent)
}

// ToggleReaction flips the caller's (emoji, message) reaction and
// returns the authoritative full set. The route is message-addressed;
// the conversation is resolved from the message.
func (h *MessageHandler) ToggleReaction(c *gin.Context) {
	messageID := c.Param("message_id")
	userID := middleware.UserID(c)

	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messageRepo.Get(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}
	if _, err := h.convRepo.Role(c.Request.Context(), msg.ConversationID, userID); err != nil {
		c.JSON(roleErrorStatus(err), gin.H{"error": "not a participant"})
		return
	}

	reactions, err := h.messageRepo.ToggleReaction(c.Request.Context(), messageID, userID, req.Emoji)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not toggle reaction"})
		return
	}

	msg.Reactions = reactions
	h.fanOut(c, msg.ConversationID, models.NewFrame(models.EventMessageUpdated, msg), userID)

	c.JSON(http.StatusOK, gin.H{"reactions": reactions})
}

// PostReceipts batch-inserts read receipts for the caller and advances
// the read watermark. Duplicate receipts are dropped server-side; the
// conversation is resolved from the first message.
func (h *MessageHandler) PostReceipts(c *gin.Context) {
	userID := middleware.UserID(c)

	var req struct {
		MessageIDs []string  `json:"message_ids" binding:"required"`
		ReadAt     time.Time `json:"read_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.MessageIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_ids required"})
		return
	}
	if req.ReadAt.IsZero() {
		req.ReadAt = time.Now().UTC()
	}

	first, err := h.messageRepo.Get(c.Request.Context(), req.MessageIDs[0])
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}
	if _, err := h.convRepo.Role(c.Request.Context(), first.ConversationID, userID); err != nil {
		c.JSON(roleErrorStatus(err), gin.H{"error": "not a participant"})
		return
	}

	receipts := make([]models.ReadReceipt, len(req.MessageIDs))
	for i, id := range req.MessageIDs {
		receipts[i] = models.ReadReceipt{MessageID: id, UserID: userID, ReadAt: req.ReadAt}
	}
	if err := h.messageRepo.InsertReceipts(c.Request.Context(), receipts); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store receipts"})
		return
	}
	_ = h.convRepo.TouchLastRead(c.Request.Context(), first.ConversationID, userID, req.ReadAt)

	h.fanOut(c, first.ConversationID, models.NewFrame(models.EventMarkAsRead, models.MarkAsReadPayload{
		ConversationID: first.ConversationID,
		UserID:         userID,
	}), userID)
	c.Status(http.StatusNoContent)
}

// GetReceipts lists receipts for the given message ids.
func (h *MessageHandler) GetReceipts(c *gin.Context) {
	userID := middleware.UserID(c)
	ids := c.QueryArray("message_id")
	if len(ids) == 0 {
		c.JSON(http.StatusOK, gin.H{"receipts": []models.ReadReceipt{}})
		return
	}

	first, err := h.messageRepo.Get(c.Request.Context(), ids[0])
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}
	if _, err := h.convRepo.Role(c.Request.Context(), first.ConversationID, userID); err != nil {
		c.JSON(roleErrorStatus(err), gin.H{"error": "not a participant"})
		return
	}

	receipts, err := h.messageRepo.ListReceipts(c.Request.Context(), ids)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load receipts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipts": receipts})
}

func (h *MessageHandler) fanOut(c *gin.Context, conversationID string, frame models.Frame, exceptUserID int) {
	participants, err := h.convRepo.ParticipantIDs(c.Request.Context(), conversationID)
	if err != nil {
		return
	}
	h.hub.BroadcastToUsers(participants, frame, exceptUserID)
}

func (h *MessageHandler) broadcastUpdated(c *gin.Context, conversationID string) {
	conv, err := h.convRepo.Get(c.Request.Context(), conversationID)
	if err != nil {
		return
	}
	h.fanOut(c, conversationID, models.NewFrame(models.EventConversationUpdated, conv), 0)
}
