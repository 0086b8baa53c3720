package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crm-messaging/internal/observability"
	"crm-messaging/internal/telemetry"
)

// NotifyHandler accepts fallback delivery requests: when a client could
// not reach a recipient over the live session it posts here and the
// notification pipeline takes over.
type NotifyHandler struct {
	emitter *telemetry.NotifyEmitter
}

// NewNotifyHandler builds a NotifyHandler.
func NewNotifyHandler(emitter *telemetry.NotifyEmitter) *NotifyHandler {
	return &NotifyHandler{emitter: emitter}
}

// Offline queues an offline notification. Always 202 on accept; the
// actual push/email delivery happens downstream.
func (h *NotifyHandler) Offline(c *gin.Context) {
	var req struct {
		ConversationID string `json:"conversation_id" binding:"required"`
		SenderID       int    `json:"sender_id" binding:"required"`
		Content        string `json:"content"`
		MessageType    string `json:"message_type"`
		AttachmentName string `json:"attachment_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.emitter.Emit(c.Request.Context(), req.ConversationID, req.SenderID,
		req.MessageType, req.Content, req.AttachmentName)
	if err != nil {
		observability.IncOfflineNotify("publish_error")
	} else {
		observability.IncOfflineNotify("accepted")
	}

	// The client already holds the durable copy; a lost notification is
	// recoverable, so the fallback path never fails the caller.
	c.Status(http.StatusAccepted)
}
