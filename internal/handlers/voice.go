package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"crm-messaging/internal/middleware"
	"crm-messaging/internal/models"
	"crm-messaging/internal/repositories"
	"crm-messaging/internal/ws"
)

// VoiceHandler manages chunked voice uploads.
type VoiceHandler struct {
	convRepo    repositories.ConversationRepository
	messageRepo repositories.MessageRepository
	voiceRepo   repositories.VoiceRepository
	hub         *ws.Hub
}

// NewVoiceHandler builds a VoiceHandler.
func NewVoiceHandler(convRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, voiceRepo repositories.VoiceRepository, hub *ws.Hub) *VoiceHandler {
	return &VoiceHandler{convRepo: convRepo, messageRepo: messageRepo, voiceRepo: voiceRepo, hub: hub}
}

// CreateSession opens an upload session for the caller.
func (h *VoiceHandler) CreateSession(c *gin.Context) {
	var req struct {
		ConversationID string `json:"conversation_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	if _, err := h.convRepo.Role(c.Request.Context(), req.ConversationID, userID); err != nil {
		c.JSON(roleErrorStatus(err), gin.H{"error": "not a participant"})
		return
	}

	session, err := h.voiceRepo.CreateSession(c.Request.Context(), req.ConversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create voice session"})
		return
	}

	c.JSON(http.StatusCreated, session)
}

// UploadChunk stores one chunk. Re-uploading a sequence number is an
// idempotent overwrite, so network retries are safe.
func (h *VoiceHandler) UploadChunk(c *gin.Context) {
	token := c.Param("token")

	var req struct {
		Seq      int                  `json:"seq"`
		Payload  string               `json:"payload" binding:"required"`
		Size     int                  `json:"size"`
		Encoding models.ChunkEncoding `json:"encoding"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.voiceRepo.GetSession(c.Request.Context(), token)
	if err != nil {
		c.JSON(voiceErrorStatus(err), gin.H{"error": "voice session unavailable"})
		return
	}
	if session.SenderID != middleware.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the session owner"})
		return
	}

	err = h.voiceRepo.AddChunk(c.Request.Context(), token, models.VoiceChunk{
		Seq:      req.Seq,
		Payload:  req.Payload,
		Size:     req.Size,
		Encoding: req.Encoding,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store chunk"})
		return
	}

	c.Status(http.StatusNoContent)
}

// Finalize turns an upload session into a voice message: creates the
// durable message, binds the chunks to it and fans it out live.
func (h *VoiceHandler) Finalize(c *gin.Context) {
	token := c.Param("token")

	var req struct {
		MessageID  string    `json:"message_id"`
		DurationMs int64     `json:"duration_ms"`
		Waveform   []float64 `json:"waveform"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	session, err := h.voiceRepo.GetSession(c.Request.Context(), token)
	if err != nil {
		c.JSON(voiceErrorStatus(err), gin.H{"error": "voice session unavailable"})
		return
	}
	if session.SenderID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the session owner"})
		return
	}

	msg, err := h.messageRepo.Create(c.Request.Context(), models.Message{
		ID:             req.MessageID,
		ConversationID: session.ConversationID,
		SenderID:       userID,
		Type:           models.TypeVoice,
		AttachmentName: "voice-" + token + ".webm",
		AttachmentMime: "audio/webm",
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store voice message"})
		return
	}

	waveformJSON, _ := json.Marshal(req.Waveform)
	duration := time.Duration(req.DurationMs) * time.Millisecond
	if err := h.voiceRepo.BindMessage(c.Request.Context(), token, msg.ID, duration, string(waveformJSON)); err != nil {
		c.JSON(voiceErrorStatus(err), gin.H{"error": "could not finalize voice session"})
		return
	}

	if err := h.convRepo.Bump(c.Request.Context(), session.ConversationID, msg.PreviewLabel(), msg.SentAt); err == nil {
		participants, perr := h.convRepo.ParticipantIDs(c.Request.Context(), session.ConversationID)
		if perr == nil {
			h.hub.BroadcastToUsers(participants, models.NewFrame(models.EventNewMessage, msg), userID)
		}
	}

	c.JSON(http.StatusCreated, msg)
}

// Cancel abandons an in-progress session; its chunks become garbage.
func (h *VoiceHandler) Cancel(c *gin.Context) {
	token := c.Param("token")

	session, err := h.voiceRepo.GetSession(c.Request.Context(), token)
	if err != nil {
		c.JSON(voiceErrorStatus(err), gin.H{"error": "voice session unavailable"})
		return
	}
	if session.SenderID != middleware.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the session owner"})
		return
	}

	if err := h.voiceRepo.Cancel(c.Request.Context(), token); err != nil {
		c.JSON(voiceErrorStatus(err), gin.H{"error": "could not cancel voice session"})
		return
	}

	c.Status(http.StatusNoContent)
}

// GetChunks returns a finalized message's chunks in playback order.
func (h *VoiceHandler) GetChunks(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	messageID := c.Param("message_id")
	userID := middleware.UserID(c)

	if _, err := h.convRepo.Role(c.Request.Context(), conversationID, userID); err != nil {
		c.JSON(roleErrorStatus(err), gin.H{"error": "not a participant"})
		return
	}

	chunks, err := h.voiceRepo.ChunksByMessage(c.Request.Context(), messageID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chunks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chunks": chunks})
}

func voiceErrorStatus(err error) int {
	switch {
	case errors.Is(err, repositories.ErrVoiceSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, repositories.ErrVoiceSessionClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
