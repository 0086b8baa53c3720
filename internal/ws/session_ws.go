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
	"go.opentelemetry.io/otel/trace"

	"crm-messaging/internal/models"
	"crm-messaging/internal/observability"
	"crm-messaging/internal/repositories"
)

// SessionHandler owns the relay websocket endpoint. Identity is learned
// from the join handshake, which the client repeats on every reconnect.
type SessionHandler struct {
	hub      *Hub
	convRepo repositories.ConversationRepository
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(hub *Hub, convRepo repositories.ConversationRepository) *SessionHandler {
	return &SessionHandler{hub: hub, convRepo: convRepo}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and runs its event loop.
func (h *SessionHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("crm-messaging/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		ConnectedAt: time.Now(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		info.TraceID = sc.TraceID().String()
	}

	go h.serve(conn, info)
}

// serve consumes frames until the connection drops, then settles
// presence for the identity.
func (h *SessionHandler) serve(conn *websocket.Conn, info ConnInfo) {
	userID := 0
	var closeReason string

	defer func() {
		conn.Close()
		if userID == 0 {
			return
		}
		last := h.hub.RemoveConn(userID, conn)
		observability.DecWSActive("session")
		observability.IncWSEvent("session", "ws_disconnect")
		h.publishLifecycle(info, userID, "ws_disconnect", closeReason)
		if last {
			h.hub.BroadcastAll(models.NewFrame(models.EventUserOffline, models.PresencePayload{
				UserID:   userID,
				LastSeen: time.Now().UTC().Format(time.RFC3339),
			}), userID)
		}
	}()

	for {
		var frame models.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && userID != 0 {
				observability.IncWSEvent("session", "ws_error")
			}
			return
		}

		switch frame.Event {
		case models.EventJoin:
			var join models.JoinPayload
			if err := json.Unmarshal(frame.Data, &join); err != nil || join.UserID == 0 {
				continue
			}
			userID = join.UserID
			info.UserID = userID
			first := h.hub.AddUserConn(userID, conn, info)
			observability.IncWSActive("session")
			observability.IncWSEvent("session", "ws_connect")
			h.publishLifecycle(info, userID, "ws_connect", "")
			if first {
				// Joining implicitly marks the identity online to peers.
				h.hub.BroadcastAll(models.NewFrame(models.EventUserOnline, models.PresencePayload{UserID: userID}), userID)
			}

		case models.EventJoinConversation:
			var ref models.ConversationRef
			if err := json.Unmarshal(frame.Data, &ref); err == nil && userID != 0 {
				h.hub.JoinRoom(ref.ConversationID, conn, userID)
			}

		case models.EventLeaveConversation:
			var ref models.ConversationRef
			if err := json.Unmarshal(frame.Data, &ref); err == nil {
				h.hub.LeaveRoom(ref.ConversationID, conn)
			}

		case models.EventTyping:
			var typing models.TypingPayload
			if err := json.Unmarshal(frame.Data, &typing); err == nil {
				h.hub.BroadcastRoom(typing.ConversationID, models.NewFrame(models.EventTyping, typing), typing.UserID)
			}

		case models.EventSendMessage:
			var payload models.SendMessagePayload
			if err := json.Unmarshal(frame.Data, &payload); err == nil {
				h.relayMessage(payload)
			}

		case models.EventMarkAsRead:
			var read models.MarkAsReadPayload
			if err := json.Unmarshal(frame.Data, &read); err == nil {
				h.fanOut(read.ConversationID, models.NewFrame(models.EventMarkAsRead, read), read.UserID)
			}

		case models.EventRequestOnlineStatus:
			var req models.OnlineStatusRequest
			if err := json.Unmarshal(frame.Data, &req); err == nil && userID != 0 {
				resp := models.OnlineStatusResponse{OnlineUsers: h.hub.OnlineSubset(req.UserIDs)}
				h.hub.SendToUser(userID, models.NewFrame(models.EventOnlineStatusResponse, resp))
			}

		default:
			// Unknown events are ignored, not fatal.
		}
	}
}

// relayMessage fans an incoming send out to the conversation's
// participants and echoes message_sent to the sender. The durable write
// is the client's job; the relay only routes.
func (h *SessionHandler) relayMessage(payload models.SendMessagePayload) {
	msg := models.Message{
		ID:             payload.ClientID,
		ConversationID: payload.ConversationID,
		SenderID:       payload.SenderID,
		Content:        payload.Content,
		Type:           payload.MessageType,
		AttachmentURL:  payload.AttachmentURL,
		AttachmentName: payload.AttachmentName,
		AttachmentMime: payload.AttachmentMime,
		AttachmentSize: payload.AttachmentSize,
		ReplyToID:      payload.ReplyToID,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = models.TypeText
	}
	if sentAt, err := time.Parse(time.RFC3339Nano, payload.SentAt); err == nil {
		msg.SentAt = sentAt
	} else {
		msg.SentAt = time.Now().UTC()
	}

	h.fanOut(msg.ConversationID, models.NewFrame(models.EventNewMessage, msg), msg.SenderID)
	h.hub.SendToUser(msg.SenderID, models.NewFrame(models.EventMessageSent, msg))
}

func (h *SessionHandler) fanOut(conversationID string, frame models.Frame, exceptUserID int) {
	participants, err := h.convRepo.ParticipantIDs(context.Background(), conversationID)
	if err != nil {
		log.Printf("relay: participant lookup for %s failed: %v", conversationID, err)
		return
	}
	h.hub.BroadcastToUsers(participants, frame, exceptUserID)
}

func (h *SessionHandler) publishLifecycle(info ConnInfo, userID int, event, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   userID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}
