package models

import "encoding/json"

// Relay event names. Unknown names are ignored by both sides.
const (
	EventJoin                 = "join"
	EventJoinConversation     = "join_conversation"
	EventLeaveConversation    = "leave_conversation"
	EventSendMessage          = "send_message"
	EventNewMessage           = "new_message"
	EventMessageSent          = "message_sent"
	EventMessageUpdated       = "message_updated"
	EventMessageDeleted       = "message_deleted"
	EventTyping               = "typing"
	EventConversationUpdated  = "conversation_updated"
	EventMarkAsRead           = "mark_as_read"
	EventUserOnline           = "user_online"
	EventUserOffline          = "user_offline"
	EventRequestOnlineStatus  = "request_online_status"
	EventOnlineStatusResponse = "online_status_response"
)

// Frame is the wire envelope for every relay event.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a Frame. Marshal failures are a
// programming error and yield an empty data field.
func NewFrame(event string, payload any) Frame {
	data, _ := json.Marshal(payload)
	return Frame{Event: event, Data: data}
}

// JoinPayload announces an identity after (re)connecting.
type JoinPayload struct {
	UserID int `json:"user_id"`
}

// ConversationRef addresses a conversation room.
type ConversationRef struct {
	ConversationID string `json:"conversation_id"`
}

// TypingPayload carries ephemeral typing state.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         int    `json:"user_id"`
	UserName       string `json:"user_name"`
	IsTyping       bool   `json:"is_typing"`
}

// SendMessagePayload is the client's outgoing message event.
type SendMessagePayload struct {
	ClientID       string      `json:"client_id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       int         `json:"sender_id"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"message_type"`
	SentAt         string      `json:"sent_at"`
	AttachmentURL  string      `json:"attachment_url,omitempty"`
	AttachmentName string      `json:"attachment_name,omitempty"`
	AttachmentMime string      `json:"attachment_mime,omitempty"`
	AttachmentSize int64       `json:"attachment_size,omitempty"`
	ReplyToID      *string     `json:"reply_to_message_id,omitempty"`
}

// MessageDeletedPayload identifies a deleted message.
type MessageDeletedPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// MarkAsReadPayload reports a viewer catching up on a conversation.
type MarkAsReadPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         int    `json:"user_id"`
}

// PresencePayload announces a user going online or offline.
type PresencePayload struct {
	UserID   int    `json:"user_id"`
	LastSeen string `json:"last_seen,omitempty"`
}

// OnlineStatusRequest is a bulk presence query.
type OnlineStatusRequest struct {
	UserIDs []int `json:"user_ids"`
}

// OnlineStatusResponse answers a presence query with the subset of
// queried users currently connected.
type OnlineStatusResponse struct {
	OnlineUsers []int `json:"online_users"`
}
