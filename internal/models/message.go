package models

import "time"

// MessageType discriminates message content.
type MessageType string

const (
	TypeText   MessageType = "text"
	TypeFile   MessageType = "file"
	TypeImage  MessageType = "image"
	TypeVoice  MessageType = "voice"
	TypeSystem MessageType = "system"
)

// Message is a single chat message. Once sent it only changes through
// edit, soft delete, reactions and read receipts.
type Message struct {
	ID             string      `db:"id" json:"id"`
	ConversationID string      `db:"conversation_id" json:"conversation_id"`
	SenderID       int         `db:"sender_id" json:"sender_id"`
	Content        string      `db:"content" json:"content"`
	Type           MessageType `db:"message_type" json:"message_type"`
	SentAt         time.Time   `db:"sent_at" json:"sent_at"`
	EditedAt       *time.Time  `db:"edited_at" json:"edited_at,omitempty"`
	Deleted        bool        `db:"deleted" json:"deleted"`
	ReplyToID      *string     `db:"reply_to_id" json:"reply_to_message_id,omitempty"`

	AttachmentURL  string `db:"attachment_url" json:"attachment_url,omitempty"`
	AttachmentName string `db:"attachment_name" json:"attachment_name,omitempty"`
	AttachmentMime string `db:"attachment_mime" json:"attachment_mime,omitempty"`
	AttachmentSize int64  `db:"attachment_size" json:"attachment_size,omitempty"`

	Reactions []Reaction    `json:"reactions,omitempty"`
	Receipts  []ReadReceipt `json:"receipts,omitempty"`
}

// PreviewLabel is what the conversation list shows for a message.
// Attachment messages get a type label instead of raw content.
func (m Message) PreviewLabel() string {
	switch m.Type {
	case TypeVoice:
		return "Voice message"
	case TypeImage:
		return "Image"
	case TypeFile:
		if m.AttachmentName != "" {
			return "File: " + m.AttachmentName
		}
		return "File"
	default:
		return m.Content
	}
}

// Reaction is one user's emoji on a message.
type Reaction struct {
	MessageID string `db:"message_id" json:"message_id"`
	UserID    int    `db:"user_id" json:"user_id"`
	Emoji     string `db:"emoji" json:"emoji"`
}

// ReadReceipt records that a user has seen a message. Insert-only,
// at most one per (message, user).
type ReadReceipt struct {
	MessageID string    `db:"message_id" json:"message_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	ReadAt    time.Time `db:"read_at" json:"read_at"`
}
