package telemetry

import (
	"context"
	"log"
	"time"
)

// NotificationEnvelope is the payload handed to the CRM's notification
// pipeline when a message could not be delivered over the live session.
// Downstream workers turn it into push or email.
type NotificationEnvelope struct {
	SchemaVersion  int    `json:"schema_version"`
	EventType      string `json:"event_type"`
	OccurredAt     string `json:"occurred_at"`
	Service        string `json:"service"`
	ConversationID string `json:"conversation_id"`
	SenderID       int    `json:"sender_id"`
	MessageType    string `json:"message_type"`
	Preview        string `json:"preview"`
	AttachmentName string `json:"attachment_name,omitempty"`
}

// NotifyEmitter publishes offline-delivery notifications.
type NotifyEmitter struct {
	publisher  Publisher
	routingKey string
	service    string
}

func NewNotifyEmitter(publisher Publisher, routingKey, service string) *NotifyEmitter {
	return &NotifyEmitter{publisher: publisher, routingKey: routingKey, service: service}
}

// Emit queues one notification. Failures are logged, never surfaced:
// the message itself is already durable and the caller has moved on.
func (e *NotifyEmitter) Emit(ctx context.Context, conversationID string, senderID int, messageType, preview, attachmentName string) error {
	if e == nil || e.publisher == nil {
		return nil
	}

	envelope := NotificationEnvelope{
		SchemaVersion:  1,
		EventType:      "offline_notification",
		OccurredAt:     time.Now().UTC().Format(time.RFC3339Nano),
		Service:        e.service,
		ConversationID: conversationID,
		SenderID:       senderID,
		MessageType:    messageType,
		Preview:        preview,
		AttachmentName: attachmentName,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("offline notification publish failed: %v", err)
		return err
	}
	return nil
}
