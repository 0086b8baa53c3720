package transport

import (
	"encoding/json"
	"fmt"

	"crm-messaging/internal/models"
)

// Event is the tagged union delivered on the session's inbound channel.
// Handlers run on a single dispatch loop, one event at a time.
type Event interface {
	isEvent()
}

// Connected is published after every successful connect or reconnect.
type Connected struct {
	Resumed bool
}

// Disconnected is published when the session loses its connection.
// Terminal means automatic reconnection is exhausted and a new Connect
// call is required.
type Disconnected struct {
	Terminal bool
	Err      error
}

type NewMessage struct{ Message models.Message }

type MessageSent struct{ Message models.Message }

type MessageUpdated struct{ Message models.Message }

type MessageDeleted struct{ Payload models.MessageDeletedPayload }

type Typing struct{ Payload models.TypingPayload }

type ConversationUpdated struct{ Conversation models.Conversation }

type ReadMarked struct{ Payload models.MarkAsReadPayload }

type UserOnline struct{ Payload models.PresencePayload }

type UserOffline struct{ Payload models.PresencePayload }

type OnlineStatus struct{ Response models.OnlineStatusResponse }

func (Connected) isEvent()           {}
func (Disconnected) isEvent()        {}
func (NewMessage) isEvent()          {}
func (MessageSent) isEvent()         {}
func (MessageUpdated) isEvent()      {}
func (MessageDeleted) isEvent()      {}
func (Typing) isEvent()              {}
func (ConversationUpdated) isEvent() {}
func (ReadMarked) isEvent()          {}
func (UserOnline) isEvent()          {}
func (UserOffline) isEvent()         {}
func (OnlineStatus) isEvent()        {}

// decodeFrame maps a wire frame onto the typed union. Unknown event
// names return (nil, nil) and are dropped by the caller.
func decodeFrame(frame models.Frame) (Event, error) {
	unmarshal := func(v any) error {
		if len(frame.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(frame.Data, v); err != nil {
			return fmt.Errorf("decode %s: %w", frame.Event, err)
		}
		return nil
	}

	switch frame.Event {
	case models.EventNewMessage:
		var msg models.Message
		if err := unmarshal(&msg); err != nil {
			return nil, err
		}
		return NewMessage{Message: msg}, nil
	case models.EventMessageSent:
		var msg models.Message
		if err := unmarshal(&msg); err != nil {
			return nil, err
		}
		return MessageSent{Message: msg}, nil
	case models.EventMessageUpdated:
		var msg models.Message
		if err := unmarshal(&msg); err != nil {
			return nil, err
		}
		return MessageUpdated{Message: msg}, nil
	case models.EventMessageDeleted:
		var p models.MessageDeletedPayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return MessageDeleted{Payload: p}, nil
	case models.EventTyping:
		var p models.TypingPayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return Typing{Payload: p}, nil
	case models.EventConversationUpdated:
		var conv models.Conversation
		if err := unmarshal(&conv); err != nil {
			return nil, err
		}
		return ConversationUpdated{Conversation: conv}, nil
	case models.EventMarkAsRead:
		var p models.MarkAsReadPayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return ReadMarked{Payload: p}, nil
	case models.EventUserOnline:
		var p models.PresencePayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return UserOnline{Payload: p}, nil
	case models.EventUserOffline:
		var p models.PresencePayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return UserOffline{Payload: p}, nil
	case models.EventOnlineStatusResponse:
		var resp models.OnlineStatusResponse
		if err := unmarshal(&resp); err != nil {
			return nil, err
		}
		return OnlineStatus{Response: resp}, nil
	default:
		return nil, nil
	}
}
