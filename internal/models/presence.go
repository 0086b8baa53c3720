package models

import "time"

// PresenceState is one user's connectivity as last reported by the relay.
type PresenceState struct {
	UserID   int       `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// TypingState is an ephemeral "user is typing" entry for a conversation.
// ExpiresAt is set three seconds past the last refresh.
type TypingState struct {
	ConversationID string    `json:"conversation_id"`
	UserID         int       `json:"user_id"`
	UserName       string    `json:"user_name"`
	ExpiresAt      time.Time `json:"-"`
}
