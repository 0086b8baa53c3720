package models

import "time"

// ConversationKind discriminates the three conversation flavours.
type ConversationKind string

const (
	KindDirect       ConversationKind = "direct"
	KindGroup        ConversationKind = "group"
	KindAnnouncement ConversationKind = "announcement"
)

// Conversation is a direct, group or announcement thread.
type Conversation struct {
	ID             string           `db:"id" json:"id"`
	Kind           ConversationKind `db:"kind" json:"kind"`
	Title          string           `db:"title" json:"title,omitempty"`
	Locked         bool             `db:"locked" json:"locked"`
	PreviewText    string           `db:"preview_text" json:"preview_text"`
	LastActivityAt time.Time        `db:"last_activity_at" json:"last_activity_at"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

// ParticipantRole controls what a member may do in a locked group.
type ParticipantRole string

const (
	RoleAdmin     ParticipantRole = "admin"
	RoleModerator ParticipantRole = "moderator"
	RoleMember    ParticipantRole = "member"
)

// Privileged reports whether the role may mutate a locked conversation.
func (r ParticipantRole) Privileged() bool {
	return r == RoleAdmin || r == RoleModerator
}

// Participant is a (conversation, user) membership. Removal deactivates,
// it never purges the row.
type Participant struct {
	ConversationID string          `db:"conversation_id" json:"conversation_id"`
	UserID         int             `db:"user_id" json:"user_id"`
	Role           ParticipantRole `db:"role" json:"role"`
	Active         bool            `db:"active" json:"active"`
	LastReadAt     time.Time       `db:"last_read_at" json:"last_read_at"`
}
