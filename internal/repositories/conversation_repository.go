package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"crm-messaging/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("user is not an active participant")
)

// ConversationView is a conversation joined with the viewer's role.
type ConversationView struct {
	models.Conversation
	Role models.ParticipantRole `db:"role" json:"role"`
}

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	CreateOrGetDirect(ctx context.Context, userID, peerID int) (models.Conversation, error)
	CreateGroup(ctx context.Context, ownerID int, kind models.ConversationKind, title string, memberIDs []int) (models.Conversation, error)
	Get(ctx context.Context, id string) (models.Conversation, error)
	ListForUser(ctx context.Context, userID int) ([]ConversationView, error)
	Role(ctx context.Context, conversationID string, userID int) (models.ParticipantRole, error)
	ParticipantIDs(ctx context.Context, conversationID string) ([]int, error)
	AddParticipant(ctx context.Context, conversationID string, userID int, role models.ParticipantRole) error
	DeactivateParticipant(ctx context.Context, conversationID string, userID int) error
	SetLocked(ctx context.Context, conversationID string, locked bool) error
	Bump(ctx context.Context, conversationID, preview string, at time.Time) error
	TouchLastRead(ctx context.Context, conversationID string, userID int, at time.Time) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, kind, title, locked, preview_text, last_activity_at, created_at`

// CreateOrGetDirect returns the direct conversation between two users,
// creating it on first contact.
func (r *ConversationRepo) CreateOrGetDirect(ctx context.Context, userID, peerID int) (models.Conversation, error) {
	if userID == peerID {
		return models.Conversation{}, errors.New("cannot start a conversation with yourself")
	}

	var conv models.Conversation
	query := `SELECT c.id, c.kind, c.title, c.locked, c.preview_text, c.last_activity_at, c.created_at
        FROM conversations c
        JOIN participants p1 ON p1.conversation_id = c.id AND p1.user_id = $1
        JOIN participants p2 ON p2.conversation_id = c.id AND p2.user_id = $2
        WHERE c.kind = 'direct'`
	err := r.db.GetContext(ctx, &conv, query, userID, peerID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}

	id := uuid.NewString()
	err = r.db.QueryRowxContext(ctx,
		`INSERT INTO conversations (id, kind) VALUES ($1, 'direct') RETURNING `+conversationColumns, id).
		StructScan(&conv)
	if err != nil {
		return models.Conversation{}, err
	}
	for _, uid := range []int{userID, peerID} {
		if err := r.AddParticipant(ctx, id, uid, models.RoleMember); err != nil {
			return models.Conversation{}, err
		}
	}
	return conv, nil
}

// CreateGroup creates a group or announcement conversation with the
// owner as admin.
func (r *ConversationRepo) CreateGroup(ctx context.Context, ownerID int, kind models.ConversationKind, title string, memberIDs []int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO conversations (id, kind, title) VALUES ($1, $2, $3) RETURNING `+conversationColumns,
		uuid.NewString(), kind, title).
		StructScan(&conv)
	if err != nil {
		return models.Conversation{}, err
	}

	if err := r.AddParticipant(ctx, conv.ID, ownerID, models.RoleAdmin); err != nil {
		return models.Conversation{}, err
	}
	for _, uid := range memberIDs {
		if uid == ownerID {
			continue
		}
		if err := r.AddParticipant(ctx, conv.ID, uid, models.RoleMember); err != nil {
			return models.Conversation{}, err
		}
	}
	return conv, nil
}

// Get fetches a conversation by id.
func (r *ConversationRepo) Get(ctx context.Context, id string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListForUser returns the user's conversations by descending recency,
// each with the user's role.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int) ([]ConversationView, error) {
	query := `SELECT c.id, c.kind, c.title, c.locked, c.preview_text, c.last_activity_at, c.created_at, p.role
        FROM conversations c
        JOIN participants p ON p.conversation_id = c.id
        WHERE p.user_id = $1 AND p.active
        ORDER BY c.last_activity_at DESC`
	var out []ConversationView
	err := r.db.SelectContext(ctx, &out, query, userID)
	return out, err
}

// Role returns the user's role, failing when the user is not an active
// participant.
func (r *ConversationRepo) Role(ctx context.Context, conversationID string, userID int) (models.ParticipantRole, error) {
	var role models.ParticipantRole
	err := r.db.GetContext(ctx, &role,
		`SELECT role FROM participants WHERE conversation_id=$1 AND user_id=$2 AND active`,
		conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotParticipant
	}
	return role, err
}

// ParticipantIDs lists active participant user ids.
func (r *ConversationRepo) ParticipantIDs(ctx context.Context, conversationID string) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids,
		`SELECT user_id FROM participants WHERE conversation_id=$1 AND active ORDER BY user_id`,
		conversationID)
	return ids, err
}

// AddParticipant inserts or reactivates a membership.
func (r *ConversationRepo) AddParticipant(ctx context.Context, conversationID string, userID int, role models.ParticipantRole) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO participants (conversation_id, user_id, role) VALUES ($1, $2, $3)
         ON CONFLICT (conversation_id, user_id) DO UPDATE SET active = TRUE, role = EXCLUDED.role`,
		conversationID, userID, role)
	return err
}

// DeactivateParticipant soft-removes a membership; the row is kept.
func (r *ConversationRepo) DeactivateParticipant(ctx context.Context, conversationID string, userID int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE participants SET active = FALSE WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotParticipant
	}
	return nil
}

// SetLocked flips the group lock flag.
func (r *ConversationRepo) SetLocked(ctx context.Context, conversationID string, locked bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET locked=$2 WHERE id=$1`, conversationID, locked)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// Bump refreshes preview text and recency on an accepted message.
// GREATEST keeps last_activity_at monotonically non-decreasing under
// out-of-order writes.
func (r *ConversationRepo) Bump(ctx context.Context, conversationID, preview string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET preview_text=$2, last_activity_at=GREATEST(last_activity_at, $3) WHERE id=$1`,
		conversationID, preview, at)
	return err
}

// TouchLastRead advances the viewer's read watermark.
func (r *ConversationRepo) TouchLastRead(ctx context.Context, conversationID string, userID int, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE participants SET last_read_at=GREATEST(last_read_at, $3) WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, userID, at)
	return err
}
