package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"crm-messaging/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrReplyTargetGone = errors.New("reply target does not exist")
	ErrNotSender       = errors.New("only the sender can change a message")
)

// MessageRepository defines durable message writes and reads.
type MessageRepository interface {
	Create(ctx context.Context, msg models.Message) (models.Message, error)
	Get(ctx context.Context, id string) (models.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error)
	Edit(ctx context.Context, id string, senderID int, content string) (models.Message, error)
	SoftDelete(ctx context.Context, id string, senderID int) error
	ToggleReaction(ctx context.Context, messageID string, userID int, emoji string) ([]models.Reaction, error)
	InsertReceipts(ctx context.Context, receipts []models.ReadReceipt) error
	ListReceipts(ctx context.Context, messageIDs []string) ([]models.ReadReceipt, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, content, message_type, sent_at, edited_at, deleted,
    reply_to_id, attachment_url, attachment_name, attachment_mime, attachment_size`

// Create stores a message. A client-supplied id is honored so the
// optimistic copy and the durable row share identity; a reply-to id
// must reference an existing message.
func (r *MessageRepo) Create(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = models.TypeText
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	if msg.ReplyToID != nil {
		var exists bool
		if err := r.db.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1)`, *msg.ReplyToID); err != nil {
			return models.Message{}, err
		}
		if !exists {
			return models.Message{}, ErrReplyTargetGone
		}
	}

	var out models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, message_type, sent_at, reply_to_id,
            attachment_url, attachment_name, attachment_mime, attachment_size)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
         RETURNING `+messageColumns,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Type, msg.SentAt, msg.ReplyToID,
		msg.AttachmentURL, msg.AttachmentName, msg.AttachmentMime, msg.AttachmentSize).
		StructScan(&out)
	return out, err
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, id string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListByConversation returns messages in ascending sent_at order with
// their reaction sets attached.
func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id=$1 ORDER BY sent_at ASC`,
		conversationID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	var reactions []models.Reaction
	err = r.db.SelectContext(ctx, &reactions,
		`SELECT message_id, user_id, emoji FROM reactions WHERE message_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	byMessage := make(map[string][]models.Reaction)
	for _, re := range reactions {
		byMessage[re.MessageID] = append(byMessage[re.MessageID], re)
	}
	for i := range msgs {
		msgs[i].Reactions = byMessage[msgs[i].ID]
	}
	return msgs, nil
}

// Edit replaces content and stamps edited_at. Sender-only.
func (r *MessageRepo) Edit(ctx context.Context, id string, senderID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`UPDATE messages SET content=$3, edited_at=NOW() WHERE id=$1 AND sender_id=$2 AND NOT deleted
         RETURNING `+messageColumns, id, senderID, content).
		StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrNotSender
	}
	return msg, err
}

// SoftDelete flags a message deleted without purging the row.
func (r *MessageRepo) SoftDelete(ctx context.Context, id string, senderID int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET deleted = TRUE WHERE id=$1 AND sender_id=$2`, id, senderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotSender
	}
	return nil
}

// ToggleReaction flips one (message, user, emoji) row and returns the
// authoritative full set. Idempotent per toggle direction.
func (r *MessageRepo) ToggleReaction(ctx context.Context, messageID string, userID int, emoji string) ([]models.Reaction, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3`,
		messageID, userID, emoji)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
             ON CONFLICT DO NOTHING`, messageID, userID, emoji)
		if err != nil {
			return nil, err
		}
	}

	reactions := []models.Reaction{}
	err = r.db.SelectContext(ctx, &reactions,
		`SELECT message_id, user_id, emoji FROM reactions WHERE message_id=$1 ORDER BY user_id, emoji`,
		messageID)
	return reactions, err
}

// InsertReceipts batch-inserts read receipts. Receipts are insert-only
// and at most one per (message, user); conflicts are dropped, never
// updated, so a stale read cannot overwrite an earlier receipt.
func (r *MessageRepo) InsertReceipts(ctx context.Context, receipts []models.ReadReceipt) error {
	if len(receipts) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, receipt := range receipts {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO read_receipts (message_id, user_id, read_at) VALUES ($1, $2, $3)
             ON CONFLICT (message_id, user_id) DO NOTHING`,
			receipt.MessageID, receipt.UserID, receipt.ReadAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListReceipts fetches receipts for a set of messages.
func (r *MessageRepo) ListReceipts(ctx context.Context, messageIDs []string) ([]models.ReadReceipt, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var receipts []models.ReadReceipt
	err := r.db.SelectContext(ctx, &receipts,
		`SELECT message_id, user_id, read_at FROM read_receipts WHERE message_id = ANY($1) ORDER BY read_at`,
		pq.Array(messageIDs))
	return receipts, err
}
