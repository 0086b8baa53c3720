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
	ErrVoiceSessionNotFound = errors.New("voice session not found")
	ErrVoiceSessionClosed   = errors.New("voice session already finalized or canceled")
)

// VoiceRepository stores chunked voice uploads.
type VoiceRepository interface {
	CreateSession(ctx context.Context, conversationID string, senderID int) (models.VoiceSession, error)
	GetSession(ctx context.Context, token string) (models.VoiceSession, error)
	AddChunk(ctx context.Context, token string, chunk models.VoiceChunk) error
	BindMessage(ctx context.Context, token, messageID string, duration time.Duration, waveformJSON string) error
	Cancel(ctx context.Context, token string) error
	ChunksByMessage(ctx context.Context, messageID string) ([]models.VoiceChunk, error)
}

// VoiceRepo is a sqlx-backed VoiceRepository.
type VoiceRepo struct {
	db *sqlx.DB
}

// NewVoiceRepo constructs a VoiceRepo.
func NewVoiceRepo(db *sqlx.DB) *VoiceRepo {
	return &VoiceRepo{db: db}
}

// CreateSession opens an upload session.
func (r *VoiceRepo) CreateSession(ctx context.Context, conversationID string, senderID int) (models.VoiceSession, error) {
	var session models.VoiceSession
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO voice_sessions (token, conversation_id, sender_id) VALUES ($1, $2, $3)
         RETURNING token, conversation_id, sender_id, created_at`,
		uuid.NewString(), conversationID, senderID).
		StructScan(&session)
	return session, err
}

// GetSession fetches an open session by token.
func (r *VoiceRepo) GetSession(ctx context.Context, token string) (models.VoiceSession, error) {
	var session models.VoiceSession
	err := r.db.GetContext(ctx, &session,
		`SELECT token, conversation_id, sender_id, created_at FROM voice_sessions
         WHERE token=$1 AND message_id IS NULL AND NOT canceled`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return models.VoiceSession{}, ErrVoiceSessionNotFound
	}
	return session, err
}

// AddChunk stores one upload chunk. Re-uploading a sequence number
// overwrites it, which makes chunk upload retries idempotent.
func (r *VoiceRepo) AddChunk(ctx context.Context, token string, chunk models.VoiceChunk) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO voice_chunks (session_token, seq, payload, size, encoding)
         VALUES ($1, $2, $3, $4, $5)
         ON CONFLICT (session_token, seq) DO UPDATE SET payload=EXCLUDED.payload,
            size=EXCLUDED.size, encoding=EXCLUDED.encoding`,
		token, chunk.Seq, chunk.Payload, chunk.Size, chunk.Encoding)
	return err
}

// BindMessage finalizes the session: links it to its message and stores
// duration and waveform.
func (r *VoiceRepo) BindMessage(ctx context.Context, token, messageID string, duration time.Duration, waveformJSON string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE voice_sessions SET message_id=$2, duration_ms=$3, waveform=$4
         WHERE token=$1 AND message_id IS NULL AND NOT canceled`,
		token, messageID, duration.Milliseconds(), waveformJSON)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVoiceSessionClosed
	}
	return nil
}

// Cancel abandons an in-progress session.
func (r *VoiceRepo) Cancel(ctx context.Context, token string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE voice_sessions SET canceled = TRUE WHERE token=$1 AND message_id IS NULL`, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVoiceSessionNotFound
	}
	return nil
}

// ChunksByMessage returns a finalized message's chunks in ascending
// sequence order for reassembly.
func (r *VoiceRepo) ChunksByMessage(ctx context.Context, messageID string) ([]models.VoiceChunk, error) {
	var chunks []models.VoiceChunk
	err := r.db.SelectContext(ctx, &chunks,
		`SELECT s.message_id AS message_id, c.seq, c.payload, c.size, c.encoding
         FROM voice_chunks c
         JOIN voice_sessions s ON s.token = c.session_token
         WHERE s.message_id=$1
         ORDER BY c.seq ASC`, messageID)
	return chunks, err
}
