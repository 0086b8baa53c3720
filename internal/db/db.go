package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            id TEXT PRIMARY KEY,
            kind TEXT NOT NULL DEFAULT 'direct',
            title TEXT NOT NULL DEFAULT '',
            locked BOOLEAN NOT NULL DEFAULT FALSE,
            preview_text TEXT NOT NULL DEFAULT '',
            last_activity_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS participants (
            conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            role TEXT NOT NULL DEFAULT 'member',
            active BOOLEAN NOT NULL DEFAULT TRUE,
            last_read_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(conversation_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id INT NOT NULL,
            content TEXT NOT NULL,
            message_type TEXT NOT NULL DEFAULT 'text',
            sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            edited_at TIMESTAMPTZ,
            deleted BOOLEAN NOT NULL DEFAULT FALSE,
            reply_to_id TEXT REFERENCES messages(id),
            attachment_url TEXT NOT NULL DEFAULT '',
            attachment_name TEXT NOT NULL DEFAULT '',
            attachment_mime TEXT NOT NULL DEFAULT '',
            attachment_size BIGINT NOT NULL DEFAULT 0
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_sent
            ON messages(conversation_id, sent_at);`,
		`CREATE TABLE IF NOT EXISTS reactions (
            message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            emoji TEXT NOT NULL,
            PRIMARY KEY(message_id, user_id, emoji)
        );`,
		`CREATE TABLE IF NOT EXISTS read_receipts (
            message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            read_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(message_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS voice_sessions (
            token TEXT PRIMARY KEY,
            conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id INT NOT NULL,
            message_id TEXT REFERENCES messages(id),
            duration_ms BIGINT NOT NULL DEFAULT 0,
            waveform TEXT NOT NULL DEFAULT '[]',
            canceled BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS voice_chunks (
            session_token TEXT NOT NULL REFERENCES voice_sessions(token) ON DELETE CASCADE,
            seq INT NOT NULL,
            payload TEXT NOT NULL,
            size INT NOT NULL,
            encoding TEXT NOT NULL DEFAULT '',
            PRIMARY KEY(session_token, seq)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
