package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"dmserver/internal/domain"
)

// defaultOpTimeout bounds every store call when the caller did not
// configure one. Persistence is the only suspension point in the core, so
// these calls must never block unboundedly.
const defaultOpTimeout = 5 * time.Second

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	// Serialized writers avoid SQLITE_BUSY under concurrent sends.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Migrate applies the schema as a simple, idempotent set of CREATE TABLE /
// CREATE INDEX statements. The unique index on the canonical participant
// pair is what enforces one conversation per pair under concurrent creates.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			email VARCHAR(100) UNIQUE,
			hashed_password VARCHAR(255) NOT NULL,
			is_active BOOLEAN DEFAULT TRUE,
			status TEXT NOT NULL DEFAULT 'offline',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_seen DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			participant_a TEXT NOT NULL,
			participant_b TEXT NOT NULL,
			last_message_id TEXT,
			last_message_time DATETIME,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (participant_a, participant_b)
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_flags (
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			muted BOOLEAN NOT NULL DEFAULT 0,
			archived BOOLEAN NOT NULL DEFAULT 0,
			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'text',
			media_url TEXT,
			file_name TEXT,
			file_size INTEGER,
			file_mime TEXT,
			status TEXT NOT NULL DEFAULT 'sent',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			delivered_at DATETIME,
			read_at DATETIME,
			is_deleted BOOLEAN NOT NULL DEFAULT 0,
			is_edited BOOLEAN NOT NULL DEFAULT 0,
			edited_at DATETIME,
			reply_to TEXT,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);`,
		`CREATE TABLE IF NOT EXISTS message_reactions (
			message_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			emoji TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (message_id, user_id, emoji),
			FOREIGN KEY (message_id) REFERENCES messages(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);`,
		`CREATE INDEX IF NOT EXISTS idx_users_status ON users(status);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_a ON conversations(participant_a);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_b ON conversations(participant_b);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_message ON conversations(last_message_time DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver_status ON messages(receiver_id, status);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}

// storeErr maps driver-level unavailability, timeouts and a busy or locked
// database, to domain.ErrUnavailable so callers can tell retryable failures
// from persistent ones. Anything else passes through unchanged.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return err
}

// opCtx derives the bounded-timeout context used for every store call.
func opCtx(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultOpTimeout
	}
	return context.WithTimeout(ctx, d)
}
