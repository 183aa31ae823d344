package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dmserver/internal/domain"
)

type ConversationRepo struct {
	db        *sql.DB
	opTimeout time.Duration
}

func NewConversationRepo(db *sql.DB, opTimeout time.Duration) *ConversationRepo {
	return &ConversationRepo{db: db, opTimeout: opTimeout}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

const conversationColumns = `id, participant_a, participant_b, last_message_id, last_message_time, message_count, created_at, updated_at`

func (r *ConversationRepo) Create(ctx context.Context, c *domain.Conversation) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_a, participant_b, message_count, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, c.ID, c.ParticipantA, c.ParticipantB, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("insert conversation: %w", domain.ErrConflict)
		}
		return fmt.Errorf("insert conversation: %w", storeErr(err))
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	if err := r.loadFlags(ctx, []*domain.Conversation{c}); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ConversationRepo) FindByParticipants(ctx context.Context, participantA, participantB string) (*domain.Conversation, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_a = ? AND participant_b = ?
	`, participantA, participantB)
	c, err := scanConversation(row)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	if err := r.loadFlags(ctx, []*domain.Conversation{c}); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID string, includeArchived bool) ([]*domain.Conversation, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	query := `
		SELECT ` + columnsWithPrefix("c") + `
		FROM conversations c
		LEFT JOIN conversation_flags cf ON cf.conversation_id = c.id AND cf.user_id = ?
		WHERE (c.participant_a = ? OR c.participant_b = ?)
	`
	if !includeArchived {
		query += ` AND COALESCE(cf.archived, 0) = 0`
	}
	query += ` ORDER BY c.last_message_time IS NULL, c.last_message_time DESC, c.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", storeErr(err))
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", storeErr(err))
	}
	if err := r.loadFlags(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *ConversationRepo) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	return r.setFlag(ctx, conversationID, userID, "muted", muted)
}

func (r *ConversationRepo) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	return r.setFlag(ctx, conversationID, userID, "archived", archived)
}

func (r *ConversationRepo) setFlag(ctx context.Context, conversationID, userID, column string, value bool) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	// Upsert keeps the flip idempotent regardless of current state.
	query := fmt.Sprintf(`
		INSERT INTO conversation_flags (conversation_id, user_id, %s)
		VALUES (?, ?, ?)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET %s = excluded.%s
	`, column, column, column)
	if _, err := r.db.ExecContext(ctx, query, conversationID, userID, value); err != nil {
		return fmt.Errorf("set %s: %w", column, storeErr(err))
	}
	return nil
}

func (r *ConversationRepo) RecordMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id = ?, last_message_time = ?, message_count = message_count + 1, updated_at = ?
		WHERE id = ?
	`, messageID, at, at, conversationID)
	if err != nil {
		return fmt.Errorf("record message: %w", storeErr(err))
	}
	return nil
}

// loadFlags attaches muted_by/archived_by membership to the given rows.
func (r *ConversationRepo) loadFlags(ctx context.Context, convs []*domain.Conversation) error {
	if len(convs) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Conversation, len(convs))
	args := make([]any, 0, len(convs))
	for _, c := range convs {
		byID[c.ID] = c
		args = append(args, c.ID)
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(convs)), ",")

	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, user_id, muted, archived
		FROM conversation_flags
		WHERE conversation_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("load flags: %w", storeErr(err))
	}
	defer rows.Close()

	for rows.Next() {
		var convID, userID string
		var muted, archived bool
		if err := rows.Scan(&convID, &userID, &muted, &archived); err != nil {
			return fmt.Errorf("scan flag: %w", storeErr(err))
		}
		c := byID[convID]
		if c == nil {
			continue
		}
		if muted {
			c.MutedBy = append(c.MutedBy, userID)
		}
		if archived {
			c.ArchivedBy = append(c.ArchivedBy, userID)
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := row.Scan(
		&c.ID,
		&c.ParticipantA,
		&c.ParticipantB,
		&c.LastMessageID,
		&c.LastMessageTime,
		&c.MessageCount,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", storeErr(err))
	}
	return c, nil
}

func columnsWithPrefix(p string) string {
	cols := strings.Split(conversationColumns, ", ")
	for i := range cols {
		cols[i] = p + "." + cols[i]
	}
	return strings.Join(cols, ", ")
}
