package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dmserver/internal/domain"
)

type MessageRepo struct {
	db        *sql.DB
	opTimeout time.Duration
}

func NewMessageRepo(db *sql.DB, opTimeout time.Duration) *MessageRepo {
	return &MessageRepo{db: db, opTimeout: opTimeout}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, conversation_id, sender_id, receiver_id, content, type, media_url, file_name, file_size, file_mime, status, created_at, delivered_at, read_at, is_deleted, is_edited, edited_at, reply_to`

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	var fileName, fileMime *string
	var fileSize *int64
	if m.FileMetadata != nil {
		fileName = &m.FileMetadata.Name
		fileSize = &m.FileMetadata.Size
		fileMime = &m.FileMetadata.MimeType
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, type, media_url, file_name, file_size, file_mime, status, created_at, is_deleted, is_edited, reply_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)
	`,
		m.ID,
		m.ConversationID,
		m.SenderID,
		m.ReceiverID,
		m.Content,
		string(m.Type),
		m.MediaURL,
		fileName,
		fileSize,
		fileMime,
		string(m.Status),
		m.CreatedAt,
		m.ReplyTo,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", storeErr(err))
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err != nil || m == nil {
		return m, err
	}
	if err := r.loadReactions(ctx, []*domain.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID string, page, limit int) ([]*domain.Message, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	if page < 1 {
		page = 1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND is_deleted = 0
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, conversationID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", storeErr(err))
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", storeErr(err))
	}
	if err := r.loadReactions(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// UpdateStatus applies the forward-only transition as a single conditional
// UPDATE; the WHERE clause rejects repeated and backward transitions so a
// markDelivered racing a markRead can never regress the state.
func (r *MessageRepo) UpdateStatus(ctx context.Context, id string, next domain.MessageStatus, at time.Time) (bool, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	var res sql.Result
	var err error
	switch next {
	case domain.StatusDelivered:
		res, err = r.db.ExecContext(ctx, `
			UPDATE messages SET status = 'delivered', delivered_at = ?
			WHERE id = ? AND status = 'sent'
		`, at, id)
	case domain.StatusRead:
		res, err = r.db.ExecContext(ctx, `
			UPDATE messages SET status = 'read', read_at = ?
			WHERE id = ? AND status IN ('sent', 'delivered')
		`, at, id)
	default:
		return false, fmt.Errorf("update status to %q: %w", next, domain.ErrValidation)
	}
	if err != nil {
		return false, fmt.Errorf("update status: %w", storeErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", storeErr(err))
	}
	return n > 0, nil
}

func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", storeErr(err))
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM messages
		WHERE conversation_id = ? AND receiver_id = ? AND status != 'read' AND is_deleted = 0
	`, conversationID, readerID)
	if err != nil {
		return nil, fmt.Errorf("select unread: %w", storeErr(err))
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan id: %w", storeErr(err))
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select unread: %w", storeErr(err))
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, at)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = 'read', read_at = ?
		WHERE id IN (`+placeholders+`) AND status != 'read'
	`, args...); err != nil {
		return nil, fmt.Errorf("mark read: %w", storeErr(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", storeErr(err))
	}
	return ids, nil
}

func (r *MessageRepo) AddReaction(ctx context.Context, messageID string, reaction domain.Reaction) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	// INSERT OR IGNORE keeps the (user, emoji) pair unique: a duplicate
	// reaction is a silent no-op.
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reactions (message_id, user_id, emoji)
		VALUES (?, ?, ?)
	`, messageID, reaction.UserID, reaction.Emoji)
	if err != nil {
		return fmt.Errorf("add reaction: %w", storeErr(err))
	}
	return nil
}

func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID string, reaction domain.Reaction) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		DELETE FROM message_reactions
		WHERE message_id = ? AND user_id = ? AND emoji = ?
	`, messageID, reaction.UserID, reaction.Emoji)
	if err != nil {
		return fmt.Errorf("remove reaction: %w", storeErr(err))
	}
	return nil
}

func (r *MessageRepo) SetDeleted(ctx context.Context, messageID string) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_deleted = 1 WHERE id = ?
	`, messageID); err != nil {
		return fmt.Errorf("soft delete message: %w", storeErr(err))
	}
	return nil
}

func (r *MessageRepo) SetContent(ctx context.Context, messageID, content string, editedAt time.Time) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, is_edited = 1, edited_at = ? WHERE id = ?
	`, content, editedAt, messageID); err != nil {
		return fmt.Errorf("edit message: %w", storeErr(err))
	}
	return nil
}

func (r *MessageRepo) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE receiver_id = ? AND status != 'read' AND is_deleted = 0
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", storeErr(err))
	}
	return count, nil
}

func (r *MessageRepo) UnreadCountInConversation(ctx context.Context, conversationID, userID string) (int64, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND receiver_id = ? AND status != 'read' AND is_deleted = 0
	`, conversationID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread in conversation: %w", storeErr(err))
	}
	return count, nil
}

func (r *MessageRepo) loadReactions(ctx context.Context, msgs []*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Message, len(msgs))
	args := make([]any, 0, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
		args = append(args, m.ID)
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(msgs)), ",")

	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, user_id, emoji
		FROM message_reactions
		WHERE message_id IN (`+placeholders+`)
		ORDER BY created_at ASC, rowid ASC
	`, args...)
	if err != nil {
		return fmt.Errorf("load reactions: %w", storeErr(err))
	}
	defer rows.Close()

	for rows.Next() {
		var msgID string
		var reaction domain.Reaction
		if err := rows.Scan(&msgID, &reaction.UserID, &reaction.Emoji); err != nil {
			return fmt.Errorf("scan reaction: %w", storeErr(err))
		}
		if m := byID[msgID]; m != nil {
			m.Reactions = append(m.Reactions, reaction)
		}
	}
	return rows.Err()
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	m := &domain.Message{}
	var msgType, status string
	var fileName, fileMime *string
	var fileSize *int64
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.ReceiverID,
		&m.Content,
		&msgType,
		&m.MediaURL,
		&fileName,
		&fileSize,
		&fileMime,
		&status,
		&m.CreatedAt,
		&m.DeliveredAt,
		&m.ReadAt,
		&m.IsDeleted,
		&m.IsEdited,
		&m.EditedAt,
		&m.ReplyTo,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", storeErr(err))
	}
	m.Type = domain.MessageType(msgType)
	m.Status = domain.MessageStatus(status)
	if fileName != nil {
		m.FileMetadata = &domain.FileMetadata{Name: *fileName, MimeType: derefString(fileMime)}
		if fileSize != nil {
			m.FileMetadata.Size = *fileSize
		}
	}
	return m, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
