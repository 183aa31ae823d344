package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dmserver/internal/domain"
	"dmserver/internal/metrics"
)

// MessageService owns the message lifecycle: creation, the delivery-state
// machine, reactions, soft deletion and history reads. Status never moves
// backwards; every transition goes through domain.CanAdvance plus the
// repository's conditional update, so concurrent writers converge on the
// furthest state.
type MessageService struct {
	messages      domain.MessageRepository
	conversations domain.ConversationRepository

	HistoryPageSize int
}

func NewMessageService(
	messages domain.MessageRepository,
	conversations domain.ConversationRepository,
	historyPageSize int,
) *MessageService {
	if historyPageSize <= 0 {
		historyPageSize = 50
	}
	return &MessageService{
		messages:        messages,
		conversations:   conversations,
		HistoryPageSize: historyPageSize,
	}
}

type MessageCreateInput struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	Type           domain.MessageType
	MediaURL       *string
	FileMetadata   *domain.FileMetadata
	ReplyTo        *string
}

// Create validates and persists a new message with status=sent, then bumps
// the conversation's last-message fields and counter.
func (s *MessageService) Create(ctx context.Context, in MessageCreateInput) (*domain.Message, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("unknown message type %q: %w", in.Type, domain.ErrValidation)
	}
	if len([]rune(in.Content)) > domain.MaxContentLength {
		return nil, fmt.Errorf("message content exceeds %d characters: %w", domain.MaxContentLength, domain.ErrValidation)
	}
	hasMedia := in.MediaURL != nil && *in.MediaURL != ""
	if in.Content == "" && !hasMedia {
		return nil, fmt.Errorf("message content cannot be empty: %w", domain.ErrValidation)
	}
	if (in.Type == domain.TypeImage || in.Type == domain.TypeFile) && !hasMedia {
		return nil, fmt.Errorf("%s messages require a media url: %w", in.Type, domain.ErrValidation)
	}

	if in.ReplyTo != nil && *in.ReplyTo != "" {
		parent, err := s.messages.GetByID(ctx, *in.ReplyTo)
		if err != nil {
			return nil, fmt.Errorf("check reply target: %w", err)
		}
		if parent == nil || parent.ConversationID != in.ConversationID {
			return nil, fmt.Errorf("reply target: %w", domain.ErrNotFound)
		}
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Content:        in.Content,
		Type:           in.Type,
		MediaURL:       in.MediaURL,
		FileMetadata:   in.FileMetadata,
		Status:         domain.StatusSent,
		CreatedAt:      time.Now().UTC(),
		ReplyTo:        in.ReplyTo,
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.conversations.RecordMessage(ctx, in.ConversationID, msg.ID, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("record message on conversation: %w", err)
	}

	metrics.MessagesSent.Inc()
	return msg, nil
}

// MarkDelivered advances the message to delivered. Already-delivered and
// already-read messages are left untouched; calling it twice is safe.
func (s *MessageService) MarkDelivered(ctx context.Context, messageID string) (*domain.Message, error) {
	return s.advance(ctx, messageID, domain.StatusDelivered)
}

// MarkRead advances the message to read, setting readAt exactly once.
func (s *MessageService) MarkRead(ctx context.Context, messageID string) (*domain.Message, error) {
	return s.advance(ctx, messageID, domain.StatusRead)
}

func (s *MessageService) advance(ctx context.Context, messageID string, next domain.MessageStatus) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	if !domain.CanAdvance(msg.Status, next) {
		return msg, nil
	}

	at := time.Now().UTC()
	changed, err := s.messages.UpdateStatus(ctx, messageID, next, at)
	if err != nil {
		return nil, err
	}
	if !changed {
		// A concurrent writer got there first; reload the winning state.
		return s.messages.GetByID(ctx, messageID)
	}

	msg.Status = next
	switch next {
	case domain.StatusDelivered:
		msg.DeliveredAt = &at
		metrics.MessagesDelivered.Inc()
	case domain.StatusRead:
		msg.ReadAt = &at
		metrics.MessagesRead.Inc()
	}
	return msg, nil
}

// MarkConversationRead marks every non-read message addressed to readerID
// in the conversation as read. It returns the ids of the messages that
// transitioned together with the shared readAt stamp; a repeat call returns
// an empty set.
func (s *MessageService) MarkConversationRead(ctx context.Context, conversationID, readerID string) ([]string, time.Time, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, time.Time{}, err
	}
	if conv == nil {
		return nil, time.Time{}, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	if !conv.HasParticipant(readerID) {
		return nil, time.Time{}, fmt.Errorf("not a participant in this conversation: %w", domain.ErrForbidden)
	}

	at := time.Now().UTC()
	ids, err := s.messages.MarkConversationRead(ctx, conversationID, readerID, at)
	if err != nil {
		return nil, time.Time{}, err
	}
	for range ids {
		metrics.MessagesRead.Inc()
	}
	return ids, at, nil
}

// AddReaction appends a (user, emoji) reaction. An identical existing pair
// is a silent no-op, never a duplicate entry.
func (s *MessageService) AddReaction(ctx context.Context, messageID, userID, emoji string) (*domain.Message, error) {
	if emoji == "" {
		return nil, fmt.Errorf("emoji is required: %w", domain.ErrValidation)
	}
	msg, err := s.reactable(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if msg.HasReaction(userID, emoji) {
		return msg, nil
	}
	if err := s.messages.AddReaction(ctx, messageID, domain.Reaction{UserID: userID, Emoji: emoji}); err != nil {
		return nil, err
	}
	return s.messages.GetByID(ctx, messageID)
}

// RemoveReaction removes the matching (user, emoji) entry if present.
func (s *MessageService) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*domain.Message, error) {
	msg, err := s.reactable(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if !msg.HasReaction(userID, emoji) {
		return msg, nil
	}
	if err := s.messages.RemoveReaction(ctx, messageID, domain.Reaction{UserID: userID, Emoji: emoji}); err != nil {
		return nil, err
	}
	return s.messages.GetByID(ctx, messageID)
}

func (s *MessageService) reactable(ctx context.Context, messageID, userID string) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.IsDeleted {
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	if msg.SenderID != userID && msg.ReceiverID != userID {
		return nil, fmt.Errorf("not a participant in this conversation: %w", domain.ErrForbidden)
	}
	return msg, nil
}

// SoftDelete hides the message from reads while retaining the record. Only
// the sender may delete.
func (s *MessageService) SoftDelete(ctx context.Context, messageID, requesterID string) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	if msg.SenderID != requesterID {
		return nil, fmt.Errorf("only the sender may delete a message: %w", domain.ErrForbidden)
	}
	if msg.IsDeleted {
		return msg, nil
	}
	if err := s.messages.SetDeleted(ctx, messageID); err != nil {
		return nil, err
	}
	msg.IsDeleted = true
	return msg, nil
}

// Edit replaces the content of the caller's own message.
func (s *MessageService) Edit(ctx context.Context, messageID, callerID, content string) (*domain.Message, error) {
	if len([]rune(content)) > domain.MaxContentLength {
		return nil, fmt.Errorf("message content exceeds %d characters: %w", domain.MaxContentLength, domain.ErrValidation)
	}
	if content == "" {
		return nil, fmt.Errorf("message content cannot be empty: %w", domain.ErrValidation)
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.IsDeleted {
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	if msg.SenderID != callerID {
		return nil, fmt.Errorf("only the sender may edit a message: %w", domain.ErrForbidden)
	}

	at := time.Now().UTC()
	if err := s.messages.SetContent(ctx, messageID, content, at); err != nil {
		return nil, err
	}
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &at
	return msg, nil
}

// UnreadCount returns the number of non-deleted messages addressed to
// userID that are not yet read.
func (s *MessageService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.messages.UnreadCount(ctx, userID)
}

// History returns one page of the conversation, newest first, excluding
// soft-deleted messages. Only participants may read.
func (s *MessageService) History(ctx context.Context, conversationID, requesterID string, page, limit int) ([]*domain.Message, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	if !conv.HasParticipant(requesterID) {
		return nil, fmt.Errorf("not a participant in this conversation: %w", domain.ErrForbidden)
	}

	if limit <= 0 || limit > s.HistoryPageSize {
		limit = s.HistoryPageSize
	}
	if page < 1 {
		page = 1
	}
	return s.messages.ListForConversation(ctx, conversationID, page, limit)
}
