package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"dmserver/internal/domain"
)

// ConversationService resolves, lists and flags direct conversations.
type ConversationService struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
}

func NewConversationService(
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
	}
}

// Resolve returns the single direct conversation between the two users,
// creating it lazily on first contact. It is idempotent for both argument
// orders: the pair is canonicalized before lookup, and a creation race is
// recovered by retrying as a lookup when the store reports a conflict.
func (s *ConversationService) Resolve(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("both participants are required: %w", domain.ErrValidation)
	}
	if userA == userB {
		return nil, fmt.Errorf("cannot start a conversation with yourself: %w", domain.ErrValidation)
	}

	a, b := domain.CanonicalPair(userA, userB)

	existing, err := s.conversations.FindByParticipants(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	conv := &domain.Conversation{
		ID:           uuid.NewString(),
		ParticipantA: a,
		ParticipantB: b,
	}
	err = s.conversations.Create(ctx, conv)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return nil, err
	}

	// Lost the creation race; the other writer's row is the one to use.
	existing, err = s.conversations.FindByParticipants(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("find conversation after conflict: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("conversation vanished after conflict: %w", domain.ErrInternal)
	}
	return existing, nil
}

// ListForUser returns the user's conversations ordered by most recent
// message first. Archived conversations are excluded unless requested.
func (s *ConversationService) ListForUser(ctx context.Context, userID string, includeArchived bool) ([]*domain.Conversation, error) {
	return s.conversations.ListForUser(ctx, userID, includeArchived)
}

// GetForUser fetches a conversation and verifies the caller participates.
func (s *ConversationService) GetForUser(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	if !conv.HasParticipant(userID) {
		return nil, fmt.Errorf("not a participant in this conversation: %w", domain.ErrForbidden)
	}
	return conv, nil
}

// ToggleMute flips the caller's mute flag and returns the new state.
func (s *ConversationService) ToggleMute(ctx context.Context, conversationID, userID string) (bool, error) {
	conv, err := s.GetForUser(ctx, conversationID, userID)
	if err != nil {
		return false, err
	}
	next := !conv.IsMutedBy(userID)
	if err := s.conversations.SetMuted(ctx, conversationID, userID, next); err != nil {
		return false, err
	}
	return next, nil
}

// ToggleArchive flips the caller's archive flag and returns the new state.
func (s *ConversationService) ToggleArchive(ctx context.Context, conversationID, userID string) (bool, error) {
	conv, err := s.GetForUser(ctx, conversationID, userID)
	if err != nil {
		return false, err
	}
	next := !conv.IsArchivedBy(userID)
	if err := s.conversations.SetArchived(ctx, conversationID, userID, next); err != nil {
		return false, err
	}
	return next, nil
}

// ConversationSummary is the conversation list payload: the conversation
// plus the caller's unread count and per-caller flag states.
type ConversationSummary struct {
	*domain.Conversation
	UnreadCount int64 `json:"unread_count"`
	Muted       bool  `json:"muted"`
	Archived    bool  `json:"archived"`
}

// ToSummaries decorates conversations with the caller's unread counts.
func (s *ConversationService) ToSummaries(ctx context.Context, convs []*domain.Conversation, userID string) ([]*ConversationSummary, error) {
	res := make([]*ConversationSummary, 0, len(convs))
	for _, c := range convs {
		unread, err := s.messages.UnreadCountInConversation(ctx, c.ID, userID)
		if err != nil {
			return nil, err
		}
		res = append(res, &ConversationSummary{
			Conversation: c,
			UnreadCount:  unread,
			Muted:        c.IsMutedBy(userID),
			Archived:     c.IsArchivedBy(userID),
		})
	}
	return res, nil
}
