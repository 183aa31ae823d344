package service

import (
	"context"

	"dmserver/internal/presence"
)

// TypingService relays typing indicators between the two participants of a
// conversation. Nothing is persisted or queued: if the other participant has
// no live session the event is dropped.
type TypingService struct {
	conversations *ConversationService
	registry      *presence.Registry
}

func NewTypingService(conversations *ConversationService, registry *presence.Registry) *TypingService {
	return &TypingService{
		conversations: conversations,
		registry:      registry,
	}
}

// Start relays a typing:start event to the other participant.
func (s *TypingService) Start(ctx context.Context, conversationID, userID string) error {
	return s.relay(ctx, conversationID, userID, "typing:start")
}

// Stop relays a typing:stop event to the other participant.
func (s *TypingService) Stop(ctx context.Context, conversationID, userID string) error {
	return s.relay(ctx, conversationID, userID, "typing:stop")
}

func (s *TypingService) relay(ctx context.Context, conversationID, userID, eventType string) error {
	conv, err := s.conversations.GetForUser(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	s.registry.SendToUser(conv.OtherParticipant(userID), map[string]any{
		"type":            eventType,
		"conversation_id": conversationID,
		"user_id":         userID,
	})
	return nil
}
