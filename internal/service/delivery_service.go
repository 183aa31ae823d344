package service

import (
	"context"
	"fmt"
	"log"

	"dmserver/internal/domain"
	"dmserver/internal/presence"
)

// BlockChecker answers whether either user has blocked the other. The block
// list itself lives outside this core; callers inject an implementation.
type BlockChecker interface {
	IsBlocked(ctx context.Context, userA, userB string) (bool, error)
}

// NopBlockChecker never blocks. Used until a block-list collaborator is
// wired in.
type NopBlockChecker struct{}

func (NopBlockChecker) IsBlocked(ctx context.Context, userA, userB string) (bool, error) {
	return false, nil
}

// DeliveryService orchestrates a send across the conversation resolver, the
// message store and the presence registry: persist first, then push to every
// live session of the receiver, then confirm delivery. The sender only ever
// sees a status the store has actually recorded.
type DeliveryService struct {
	conversations *ConversationService
	messages      *MessageService
	registry      *presence.Registry
	blocks        BlockChecker
}

func NewDeliveryService(
	conversations *ConversationService,
	messages *MessageService,
	registry *presence.Registry,
	blocks BlockChecker,
) *DeliveryService {
	if blocks == nil {
		blocks = NopBlockChecker{}
	}
	return &DeliveryService{
		conversations: conversations,
		messages:      messages,
		registry:      registry,
		blocks:        blocks,
	}
}

type SendInput struct {
	SenderID     string
	ReceiverID   string
	Content      string
	Type         domain.MessageType
	MediaURL     *string
	FileMetadata *domain.FileMetadata
	ReplyTo      *string
}

// Send persists a message and delivers it to the receiver's live sessions.
// If the receiver is offline the message stays at status=sent and is picked
// up from history later. Push failures to individual handles drop those
// handles but never fail the send.
func (s *DeliveryService) Send(ctx context.Context, in SendInput) (*domain.Message, error) {
	blocked, err := s.blocks.IsBlocked(ctx, in.SenderID, in.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("check block list: %w", err)
	}
	if blocked {
		return nil, fmt.Errorf("messaging between these users is blocked: %w", domain.ErrValidation)
	}

	conv, err := s.conversations.Resolve(ctx, in.SenderID, in.ReceiverID)
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.Create(ctx, MessageCreateInput{
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Content:        in.Content,
		Type:           in.Type,
		MediaURL:       in.MediaURL,
		FileMetadata:   in.FileMetadata,
		ReplyTo:        in.ReplyTo,
	})
	if err != nil {
		return nil, err
	}

	if delivered := s.registry.SendToUser(in.ReceiverID, receiveEvent(msg)); delivered > 0 {
		updated, err := s.messages.MarkDelivered(ctx, msg.ID)
		if err != nil {
			// The push happened but the store write failed; report the
			// message as still sent rather than confirm a delivery the
			// store never recorded.
			log.Printf("delivery: mark delivered %s: %v", msg.ID, err)
		} else {
			msg = updated
		}
	}

	// Multi-device echo: the sender's other sessions learn about the
	// message, and every sender session sees the delivery state.
	s.registry.SendToUser(in.SenderID, receiveEvent(msg))
	if msg.Status == domain.StatusDelivered && msg.DeliveredAt != nil {
		s.registry.SendToUser(in.SenderID, map[string]any{
			"type":         "message:delivered",
			"message_id":   msg.ID,
			"delivered_at": msg.DeliveredAt,
		})
	}

	return msg, nil
}

// ReadReceipt marks everything addressed to readerID in the conversation as
// read and notifies the other participant's sessions, one event per message.
// The reader's own sessions get the same events for multi-device sync.
func (s *DeliveryService) ReadReceipt(ctx context.Context, conversationID, readerID string) (int, error) {
	conv, err := s.conversations.GetForUser(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}

	ids, at, err := s.messages.MarkConversationRead(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	other := conv.OtherParticipant(readerID)
	for _, id := range ids {
		event := map[string]any{
			"type":       "message:read",
			"message_id": id,
			"read_at":    at,
		}
		s.registry.SendToUser(other, event)
		s.registry.SendToUser(readerID, event)
	}
	return len(ids), nil
}

// React adds or removes a reaction and fans the result out to both
// participants.
func (s *DeliveryService) React(ctx context.Context, messageID, userID, emoji string, add bool) (*domain.Message, error) {
	var msg *domain.Message
	var err error
	if add {
		msg, err = s.messages.AddReaction(ctx, messageID, userID, emoji)
	} else {
		msg, err = s.messages.RemoveReaction(ctx, messageID, userID, emoji)
	}
	if err != nil {
		return nil, err
	}

	event := map[string]any{
		"type":       "message:reaction",
		"message_id": msg.ID,
		"user_id":    userID,
		"emoji":      emoji,
		"added":      add,
		"reactions":  msg.Reactions,
	}
	s.registry.SendToUser(msg.SenderID, event)
	s.registry.SendToUser(msg.ReceiverID, event)
	return msg, nil
}

// Edit updates a message's content and notifies both participants.
func (s *DeliveryService) Edit(ctx context.Context, messageID, callerID, content string) (*domain.Message, error) {
	msg, err := s.messages.Edit(ctx, messageID, callerID, content)
	if err != nil {
		return nil, err
	}
	event := map[string]any{
		"type":       "message:edited",
		"message_id": msg.ID,
		"content":    msg.Content,
		"edited_at":  msg.EditedAt,
	}
	s.registry.SendToUser(msg.SenderID, event)
	s.registry.SendToUser(msg.ReceiverID, event)
	return msg, nil
}

// Delete soft-deletes a message and notifies both participants.
func (s *DeliveryService) Delete(ctx context.Context, messageID, requesterID string) (*domain.Message, error) {
	msg, err := s.messages.SoftDelete(ctx, messageID, requesterID)
	if err != nil {
		return nil, err
	}
	event := map[string]any{
		"type":            "message:deleted",
		"message_id":      msg.ID,
		"conversation_id": msg.ConversationID,
	}
	s.registry.SendToUser(msg.SenderID, event)
	s.registry.SendToUser(msg.ReceiverID, event)
	return msg, nil
}

func receiveEvent(m *domain.Message) map[string]any {
	return map[string]any{
		"type":    "message:receive",
		"message": m,
	}
}
