package service_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"dmserver/internal/domain"
)

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	return nil, nil // not used in these tests
}

func (m *MockUserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) {
	return nil, nil
}

func (m *MockUserRepo) SetPresence(ctx context.Context, id string, status domain.UserStatus, lastSeen time.Time) error {
	args := m.Called(ctx, id, status, lastSeen)
	return args.Error(0)
}

type MockConversationRepo struct {
	mock.Mock
}

func (m *MockConversationRepo) Create(ctx context.Context, c *domain.Conversation) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) FindByParticipants(ctx context.Context, participantA, participantB string) (*domain.Conversation, error) {
	args := m.Called(ctx, participantA, participantB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) ListForUser(ctx context.Context, userID string, includeArchived bool) ([]*domain.Conversation, error) {
	args := m.Called(ctx, userID, includeArchived)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	args := m.Called(ctx, conversationID, userID, muted)
	return args.Error(0)
}

func (m *MockConversationRepo) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	args := m.Called(ctx, conversationID, userID, archived)
	return args.Error(0)
}

func (m *MockConversationRepo) RecordMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	args := m.Called(ctx, conversationID, messageID, at)
	return args.Error(0)
}

type MockMessageRepo struct {
	mock.Mock
}

func (m *MockMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) ListForConversation(ctx context.Context, conversationID string, page, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, conversationID, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) UpdateStatus(ctx context.Context, id string, next domain.MessageStatus, at time.Time) (bool, error) {
	args := m.Called(ctx, id, next, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageRepo) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error) {
	args := m.Called(ctx, conversationID, readerID, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockMessageRepo) AddReaction(ctx context.Context, messageID string, r domain.Reaction) error {
	args := m.Called(ctx, messageID, r)
	return args.Error(0)
}

func (m *MockMessageRepo) RemoveReaction(ctx context.Context, messageID string, r domain.Reaction) error {
	args := m.Called(ctx, messageID, r)
	return args.Error(0)
}

func (m *MockMessageRepo) SetDeleted(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MockMessageRepo) SetContent(ctx context.Context, messageID, content string, editedAt time.Time) error {
	args := m.Called(ctx, messageID, content, editedAt)
	return args.Error(0)
}

func (m *MockMessageRepo) UnreadCount(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageRepo) UnreadCountInConversation(ctx context.Context, conversationID, userID string) (int64, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Get(0).(int64), args.Error(1)
}
