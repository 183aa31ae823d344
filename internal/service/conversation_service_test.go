package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"dmserver/internal/domain"
	"dmserver/internal/service"
)

func TestResolve(t *testing.T) {
	t.Run("ExistingConversation", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		svc := service.NewConversationService(convRepo, msgRepo)

		existing := &domain.Conversation{ID: "c1", ParticipantA: "alice", ParticipantB: "bob"}
		convRepo.On("FindByParticipants", mock.Anything, "alice", "bob").Return(existing, nil)

		conv, err := svc.Resolve(context.Background(), "bob", "alice")
		assert.NoError(t, err)
		assert.Equal(t, "c1", conv.ID)
		convRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("CanonicalOrderBothWays", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		svc := service.NewConversationService(convRepo, msgRepo)

		// the lookup always uses the canonical pair regardless of argument order
		convRepo.On("FindByParticipants", mock.Anything, "alice", "bob").Return(nil, nil).Twice()
		convRepo.On("Create", mock.Anything, mock.MatchedBy(func(c *domain.Conversation) bool {
			return c.ParticipantA == "alice" && c.ParticipantB == "bob"
		})).Return(nil).Twice()

		_, err := svc.Resolve(context.Background(), "alice", "bob")
		assert.NoError(t, err)
		_, err = svc.Resolve(context.Background(), "bob", "alice")
		assert.NoError(t, err)
		convRepo.AssertExpectations(t)
	})

	t.Run("CreationRaceFallsBackToLookup", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		svc := service.NewConversationService(convRepo, msgRepo)

		winner := &domain.Conversation{ID: "winner", ParticipantA: "alice", ParticipantB: "bob"}
		convRepo.On("FindByParticipants", mock.Anything, "alice", "bob").Return(nil, nil).Once()
		convRepo.On("Create", mock.Anything, mock.Anything).Return(domain.ErrConflict).Once()
		convRepo.On("FindByParticipants", mock.Anything, "alice", "bob").Return(winner, nil).Once()

		conv, err := svc.Resolve(context.Background(), "alice", "bob")
		assert.NoError(t, err)
		assert.Equal(t, "winner", conv.ID)
	})

	t.Run("SelfConversationRejected", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		svc := service.NewConversationService(convRepo, msgRepo)

		_, err := svc.Resolve(context.Background(), "alice", "alice")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("EmptyParticipantRejected", func(t *testing.T) {
		convRepo := new(MockConversationRepo)
		msgRepo := new(MockMessageRepo)
		svc := service.NewConversationService(convRepo, msgRepo)

		_, err := svc.Resolve(context.Background(), "alice", "")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestGetForUser(t *testing.T) {
	convRepo := new(MockConversationRepo)
	msgRepo := new(MockMessageRepo)
	svc := service.NewConversationService(convRepo, msgRepo)

	conv := &domain.Conversation{ID: "c1", ParticipantA: "alice", ParticipantB: "bob"}
	convRepo.On("GetByID", mock.Anything, "c1").Return(conv, nil)
	convRepo.On("GetByID", mock.Anything, "missing").Return(nil, nil)

	t.Run("Participant", func(t *testing.T) {
		got, err := svc.GetForUser(context.Background(), "c1", "alice")
		assert.NoError(t, err)
		assert.Equal(t, conv, got)
	})

	t.Run("Outsider", func(t *testing.T) {
		_, err := svc.GetForUser(context.Background(), "c1", "carol")
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := svc.GetForUser(context.Background(), "missing", "alice")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestToggleMute(t *testing.T) {
	convRepo := new(MockConversationRepo)
	msgRepo := new(MockMessageRepo)
	svc := service.NewConversationService(convRepo, msgRepo)

	conv := &domain.Conversation{ID: "c1", ParticipantA: "alice", ParticipantB: "bob", MutedBy: []string{"alice"}}
	convRepo.On("GetByID", mock.Anything, "c1").Return(conv, nil)
	convRepo.On("SetMuted", mock.Anything, "c1", "alice", false).Return(nil)
	convRepo.On("SetMuted", mock.Anything, "c1", "bob", true).Return(nil)

	muted, err := svc.ToggleMute(context.Background(), "c1", "alice")
	assert.NoError(t, err)
	assert.False(t, muted)

	muted, err = svc.ToggleMute(context.Background(), "c1", "bob")
	assert.NoError(t, err)
	assert.True(t, muted)
}

func TestToSummaries(t *testing.T) {
	convRepo := new(MockConversationRepo)
	msgRepo := new(MockMessageRepo)
	svc := service.NewConversationService(convRepo, msgRepo)

	convs := []*domain.Conversation{
		{ID: "c1", ParticipantA: "alice", ParticipantB: "bob", MutedBy: []string{"alice"}},
		{ID: "c2", ParticipantA: "alice", ParticipantB: "carol", ArchivedBy: []string{"alice"}},
	}
	msgRepo.On("UnreadCountInConversation", mock.Anything, "c1", "alice").Return(int64(3), nil)
	msgRepo.On("UnreadCountInConversation", mock.Anything, "c2", "alice").Return(int64(0), nil)

	summaries, err := svc.ToSummaries(context.Background(), convs, "alice")
	assert.NoError(t, err)
	assert.Len(t, summaries, 2)
	assert.Equal(t, int64(3), summaries[0].UnreadCount)
	assert.True(t, summaries[0].Muted)
	assert.False(t, summaries[0].Archived)
	assert.True(t, summaries[1].Archived)
}
