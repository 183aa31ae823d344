package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmserver/internal/domain"
	"dmserver/internal/store/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func seedConversation(t *testing.T, repo *sqlite.ConversationRepo, a, b string) *domain.Conversation {
	t.Helper()
	pa, pb := domain.CanonicalPair(a, b)
	conv := &domain.Conversation{ID: uuid.NewString(), ParticipantA: pa, ParticipantB: pb}
	require.NoError(t, repo.Create(context.Background(), conv))
	return conv
}

func seedMessage(t *testing.T, repo *sqlite.MessageRepo, convID, sender, receiver, content string) *domain.Message {
	t.Helper()
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       sender,
		ReceiverID:     receiver,
		Content:        content,
		Type:           domain.TypeText,
		Status:         domain.StatusSent,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), msg))
	return msg
}

func TestConversationUniquePair(t *testing.T) {
	db := testDB(t)
	repo := sqlite.NewConversationRepo(db, 0)
	ctx := context.Background()

	first := &domain.Conversation{ID: "c1", ParticipantA: "alice", ParticipantB: "bob"}
	require.NoError(t, repo.Create(ctx, first))

	dup := &domain.Conversation{ID: "c2", ParticipantA: "alice", ParticipantB: "bob"}
	err := repo.Create(ctx, dup)
	assert.ErrorIs(t, err, domain.ErrConflict)

	found, err := repo.FindByParticipants(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "c1", found.ID)
}

func TestConversationFindMissing(t *testing.T) {
	db := testDB(t)
	repo := sqlite.NewConversationRepo(db, 0)

	found, err := repo.FindByParticipants(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Nil(t, found)

	got, err := repo.GetByID(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestConversationListOrdering(t *testing.T) {
	db := testDB(t)
	repo := sqlite.NewConversationRepo(db, 0)
	ctx := context.Background()

	older := seedConversation(t, repo, "alice", "bob")
	newer := seedConversation(t, repo, "alice", "carol")
	idle := seedConversation(t, repo, "alice", "dave")

	base := time.Now().UTC()
	require.NoError(t, repo.RecordMessage(ctx, older.ID, "m1", base.Add(-time.Hour)))
	require.NoError(t, repo.RecordMessage(ctx, newer.ID, "m2", base))

	convs, err := repo.ListForUser(ctx, "alice", false)
	require.NoError(t, err)
	require.Len(t, convs, 3)
	assert.Equal(t, newer.ID, convs[0].ID)
	assert.Equal(t, older.ID, convs[1].ID)
	// conversations without any message sort last
	assert.Equal(t, idle.ID, convs[2].ID)
}

func TestConversationArchiveFiltering(t *testing.T) {
	db := testDB(t)
	repo := sqlite.NewConversationRepo(db, 0)
	ctx := context.Background()

	kept := seedConversation(t, repo, "alice", "bob")
	archived := seedConversation(t, repo, "alice", "carol")
	require.NoError(t, repo.SetArchived(ctx, archived.ID, "alice", true))

	convs, err := repo.ListForUser(ctx, "alice", false)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, kept.ID, convs[0].ID)

	// the other participant still sees it
	convs, err = repo.ListForUser(ctx, "carol", false)
	require.NoError(t, err)
	assert.Len(t, convs, 1)

	all, err := repo.ListForUser(ctx, "alice", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestConversationFlagsRoundTrip(t *testing.T) {
	db := testDB(t)
	repo := sqlite.NewConversationRepo(db, 0)
	ctx := context.Background()

	conv := seedConversation(t, repo, "alice", "bob")
	require.NoError(t, repo.SetMuted(ctx, conv.ID, "alice", true))
	require.NoError(t, repo.SetArchived(ctx, conv.ID, "alice", true))
	require.NoError(t, repo.SetMuted(ctx, conv.ID, "bob", true))

	got, err := repo.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.IsMutedBy("alice"))
	assert.True(t, got.IsMutedBy("bob"))
	assert.True(t, got.IsArchivedBy("alice"))
	assert.False(t, got.IsArchivedBy("bob"))

	require.NoError(t, repo.SetMuted(ctx, conv.ID, "alice", false))
	got, err = repo.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, got.IsMutedBy("alice"))
	assert.True(t, got.IsArchivedBy("alice"))
}

func TestRecordMessageBumpsCounters(t *testing.T) {
	db := testDB(t)
	repo := sqlite.NewConversationRepo(db, 0)
	ctx := context.Background()

	conv := seedConversation(t, repo, "alice", "bob")
	at := time.Now().UTC()
	require.NoError(t, repo.RecordMessage(ctx, conv.ID, "m1", at))
	require.NoError(t, repo.RecordMessage(ctx, conv.ID, "m2", at.Add(time.Second)))

	got, err := repo.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.MessageCount)
	require.NotNil(t, got.LastMessageID)
	assert.Equal(t, "m2", *got.LastMessageID)
	require.NotNil(t, got.LastMessageTime)
}

func TestUpdateStatusForwardOnly(t *testing.T) {
	db := testDB(t)
	convRepo := sqlite.NewConversationRepo(db, 0)
	msgRepo := sqlite.NewMessageRepo(db, 0)
	ctx := context.Background()

	conv := seedConversation(t, convRepo, "alice", "bob")
	msg := seedMessage(t, msgRepo, conv.ID, "alice", "bob", "hi")

	at := time.Now().UTC()
	changed, err := msgRepo.UpdateStatus(ctx, msg.ID, domain.StatusDelivered, at)
	require.NoError(t, err)
	assert.True(t, changed)

	// repeat is a no-op
	changed, err = msgRepo.UpdateStatus(ctx, msg.ID, domain.StatusDelivered, at)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = msgRepo.UpdateStatus(ctx, msg.ID, domain.StatusRead, at)
	require.NoError(t, err)
	assert.True(t, changed)

	// delivered after read does not regress
	changed, err = msgRepo.UpdateStatus(ctx, msg.ID, domain.StatusDelivered, at)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := msgRepo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, got.Status)
	assert.NotNil(t, got.DeliveredAt)
	assert.NotNil(t, got.ReadAt)
}

func TestUpdateStatusToSentRejected(t *testing.T) {
	db := testDB(t)
	msgRepo := sqlite.NewMessageRepo(db, 0)

	_, err := msgRepo.UpdateStatus(context.Background(), "m1", domain.StatusSent, time.Now())
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestMarkConversationRead(t *testing.T) {
	db := testDB(t)
	convRepo := sqlite.NewConversationRepo(db, 0)
	msgRepo := sqlite.NewMessageRepo(db, 0)
	ctx := context.Background()

	conv := seedConversation(t, convRepo, "alice", "bob")
	m1 := seedMessage(t, msgRepo, conv.ID, "alice", "bob", "one")
	m2 := seedMessage(t, msgRepo, conv.ID, "alice", "bob", "two")
	mine := seedMessage(t, msgRepo, conv.ID, "bob", "alice", "reply")

	at := time.Now().UTC()
	ids, err := msgRepo.MarkConversationRead(ctx, conv.ID, "bob", at)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{m1.ID, m2.ID}, ids)

	// bob's own outgoing message is untouched
	got, err := msgRepo.GetByID(ctx, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)

	// repeat returns nothing
	ids, err = msgRepo.MarkConversationRead(ctx, conv.ID, "bob", at)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestReactionsIdempotent(t *testing.T) {
	db := testDB(t)
	convRepo := sqlite.NewConversationRepo(db, 0)
	msgRepo := sqlite.NewMessageRepo(db, 0)
	ctx := context.Background()

	conv := seedConversation(t, convRepo, "alice", "bob")
	msg := seedMessage(t, msgRepo, conv.ID, "alice", "bob", "hi")

	reaction := domain.Reaction{UserID: "bob", Emoji: "👍"}
	require.NoError(t, msgRepo.AddReaction(ctx, msg.ID, reaction))
	require.NoError(t, msgRepo.AddReaction(ctx, msg.ID, reaction))

	got, err := msgRepo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Len(t, got.Reactions, 1)

	// same user, different emoji is a second entry
	require.NoError(t, msgRepo.AddReaction(ctx, msg.ID, domain.Reaction{UserID: "bob", Emoji: "❤️"}))
	got, err = msgRepo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Len(t, got.Reactions, 2)

	require.NoError(t, msgRepo.RemoveReaction(ctx, msg.ID, reaction))
	require.NoError(t, msgRepo.RemoveReaction(ctx, msg.ID, reaction))
	got, err = msgRepo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Len(t, got.Reactions, 1)
	assert.True(t, got.HasReaction("bob", "❤️"))
}

func TestHistoryExcludesDeleted(t *testing.T) {
	db := testDB(t)
	convRepo := sqlite.NewConversationRepo(db, 0)
	msgRepo := sqlite.NewMessageRepo(db, 0)
	ctx := context.Background()

	conv := seedConversation(t, convRepo, "alice", "bob")
	kept := seedMessage(t, msgRepo, conv.ID, "alice", "bob", "kept")
	deleted := seedMessage(t, msgRepo, conv.ID, "alice", "bob", "deleted")
	require.NoError(t, msgRepo.SetDeleted(ctx, deleted.ID))

	msgs, err := msgRepo.ListForConversation(ctx, conv.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, kept.ID, msgs[0].ID)
}

func TestHistoryPaging(t *testing.T) {
	db := testDB(t)
	convRepo := sqlite.NewConversationRepo(db, 0)
	msgRepo := sqlite.NewMessageRepo(db, 0)
	ctx := context.Background()

	conv := seedConversation(t, convRepo, "alice", "bob")
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		msg := &domain.Message{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			SenderID:       "alice",
			ReceiverID:     "bob",
			Content:        "msg",
			Type:           domain.TypeText,
			Status:         domain.StatusSent,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, msgRepo.Create(ctx, msg))
	}

	page1, err := msgRepo.ListForConversation(ctx, conv.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	page2, err := msgRepo.ListForConversation(ctx, conv.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	page3, err := msgRepo.ListForConversation(ctx, conv.ID, 3, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)

	// newest first
	assert.True(t, page1[0].CreatedAt.After(page1[1].CreatedAt))
	assert.True(t, page1[1].CreatedAt.After(page2[0].CreatedAt))
}

func TestUnreadCounts(t *testing.T) {
	db := testDB(t)
	convRepo := sqlite.NewConversationRepo(db, 0)
	msgRepo := sqlite.NewMessageRepo(db, 0)
	ctx := context.Background()

	conv1 := seedConversation(t, convRepo, "alice", "bob")
	conv2 := seedConversation(t, convRepo, "bob", "carol")
	seedMessage(t, msgRepo, conv1.ID, "alice", "bob", "one")
	seedMessage(t, msgRepo, conv1.ID, "alice", "bob", "two")
	seedMessage(t, msgRepo, conv2.ID, "carol", "bob", "three")
	gone := seedMessage(t, msgRepo, conv1.ID, "alice", "bob", "gone")
	require.NoError(t, msgRepo.SetDeleted(ctx, gone.ID))

	total, err := msgRepo.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	inConv, err := msgRepo.UnreadCountInConversation(ctx, conv1.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inConv)

	_, err = msgRepo.MarkConversationRead(ctx, conv1.ID, "bob", time.Now().UTC())
	require.NoError(t, err)

	total, err = msgRepo.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestMessageFileMetadataRoundTrip(t *testing.T) {
	db := testDB(t)
	convRepo := sqlite.NewConversationRepo(db, 0)
	msgRepo := sqlite.NewMessageRepo(db, 0)
	ctx := context.Background()

	conv := seedConversation(t, convRepo, "alice", "bob")
	mediaURL := "http://localhost:8000/api/uploads/123.pdf"
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       "alice",
		ReceiverID:     "bob",
		Content:        "report",
		Type:           domain.TypeFile,
		MediaURL:       &mediaURL,
		FileMetadata:   &domain.FileMetadata{Name: "report.pdf", Size: 2048, MimeType: "application/pdf"},
		Status:         domain.StatusSent,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, msgRepo.Create(ctx, msg))

	got, err := msgRepo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FileMetadata)
	assert.Equal(t, "report.pdf", got.FileMetadata.Name)
	assert.Equal(t, int64(2048), got.FileMetadata.Size)
	assert.Equal(t, "application/pdf", got.FileMetadata.MimeType)
	require.NotNil(t, got.MediaURL)
	assert.Equal(t, mediaURL, *got.MediaURL)
}

func TestUserRepo(t *testing.T) {
	db := testDB(t)
	repo := sqlite.NewUserRepo(db, 0)
	ctx := context.Background()

	email := "alice@example.com"
	user := &domain.User{ID: "u1", Username: "alice", Email: &email, HashedPassword: "x"}
	require.NoError(t, repo.Create(ctx, user))
	assert.Equal(t, domain.UserOffline, user.Status)

	t.Run("DuplicateUsername", func(t *testing.T) {
		dup := &domain.User{ID: "u2", Username: "alice", HashedPassword: "x"}
		assert.ErrorIs(t, repo.Create(ctx, dup), domain.ErrConflict)
	})

	t.Run("GetByUsername", func(t *testing.T) {
		got, err := repo.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "u1", got.ID)

		missing, err := repo.GetByUsername(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("SetPresence", func(t *testing.T) {
		lastSeen := time.Now().UTC()
		require.NoError(t, repo.SetPresence(ctx, "u1", domain.UserOnline, lastSeen))

		online, err := repo.ListOnline(ctx)
		require.NoError(t, err)
		require.Len(t, online, 1)
		assert.Equal(t, "u1", online[0].ID)

		require.NoError(t, repo.SetPresence(ctx, "u1", domain.UserOffline, lastSeen))
		online, err = repo.ListOnline(ctx)
		require.NoError(t, err)
		assert.Empty(t, online)
	})
}

func TestExpiredContextIsUnavailable(t *testing.T) {
	db := testDB(t)
	repo := sqlite.NewUserRepo(db, time.Second)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := repo.GetByUsername(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}
