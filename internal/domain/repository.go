package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users. Lookup methods
// return (nil, nil) when no record exists.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListActive(ctx context.Context, offset, limit int) ([]*User, error)
	ListOnline(ctx context.Context) ([]*User, error)
	SetPresence(ctx context.Context, id string, status UserStatus, lastSeen time.Time) error
}

// ConversationRepository defines persistence operations for direct
// conversations. Create must fail with ErrConflict when a conversation for
// the same canonical participant pair already exists, so a racing creator
// can retry as a lookup.
type ConversationRepository interface {
	Create(ctx context.Context, c *Conversation) error
	GetByID(ctx context.Context, id string) (*Conversation, error)
	FindByParticipants(ctx context.Context, participantA, participantB string) (*Conversation, error)
	ListForUser(ctx context.Context, userID string, includeArchived bool) ([]*Conversation, error)
	SetMuted(ctx context.Context, conversationID, userID string, muted bool) error
	SetArchived(ctx context.Context, conversationID, userID string, archived bool) error
	RecordMessage(ctx context.Context, conversationID, messageID string, at time.Time) error
}

// MessageRepository defines persistence operations for messages.
//
// UpdateStatus performs the conditional forward-only transition: it reports
// true only when the stored status actually changed, so concurrent callers
// can never regress a message's delivery state. AddReaction and
// RemoveReaction are idempotent set operations keyed by (user, emoji).
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	ListForConversation(ctx context.Context, conversationID string, page, limit int) ([]*Message, error)
	UpdateStatus(ctx context.Context, id string, next MessageStatus, at time.Time) (bool, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error)
	AddReaction(ctx context.Context, messageID string, r Reaction) error
	RemoveReaction(ctx context.Context, messageID string, r Reaction) error
	SetDeleted(ctx context.Context, messageID string) error
	SetContent(ctx context.Context, messageID, content string, editedAt time.Time) error
	UnreadCount(ctx context.Context, userID string) (int64, error)
	UnreadCountInConversation(ctx context.Context, conversationID, userID string) (int64, error)
}

// Repositories bundles the three stores so the router can be wired with
// either backend.
type Repositories struct {
	Users         UserRepository
	Conversations ConversationRepository
	Messages      MessageRepository
}
