package domain

import (
	"strings"
	"time"
)

// UserStatus is the presence status stored on a user record.
type UserStatus string

const (
	UserOnline  UserStatus = "online"
	UserOffline UserStatus = "offline"
)

// User represents an application user. The messaging core only reads and
// writes Status and LastSeen; everything else belongs to the auth layer.
type User struct {
	ID             string     `bson:"_id" json:"id"`
	Username       string     `bson:"username" json:"username"`
	Email          *string    `bson:"email,omitempty" json:"email,omitempty"`
	HashedPassword string     `bson:"hashed_password" json:"-"`
	IsActive       bool       `bson:"is_active" json:"is_active"`
	Status         UserStatus `bson:"status" json:"status"`
	CreatedAt      time.Time  `bson:"created_at" json:"created_at"`
	LastSeen       time.Time  `bson:"last_seen" json:"last_seen"`
}

// MessageType enumerates the supported message payload kinds.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeEmoji MessageType = "emoji"
	TypeFile  MessageType = "file"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeEmoji, TypeFile:
		return true
	}
	return false
}

// MaxContentLength is the maximum message content length in runes.
const MaxContentLength = 5000

// Conversation is a direct conversation between exactly two users.
// ParticipantA and ParticipantB are stored in canonical order (A < B
// lexicographically) so a unique index on the pair guarantees at most one
// conversation per unordered pair.
type Conversation struct {
	ID              string     `bson:"_id" json:"id"`
	ParticipantA    string     `bson:"participant_a" json:"participant_a"`
	ParticipantB    string     `bson:"participant_b" json:"participant_b"`
	LastMessageID   *string    `bson:"last_message_id,omitempty" json:"last_message_id,omitempty"`
	LastMessageTime *time.Time `bson:"last_message_time,omitempty" json:"last_message_time,omitempty"`
	MutedBy         []string   `bson:"muted_by,omitempty" json:"muted_by,omitempty"`
	ArchivedBy      []string   `bson:"archived_by,omitempty" json:"archived_by,omitempty"`
	MessageCount    int64      `bson:"message_count" json:"message_count"`
	CreatedAt       time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at" json:"updated_at"`
}

// CanonicalPair returns the two user ids in canonical (lexicographic) order.
func CanonicalPair(a, b string) (string, string) {
	if strings.Compare(a, b) > 0 {
		return b, a
	}
	return a, b
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// OtherParticipant returns the participant that is not userID, or the empty
// string when userID is not a participant at all.
func (c *Conversation) OtherParticipant(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}

// IsMutedBy reports whether userID has muted the conversation.
func (c *Conversation) IsMutedBy(userID string) bool {
	return containsID(c.MutedBy, userID)
}

// IsArchivedBy reports whether userID has archived the conversation.
func (c *Conversation) IsArchivedBy(userID string) bool {
	return containsID(c.ArchivedBy, userID)
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Reaction is a single emoji reaction on a message. A message holds at most
// one reaction per (UserID, Emoji) pair.
type Reaction struct {
	UserID string `bson:"user_id" json:"user_id"`
	Emoji  string `bson:"emoji" json:"emoji"`
}

// FileMetadata describes an uploaded file attached to a message.
type FileMetadata struct {
	Name     string `bson:"name" json:"name"`
	Size     int64  `bson:"size" json:"size"`
	MimeType string `bson:"mime_type" json:"mime_type"`
}

// Message is a single chat message. Status, DeliveredAt, ReadAt and
// Reactions are mutated only through the message service; deletion is a
// flag, not a status transition.
type Message struct {
	ID             string        `bson:"_id" json:"id"`
	ConversationID string        `bson:"conversation_id" json:"conversation_id"`
	SenderID       string        `bson:"sender_id" json:"sender_id"`
	ReceiverID     string        `bson:"receiver_id" json:"receiver_id"`
	Content        string        `bson:"content" json:"content"`
	Type           MessageType   `bson:"type" json:"type"`
	MediaURL       *string       `bson:"media_url,omitempty" json:"media_url,omitempty"`
	FileMetadata   *FileMetadata `bson:"file_metadata,omitempty" json:"file_metadata,omitempty"`
	Status         MessageStatus `bson:"status" json:"status"`
	CreatedAt      time.Time     `bson:"created_at" json:"created_at"`
	DeliveredAt    *time.Time    `bson:"delivered_at,omitempty" json:"delivered_at,omitempty"`
	ReadAt         *time.Time    `bson:"read_at,omitempty" json:"read_at,omitempty"`
	IsDeleted      bool          `bson:"is_deleted" json:"is_deleted"`
	IsEdited       bool          `bson:"is_edited" json:"is_edited"`
	EditedAt       *time.Time    `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	ReplyTo        *string       `bson:"reply_to,omitempty" json:"reply_to,omitempty"`
	Reactions      []Reaction    `bson:"reactions,omitempty" json:"reactions,omitempty"`
}

// IsRead is a computed accessor over the stored status.
func (m *Message) IsRead() bool {
	return m.Status == StatusRead
}

// HasReaction reports whether the exact (userID, emoji) pair is present.
func (m *Message) HasReaction(userID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}
