package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"dmserver/internal/domain"
)

type MessageRepo struct {
	coll      *mongo.Collection
	opTimeout time.Duration
}

func NewMessageRepo(db *mongo.Database, opTimeout time.Duration) *MessageRepo {
	return &MessageRepo{coll: db.Collection(messageCollection), opTimeout: opTimeout}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("insert message: %w", storeErr(err))
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	m := &domain.Message{}
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", storeErr(err))
	}
	return m, nil
}

func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID string, page, limit int) ([]*domain.Message, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	if page < 1 {
		page = 1
	}
	filter := bson.M{"conversation_id": conversationID, "is_deleted": false}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", storeErr(err))
	}
	defer cursor.Close(ctx)

	var res []*domain.Message
	if err := cursor.All(ctx, &res); err != nil {
		return nil, fmt.Errorf("decode messages: %w", storeErr(err))
	}
	return res, nil
}

// UpdateStatus applies the forward-only transition with a conditional
// filter: only documents whose current status precedes next are matched, so
// racing writers cannot move a message backwards.
func (r *MessageRepo) UpdateStatus(ctx context.Context, id string, next domain.MessageStatus, at time.Time) (bool, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	var filter, update bson.M
	switch next {
	case domain.StatusDelivered:
		filter = bson.M{"_id": id, "status": domain.StatusSent}
		update = bson.M{"$set": bson.M{"status": domain.StatusDelivered, "delivered_at": at}}
	case domain.StatusRead:
		filter = bson.M{"_id": id, "status": bson.M{"$in": bson.A{domain.StatusSent, domain.StatusDelivered}}}
		update = bson.M{"$set": bson.M{"status": domain.StatusRead, "read_at": at}}
	default:
		return false, fmt.Errorf("update status to %q: %w", next, domain.ErrValidation)
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("update status: %w", storeErr(err))
	}
	return res.ModifiedCount > 0, nil
}

func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	filter := bson.M{
		"conversation_id": conversationID,
		"receiver_id":     readerID,
		"status":          bson.M{"$ne": domain.StatusRead},
		"is_deleted":      false,
	}

	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find unread: %w", storeErr(err))
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode unread ids: %w", storeErr(err))
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}

	update := bson.M{"$set": bson.M{"status": domain.StatusRead, "read_at": at}}
	if _, err := r.coll.UpdateMany(ctx, bson.M{
		"_id":    bson.M{"$in": ids},
		"status": bson.M{"$ne": domain.StatusRead},
	}, update); err != nil {
		return nil, fmt.Errorf("mark read: %w", storeErr(err))
	}
	return ids, nil
}

func (r *MessageRepo) AddReaction(ctx context.Context, messageID string, reaction domain.Reaction) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	// $addToSet keeps at most one entry per (user, emoji) pair; a duplicate
	// reaction is a silent no-op.
	update := bson.M{"$addToSet": bson.M{"reactions": reaction}}
	if _, err := r.coll.UpdateByID(ctx, messageID, update); err != nil {
		return fmt.Errorf("add reaction: %w", storeErr(err))
	}
	return nil
}

func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID string, reaction domain.Reaction) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	update := bson.M{"$pull": bson.M{"reactions": reaction}}
	if _, err := r.coll.UpdateByID(ctx, messageID, update); err != nil {
		return fmt.Errorf("remove reaction: %w", storeErr(err))
	}
	return nil
}

func (r *MessageRepo) SetDeleted(ctx context.Context, messageID string) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	update := bson.M{"$set": bson.M{"is_deleted": true}}
	if _, err := r.coll.UpdateByID(ctx, messageID, update); err != nil {
		return fmt.Errorf("soft delete message: %w", storeErr(err))
	}
	return nil
}

func (r *MessageRepo) SetContent(ctx context.Context, messageID, content string, editedAt time.Time) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	update := bson.M{"$set": bson.M{"content": content, "is_edited": true, "edited_at": editedAt}}
	if _, err := r.coll.UpdateByID(ctx, messageID, update); err != nil {
		return fmt.Errorf("edit message: %w", storeErr(err))
	}
	return nil
}

func (r *MessageRepo) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	count, err := r.coll.CountDocuments(ctx, bson.M{
		"receiver_id": userID,
		"status":      bson.M{"$ne": domain.StatusRead},
		"is_deleted":  false,
	})
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", storeErr(err))
	}
	return count, nil
}

func (r *MessageRepo) UnreadCountInConversation(ctx context.Context, conversationID, userID string) (int64, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	count, err := r.coll.CountDocuments(ctx, bson.M{
		"conversation_id": conversationID,
		"receiver_id":     userID,
		"status":          bson.M{"$ne": domain.StatusRead},
		"is_deleted":      false,
	})
	if err != nil {
		return 0, fmt.Errorf("count unread in conversation: %w", storeErr(err))
	}
	return count, nil
}
