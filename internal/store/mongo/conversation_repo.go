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

type ConversationRepo struct {
	coll      *mongo.Collection
	opTimeout time.Duration
}

func NewConversationRepo(db *mongo.Database, opTimeout time.Duration) *ConversationRepo {
	return &ConversationRepo{coll: db.Collection(conversationCollection), opTimeout: opTimeout}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

func (r *ConversationRepo) Create(ctx context.Context, c *domain.Conversation) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if _, err := r.coll.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert conversation: %w", domain.ErrConflict)
		}
		return fmt.Errorf("insert conversation: %w", storeErr(err))
	}
	return nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *ConversationRepo) FindByParticipants(ctx context.Context, participantA, participantB string) (*domain.Conversation, error) {
	return r.findOne(ctx, bson.M{"participant_a": participantA, "participant_b": participantB})
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID string, includeArchived bool) ([]*domain.Conversation, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	filter := bson.M{
		"$or": bson.A{
			bson.M{"participant_a": userID},
			bson.M{"participant_b": userID},
		},
	}
	if !includeArchived {
		filter["archived_by"] = bson.M{"$ne": userID}
	}

	opts := options.Find().SetSort(bson.D{{Key: "last_message_time", Value: -1}, {Key: "created_at", Value: -1}})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", storeErr(err))
	}
	defer cursor.Close(ctx)

	var res []*domain.Conversation
	if err := cursor.All(ctx, &res); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", storeErr(err))
	}
	return res, nil
}

func (r *ConversationRepo) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	return r.setMembership(ctx, conversationID, userID, "muted_by", muted)
}

func (r *ConversationRepo) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	return r.setMembership(ctx, conversationID, userID, "archived_by", archived)
}

// setMembership flips set membership with $addToSet/$pull, both idempotent.
func (r *ConversationRepo) setMembership(ctx context.Context, conversationID, userID, field string, member bool) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	var update bson.M
	if member {
		update = bson.M{"$addToSet": bson.M{field: userID}}
	} else {
		update = bson.M{"$pull": bson.M{field: userID}}
	}
	if _, err := r.coll.UpdateByID(ctx, conversationID, update); err != nil {
		return fmt.Errorf("update %s: %w", field, storeErr(err))
	}
	return nil
}

func (r *ConversationRepo) RecordMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"last_message_id":   messageID,
			"last_message_time": at,
			"updated_at":        at,
		},
		"$inc": bson.M{"message_count": 1},
	}
	if _, err := r.coll.UpdateByID(ctx, conversationID, update); err != nil {
		return fmt.Errorf("record message: %w", storeErr(err))
	}
	return nil
}

func (r *ConversationRepo) findOne(ctx context.Context, filter bson.M) (*domain.Conversation, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	c := &domain.Conversation{}
	err := r.coll.FindOne(ctx, filter).Decode(c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", storeErr(err))
	}
	return c, nil
}
