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

const (
	userCollection         = "users"
	conversationCollection = "conversations"
	messageCollection      = "messages"
)

const defaultOpTimeout = 5 * time.Second

// NewDB connects to MongoDB and returns a handle to the named database.
func NewDB(ctx context.Context, uri, name string) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return client.Database(name), nil
}

// EnsureIndexes creates the indexes the repositories rely on. The unique
// compound index on the canonical participant pair is the constraint that
// makes concurrent conversation creation safe: the second creator gets a
// duplicate-key error and retries as a lookup.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(conversationCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "participant_a", Value: 1}, {Key: "participant_b", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "last_message_time", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("conversation indexes: %w", err)
	}

	_, err = db.Collection(messageCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}

	_, err = db.Collection(userCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("user indexes: %w", err)
	}

	return nil
}

// storeErr maps driver-level unavailability, timeouts, server selection
// failures and a disconnected client, to domain.ErrUnavailable so callers
// can tell retryable failures from persistent ones.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, mongo.ErrClientDisconnected) ||
		mongo.IsTimeout(err) {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return err
}

// opCtx derives the bounded-timeout context used for every store call.
func opCtx(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultOpTimeout
	}
	return context.WithTimeout(ctx, d)
}
