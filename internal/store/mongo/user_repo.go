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

type UserRepo struct {
	coll      *mongo.Collection
	opTimeout time.Duration
}

func NewUserRepo(db *mongo.Database, opTimeout time.Duration) *UserRepo {
	return &UserRepo{coll: db.Collection(userCollection), opTimeout: opTimeout}
}

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	now := time.Now().UTC()
	u.IsActive = true
	u.Status = domain.UserOffline
	u.CreatedAt = now
	u.LastSeen = now
	if _, err := r.coll.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert user: %w", domain.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", storeErr(err))
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepo) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	return r.find(ctx, bson.M{"is_active": true}, opts)
}

func (r *UserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_seen", Value: -1}})
	return r.find(ctx, bson.M{"is_active": true, "status": domain.UserOnline}, opts)
}

func (r *UserRepo) SetPresence(ctx context.Context, id string, status domain.UserStatus, lastSeen time.Time) error {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	update := bson.M{"$set": bson.M{"status": status, "last_seen": lastSeen}}
	if _, err := r.coll.UpdateByID(ctx, id, update); err != nil {
		return fmt.Errorf("set presence: %w", storeErr(err))
	}
	return nil
}

func (r *UserRepo) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	u := &domain.User{}
	err := r.coll.FindOne(ctx, filter).Decode(u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", storeErr(err))
	}
	return u, nil
}

func (r *UserRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.User, error) {
	ctx, cancel := opCtx(ctx, r.opTimeout)
	defer cancel()

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", storeErr(err))
	}
	defer cursor.Close(ctx)

	var res []*domain.User
	if err := cursor.All(ctx, &res); err != nil {
		return nil, fmt.Errorf("decode users: %w", storeErr(err))
	}
	return res, nil
}
