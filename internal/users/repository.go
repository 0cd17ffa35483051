package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/socialmap/socialmap/backend/go-services/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// Changes lists the profile fields that may be mutated outside the password path.
// Nil fields are left untouched.
type Changes struct {
	Name        *string
	Email       *string
	Avatar      *string
	FederatedID *string
}

func (c Changes) empty() bool {
	return c.Name == nil && c.Email == nil && c.Avatar == nil && c.FederatedID == nil
}

// UserRepository defines persistence operations for users.
// Finders return (nil, nil) when no record matches.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	FindByEmail(ctx context.Context, email string, withHash bool) (*models.User, error)
	FindByEmailAndFederatedID(ctx context.Context, email, federatedID string) (*models.User, error)
	FindByID(ctx context.Context, id string, withHash bool) (*models.User, error)
	Update(ctx context.Context, id string, c Changes) (*models.User, error)
	UpdatePassword(ctx context.Context, id, hash string) error
}

// MongoUserRepository implements UserRepository using MongoDB
type MongoUserRepository struct {
	col *mongo.Collection
}

// NewMongoUserRepository creates a new repository for the given collection
func NewMongoUserRepository(col *mongo.Collection) *MongoUserRepository {
	return &MongoUserRepository{col: col}
}

// EnsureIndexes creates the unique email index that guards concurrent registrations.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_email"),
	}
	if _, err := r.col.Indexes().CreateOne(ctx, idx); err != nil {
		return fmt.Errorf("create email index: %w", err)
	}
	return nil
}

func hashProjection(withHash bool) bson.M {
	if withHash {
		return nil
	}
	return bson.M{"passwordHash": 0}
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M, withHash bool) (*models.User, error) {
	opts := options.FindOne()
	if p := hashProjection(withHash); p != nil {
		opts.SetProjection(p)
	}
	var u models.User
	if err := r.col.FindOne(ctx, filter, opts).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *MongoUserRepository) Create(ctx context.Context, u *models.User) error {
	if _, err := r.col.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (r *MongoUserRepository) FindByEmail(ctx context.Context, email string, withHash bool) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": email}, withHash)
}

func (r *MongoUserRepository) FindByEmailAndFederatedID(ctx context.Context, email, federatedID string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": email, "federatedId": federatedID}, false)
}

func (r *MongoUserRepository) FindByID(ctx context.Context, id string, withHash bool) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id}, withHash)
}

func (r *MongoUserRepository) Update(ctx context.Context, id string, c Changes) (*models.User, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if c.Name != nil {
		set["name"] = *c.Name
	}
	if c.Email != nil {
		set["email"] = *c.Email
	}
	if c.Avatar != nil {
		set["avatar"] = *c.Avatar
	}
	if c.FederatedID != nil {
		set["federatedId"] = *c.FederatedID
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(hashProjection(false))
	var updated models.User
	if err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&updated); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return &updated, nil
}

func (r *MongoUserRepository) UpdatePassword(ctx context.Context, id, hash string) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"passwordHash": hash,
		"updatedAt":    time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
