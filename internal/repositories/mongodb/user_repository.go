package mongodb

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/repositories"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Compile-time check to ensure UserRepository implements the interface
var _ repositories.UserRepository = (*UserRepository)(nil)

// UserRepository handles MongoDB operations for User
type UserRepository struct {
	collection *mongo.Collection
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{
		collection: db.Collection(UsersCollection),
	}
}

// Create inserts a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	user.ID = primitive.NewObjectID()
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	_, err := r.collection.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return repositories.ErrDuplicate
	}
	return err
}

// FindByID finds a user by ID
func (r *UserRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByEmail finds a user by email
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": strings.ToLower(email)})
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Debit atomically decrements the balance if it covers the amount
func (r *UserRepository) Debit(ctx context.Context, id primitive.ObjectID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("amount to debit must be positive")
	}
	filter := bson.M{"_id": id, "coins": bson.M{"$gte": amount}}
	user, err := r.incrementCoins(ctx, filter, -amount)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Tell a missing user apart from a short balance
		if _, findErr := r.FindByID(ctx, id); findErr != nil {
			return 0, findErr
		}
		return 0, repositories.ErrInsufficientBalance
	}
	if err != nil {
		return 0, err
	}
	return user.Coins, nil
}

// Credit atomically increments the balance
func (r *UserRepository) Credit(ctx context.Context, id primitive.ObjectID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("amount to credit must be positive")
	}
	user, err := r.incrementCoins(ctx, bson.M{"_id": id}, amount)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, repositories.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return user.Coins, nil
}

func (r *UserRepository) incrementCoins(ctx context.Context, filter bson.M, delta int64) (*models.User, error) {
	update := bson.M{
		"$inc": bson.M{"coins": delta},
		"$set": bson.M{"updatedAt": time.Now()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var user models.User
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user); err != nil {
		return nil, err
	}
	return &user, nil
}
