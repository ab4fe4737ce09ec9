package mongodb

import (
	"context"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/repositories"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Compile-time check to ensure CoinTransactionRepository implements the interface
var _ repositories.CoinTransactionRepository = (*CoinTransactionRepository)(nil)

// CoinTransactionRepository handles MongoDB operations for CoinTransaction
type CoinTransactionRepository struct {
	collection *mongo.Collection
}

// NewCoinTransactionRepository creates a new CoinTransactionRepository
func NewCoinTransactionRepository(db *mongo.Database) *CoinTransactionRepository {
	return &CoinTransactionRepository{
		collection: db.Collection(CoinTransactionsCollection),
	}
}

// Create inserts a new coin transaction record
func (r *CoinTransactionRepository) Create(ctx context.Context, transaction *models.CoinTransaction) error {
	transaction.ID = primitive.NewObjectID()
	_, err := r.collection.InsertOne(ctx, transaction)
	return err
}

// FindByUserID returns the most recent transactions of a user
func (r *CoinTransactionRepository) FindByUserID(ctx context.Context, userID primitive.ObjectID, limit int) ([]*models.CoinTransaction, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		findOptions.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"userId": userID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var transactions []*models.CoinTransaction
	if err = cursor.All(ctx, &transactions); err != nil {
		return nil, err
	}

	// Return empty slice instead of nil if no documents found
	if transactions == nil {
		transactions = []*models.CoinTransaction{}
	}
	return transactions, nil
}
