package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/repositories"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ repositories.RaffleEntryRepository = (*RaffleEntryRepository)(nil)

// RaffleEntryRepository stores the per-buyer ticket tally of each raffle.
// The {raffleId, buyerId} unique index turns a capped upsert that does not
// match into a duplicate key error, which is how an exceeded cap surfaces.
type RaffleEntryRepository struct {
	collection *mongo.Collection
}

// NewRaffleEntryRepository creates a new RaffleEntryRepository
func NewRaffleEntryRepository(db *mongo.Database) *RaffleEntryRepository {
	return &RaffleEntryRepository{
		collection: db.Collection(RaffleEntriesCollection),
	}
}

// Reserve atomically adds quantity to the buyer's tally within limit
func (r *RaffleEntryRepository) Reserve(ctx context.Context, raffleID, buyerID primitive.ObjectID, quantity, limit int64) (int64, error) {
	if limit > 0 && quantity > limit {
		return 0, repositories.ErrLimitExceeded
	}
	filter := bson.M{"raffleId": raffleID, "buyerId": buyerID}
	if limit > 0 {
		filter["ticketCount"] = bson.M{"$lte": limit - quantity}
	}
	update := bson.M{
		"$inc": bson.M{"ticketCount": quantity},
		"$set": bson.M{"updatedAt": time.Now()},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	// A duplicate key also happens when two first purchases race on the upsert,
	// so re-read the tally before reporting the cap as exceeded.
	for attempt := 0; attempt < 3; attempt++ {
		var entry models.RaffleEntry
		err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&entry)
		if err == nil {
			return entry.TicketCount, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return 0, err
		}
		current, err := r.Count(ctx, raffleID, buyerID)
		if err != nil {
			return 0, err
		}
		if limit > 0 && current+quantity > limit {
			return 0, repositories.ErrLimitExceeded
		}
	}
	return 0, repositories.ErrConflict
}

// Release gives back a reservation after a failed purchase
func (r *RaffleEntryRepository) Release(ctx context.Context, raffleID, buyerID primitive.ObjectID, quantity int64) error {
	filter := bson.M{"raffleId": raffleID, "buyerId": buyerID, "ticketCount": bson.M{"$gte": quantity}}
	update := bson.M{
		"$inc": bson.M{"ticketCount": -quantity},
		"$set": bson.M{"updatedAt": time.Now()},
	}
	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repositories.ErrConflict
	}
	return nil
}

// Count returns the buyer's current tally, zero when the buyer has none
func (r *RaffleEntryRepository) Count(ctx context.Context, raffleID, buyerID primitive.ObjectID) (int64, error) {
	var entry models.RaffleEntry
	err := r.collection.FindOne(ctx, bson.M{"raffleId": raffleID, "buyerId": buyerID}).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, err
	}
	return entry.TicketCount, nil
}
