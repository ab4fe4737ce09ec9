package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names
const (
	RafflesCollection          = "raffles"
	TicketsCollection          = "tickets"
	RaffleEntriesCollection    = "raffle_entries"
	UsersCollection            = "users"
	CoinTransactionsCollection = "coin_transactions"
	SystemSettingsCollection   = "system_settings"
)

// EnsureIndexes creates the indexes the repositories rely on for uniqueness
// and for the conditional upserts in RaffleEntryRepository.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		RafflesCollection: {
			{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "drawDate", Value: 1}}},
		},
		TicketsCollection: {
			{Keys: bson.D{{Key: "raffleId", Value: 1}, {Key: "ticketNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "raffleId", Value: 1}, {Key: "buyerId", Value: 1}}},
			{Keys: bson.D{{Key: "buyerId", Value: 1}, {Key: "purchasedAt", Value: -1}}},
			{Keys: bson.D{{Key: "raffleId", Value: 1}, {Key: "purchaseId", Value: 1}}},
		},
		RaffleEntriesCollection: {
			{Keys: bson.D{{Key: "raffleId", Value: 1}, {Key: "buyerId", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		UsersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		CoinTransactionsCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
	}

	for collection, models := range indexes {
		if _, err := db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
		}
	}
	return nil
}
