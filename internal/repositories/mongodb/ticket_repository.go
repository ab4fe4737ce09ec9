package mongodb

import (
	"context"
	"fmt"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/repositories"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Compile-time check to ensure TicketRepository implements the interface
var _ repositories.TicketRepository = (*TicketRepository)(nil)

// TicketRepository handles MongoDB operations for Ticket
type TicketRepository struct {
	collection *mongo.Collection
}

// NewTicketRepository creates a new TicketRepository
func NewTicketRepository(db *mongo.Database) *TicketRepository {
	return &TicketRepository{
		collection: db.Collection(TicketsCollection),
	}
}

// InsertMany inserts a purchase batch in one ordered write
func (r *TicketRepository) InsertMany(ctx context.Context, tickets []*models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(tickets))
	for _, t := range tickets {
		if t.ID.IsZero() {
			t.ID = primitive.NewObjectID()
		}
		docs = append(docs, t)
	}
	_, err := r.collection.InsertMany(ctx, docs)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", repositories.ErrDuplicate, err)
	}
	return err
}

// DeleteByPurchase removes the tickets of one purchase. An ordered InsertMany
// that fails midway leaves its leading documents behind.
func (r *TicketRepository) DeleteByPurchase(ctx context.Context, raffleID primitive.ObjectID, purchaseID string) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"raffleId": raffleID, "purchaseId": purchaseID})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// FindByRaffle returns every ticket of a raffle ordered by ticket number
func (r *TicketRepository) FindByRaffle(ctx context.Context, raffleID primitive.ObjectID) ([]*models.Ticket, error) {
	return r.find(ctx, bson.M{"raffleId": raffleID}, options.Find().SetSort(bson.D{{Key: "ticketNumber", Value: 1}}))
}

// FindByRaffleAndBuyer returns one buyer's tickets in a raffle
func (r *TicketRepository) FindByRaffleAndBuyer(ctx context.Context, raffleID, buyerID primitive.ObjectID) ([]*models.Ticket, error) {
	filter := bson.M{"raffleId": raffleID, "buyerId": buyerID}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "ticketNumber", Value: 1}}))
}

// FindByBuyer returns a buyer's tickets across all raffles, newest first
func (r *TicketRepository) FindByBuyer(ctx context.Context, buyerID primitive.ObjectID, page, limit int) ([]*models.Ticket, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "purchasedAt", Value: -1}, {Key: "ticketNumber", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	return r.find(ctx, bson.M{"buyerId": buyerID}, opts)
}

// CountByRaffle counts the ticket records of a raffle
func (r *TicketRepository) CountByRaffle(ctx context.Context, raffleID primitive.ObjectID) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"raffleId": raffleID})
}

// MarkWinner flags the winning ticket
func (r *TicketRepository) MarkWinner(ctx context.Context, ticketID primitive.ObjectID) error {
	filter := bson.M{"_id": ticketID, "isWinner": false}
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"isWinner": true}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repositories.ErrConflict
	}
	return nil
}

// SummarizeByBuyer groups a raffle's tickets per buyer, summing what each paid
func (r *TicketRepository) SummarizeByBuyer(ctx context.Context, raffleID primitive.ObjectID) ([]*models.BuyerTicketSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"raffleId": raffleID}}},
		{{Key: "$group", Value: bson.M{
			"_id":         "$buyerId",
			"username":    bson.M{"$first": "$buyerUsername"},
			"ticketCount": bson.M{"$sum": 1},
			"amountPaid":  bson.M{"$sum": "$amountPaid"},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate tickets: %w", err)
	}
	defer cursor.Close(ctx)

	var summaries []*models.BuyerTicketSummary
	if err := cursor.All(ctx, &summaries); err != nil {
		return nil, fmt.Errorf("failed to decode ticket summaries: %w", err)
	}
	if summaries == nil {
		summaries = []*models.BuyerTicketSummary{}
	}
	return summaries, nil
}

func (r *TicketRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Ticket, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var tickets []*models.Ticket
	if err := cursor.All(ctx, &tickets); err != nil {
		return nil, err
	}
	if tickets == nil {
		tickets = []*models.Ticket{}
	}
	return tickets, nil
}
