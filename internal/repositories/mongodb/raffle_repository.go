package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/repositories"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Compile-time check to ensure RaffleRepository implements the interface
var _ repositories.RaffleRepository = (*RaffleRepository)(nil)

// RaffleRepository handles MongoDB operations for Raffle
type RaffleRepository struct {
	collection *mongo.Collection
}

// NewRaffleRepository creates a new RaffleRepository
func NewRaffleRepository(db *mongo.Database) *RaffleRepository {
	return &RaffleRepository{
		collection: db.Collection(RafflesCollection),
	}
}

// Create inserts a new raffle
func (r *RaffleRepository) Create(ctx context.Context, raffle *models.Raffle) error {
	if raffle.ID.IsZero() {
		raffle.ID = primitive.NewObjectID()
	}
	now := time.Now()
	raffle.CreatedAt = now
	raffle.UpdatedAt = now
	if raffle.Images == nil {
		raffle.Images = []string{}
	}
	_, err := r.collection.InsertOne(ctx, raffle)
	if mongo.IsDuplicateKeyError(err) {
		return repositories.ErrDuplicate
	}
	return err
}

// FindByID finds a raffle by ID
func (r *RaffleRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Raffle, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindBySlug finds a raffle by its slug
func (r *RaffleRepository) FindBySlug(ctx context.Context, slug string) (*models.Raffle, error) {
	return r.findOne(ctx, bson.M{"slug": slug})
}

func (r *RaffleRepository) findOne(ctx context.Context, filter bson.M) (*models.Raffle, error) {
	var raffle models.Raffle
	err := r.collection.FindOne(ctx, filter).Decode(&raffle)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return &raffle, nil
}

// FindAll lists raffles matching the filter, soonest draw first
func (r *RaffleRepository) FindAll(ctx context.Context, filter models.RaffleFilter) ([]*models.Raffle, error) {
	query := bson.M{}
	if len(filter.Statuses) > 0 {
		query["status"] = bson.M{"$in": filter.Statuses}
	}
	if filter.TeamTag != "" {
		query["teamTag"] = filter.TeamTag
	}

	opts := options.Find().SetSort(bson.D{{Key: "drawDate", Value: 1}})
	if filter.Limit > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		opts.SetSkip(int64((page - 1) * filter.Limit)).SetLimit(int64(filter.Limit))
	}
	return r.find(ctx, query, opts)
}

// FindDueForDraw returns active raffles whose draw date has arrived
func (r *RaffleRepository) FindDueForDraw(ctx context.Context, now time.Time) ([]*models.Raffle, error) {
	filter := bson.M{
		"status":   models.RaffleStatusActive,
		"drawDate": bson.M{"$lte": now},
	}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "drawDate", Value: 1}}))
}

// FindDueForOpening returns draft raffles whose scheduled opening has arrived
func (r *RaffleRepository) FindDueForOpening(ctx context.Context, now time.Time) ([]*models.Raffle, error) {
	filter := bson.M{
		"status":  models.RaffleStatusDraft,
		"opensAt": bson.M{"$ne": nil, "$lte": now},
	}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "opensAt", Value: 1}}))
}

func (r *RaffleRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Raffle, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to execute find query: %w", err)
	}
	defer cursor.Close(ctx)

	var raffles []*models.Raffle
	if err := cursor.All(ctx, &raffles); err != nil {
		return nil, fmt.Errorf("failed to decode raffles: %w", err)
	}
	if raffles == nil {
		raffles = []*models.Raffle{}
	}
	return raffles, nil
}

// Update applies administrator changes while the raffle is in one of the given statuses
func (r *RaffleRepository) Update(ctx context.Context, id primitive.ObjectID, from []models.RaffleStatus, changes models.RaffleChanges) (*models.Raffle, error) {
	set := bson.M{"updatedAt": time.Now()}
	unset := bson.M{}
	if changes.Title != nil {
		set["title"] = *changes.Title
	}
	if changes.Slug != nil {
		set["slug"] = *changes.Slug
	}
	if changes.Description != nil {
		set["description"] = *changes.Description
	}
	if changes.Images != nil {
		set["images"] = changes.Images
	}
	if changes.TeamTag != nil {
		set["teamTag"] = *changes.TeamTag
	}
	if changes.EstimatedValue != nil {
		set["estimatedValue"] = *changes.EstimatedValue
	}
	if changes.TicketPrice != nil {
		set["ticketPrice"] = *changes.TicketPrice
	}
	if changes.ClearMaxTickets {
		unset["maxTicketsPerUser"] = ""
	} else if changes.MaxTicketsPerUser != nil {
		set["maxTicketsPerUser"] = *changes.MaxTicketsPerUser
	}
	if changes.OpensAt != nil {
		set["opensAt"] = *changes.OpensAt
	}
	if changes.DrawDate != nil {
		set["drawDate"] = *changes.DrawDate
	}
	if changes.Status != nil {
		set["status"] = *changes.Status
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return r.conditionalUpdate(ctx, bson.M{"_id": id, "status": bson.M{"$in": from}}, update)
}

// AddImage appends an image URL to the raffle
func (r *RaffleRepository) AddImage(ctx context.Context, id primitive.ObjectID, from []models.RaffleStatus, url string) (*models.Raffle, error) {
	update := bson.M{
		"$push": bson.M{"images": url},
		"$set":  bson.M{"updatedAt": time.Now()},
	}
	return r.conditionalUpdate(ctx, bson.M{"_id": id, "status": bson.M{"$in": from}}, update)
}

// Transition moves the raffle to a new status if it is still in one of t.From
func (r *RaffleRepository) Transition(ctx context.Context, id primitive.ObjectID, t models.RaffleTransition) (*models.Raffle, error) {
	filter := bson.M{"_id": id, "status": bson.M{"$in": t.From}}
	if t.ExpectedSold != nil {
		filter["totalTicketsSold"] = *t.ExpectedSold
	}

	set := bson.M{"status": t.To, "updatedAt": t.At}
	if t.To.IsTerminal() {
		set["completedAt"] = t.At
	}
	if t.CancelReason != "" {
		set["cancelReason"] = t.CancelReason
	}
	if t.Winner != nil {
		set["winnerId"] = t.Winner.BuyerID
		set["winnerUsername"] = t.Winner.Username
		set["winnerTicketId"] = t.Winner.TicketID
		set["winnerTicketNumber"] = t.Winner.TicketNumber
	}
	return r.conditionalUpdate(ctx, filter, bson.M{"$set": set})
}

// AllocateTickets bumps the ticket sequence and sold counter in one atomic update
func (r *RaffleRepository) AllocateTickets(ctx context.Context, id primitive.ObjectID, quantity int64, now time.Time) (*models.Raffle, error) {
	if quantity <= 0 {
		return nil, errors.New("quantity to allocate must be positive")
	}
	filter := bson.M{
		"_id":      id,
		"status":   models.RaffleStatusActive,
		"drawDate": bson.M{"$gt": now},
	}
	update := bson.M{
		"$inc": bson.M{"ticketSequence": quantity, "totalTicketsSold": quantity},
		"$set": bson.M{"updatedAt": now},
	}
	return r.conditionalUpdate(ctx, filter, update)
}

// ReleaseTickets decrements the sold counter after a failed ticket insert
func (r *RaffleRepository) ReleaseTickets(ctx context.Context, id primitive.ObjectID, quantity int64) error {
	filter := bson.M{"_id": id, "totalTicketsSold": bson.M{"$gte": quantity}}
	update := bson.M{
		"$inc": bson.M{"totalTicketsSold": -quantity},
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

// Delete removes a raffle without sold tickets
func (r *RaffleRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	filter := bson.M{
		"_id":              id,
		"totalTicketsSold": 0,
		"status":           bson.M{"$ne": models.RaffleStatusCompleted},
	}
	result, err := r.collection.DeleteOne(ctx, filter)
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return repositories.ErrConflict
	}
	return nil
}

// RecordRefundFailures appends failed credits to a raffle for manual follow-up
func (r *RaffleRepository) RecordRefundFailures(ctx context.Context, id primitive.ObjectID, failures []models.RefundFailure) error {
	if len(failures) == 0 {
		return nil
	}
	update := bson.M{
		"$push": bson.M{"refundFailures": bson.M{"$each": failures}},
		"$set":  bson.M{"updatedAt": time.Now()},
	}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *RaffleRepository) conditionalUpdate(ctx context.Context, filter, update bson.M) (*models.Raffle, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var raffle models.Raffle
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&raffle)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrConflict
		}
		if mongo.IsDuplicateKeyError(err) {
			return nil, repositories.ErrDuplicate
		}
		return nil, err
	}
	return &raffle, nil
}
