package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/diehardfans/raffle-api/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Sentinel errors returned by every repository implementation
var (
	ErrNotFound            = errors.New("document not found")
	ErrConflict            = errors.New("document did not match the expected state")
	ErrDuplicate           = errors.New("duplicate key")
	ErrLimitExceeded       = errors.New("per-buyer ticket limit exceeded")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// RaffleRepository defines the interface for raffle data operations
type RaffleRepository interface {
	Create(ctx context.Context, raffle *models.Raffle) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Raffle, error)
	FindBySlug(ctx context.Context, slug string) (*models.Raffle, error)
	FindAll(ctx context.Context, filter models.RaffleFilter) ([]*models.Raffle, error)
	// FindDueForDraw returns active raffles whose draw date is at or before now
	FindDueForDraw(ctx context.Context, now time.Time) ([]*models.Raffle, error)
	// FindDueForOpening returns draft raffles whose opensAt is at or before now
	FindDueForOpening(ctx context.Context, now time.Time) ([]*models.Raffle, error)
	// Update applies changes only while the raffle status is one of from. ErrConflict otherwise.
	Update(ctx context.Context, id primitive.ObjectID, from []models.RaffleStatus, changes models.RaffleChanges) (*models.Raffle, error)
	// AddImage appends an image URL while the raffle status is one of from.
	AddImage(ctx context.Context, id primitive.ObjectID, from []models.RaffleStatus, url string) (*models.Raffle, error)
	// Transition performs a conditional status change. ErrConflict if the condition did not hold.
	Transition(ctx context.Context, id primitive.ObjectID, t models.RaffleTransition) (*models.Raffle, error)
	// AllocateTickets atomically reserves quantity consecutive ticket numbers and bumps
	// totalTicketsSold, provided the raffle is active and its draw date is after now.
	// It returns the raffle after the increment; the new numbers end at TicketSequence.
	AllocateTickets(ctx context.Context, id primitive.ObjectID, quantity int64, now time.Time) (*models.Raffle, error)
	// ReleaseTickets reverses the totalTicketsSold part of a failed allocation.
	ReleaseTickets(ctx context.Context, id primitive.ObjectID, quantity int64) error
	// Delete removes a raffle that has sold no tickets and is not completed. ErrConflict otherwise.
	Delete(ctx context.Context, id primitive.ObjectID) error
	// RecordRefundFailures stores the credits a cancellation could not issue.
	RecordRefundFailures(ctx context.Context, id primitive.ObjectID, failures []models.RefundFailure) error
}

// TicketRepository defines the interface for ticket data operations
type TicketRepository interface {
	InsertMany(ctx context.Context, tickets []*models.Ticket) error
	// DeleteByPurchase removes whatever part of a purchase batch was written.
	// It returns the number of tickets removed.
	DeleteByPurchase(ctx context.Context, raffleID primitive.ObjectID, purchaseID string) (int64, error)
	FindByRaffle(ctx context.Context, raffleID primitive.ObjectID) ([]*models.Ticket, error)
	FindByRaffleAndBuyer(ctx context.Context, raffleID, buyerID primitive.ObjectID) ([]*models.Ticket, error)
	FindByBuyer(ctx context.Context, buyerID primitive.ObjectID, page, limit int) ([]*models.Ticket, error)
	CountByRaffle(ctx context.Context, raffleID primitive.ObjectID) (int64, error)
	// MarkWinner flips isWinner on a ticket that is not yet flagged.
	MarkWinner(ctx context.Context, ticketID primitive.ObjectID) error
	// SummarizeByBuyer groups a raffle's tickets per buyer.
	SummarizeByBuyer(ctx context.Context, raffleID primitive.ObjectID) ([]*models.BuyerTicketSummary, error)
}

// RaffleEntryRepository tracks how many tickets each buyer holds in a raffle
type RaffleEntryRepository interface {
	// Reserve adds quantity to the buyer's tally if the result stays within limit
	// (limit <= 0 means uncapped). Returns the new tally or ErrLimitExceeded.
	Reserve(ctx context.Context, raffleID, buyerID primitive.ObjectID, quantity, limit int64) (int64, error)
	Release(ctx context.Context, raffleID, buyerID primitive.ObjectID, quantity int64) error
	Count(ctx context.Context, raffleID, buyerID primitive.ObjectID) (int64, error)
}

// UserRepository defines the interface for user and coin balance operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	// Debit subtracts amount only if the balance covers it. ErrInsufficientBalance otherwise.
	Debit(ctx context.Context, id primitive.ObjectID, amount int64) (int64, error)
	Credit(ctx context.Context, id primitive.ObjectID, amount int64) (int64, error)
}

// CoinTransactionRepository defines the interface for coin ledger entries
type CoinTransactionRepository interface {
	Create(ctx context.Context, transaction *models.CoinTransaction) error
	FindByUserID(ctx context.Context, userID primitive.ObjectID, limit int) ([]*models.CoinTransaction, error)
}

// SystemSettingsRepository defines the interface for system settings operations
type SystemSettingsRepository interface {
	GetSettings(ctx context.Context) (*models.SystemSettings, error)
	UpdateSettings(ctx context.Context, settings *models.SystemSettings) error
}
