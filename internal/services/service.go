package services

import (
	"context"
	"io"
	"time"

	"github.com/diehardfans/raffle-api/internal/models"
)

// RaffleService defines the raffle engine: administration, purchases, settlement and refunds
type RaffleService interface {
	CreateRaffle(ctx context.Context, input CreateRaffleInput) (*models.Raffle, error)
	UpdateRaffle(ctx context.Context, id string, input UpdateRaffleInput) (*models.Raffle, error)
	ActivateRaffle(ctx context.Context, id string) (*models.Raffle, error)
	DeleteRaffle(ctx context.Context, id string) error
	AddRaffleImage(ctx context.Context, id string, upload ImageUpload) (*models.Raffle, error)

	GetRaffle(ctx context.Context, id string) (*models.Raffle, error)
	GetRaffleBySlug(ctx context.Context, slug string) (*models.Raffle, error)
	ListRaffles(ctx context.Context, filter models.RaffleFilter) ([]*models.Raffle, error)
	// GetRaffleDetail returns the raffle together with the viewer's own tickets
	GetRaffleDetail(ctx context.Context, id, viewerID string) (*RaffleDetail, error)
	ListBuyerTickets(ctx context.Context, buyerID string, page, limit int) ([]*models.Ticket, error)

	PurchaseTickets(ctx context.Context, input PurchaseInput) (*PurchaseResult, error)
	DrawWinner(ctx context.Context, id string) (*DrawResult, error)
	CancelRaffle(ctx context.Context, id, reason string) (*CancelResult, error)

	// DrawDueRaffles draws every active raffle whose draw date has passed
	DrawDueRaffles(ctx context.Context) (int, error)
	// OpenScheduledRaffles activates drafts whose opening time has passed
	OpenScheduledRaffles(ctx context.Context) (int, error)
}

// CoinLedger is the sole mechanism for balance changes
type CoinLedger interface {
	Debit(ctx context.Context, userID string, amount int64, category, description string, metadata map[string]interface{}) (int64, error)
	Credit(ctx context.Context, userID string, amount int64, category, description string, metadata map[string]interface{}) (int64, error)
	GetBalance(ctx context.Context, userID string, recent int) (*Balance, error)
}

// AuthService defines the interface for authentication operations
type AuthService interface {
	Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error)
}

// SystemSettingsService defines the interface for admin settings
type SystemSettingsService interface {
	GetSettings(ctx context.Context) (*models.SystemSettings, error)
	UpdateSettings(ctx context.Context, input UpdateSettingsInput, updatedBy string) (*models.SystemSettings, error)
}

// CreateRaffleInput holds the fields an administrator supplies for a new raffle
type CreateRaffleInput struct {
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Images            []string   `json:"images"`
	TeamTag           string     `json:"teamTag"`
	EstimatedValue    int64      `json:"estimatedValue"`
	TicketPrice       int64      `json:"ticketPrice"`
	MaxTicketsPerUser *int64     `json:"maxTicketsPerUser"`
	OpensAt           *time.Time `json:"opensAt"`
	DrawDate          time.Time  `json:"drawDate"`
	CreatedBy         string     `json:"-"`
}

// UpdateRaffleInput holds optional changes; nil fields are left untouched
type UpdateRaffleInput struct {
	Title                  *string              `json:"title"`
	Description            *string              `json:"description"`
	Images                 []string             `json:"images"`
	TeamTag                *string              `json:"teamTag"`
	EstimatedValue         *int64               `json:"estimatedValue"`
	TicketPrice            *int64               `json:"ticketPrice"`
	MaxTicketsPerUser      *int64               `json:"maxTicketsPerUser"`
	ClearMaxTicketsPerUser bool                 `json:"clearMaxTicketsPerUser"`
	OpensAt                *time.Time           `json:"opensAt"`
	DrawDate               *time.Time           `json:"drawDate"`
	Status                 *models.RaffleStatus `json:"status"`
}

// ImageUpload is a raffle image received from an administrator
type ImageUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// PurchaseInput identifies who buys how many tickets of which raffle
type PurchaseInput struct {
	BuyerID       string
	BuyerUsername string
	RaffleID      string
	Quantity      int64
}

// PurchasedTicket is one newly issued ticket
type PurchasedTicket struct {
	TicketNumber int64     `json:"ticketNumber"`
	PurchasedAt  time.Time `json:"purchasedAt"`
}

// PurchaseResult is returned after a successful purchase
type PurchaseResult struct {
	PurchaseID   string            `json:"purchaseId"`
	RaffleID     string            `json:"raffleId"`
	Tickets      []PurchasedTicket `json:"tickets"`
	TotalCost    int64             `json:"totalCost"`
	NewBalance   int64             `json:"newBalance"`
	TicketsOwned int64             `json:"ticketsOwned"`
}

// Draw outcomes
const (
	DrawOutcomeCompleted = "completed"
	DrawOutcomeNoTickets = models.CancelReasonNoTickets
)

// DrawResult describes a settled draw
type DrawResult struct {
	Outcome             string         `json:"outcome"`
	RaffleID            string         `json:"raffleId"`
	WinnerID            string         `json:"winnerId,omitempty"`
	WinnerUsername      string         `json:"winnerUsername,omitempty"`
	WinningTicketID     string         `json:"winningTicketId,omitempty"`
	WinningTicketNumber int64          `json:"winningTicketNumber,omitempty"`
	TotalTickets        int64          `json:"totalTickets"`
	Raffle              *models.Raffle `json:"raffle"`
}

// CancelResult summarises the refunds issued by a cancellation
type CancelResult struct {
	RaffleID         string          `json:"raffleId"`
	BuyersRefunded   int             `json:"buyersRefunded"`
	TotalRefunded    int64           `json:"totalRefunded"`
	TicketsProcessed int64           `json:"ticketsProcessed"`
	Failures         []RefundFailure `json:"failures"`
	Raffle           *models.Raffle  `json:"raffle"`
}

// RaffleDetail is the buyer-facing view of a raffle
type RaffleDetail struct {
	Raffle             *models.Raffle   `json:"raffle"`
	MyTickets          []*models.Ticket `json:"myTickets"`
	MyTicketCount      int64            `json:"myTicketCount"`
	RemainingAllowance *int64           `json:"remainingAllowance,omitempty"`
}

// Balance is a user's coin balance with recent ledger activity
type Balance struct {
	UserID       string                    `json:"userId"`
	Coins        int64                     `json:"coins"`
	Transactions []*models.CoinTransaction `json:"transactions"`
}

// UpdateSettingsInput holds the settings an administrator can change
type UpdateSettingsInput struct {
	MaxQuantityPerPurchase *int64 `json:"maxQuantityPerPurchase"`
	PurchasesEnabled       *bool  `json:"purchasesEnabled"`
}
