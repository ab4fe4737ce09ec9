package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RaffleStatus represents the lifecycle state of a raffle
type RaffleStatus string

const (
	RaffleStatusDraft     RaffleStatus = "draft"
	RaffleStatusActive    RaffleStatus = "active"
	RaffleStatusCompleted RaffleStatus = "completed"
	RaffleStatusCancelled RaffleStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible from the status.
func (s RaffleStatus) IsTerminal() bool {
	return s == RaffleStatusCompleted || s == RaffleStatusCancelled
}

// IsValid reports whether s is one of the known statuses.
func (s RaffleStatus) IsValid() bool {
	switch s {
	case RaffleStatusDraft, RaffleStatusActive, RaffleStatusCompleted, RaffleStatusCancelled:
		return true
	}
	return false
}

// OpenStatuses are the statuses a raffle can still be edited, drawn or cancelled from.
var OpenStatuses = []RaffleStatus{RaffleStatusDraft, RaffleStatusActive}

// Cancel reasons recorded on the raffle
const (
	CancelReasonNoTickets = "no_tickets"
	CancelReasonAdmin     = "admin"
)

// Raffle represents a prize drawing that sells numbered tickets
type Raffle struct {
	ID                primitive.ObjectID  `bson:"_id,omitempty" json:"id,omitempty"`
	Title             string              `bson:"title" json:"title"`
	Slug              string              `bson:"slug" json:"slug"`
	Description       string              `bson:"description" json:"description"`
	Images            []string            `bson:"images" json:"images"`
	TeamTag           string              `bson:"teamTag,omitempty" json:"teamTag,omitempty"`
	EstimatedValue    int64               `bson:"estimatedValue" json:"estimatedValue"`
	TicketPrice       int64               `bson:"ticketPrice" json:"ticketPrice"`
	MaxTicketsPerUser *int64              `bson:"maxTicketsPerUser,omitempty" json:"maxTicketsPerUser,omitempty"`
	TicketSequence    int64               `bson:"ticketSequence" json:"-"` // last allocated ticket number
	TotalTicketsSold  int64               `bson:"totalTicketsSold" json:"totalTicketsSold"`
	Status            RaffleStatus        `bson:"status" json:"status"`
	OpensAt           *time.Time          `bson:"opensAt,omitempty" json:"opensAt,omitempty"`
	DrawDate          time.Time           `bson:"drawDate" json:"drawDate"`
	WinnerID          *primitive.ObjectID `bson:"winnerId" json:"winnerId"`
	WinnerUsername    *string             `bson:"winnerUsername" json:"winnerUsername"`
	WinnerTicketID    *primitive.ObjectID `bson:"winnerTicketId" json:"winnerTicketId"`
	WinnerTicketNo    *int64              `bson:"winnerTicketNumber" json:"winnerTicketNumber"`
	CancelReason      string              `bson:"cancelReason,omitempty" json:"cancelReason,omitempty"`
	CreatedBy         string              `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	CreatedAt         time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time           `bson:"updatedAt" json:"updatedAt"`
	CompletedAt       *time.Time          `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	// RefundFailures lists the credits a cancellation could not issue
	RefundFailures []RefundFailure `bson:"refundFailures,omitempty" json:"refundFailures,omitempty"`
}

// RefundFailure describes one buyer credit that could not be issued
type RefundFailure struct {
	BuyerID     string `bson:"buyerId" json:"buyerId"`
	Username    string `bson:"username" json:"username"`
	Amount      int64  `bson:"amount" json:"amount"`
	TicketCount int64  `bson:"ticketCount" json:"ticketCount"`
	Error       string `bson:"error" json:"error"`
}

// RaffleWinner is the settlement written onto a raffle when it completes
type RaffleWinner struct {
	BuyerID      primitive.ObjectID
	Username     string
	TicketID     primitive.ObjectID
	TicketNumber int64
}

// RaffleFilter narrows raffle listings
type RaffleFilter struct {
	Statuses []RaffleStatus
	TeamTag  string
	Page     int
	Limit    int
}

// RaffleChanges holds the administrator-editable fields of a raffle; nil means unchanged
type RaffleChanges struct {
	Title             *string
	Slug              *string
	Description       *string
	Images            []string
	TeamTag           *string
	EstimatedValue    *int64
	TicketPrice       *int64
	MaxTicketsPerUser *int64
	ClearMaxTickets   bool
	OpensAt           *time.Time
	DrawDate          *time.Time
	Status            *RaffleStatus
}

// RaffleTransition describes a conditional status change.
// The change only applies when the current status is one of From and,
// if ExpectedSold is set, totalTicketsSold equals it.
type RaffleTransition struct {
	From         []RaffleStatus
	To           RaffleStatus
	ExpectedSold *int64
	Winner       *RaffleWinner
	CancelReason string
	At           time.Time
}
