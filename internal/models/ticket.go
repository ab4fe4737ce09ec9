package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Ticket is one purchased, numbered entry in a raffle's drawing pool
type Ticket struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	RaffleID      primitive.ObjectID `bson:"raffleId" json:"raffleId"`
	BuyerID       primitive.ObjectID `bson:"buyerId" json:"buyerId"`
	BuyerUsername string             `bson:"buyerUsername" json:"buyerUsername"`
	TicketNumber  int64              `bson:"ticketNumber" json:"ticketNumber"`
	AmountPaid    int64              `bson:"amountPaid" json:"amountPaid"` // ticket price at purchase time
	PurchaseID    string             `bson:"purchaseId" json:"purchaseId"`
	PurchasedAt   time.Time          `bson:"purchasedAt" json:"purchasedAt"`
	IsWinner      bool               `bson:"isWinner" json:"isWinner"`
}

// BuyerTicketSummary aggregates one buyer's tickets within a raffle
type BuyerTicketSummary struct {
	BuyerID     primitive.ObjectID `bson:"_id" json:"buyerId"`
	Username    string             `bson:"username" json:"username"`
	TicketCount int64              `bson:"ticketCount" json:"ticketCount"`
	AmountPaid  int64              `bson:"amountPaid" json:"amountPaid"`
}

// RaffleEntry is the per-buyer ticket tally used to enforce maxTicketsPerUser
type RaffleEntry struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	RaffleID    primitive.ObjectID `bson:"raffleId" json:"raffleId"`
	BuyerID     primitive.ObjectID `bson:"buyerId" json:"buyerId"`
	TicketCount int64              `bson:"ticketCount" json:"ticketCount"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
}
