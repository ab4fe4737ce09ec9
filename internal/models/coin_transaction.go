package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Coin transaction categories
const (
	CoinCategoryRafflePurchase = "raffle_purchase"
	CoinCategoryRaffleRefund   = "raffle_refund"
	CoinCategorySignupBonus    = "signup_bonus"
	CoinCategoryAdminGrant     = "admin_grant"
)

// CoinTransaction is the audit record written for every balance change.
type CoinTransaction struct {
	ID           primitive.ObjectID     `bson:"_id,omitempty" json:"id,omitempty"`
	UserID       primitive.ObjectID     `bson:"userId" json:"userId"`
	Amount       int64                  `bson:"amount" json:"amount"` // negative for debits
	BalanceAfter int64                  `bson:"balanceAfter" json:"balanceAfter"`
	Category     string                 `bson:"category" json:"category"`
	Description  string                 `bson:"description" json:"description"`
	Metadata     map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt    time.Time              `bson:"createdAt" json:"createdAt"`
}
