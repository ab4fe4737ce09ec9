package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SystemSettings holds the admin-tunable raffle settings
type SystemSettings struct {
	ID                     primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	MaxQuantityPerPurchase int64              `bson:"maxQuantityPerPurchase" json:"maxQuantityPerPurchase"`
	PurchasesEnabled       bool               `bson:"purchasesEnabled" json:"purchasesEnabled"`
	CreatedAt              time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt              time.Time          `bson:"updatedAt" json:"updatedAt"`
	UpdatedBy              string             `bson:"updatedBy" json:"updatedBy"`
}
