package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/repositories"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ repositories.SystemSettingsRepository = (*SystemSettingsRepository)(nil)

// SystemSettingsRepository implements repositories.SystemSettingsRepository
type SystemSettingsRepository struct {
	collection *mongo.Collection
	defaults   models.SystemSettings
}

// NewSystemSettingsRepository creates a new SystemSettingsRepository.
// defaults is stored the first time settings are read.
func NewSystemSettingsRepository(db *mongo.Database, defaults models.SystemSettings) *SystemSettingsRepository {
	return &SystemSettingsRepository{
		collection: db.Collection(SystemSettingsCollection),
		defaults:   defaults,
	}
}

// GetSettings retrieves the current system settings
func (r *SystemSettingsRepository) GetSettings(ctx context.Context) (*models.SystemSettings, error) {
	var settings models.SystemSettings
	err := r.collection.FindOne(ctx, bson.M{}).Decode(&settings)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// If no settings exist, create default settings
		settings = r.defaults
		settings.CreatedAt = time.Now()
		settings.UpdatedAt = settings.CreatedAt
		settings.UpdatedBy = "system"
		if _, err = r.collection.InsertOne(ctx, settings); err != nil {
			return nil, err
		}
		return &settings, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateSettings replaces the settings document
func (r *SystemSettingsRepository) UpdateSettings(ctx context.Context, settings *models.SystemSettings) error {
	settings.UpdatedAt = time.Now()
	update := bson.M{
		"$set": bson.M{
			"maxQuantityPerPurchase": settings.MaxQuantityPerPurchase,
			"purchasesEnabled":       settings.PurchasesEnabled,
			"updatedAt":              settings.UpdatedAt,
			"updatedBy":              settings.UpdatedBy,
		},
		"$setOnInsert": bson.M{"createdAt": settings.UpdatedAt},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{}, update, options.Update().SetUpsert(true))
	return err
}
