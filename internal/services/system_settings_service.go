package services

import (
	"context"
	"fmt"
	"time"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/repositories"
	"github.com/rs/zerolog/log"
)

// MaxQuantityPerPurchaseCeiling bounds the admin-tunable per-purchase quantity
const MaxQuantityPerPurchaseCeiling = 1000

// SystemSettingsServiceImpl implements SystemSettingsService
type SystemSettingsServiceImpl struct {
	settingsRepo repositories.SystemSettingsRepository
}

// NewSystemSettingsService creates a new SystemSettingsService
func NewSystemSettingsService(settingsRepo repositories.SystemSettingsRepository) SystemSettingsService {
	return &SystemSettingsServiceImpl{
		settingsRepo: settingsRepo,
	}
}

// GetSettings retrieves the current system settings
func (s *SystemSettingsServiceImpl) GetSettings(ctx context.Context) (*models.SystemSettings, error) {
	settings, err := s.settingsRepo.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return settings, nil
}

// UpdateSettings applies the given changes and records who made them
func (s *SystemSettingsServiceImpl) UpdateSettings(ctx context.Context, input UpdateSettingsInput, updatedBy string) (*models.SystemSettings, error) {
	if input.MaxQuantityPerPurchase != nil {
		q := *input.MaxQuantityPerPurchase
		if q < 1 || q > MaxQuantityPerPurchaseCeiling {
			return nil, &ValidationError{
				Field:   "maxQuantityPerPurchase",
				Message: fmt.Sprintf("must be between 1 and %d", MaxQuantityPerPurchaseCeiling),
			}
		}
	}

	settings, err := s.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if input.MaxQuantityPerPurchase != nil {
		settings.MaxQuantityPerPurchase = *input.MaxQuantityPerPurchase
	}
	if input.PurchasesEnabled != nil {
		settings.PurchasesEnabled = *input.PurchasesEnabled
	}
	settings.UpdatedBy = updatedBy
	settings.UpdatedAt = time.Now()

	if err := s.settingsRepo.UpdateSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}
	log.Info().
		Int64("maxQuantityPerPurchase", settings.MaxQuantityPerPurchase).
		Bool("purchasesEnabled", settings.PurchasesEnabled).
		Str("updatedBy", updatedBy).
		Msg("System settings updated")
	return settings, nil
}
