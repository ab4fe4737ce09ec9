package services

import (
	"context"
	"testing"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemSettingsService_Update(t *testing.T) {
	repo := &fakeSettingsRepo{settings: models.SystemSettings{MaxQuantityPerPurchase: 100, PurchasesEnabled: true}}
	svc := NewSystemSettingsService(repo)
	ctx := context.Background()

	disabled := false
	updated, err := svc.UpdateSettings(ctx, UpdateSettingsInput{PurchasesEnabled: &disabled}, "admin-1")
	require.NoError(t, err)
	assert.False(t, updated.PurchasesEnabled)
	assert.Equal(t, int64(100), updated.MaxQuantityPerPurchase, "unset fields are kept")
	assert.Equal(t, "admin-1", updated.UpdatedBy)
	assert.False(t, updated.UpdatedAt.IsZero())

	got, err := svc.GetSettings(ctx)
	require.NoError(t, err)
	assert.False(t, got.PurchasesEnabled)

	q := int64(25)
	updated, err = svc.UpdateSettings(ctx, UpdateSettingsInput{MaxQuantityPerPurchase: &q}, "admin-2")
	require.NoError(t, err)
	assert.Equal(t, int64(25), updated.MaxQuantityPerPurchase)
	assert.False(t, updated.PurchasesEnabled)
}

func TestSystemSettingsService_RejectsOutOfRangeQuantity(t *testing.T) {
	repo := &fakeSettingsRepo{settings: models.SystemSettings{MaxQuantityPerPurchase: 100, PurchasesEnabled: true}}
	svc := NewSystemSettingsService(repo)

	for _, q := range []int64{0, -1, MaxQuantityPerPurchaseCeiling + 1} {
		q := q
		_, err := svc.UpdateSettings(context.Background(), UpdateSettingsInput{MaxQuantityPerPurchase: &q}, "admin")
		var v *ValidationError
		require.ErrorAs(t, err, &v, "quantity %d", q)
	}
	assert.Equal(t, int64(100), repo.settings.MaxQuantityPerPurchase)
}
