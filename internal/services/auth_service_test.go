package services

import (
	"context"
	"testing"
	"time"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/pkg/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth(t *testing.T, bonus int64) (AuthService, *testEngine, *jwt.TokenService) {
	t.Helper()
	e := newTestEngine(t)
	tokens := jwt.NewTokenService("test-secret", time.Hour)
	return NewAuthService(e.users, e.ledger, tokens, bonus), e, tokens
}

func TestAuthService_RegisterAndLogin(t *testing.T) {
	auth, e, tokens := newTestAuth(t, 100)
	ctx := context.Background()

	user, err := auth.Register(ctx, &models.RegisterRequest{
		Username: " gooner ",
		Email:    "Gooner@Example.com",
		Password: "secret1",
	})
	require.NoError(t, err)
	assert.Equal(t, "gooner", user.Username)
	assert.Equal(t, "gooner@example.com", user.Email)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.Equal(t, int64(100), user.Coins)
	assert.Empty(t, user.Password)

	bonus := e.txs.byCategory(models.CoinCategorySignupBonus)
	require.Len(t, bonus, 1)
	assert.Equal(t, int64(100), bonus[0].Amount)

	resp, err := auth.Login(ctx, &models.LoginRequest{Email: "gooner@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, 3600, resp.ExpiresIn)
	assert.Empty(t, resp.User.Password)

	claims, err := tokens.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.Hex(), claims.Subject)
	assert.Equal(t, "gooner", claims.Username)
	assert.Equal(t, models.RoleUser, claims.Role)
}

func TestAuthService_RegisterValidation(t *testing.T) {
	auth, _, _ := newTestAuth(t, 0)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   models.RegisterRequest
		field string
	}{
		{"bad email", models.RegisterRequest{Username: "valid", Email: "nope", Password: "secret1"}, "email"},
		{"short username", models.RegisterRequest{Username: "ab", Email: "a@b.co", Password: "secret1"}, "username"},
		{"short password", models.RegisterRequest{Username: "valid", Email: "a@b.co", Password: "123"}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := auth.Register(ctx, &req)
			var v *ValidationError
			require.ErrorAs(t, err, &v)
			assert.Equal(t, tt.field, v.Field)
		})
	}
}

func TestAuthService_RegisterDuplicate(t *testing.T) {
	auth, e, _ := newTestAuth(t, 0)
	ctx := context.Background()

	_, err := auth.Register(ctx, &models.RegisterRequest{Username: "first", Email: "dup@example.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = auth.Register(ctx, &models.RegisterRequest{Username: "second", Email: "dup@example.com", Password: "secret1"})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Empty(t, e.txs.byCategory(models.CoinCategorySignupBonus))
}

func TestAuthService_LoginRejectsBadCredentials(t *testing.T) {
	auth, _, _ := newTestAuth(t, 0)
	ctx := context.Background()
	_, err := auth.Register(ctx, &models.RegisterRequest{Username: "holder", Email: "holder@example.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = auth.Login(ctx, &models.LoginRequest{Email: "holder@example.com", Password: "wrong!"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Login(ctx, &models.LoginRequest{Email: "nobody@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
