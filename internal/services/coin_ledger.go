package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/repositories"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Compile-time check to ensure CoinLedgerImpl implements CoinLedger
var _ CoinLedger = (*CoinLedgerImpl)(nil)

// ErrInsufficientBalance is returned by Debit when the balance cannot cover the amount.
// Callers outside the ledger usually see it wrapped in *InsufficientBalanceError.
var ErrInsufficientBalance = repositories.ErrInsufficientBalance

// CoinLedgerImpl moves coins with atomic conditional updates and writes an
// audit entry for every change.
type CoinLedgerImpl struct {
	userRepo        repositories.UserRepository
	transactionRepo repositories.CoinTransactionRepository
	now             func() time.Time
}

// NewCoinLedger creates a CoinLedgerImpl
func NewCoinLedger(userRepo repositories.UserRepository, transactionRepo repositories.CoinTransactionRepository) *CoinLedgerImpl {
	return &CoinLedgerImpl{
		userRepo:        userRepo,
		transactionRepo: transactionRepo,
		now:             time.Now,
	}
}

// Debit removes amount from the user's balance or fails without effect
func (l *CoinLedgerImpl) Debit(ctx context.Context, userID string, amount int64, category, description string, metadata map[string]interface{}) (int64, error) {
	id, err := l.validate(userID, amount)
	if err != nil {
		return 0, err
	}
	balance, err := l.userRepo.Debit(ctx, id, amount)
	if err != nil {
		return 0, l.mapError(err, userID)
	}
	l.record(ctx, id, -amount, balance, category, description, metadata)
	return balance, nil
}

// Credit adds amount to the user's balance
func (l *CoinLedgerImpl) Credit(ctx context.Context, userID string, amount int64, category, description string, metadata map[string]interface{}) (int64, error) {
	id, err := l.validate(userID, amount)
	if err != nil {
		return 0, err
	}
	balance, err := l.userRepo.Credit(ctx, id, amount)
	if err != nil {
		return 0, l.mapError(err, userID)
	}
	l.record(ctx, id, amount, balance, category, description, metadata)
	return balance, nil
}

// GetBalance returns the user's coins and their most recent transactions
func (l *CoinLedgerImpl) GetBalance(ctx context.Context, userID string, recent int) (*Balance, error) {
	id, err := parseID("userId", userID)
	if err != nil {
		return nil, err
	}
	user, err := l.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, l.mapError(err, userID)
	}
	transactions, err := l.transactionRepo.FindByUserID(ctx, id, recent)
	if err != nil {
		return nil, fmt.Errorf("failed to load coin transactions: %w", err)
	}
	return &Balance{UserID: userID, Coins: user.Coins, Transactions: transactions}, nil
}

func (l *CoinLedgerImpl) validate(userID string, amount int64) (primitive.ObjectID, error) {
	if amount <= 0 {
		return primitive.NilObjectID, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	return parseID("userId", userID)
}

func (l *CoinLedgerImpl) mapError(err error, userID string) error {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return &NotFoundError{Resource: "user", ID: userID}
	case errors.Is(err, repositories.ErrInsufficientBalance):
		return ErrInsufficientBalance
	}
	return fmt.Errorf("coin ledger update failed: %w", err)
}

// record writes the audit entry. The balance change has already happened, so a
// failed write is logged for reconciliation rather than reversing the change.
func (l *CoinLedgerImpl) record(ctx context.Context, userID primitive.ObjectID, amount, balance int64, category, description string, metadata map[string]interface{}) {
	entry := &models.CoinTransaction{
		UserID:       userID,
		Amount:       amount,
		BalanceAfter: balance,
		Category:     category,
		Description:  description,
		Metadata:     metadata,
		CreatedAt:    l.now(),
	}
	// The entry follows a committed balance change even if the caller has gone away
	if err := l.transactionRepo.Create(context.WithoutCancel(ctx), entry); err != nil {
		log.Error().Err(err).
			Str("userId", userID.Hex()).
			Int64("amount", amount).
			Str("category", category).
			Msg("Failed to record coin transaction")
	}
}

func parseID(field, value string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(value)
	if err != nil {
		return primitive.NilObjectID, &ValidationError{Field: field, Message: "invalid ID format"}
	}
	return id, nil
}
