package services

import (
	"fmt"
	"strings"

	"github.com/diehardfans/raffle-api/internal/models"
)

// ValidationError reports malformed input: bad id, non-positive quantity, missing field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NotFoundError reports a missing raffle, ticket or user
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConflictError reports an illegal state transition. Status carries the
// raffle status that caused the rejection when there is one.
type ConflictError struct {
	Message string
	Status  string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// LimitExceededError reports a per-buyer cap or per-purchase quantity violation
type LimitExceededError struct {
	Limit     int64
	Remaining int64
	Message   string
}

func (e *LimitExceededError) Error() string {
	return e.Message
}

// InsufficientBalanceError reports a buyer who cannot cover a purchase
type InsufficientBalanceError struct {
	Required int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: %d coins required", e.Required)
}

// RefundFailure describes one buyer credit that could not be issued
type RefundFailure = models.RefundFailure

// PartialFailureError is returned alongside a completed cancellation when
// one or more refund credits failed.
type PartialFailureError struct {
	Failures []RefundFailure
}

func (e *PartialFailureError) Error() string {
	buyers := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		buyers = append(buyers, f.BuyerID)
	}
	return fmt.Sprintf("%d refund(s) failed: %s", len(e.Failures), strings.Join(buyers, ", "))
}

// statusConflict explains why a raffle in status cannot take the requested action
func statusConflict(status models.RaffleStatus) *ConflictError {
	switch status {
	case models.RaffleStatusCompleted:
		return &ConflictError{Message: "Raffle already completed", Status: string(status)}
	case models.RaffleStatusCancelled:
		return &ConflictError{Message: "Raffle already cancelled", Status: string(status)}
	}
	return &ConflictError{Message: "Raffle is " + string(status), Status: string(status)}
}
