package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/repositories"
	"github.com/diehardfans/raffle-api/pkg/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PurchaseTickets sells quantity tickets of one raffle to a buyer.
//
// Each step that changes state is an atomic conditional update: the per-buyer
// reservation, the coin debit and the ticket number allocation. A later failure
// undoes the earlier steps in reverse order so no coins or allowance are lost.
// The back-out runs detached from ctx: once coins have moved, a dropped client
// must not stop them from moving back.
func (s *RaffleServiceImpl) PurchaseTickets(ctx context.Context, input PurchaseInput) (*PurchaseResult, error) {
	result, err := s.purchase(ctx, input)
	if err != nil {
		s.metrics.PurchaseFailed(purchaseFailureReason(err))
		return nil, err
	}
	s.metrics.PurchaseSucceeded(int64(len(result.Tickets)), result.TotalCost)
	return result, nil
}

func (s *RaffleServiceImpl) purchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error) {
	if input.Quantity < 1 {
		return nil, &ValidationError{Field: "quantity", Message: "must be at least 1"}
	}
	raffleID, err := parseID("raffleId", input.RaffleID)
	if err != nil {
		return nil, err
	}
	buyerID, err := parseID("buyerId", input.BuyerID)
	if err != nil {
		return nil, err
	}

	settings, err := s.settingsRepo.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if !settings.PurchasesEnabled {
		return nil, &ConflictError{Message: "ticket sales are paused"}
	}
	if settings.MaxQuantityPerPurchase > 0 && input.Quantity > settings.MaxQuantityPerPurchase {
		return nil, &LimitExceededError{
			Limit:     settings.MaxQuantityPerPurchase,
			Remaining: settings.MaxQuantityPerPurchase,
			Message:   fmt.Sprintf("at most %d tickets can be bought in one purchase", settings.MaxQuantityPerPurchase),
		}
	}

	raffle, err := s.loadRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if raffle.Status != models.RaffleStatusActive {
		return nil, statusConflict(raffle.Status)
	}
	if !s.now().Before(raffle.DrawDate) {
		return nil, &ConflictError{Message: "ticket sales closed", Status: string(raffle.Status)}
	}

	if raffle.TicketPrice > math.MaxInt64/input.Quantity {
		return nil, &ValidationError{Field: "quantity", Message: "total cost is too large"}
	}

	// 1. Reserve the buyer's allowance
	var limit int64
	if raffle.MaxTicketsPerUser != nil {
		limit = *raffle.MaxTicketsPerUser
	}
	owned, err := s.entryRepo.Reserve(ctx, raffleID, buyerID, input.Quantity, limit)
	if err != nil {
		if errors.Is(err, repositories.ErrLimitExceeded) {
			return nil, s.limitError(ctx, raffleID, buyerID, limit)
		}
		return nil, fmt.Errorf("failed to reserve ticket allowance: %w", err)
	}

	// 2. Debit the buyer
	p := pendingPurchase{
		id:       s.newKey(),
		raffleID: raffleID,
		buyerID:  buyerID,
		quantity: input.Quantity,
		cost:     input.Quantity * raffle.TicketPrice,
	}
	cost := p.cost
	purchaseID := p.id
	balance, err := s.ledger.Debit(ctx, input.BuyerID, cost, models.CoinCategoryRafflePurchase,
		fmt.Sprintf("%d ticket(s) for %s", input.Quantity, raffle.Title),
		map[string]interface{}{"raffleId": raffleID.Hex(), "purchaseId": purchaseID, "ticketCount": input.Quantity})
	if err != nil {
		s.backOut(ctx, p, backOutReservation)
		if errors.Is(err, ErrInsufficientBalance) {
			return nil, &InsufficientBalanceError{Required: cost}
		}
		return nil, err
	}

	// 3. Allocate consecutive ticket numbers
	allocated, err := s.raffleRepo.AllocateTickets(ctx, raffleID, input.Quantity, s.now())
	if err != nil {
		p.reason = "allocation failed"
		s.backOut(ctx, p, backOutDebit)
		if errors.Is(err, repositories.ErrConflict) {
			return nil, s.closedError(ctx, raffleID)
		}
		return nil, fmt.Errorf("failed to allocate tickets: %w", err)
	}

	// 4. Issue the tickets
	purchasedAt := s.now()
	first := allocated.TicketSequence - input.Quantity + 1
	tickets := make([]*models.Ticket, 0, input.Quantity)
	issued := make([]PurchasedTicket, 0, input.Quantity)
	for i := int64(0); i < input.Quantity; i++ {
		tickets = append(tickets, &models.Ticket{
			ID:            primitive.NewObjectID(),
			RaffleID:      raffleID,
			BuyerID:       buyerID,
			BuyerUsername: input.BuyerUsername,
			TicketNumber:  first + i,
			AmountPaid:    raffle.TicketPrice,
			PurchaseID:    purchaseID,
			PurchasedAt:   purchasedAt,
		})
		issued = append(issued, PurchasedTicket{TicketNumber: first + i, PurchasedAt: purchasedAt})
	}
	if err := s.ticketRepo.InsertMany(ctx, tickets); err != nil {
		log.Error().Err(err).
			Str("raffleId", raffleID.Hex()).
			Str("buyerId", input.BuyerID).
			Str("purchaseId", purchaseID).
			Msg("Ticket insert failed, backing out purchase")
		p.reason = "ticket issue failed"
		s.backOut(ctx, p, backOutTickets)
		return nil, fmt.Errorf("failed to issue tickets: %w", err)
	}

	log.Info().
		Str("raffleId", raffleID.Hex()).
		Str("buyerId", input.BuyerID).
		Int64("quantity", input.Quantity).
		Int64("firstTicket", first).
		Int64("cost", cost).
		Msg("Tickets purchased")

	s.publish(ctx, events.Event{
		Type:     events.TypeTicketsPurchased,
		RaffleID: raffleID.Hex(),
		UserID:   input.BuyerID,
		Data: map[string]interface{}{
			"purchaseId":  purchaseID,
			"quantity":    input.Quantity,
			"firstTicket": first,
			"lastTicket":  allocated.TicketSequence,
			"totalCost":   cost,
		},
	})

	return &PurchaseResult{
		PurchaseID:   purchaseID,
		RaffleID:     raffleID.Hex(),
		Tickets:      issued,
		TotalCost:    cost,
		NewBalance:   balance,
		TicketsOwned: owned,
	}, nil
}

func (s *RaffleServiceImpl) limitError(ctx context.Context, raffleID, buyerID primitive.ObjectID, limit int64) error {
	owned, err := s.entryRepo.Count(ctx, raffleID, buyerID)
	if err != nil {
		owned = limit
	}
	remaining := limit - owned
	if remaining < 0 {
		remaining = 0
	}
	return &LimitExceededError{
		Limit:     limit,
		Remaining: remaining,
		Message:   fmt.Sprintf("ticket limit of %d per user reached, %d remaining", limit, remaining),
	}
}

// closedError explains why allocation matched nothing
func (s *RaffleServiceImpl) closedError(ctx context.Context, raffleID primitive.ObjectID) error {
	current, err := s.loadRaffle(ctx, raffleID)
	if err != nil {
		return err
	}
	if current.Status != models.RaffleStatusActive {
		return statusConflict(current.Status)
	}
	return &ConflictError{Message: "ticket sales closed", Status: string(current.Status)}
}

// pendingPurchase is what a back-out needs to undo a purchase
type pendingPurchase struct {
	id       string
	raffleID primitive.ObjectID
	buyerID  primitive.ObjectID
	quantity int64
	cost     int64
	reason   string
}

// Purchase stages, each including the ones before it
const (
	backOutReservation = iota
	backOutDebit
	backOutTickets
)

// backOut undoes a purchase up to stage, newest step first. Failures are logged
// with the purchase id; they never replace the error that caused the back-out.
func (s *RaffleServiceImpl) backOut(ctx context.Context, p pendingPurchase, stage int) {
	bctx, cancel := s.detached(ctx)
	defer cancel()

	logger := log.With().
		Str("raffleId", p.raffleID.Hex()).
		Str("buyerId", p.buyerID.Hex()).
		Str("purchaseId", p.id).
		Int64("quantity", p.quantity).
		Logger()

	if stage >= backOutTickets {
		// An ordered batch may have stored its leading tickets before failing
		removed, err := s.ticketRepo.DeleteByPurchase(bctx, p.raffleID, p.id)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to remove partially issued tickets")
		} else if removed > 0 {
			logger.Warn().Int64("removed", removed).Msg("Removed partially issued tickets")
		}
		if err := s.raffleRepo.ReleaseTickets(bctx, p.raffleID, p.quantity); err != nil {
			logger.Error().Err(err).Msg("Failed to release sold counter")
		}
	}
	if stage >= backOutDebit {
		_, err := s.ledger.Credit(bctx, p.buyerID.Hex(), p.cost, models.CoinCategoryRaffleRefund,
			"Purchase reversed: "+p.reason,
			map[string]interface{}{"raffleId": p.raffleID.Hex(), "purchaseId": p.id, "ticketCount": p.quantity})
		if err != nil {
			logger.Error().Err(err).Int64("amount", p.cost).Msg("Failed to reverse purchase debit")
		}
	}
	if err := s.entryRepo.Release(bctx, p.raffleID, p.buyerID, p.quantity); err != nil {
		logger.Error().Err(err).Msg("Failed to release ticket allowance")
	}
}

func purchaseFailureReason(err error) string {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		conflict   *ConflictError
		limit      *LimitExceededError
		balance    *InsufficientBalanceError
	)
	switch {
	case errors.As(err, &validation):
		return "invalid"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &conflict):
		return "closed"
	case errors.As(err, &limit):
		return "limit"
	case errors.As(err, &balance):
		return "balance"
	}
	return "error"
}

func newPurchaseID() string {
	return uuid.NewString()
}
