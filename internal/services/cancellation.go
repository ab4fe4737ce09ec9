package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/repositories"
	"github.com/diehardfans/raffle-api/pkg/events"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// CancelRaffle closes a raffle and refunds every buyer once.
//
// The raffle is moved to cancelled before any credit is issued, so a repeated
// call is rejected instead of paying out twice. From that point on the work is
// detached from ctx, since a dropped admin request could not be retried. Credits
// that fail are stored on the raffle and returned in a *PartialFailureError
// next to the result.
func (s *RaffleServiceImpl) CancelRaffle(ctx context.Context, id, reason string) (*CancelResult, error) {
	raffleID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = models.CancelReasonAdmin
	}

	cancelled, err := s.raffleRepo.Transition(ctx, raffleID, models.RaffleTransition{
		From:         models.OpenStatuses,
		To:           models.RaffleStatusCancelled,
		CancelReason: reason,
		At:           s.now(),
	})
	if err != nil {
		return nil, s.raceError(ctx, raffleID, err)
	}
	log.Info().Str("raffleId", id).Str("reason", reason).Msg("Raffle cancelled, issuing refunds")
	work := context.WithoutCancel(ctx)

	// Purchases that allocated before the transition may still be inserting tickets
	cancelled, err = s.awaitSettledTickets(work, cancelled)
	if err != nil {
		return nil, err
	}

	buyers, err := s.ticketRepo.SummarizeByBuyer(work, raffleID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarise tickets: %w", err)
	}

	result := &CancelResult{
		RaffleID: id,
		Failures: []RefundFailure{},
		Raffle:   cancelled,
	}
	var mu sync.Mutex
	var group errgroup.Group
	group.SetLimit(s.opts.RefundConcurrency)
	for _, buyer := range buyers {
		buyer := buyer
		group.Go(func() error {
			err := s.refundBuyer(work, raffleID, buyer)

			mu.Lock()
			defer mu.Unlock()
			result.TicketsProcessed += buyer.TicketCount
			if err != nil {
				log.Error().Err(err).
					Str("raffleId", id).
					Str("buyerId", buyer.BuyerID.Hex()).
					Int64("amount", buyer.AmountPaid).
					Msg("Refund failed")
				result.Failures = append(result.Failures, RefundFailure{
					BuyerID:     buyer.BuyerID.Hex(),
					Username:    buyer.Username,
					Amount:      buyer.AmountPaid,
					TicketCount: buyer.TicketCount,
					Error:       err.Error(),
				})
				return nil
			}
			result.BuyersRefunded++
			result.TotalRefunded += buyer.AmountPaid
			return nil
		})
	}
	// Refund errors are collected, never returned, so Wait cannot fail
	_ = group.Wait()

	if len(result.Failures) > 0 {
		s.recordRefundFailures(work, raffleID, result)
	}

	s.metrics.RaffleCancelled(result.BuyersRefunded, len(result.Failures), result.TotalRefunded)
	s.publish(work, events.Event{
		Type:     events.TypeRaffleCancelled,
		RaffleID: id,
		Data: map[string]interface{}{
			"reason":         reason,
			"buyersRefunded": result.BuyersRefunded,
			"totalRefunded":  result.TotalRefunded,
			"failedRefunds":  len(result.Failures),
		},
	})
	log.Info().
		Str("raffleId", id).
		Int("buyersRefunded", result.BuyersRefunded).
		Int64("totalRefunded", result.TotalRefunded).
		Int("failures", len(result.Failures)).
		Msg("Raffle refunds finished")

	if len(result.Failures) > 0 {
		return result, &PartialFailureError{Failures: result.Failures}
	}
	return result, nil
}

func (s *RaffleServiceImpl) refundBuyer(ctx context.Context, raffleID primitive.ObjectID, buyer *models.BuyerTicketSummary) error {
	if buyer.AmountPaid <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.BackoutTimeout)
	defer cancel()
	_, err := s.ledger.Credit(ctx, buyer.BuyerID.Hex(), buyer.AmountPaid, models.CoinCategoryRaffleRefund,
		"Refund for cancelled raffle",
		map[string]interface{}{"raffleId": raffleID.Hex(), "ticketCount": buyer.TicketCount})
	return err
}

// recordRefundFailures keeps the failed credits on the raffle so an operator
// can settle them once the response is gone.
func (s *RaffleServiceImpl) recordRefundFailures(ctx context.Context, raffleID primitive.ObjectID, result *CancelResult) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.BackoutTimeout)
	defer cancel()
	if err := s.raffleRepo.RecordRefundFailures(ctx, raffleID, result.Failures); err != nil {
		log.Error().Err(err).
			Str("raffleId", raffleID.Hex()).
			Int("failures", len(result.Failures)).
			Msg("Failed to store refund failures")
		return
	}
	if result.Raffle != nil {
		result.Raffle.RefundFailures = append(result.Raffle.RefundFailures, result.Failures...)
	}
}

// awaitSettledTickets waits until every counted ticket has been written.
// Once the raffle is terminal no new allocation can start, so the counter only
// moves down (a backed-out purchase) or the tickets catch up.
func (s *RaffleServiceImpl) awaitSettledTickets(ctx context.Context, raffle *models.Raffle) (*models.Raffle, error) {
	for attempt := 1; ; attempt++ {
		count, err := s.ticketRepo.CountByRaffle(ctx, raffle.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count tickets: %w", err)
		}
		if count == raffle.TotalTicketsSold {
			return raffle, nil
		}
		if attempt >= s.opts.DrawAttempts {
			log.Warn().
				Str("raffleId", raffle.ID.Hex()).
				Int64("tickets", count).
				Int64("sold", raffle.TotalTicketsSold).
				Msg("Ticket count did not settle, refunding tickets on record")
			return raffle, nil
		}
		if err := s.sleep(ctx, s.opts.SettleWait); err != nil {
			return nil, err
		}
		reloaded, err := s.raffleRepo.FindByID(ctx, raffle.ID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, &NotFoundError{Resource: "raffle", ID: raffle.ID.Hex()}
			}
			return nil, fmt.Errorf("failed to reload raffle: %w", err)
		}
		raffle = reloaded
	}
}
