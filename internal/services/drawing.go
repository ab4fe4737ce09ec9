package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/repositories"
	"github.com/diehardfans/raffle-api/pkg/events"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DrawWinner settles a raffle exactly once.
//
// A raffle without tickets is cancelled with reason no_tickets. Otherwise one
// ticket is picked uniformly at random and the raffle is completed with a
// conditional update that also requires the sold counter to match the pool,
// so a purchase still being written is never left out of the draw.
func (s *RaffleServiceImpl) DrawWinner(ctx context.Context, id string) (*DrawResult, error) {
	raffleID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.opts.DrawAttempts; attempt++ {
		result, settled, err := s.tryDraw(ctx, raffleID)
		if err != nil {
			return nil, err
		}
		if settled {
			s.metrics.DrawFinished(result.Outcome)
			return result, nil
		}
		log.Debug().Str("raffleId", id).Int("attempt", attempt).Msg("Purchases in flight, retrying draw")
		if attempt < s.opts.DrawAttempts {
			if err := s.sleep(ctx, s.opts.SettleWait); err != nil {
				return nil, err
			}
		}
	}

	s.metrics.DrawFinished("unsettled")
	return nil, &ConflictError{Message: "purchases still settling, try the draw again shortly", Status: string(models.RaffleStatusActive)}
}

// tryDraw makes one settlement attempt. settled is false when the ticket pool
// did not match the sold counter and the caller should wait and retry.
func (s *RaffleServiceImpl) tryDraw(ctx context.Context, raffleID primitive.ObjectID) (*DrawResult, bool, error) {
	raffle, err := s.loadRaffle(ctx, raffleID)
	if err != nil {
		return nil, false, err
	}
	if raffle.Status.IsTerminal() {
		return nil, false, statusConflict(raffle.Status)
	}

	tickets, err := s.ticketRepo.FindByRaffle(ctx, raffleID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load tickets: %w", err)
	}
	pool := int64(len(tickets))
	if pool != raffle.TotalTicketsSold {
		return nil, false, nil
	}

	if pool == 0 {
		return s.settleWithoutTickets(ctx, raffleID)
	}

	index, err := s.pick(len(tickets))
	if err != nil {
		return nil, false, fmt.Errorf("failed to pick winning ticket: %w", err)
	}
	winning := tickets[index]

	completed, err := s.raffleRepo.Transition(ctx, raffleID, models.RaffleTransition{
		From:         models.OpenStatuses,
		To:           models.RaffleStatusCompleted,
		ExpectedSold: &pool,
		Winner: &models.RaffleWinner{
			BuyerID:      winning.BuyerID,
			Username:     winning.BuyerUsername,
			TicketID:     winning.ID,
			TicketNumber: winning.TicketNumber,
		},
		At: s.now(),
	})
	if err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			// Either another settlement won or a purchase landed; the next attempt tells which
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to complete raffle: %w", err)
	}

	if err := s.ticketRepo.MarkWinner(ctx, winning.ID); err != nil {
		log.Error().Err(err).
			Str("raffleId", raffleID.Hex()).
			Str("ticketId", winning.ID.Hex()).
			Msg("Failed to flag winning ticket")
	}

	log.Info().
		Str("raffleId", raffleID.Hex()).
		Str("winnerId", winning.BuyerID.Hex()).
		Int64("ticketNumber", winning.TicketNumber).
		Int64("totalTickets", pool).
		Msg("Raffle drawn")

	s.publish(ctx, events.Event{
		Type:     events.TypeRaffleDrawn,
		RaffleID: raffleID.Hex(),
		UserID:   winning.BuyerID.Hex(),
		Data: map[string]interface{}{
			"winnerUsername":      winning.BuyerUsername,
			"winningTicketNumber": winning.TicketNumber,
			"totalTickets":        pool,
		},
	})

	return &DrawResult{
		Outcome:             DrawOutcomeCompleted,
		RaffleID:            raffleID.Hex(),
		WinnerID:            winning.BuyerID.Hex(),
		WinnerUsername:      winning.BuyerUsername,
		WinningTicketID:     winning.ID.Hex(),
		WinningTicketNumber: winning.TicketNumber,
		TotalTickets:        pool,
		Raffle:              completed,
	}, true, nil
}

func (s *RaffleServiceImpl) settleWithoutTickets(ctx context.Context, raffleID primitive.ObjectID) (*DrawResult, bool, error) {
	var zero int64
	cancelled, err := s.raffleRepo.Transition(ctx, raffleID, models.RaffleTransition{
		From:         models.OpenStatuses,
		To:           models.RaffleStatusCancelled,
		ExpectedSold: &zero,
		CancelReason: models.CancelReasonNoTickets,
		At:           s.now(),
	})
	if err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to cancel raffle: %w", err)
	}

	log.Info().Str("raffleId", raffleID.Hex()).Msg("Raffle drawn without tickets, cancelled")
	s.publish(ctx, events.Event{
		Type:     events.TypeRaffleCancelled,
		RaffleID: raffleID.Hex(),
		Data:     map[string]interface{}{"reason": models.CancelReasonNoTickets},
	})

	return &DrawResult{
		Outcome:  DrawOutcomeNoTickets,
		RaffleID: raffleID.Hex(),
		Raffle:   cancelled,
	}, true, nil
}
