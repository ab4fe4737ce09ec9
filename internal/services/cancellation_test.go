package services

import (
	"context"
	"testing"
	"time"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestCancelRaffle_RefundsEveryBuyer(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	raffle := e.activeRaffle(t, 10, nil)
	alice := e.addUser(t, "alice", 100)
	bob := e.addUser(t, "bob", 100)
	_, err := e.buy(t, raffle.ID, alice, 2)
	require.NoError(t, err)
	_, err = e.buy(t, raffle.ID, bob, 1)
	require.NoError(t, err)

	result, err := e.svc.CancelRaffle(ctx, raffle.ID.Hex(), "")
	require.NoError(t, err)

	assert.Equal(t, 2, result.BuyersRefunded)
	assert.Equal(t, int64(30), result.TotalRefunded)
	assert.Equal(t, int64(3), result.TicketsProcessed)
	assert.Empty(t, result.Failures)
	assert.Equal(t, int64(100), e.users.balance(t, alice))
	assert.Equal(t, int64(100), e.users.balance(t, bob))

	stored := e.raffles.get(t, raffle.ID)
	assert.Equal(t, models.RaffleStatusCancelled, stored.Status)
	assert.Equal(t, models.CancelReasonAdmin, stored.CancelReason)
	assert.Nil(t, stored.WinnerID)

	refunds := e.txs.byCategory(models.CoinCategoryRaffleRefund)
	require.Len(t, refunds, 2)
	byUser := map[primitive.ObjectID]*models.CoinTransaction{}
	for _, r := range refunds {
		byUser[r.UserID] = r
	}
	assert.Equal(t, int64(20), byUser[alice].Amount)
	assert.Equal(t, int64(100), byUser[alice].BalanceAfter)
	assert.Equal(t, raffle.ID.Hex(), byUser[alice].Metadata["raffleId"])
	assert.Equal(t, int64(2), byUser[alice].Metadata["ticketCount"])
	assert.Equal(t, int64(10), byUser[bob].Amount)

	assert.Contains(t, e.publisher.types(), events.TypeRaffleCancelled)
}

func TestCancelRaffle_RefundsWhatWasPaid(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	raffle := e.activeRaffle(t, 10, nil)
	buyer := e.addUser(t, "early", 200)
	_, err := e.buy(t, raffle.ID, buyer, 2)
	require.NoError(t, err)

	price := int64(25)
	_, err = e.svc.UpdateRaffle(ctx, raffle.ID.Hex(), UpdateRaffleInput{TicketPrice: &price})
	require.NoError(t, err)
	_, err = e.buy(t, raffle.ID, buyer, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(155), e.users.balance(t, buyer))

	result, err := e.svc.CancelRaffle(ctx, raffle.ID.Hex(), "prize unavailable")
	require.NoError(t, err)
	assert.Equal(t, int64(45), result.TotalRefunded)
	assert.Equal(t, int64(200), e.users.balance(t, buyer))
	assert.Equal(t, "prize unavailable", e.raffles.get(t, raffle.ID).CancelReason)
}

func TestCancelRaffle_SecondCancelDoesNotRefundTwice(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	raffle := e.activeRaffle(t, 10, nil)
	buyer := e.addUser(t, "once", 50)
	_, err := e.buy(t, raffle.ID, buyer, 5)
	require.NoError(t, err)

	_, err = e.svc.CancelRaffle(ctx, raffle.ID.Hex(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(50), e.users.balance(t, buyer))

	_, err = e.svc.CancelRaffle(ctx, raffle.ID.Hex(), "")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "Raffle already cancelled", conflict.Message)
	assert.Equal(t, int64(50), e.users.balance(t, buyer))
	assert.Len(t, e.txs.byCategory(models.CoinCategoryRaffleRefund), 1)
}

func TestCancelRaffle_CompletedRaffle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	raffle := e.activeRaffle(t, 10, nil)
	buyer := e.addUser(t, "lucky", 50)
	_, err := e.buy(t, raffle.ID, buyer, 1)
	require.NoError(t, err)
	_, err = e.svc.DrawWinner(ctx, raffle.ID.Hex())
	require.NoError(t, err)

	_, err = e.svc.CancelRaffle(ctx, raffle.ID.Hex(), "")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "Raffle already completed", conflict.Message)
	assert.Equal(t, int64(40), e.users.balance(t, buyer))
}

func TestCancelRaffle_DraftWithoutTickets(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	raffle, err := e.svc.CreateRaffle(ctx, CreateRaffleInput{
		Title:       "Never Opened",
		TicketPrice: 5,
		DrawDate:    testNow.Add(48 * time.Hour),
	})
	require.NoError(t, err)

	result, err := e.svc.CancelRaffle(ctx, raffle.ID.Hex(), "")
	require.NoError(t, err)
	assert.Zero(t, result.BuyersRefunded)
	assert.Zero(t, result.TotalRefunded)
	assert.Equal(t, models.RaffleStatusCancelled, e.raffles.get(t, raffle.ID).Status)
}

func TestCancelRaffle_PartialFailure(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	raffle := e.activeRaffle(t, 10, nil)
	alice := e.addUser(t, "alice", 100)
	bob := e.addUser(t, "bob", 100)
	_, err := e.buy(t, raffle.ID, alice, 2)
	require.NoError(t, err)
	_, err = e.buy(t, raffle.ID, bob, 3)
	require.NoError(t, err)

	e.users.creditErr[bob] = errBoom

	result, err := e.svc.CancelRaffle(ctx, raffle.ID.Hex(), "")
	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	require.NotNil(t, result)

	assert.Equal(t, 1, result.BuyersRefunded)
	assert.Equal(t, int64(20), result.TotalRefunded)
	assert.Equal(t, int64(5), result.TicketsProcessed)
	require.Len(t, partial.Failures, 1)
	failure := partial.Failures[0]
	assert.Equal(t, bob.Hex(), failure.BuyerID)
	assert.Equal(t, "bob", failure.Username)
	assert.Equal(t, int64(30), failure.Amount)
	assert.Equal(t, int64(3), failure.TicketCount)
	assert.Contains(t, failure.Error, "boom")

	assert.Equal(t, int64(100), e.users.balance(t, alice))
	assert.Equal(t, int64(70), e.users.balance(t, bob))

	stored := e.raffles.get(t, raffle.ID)
	assert.Equal(t, models.RaffleStatusCancelled, stored.Status)
	require.Len(t, stored.RefundFailures, 1)
	assert.Equal(t, bob.Hex(), stored.RefundFailures[0].BuyerID)
	assert.Equal(t, int64(30), stored.RefundFailures[0].Amount)
	assert.Len(t, result.Raffle.RefundFailures, 1)
}

func TestCancelRaffle_RefundsAfterRequestDropped(t *testing.T) {
	e := newTestEngine(t)
	raffle := e.activeRaffle(t, 10, nil)
	alice := e.addUser(t, "alice", 100)
	bob := e.addUser(t, "bob", 100)
	_, err := e.buy(t, raffle.ID, alice, 2)
	require.NoError(t, err)
	_, err = e.buy(t, raffle.ID, bob, 4)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.raffles.afterTransition = cancel

	result, err := e.svc.CancelRaffle(ctx, raffle.ID.Hex(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, result.BuyersRefunded)
	assert.Equal(t, int64(100), e.users.balance(t, alice))
	assert.Equal(t, int64(100), e.users.balance(t, bob))
	assert.Empty(t, e.raffles.get(t, raffle.ID).RefundFailures)
}

func TestCancelRaffle_ConservesCoins(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	raffle := e.activeRaffle(t, 7, int64Ptr(10))

	buyers := make([]primitive.ObjectID, 6)
	var before int64
	for i := range buyers {
		buyers[i] = e.addUser(t, "buyer"+string(rune('a'+i)), 100)
		before += 100
	}
	for i, b := range buyers {
		_, err := e.buy(t, raffle.ID, b, int64(i+1))
		require.NoError(t, err)
	}

	result, err := e.svc.CancelRaffle(ctx, raffle.ID.Hex(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(7*21), result.TotalRefunded)

	var after int64
	for _, b := range buyers {
		after += e.users.balance(t, b)
	}
	assert.Equal(t, before, after)
}

func TestCancelRaffle_WaitsForInFlightTickets(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	raffle := e.activeRaffle(t, 10, nil)
	buyer := e.addUser(t, "inflight", 100)
	_, err := e.buy(t, raffle.ID, buyer, 1)
	require.NoError(t, err)

	// A second purchase allocated and debited but has not written its ticket yet
	_, err = e.ledger.Debit(ctx, buyer.Hex(), 10, models.CoinCategoryRafflePurchase, "in flight", nil)
	require.NoError(t, err)
	e.raffles.mu.Lock()
	e.raffles.raffles[raffle.ID].TotalTicketsSold = 2
	e.raffles.raffles[raffle.ID].TicketSequence = 2
	e.raffles.mu.Unlock()

	e.svc.sleep = func(context.Context, time.Duration) error {
		return e.tickets.InsertMany(ctx, []*models.Ticket{{
			ID: primitive.NewObjectID(), RaffleID: raffle.ID, BuyerID: buyer, BuyerUsername: "inflight",
			TicketNumber: 2, AmountPaid: 10,
		}})
	}

	result, err := e.svc.CancelRaffle(ctx, raffle.ID.Hex(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TicketsProcessed)
	assert.Equal(t, int64(100), e.users.balance(t, buyer))
}

func TestCancelRaffle_InvalidID(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.svc.CancelRaffle(context.Background(), "nope", "")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = e.svc.CancelRaffle(context.Background(), primitive.NewObjectID().Hex(), "")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}
