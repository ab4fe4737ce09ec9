package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/repositories"
	"github.com/diehardfans/raffle-api/pkg/events"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// In-memory repositories with the same conditional-update semantics as the Mongo implementations.
// Writes fail with ctx.Err() once their context is done, as the driver does.

type fakeRaffleRepo struct {
	mu      sync.Mutex
	raffles map[primitive.ObjectID]*models.Raffle
	order   []primitive.ObjectID

	// afterAllocate runs after a successful allocation, outside the lock
	afterAllocate func()
	// beforeAllocate replaces the allocation result when it returns an error
	beforeAllocate func() error
	// afterTransition runs after a successful transition, outside the lock
	afterTransition func()
}

func newFakeRaffleRepo() *fakeRaffleRepo {
	return &fakeRaffleRepo{raffles: map[primitive.ObjectID]*models.Raffle{}}
}

func cloneRaffle(r *models.Raffle) *models.Raffle {
	c := *r
	c.Images = append([]string{}, r.Images...)
	c.RefundFailures = append([]models.RefundFailure(nil), r.RefundFailures...)
	return &c
}

func containsStatus(list []models.RaffleStatus, s models.RaffleStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (f *fakeRaffleRepo) Create(_ context.Context, raffle *models.Raffle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if raffle.ID.IsZero() {
		raffle.ID = primitive.NewObjectID()
	}
	for _, existing := range f.raffles {
		if existing.Slug == raffle.Slug {
			return repositories.ErrDuplicate
		}
	}
	f.raffles[raffle.ID] = cloneRaffle(raffle)
	f.order = append(f.order, raffle.ID)
	return nil
}

func (f *fakeRaffleRepo) FindByID(_ context.Context, id primitive.ObjectID) (*models.Raffle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.raffles[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return cloneRaffle(r), nil
}

func (f *fakeRaffleRepo) FindBySlug(_ context.Context, slug string) (*models.Raffle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.raffles {
		if r.Slug == slug {
			return cloneRaffle(r), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeRaffleRepo) FindAll(_ context.Context, filter models.RaffleFilter) ([]*models.Raffle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Raffle{}
	for _, id := range f.order {
		r, ok := f.raffles[id]
		if !ok {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, r.Status) {
			continue
		}
		if filter.TeamTag != "" && r.TeamTag != filter.TeamTag {
			continue
		}
		out = append(out, cloneRaffle(r))
	}
	return out, nil
}

func (f *fakeRaffleRepo) FindDueForDraw(_ context.Context, now time.Time) ([]*models.Raffle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Raffle{}
	for _, id := range f.order {
		if r, ok := f.raffles[id]; ok && r.Status == models.RaffleStatusActive && !r.DrawDate.After(now) {
			out = append(out, cloneRaffle(r))
		}
	}
	return out, nil
}

func (f *fakeRaffleRepo) FindDueForOpening(_ context.Context, now time.Time) ([]*models.Raffle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Raffle{}
	for _, id := range f.order {
		if r, ok := f.raffles[id]; ok && r.Status == models.RaffleStatusDraft && r.OpensAt != nil && !r.OpensAt.After(now) {
			out = append(out, cloneRaffle(r))
		}
	}
	return out, nil
}

func (f *fakeRaffleRepo) Update(_ context.Context, id primitive.ObjectID, from []models.RaffleStatus, changes models.RaffleChanges) (*models.Raffle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.raffles[id]
	if !ok || !containsStatus(from, r.Status) {
		return nil, repositories.ErrConflict
	}
	if changes.Title != nil {
		r.Title = *changes.Title
	}
	if changes.Slug != nil {
		r.Slug = *changes.Slug
	}
	if changes.Description != nil {
		r.Description = *changes.Description
	}
	if changes.Images != nil {
		r.Images = append([]string{}, changes.Images...)
	}
	if changes.TeamTag != nil {
		r.TeamTag = *changes.TeamTag
	}
	if changes.EstimatedValue != nil {
		r.EstimatedValue = *changes.EstimatedValue
	}
	if changes.TicketPrice != nil {
		r.TicketPrice = *changes.TicketPrice
	}
	if changes.ClearMaxTickets {
		r.MaxTicketsPerUser = nil
	} else if changes.MaxTicketsPerUser != nil {
		v := *changes.MaxTicketsPerUser
		r.MaxTicketsPerUser = &v
	}
	if changes.OpensAt != nil {
		v := *changes.OpensAt
		r.OpensAt = &v
	}
	if changes.DrawDate != nil {
		r.DrawDate = *changes.DrawDate
	}
	if changes.Status != nil {
		r.Status = *changes.Status
	}
	return cloneRaffle(r), nil
}

func (f *fakeRaffleRepo) AddImage(_ context.Context, id primitive.ObjectID, from []models.RaffleStatus, url string) (*models.Raffle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.raffles[id]
	if !ok || !containsStatus(from, r.Status) {
		return nil, repositories.ErrConflict
	}
	r.Images = append(r.Images, url)
	return cloneRaffle(r), nil
}

func (f *fakeRaffleRepo) Transition(ctx context.Context, id primitive.ObjectID, t models.RaffleTransition) (*models.Raffle, error) {
	out, err := f.transition(ctx, id, t)
	if err == nil && f.afterTransition != nil {
		f.afterTransition()
	}
	return out, err
}

func (f *fakeRaffleRepo) transition(ctx context.Context, id primitive.ObjectID, t models.RaffleTransition) (*models.Raffle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.raffles[id]
	if !ok || !containsStatus(t.From, r.Status) {
		return nil, repositories.ErrConflict
	}
	if t.ExpectedSold != nil && r.TotalTicketsSold != *t.ExpectedSold {
		return nil, repositories.ErrConflict
	}
	r.Status = t.To
	r.UpdatedAt = t.At
	if t.To.IsTerminal() {
		at := t.At
		r.CompletedAt = &at
	}
	if t.CancelReason != "" {
		r.CancelReason = t.CancelReason
	}
	if t.Winner != nil {
		w := *t.Winner
		r.WinnerID = &w.BuyerID
		r.WinnerUsername = &w.Username
		r.WinnerTicketID = &w.TicketID
		r.WinnerTicketNo = &w.TicketNumber
	}
	return cloneRaffle(r), nil
}

func (f *fakeRaffleRepo) AllocateTickets(ctx context.Context, id primitive.ObjectID, quantity int64, now time.Time) (*models.Raffle, error) {
	if f.beforeAllocate != nil {
		if err := f.beforeAllocate(); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	r, ok := f.raffles[id]
	if !ok || r.Status != models.RaffleStatusActive || !r.DrawDate.After(now) {
		f.mu.Unlock()
		return nil, repositories.ErrConflict
	}
	r.TicketSequence += quantity
	r.TotalTicketsSold += quantity
	out := cloneRaffle(r)
	hook := f.afterAllocate
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeRaffleRepo) ReleaseTickets(ctx context.Context, id primitive.ObjectID, quantity int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.raffles[id]
	if !ok || r.TotalTicketsSold < quantity {
		return repositories.ErrConflict
	}
	r.TotalTicketsSold -= quantity
	return nil
}

func (f *fakeRaffleRepo) Delete(_ context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.raffles[id]
	if !ok || r.TotalTicketsSold != 0 || r.Status == models.RaffleStatusCompleted {
		return repositories.ErrConflict
	}
	delete(f.raffles, id)
	return nil
}

func (f *fakeRaffleRepo) RecordRefundFailures(ctx context.Context, id primitive.ObjectID, failures []models.RefundFailure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.raffles[id]
	if !ok {
		return repositories.ErrNotFound
	}
	r.RefundFailures = append(r.RefundFailures, failures...)
	return nil
}

func (f *fakeRaffleRepo) get(t *testing.T, id primitive.ObjectID) *models.Raffle {
	t.Helper()
	r, err := f.FindByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

type fakeTicketRepo struct {
	mu        sync.Mutex
	tickets   []*models.Ticket
	insertErr error
	// keepOnError is how many leading tickets an ordered batch stores before insertErr
	keepOnError int
}

func (f *fakeTicketRepo) InsertMany(ctx context.Context, tickets []*models.Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		for i := 0; i < f.keepOnError && i < len(tickets); i++ {
			c := *tickets[i]
			f.tickets = append(f.tickets, &c)
		}
		return f.insertErr
	}
	for _, t := range tickets {
		for _, existing := range f.tickets {
			if existing.RaffleID == t.RaffleID && existing.TicketNumber == t.TicketNumber {
				return repositories.ErrDuplicate
			}
		}
	}
	for _, t := range tickets {
		c := *t
		f.tickets = append(f.tickets, &c)
	}
	return nil
}

func (f *fakeTicketRepo) DeleteByPurchase(ctx context.Context, raffleID primitive.ObjectID, purchaseID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.tickets[:0]
	var removed int64
	for _, t := range f.tickets {
		if t.RaffleID == raffleID && t.PurchaseID == purchaseID {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	f.tickets = kept
	return removed, nil
}

func (f *fakeTicketRepo) filter(keep func(*models.Ticket) bool) []*models.Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Ticket{}
	for _, t := range f.tickets {
		if keep(t) {
			c := *t
			out = append(out, &c)
		}
	}
	return out
}

func (f *fakeTicketRepo) FindByRaffle(_ context.Context, raffleID primitive.ObjectID) ([]*models.Ticket, error) {
	return f.filter(func(t *models.Ticket) bool { return t.RaffleID == raffleID }), nil
}

func (f *fakeTicketRepo) FindByRaffleAndBuyer(_ context.Context, raffleID, buyerID primitive.ObjectID) ([]*models.Ticket, error) {
	return f.filter(func(t *models.Ticket) bool { return t.RaffleID == raffleID && t.BuyerID == buyerID }), nil
}

func (f *fakeTicketRepo) FindByBuyer(_ context.Context, buyerID primitive.ObjectID, page, limit int) ([]*models.Ticket, error) {
	out := f.filter(func(t *models.Ticket) bool { return t.BuyerID == buyerID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].PurchasedAt.After(out[j].PurchasedAt) })
	start := (page - 1) * limit
	if start >= len(out) {
		return []*models.Ticket{}, nil
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func (f *fakeTicketRepo) CountByRaffle(ctx context.Context, raffleID primitive.ObjectID) (int64, error) {
	tickets, _ := f.FindByRaffle(ctx, raffleID)
	return int64(len(tickets)), nil
}

func (f *fakeTicketRepo) MarkWinner(_ context.Context, ticketID primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tickets {
		if t.ID == ticketID && !t.IsWinner {
			t.IsWinner = true
			return nil
		}
	}
	return repositories.ErrConflict
}

func (f *fakeTicketRepo) SummarizeByBuyer(ctx context.Context, raffleID primitive.ObjectID) ([]*models.BuyerTicketSummary, error) {
	tickets, _ := f.FindByRaffle(ctx, raffleID)
	byBuyer := map[primitive.ObjectID]*models.BuyerTicketSummary{}
	var order []primitive.ObjectID
	for _, t := range tickets {
		s, ok := byBuyer[t.BuyerID]
		if !ok {
			s = &models.BuyerTicketSummary{BuyerID: t.BuyerID, Username: t.BuyerUsername}
			byBuyer[t.BuyerID] = s
			order = append(order, t.BuyerID)
		}
		s.TicketCount++
		s.AmountPaid += t.AmountPaid
	}
	out := make([]*models.BuyerTicketSummary, 0, len(order))
	for _, id := range order {
		out = append(out, byBuyer[id])
	}
	return out, nil
}

type entryKey struct{ raffle, buyer primitive.ObjectID }

type fakeEntryRepo struct {
	mu     sync.Mutex
	counts map[entryKey]int64
}

func newFakeEntryRepo() *fakeEntryRepo {
	return &fakeEntryRepo{counts: map[entryKey]int64{}}
}

func (f *fakeEntryRepo) Reserve(_ context.Context, raffleID, buyerID primitive.ObjectID, quantity, limit int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := entryKey{raffleID, buyerID}
	if limit > 0 && f.counts[k]+quantity > limit {
		return 0, repositories.ErrLimitExceeded
	}
	f.counts[k] += quantity
	return f.counts[k], nil
}

func (f *fakeEntryRepo) Release(ctx context.Context, raffleID, buyerID primitive.ObjectID, quantity int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := entryKey{raffleID, buyerID}
	if f.counts[k] < quantity {
		return repositories.ErrConflict
	}
	f.counts[k] -= quantity
	return nil
}

func (f *fakeEntryRepo) Count(_ context.Context, raffleID, buyerID primitive.ObjectID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[entryKey{raffleID, buyerID}], nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[primitive.ObjectID]*models.User
	// creditErr makes Credit fail for the given users
	creditErr map[primitive.ObjectID]error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:     map[primitive.ObjectID]*models.User{},
		creditErr: map[primitive.ObjectID]error{},
	}
}

func (f *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email || u.Username == user.Username {
			return repositories.ErrDuplicate
		}
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	c := *user
	f.users[user.ID] = &c
	return nil
}

func (f *fakeUserRepo) FindByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeUserRepo) Debit(ctx context.Context, id primitive.ObjectID, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return 0, repositories.ErrNotFound
	}
	if u.Coins < amount {
		return 0, repositories.ErrInsufficientBalance
	}
	u.Coins -= amount
	return u.Coins, nil
}

func (f *fakeUserRepo) Credit(ctx context.Context, id primitive.ObjectID, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.creditErr[id]; err != nil {
		return 0, err
	}
	u, ok := f.users[id]
	if !ok {
		return 0, repositories.ErrNotFound
	}
	u.Coins += amount
	return u.Coins, nil
}

func (f *fakeUserRepo) balance(t *testing.T, id primitive.ObjectID) int64 {
	t.Helper()
	u, err := f.FindByID(context.Background(), id)
	require.NoError(t, err)
	return u.Coins
}

type fakeTransactionRepo struct {
	mu      sync.Mutex
	entries []*models.CoinTransaction
}

func (f *fakeTransactionRepo) Create(_ context.Context, tx *models.CoinTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *tx
	f.entries = append(f.entries, &c)
	return nil
}

func (f *fakeTransactionRepo) FindByUserID(_ context.Context, userID primitive.ObjectID, limit int) ([]*models.CoinTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.CoinTransaction{}
	for i := len(f.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if f.entries[i].UserID == userID {
			c := *f.entries[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeTransactionRepo) byCategory(category string) []*models.CoinTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.CoinTransaction
	for _, e := range f.entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

type fakeSettingsRepo struct {
	mu       sync.Mutex
	settings models.SystemSettings
}

func (f *fakeSettingsRepo) GetSettings(context.Context) (*models.SystemSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.settings
	return &c, nil
}

func (f *fakeSettingsRepo) UpdateSettings(_ context.Context, settings *models.SystemSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = *settings
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeImageStore struct {
	keys []string
	err  error
}

func (f *fakeImageStore) Upload(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	f.keys = append(f.keys, key)
	return "https://cdn.example.com/" + key, nil
}

// --- test engine ---

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type testEngine struct {
	svc       *RaffleServiceImpl
	raffles   *fakeRaffleRepo
	tickets   *fakeTicketRepo
	entries   *fakeEntryRepo
	users     *fakeUserRepo
	txs       *fakeTransactionRepo
	settings  *fakeSettingsRepo
	ledger    *CoinLedgerImpl
	publisher *recordingPublisher
	images    *fakeImageStore
	admin     primitive.ObjectID
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	e := &testEngine{
		raffles:   newFakeRaffleRepo(),
		tickets:   &fakeTicketRepo{},
		entries:   newFakeEntryRepo(),
		users:     newFakeUserRepo(),
		txs:       &fakeTransactionRepo{},
		settings:  &fakeSettingsRepo{settings: models.SystemSettings{MaxQuantityPerPurchase: 100, PurchasesEnabled: true}},
		publisher: &recordingPublisher{},
		images:    &fakeImageStore{},
		admin:     primitive.NewObjectID(),
	}
	e.ledger = NewCoinLedger(e.users, e.txs)
	e.ledger.now = func() time.Time { return testNow }
	e.svc = NewRaffleService(RaffleDependencies{
		Raffles:   e.raffles,
		Tickets:   e.tickets,
		Entries:   e.entries,
		Settings:  e.settings,
		Ledger:    e.ledger,
		Publisher: e.publisher,
		Images:    e.images,
	}, RaffleOptions{RefundConcurrency: 4, DrawAttempts: 3, MaxImageBytes: 1 << 20})
	e.svc.now = func() time.Time { return testNow }
	e.svc.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func (e *testEngine) addUser(t *testing.T, username string, coins int64) primitive.ObjectID {
	t.Helper()
	u := &models.User{
		ID:       primitive.NewObjectID(),
		Username: username,
		Email:    username + "@example.com",
		Role:     models.RoleUser,
		Coins:    coins,
	}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u.ID
}

// activeRaffle creates and activates a raffle drawing in one day
func (e *testEngine) activeRaffle(t *testing.T, price int64, limit *int64) *models.Raffle {
	t.Helper()
	ctx := context.Background()
	r, err := e.svc.CreateRaffle(ctx, CreateRaffleInput{
		Title:             "Signed Jersey " + primitive.NewObjectID().Hex()[18:],
		TicketPrice:       price,
		MaxTicketsPerUser: limit,
		DrawDate:          testNow.Add(24 * time.Hour),
		CreatedBy:         e.admin.Hex(),
	})
	require.NoError(t, err)
	r, err = e.svc.ActivateRaffle(ctx, r.ID.Hex())
	require.NoError(t, err)
	return r
}

func (e *testEngine) buy(t *testing.T, raffleID, buyerID primitive.ObjectID, quantity int64) (*PurchaseResult, error) {
	t.Helper()
	u, err := e.users.FindByID(context.Background(), buyerID)
	require.NoError(t, err)
	return e.svc.PurchaseTickets(context.Background(), PurchaseInput{
		BuyerID:       buyerID.Hex(),
		BuyerUsername: u.Username,
		RaffleID:      raffleID.Hex(),
		Quantity:      quantity,
	})
}

func int64Ptr(v int64) *int64 { return &v }

var errBoom = errors.New("boom")
