package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/diehardfans/raffle-api/internal/metrics"
	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/repositories"
	"github.com/diehardfans/raffle-api/internal/utils"
	"github.com/diehardfans/raffle-api/pkg/events"
	"github.com/diehardfans/raffle-api/pkg/storage"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Compile-time check to ensure RaffleServiceImpl implements RaffleService
var _ RaffleService = (*RaffleServiceImpl)(nil)

const defaultBackoutTimeout = 10 * time.Second

// RaffleOptions tunes the engine
type RaffleOptions struct {
	// RefundConcurrency bounds parallel credits during cancellation
	RefundConcurrency int
	// DrawAttempts bounds how often a draw waits for in-flight purchases
	DrawAttempts int
	SettleWait   time.Duration
	// BackoutTimeout bounds each compensating write and refund credit.
	// These run detached from the caller's context.
	BackoutTimeout time.Duration
	// MaxImageBytes rejects larger uploads; 0 disables the check
	MaxImageBytes int64
}

// RaffleDependencies groups the collaborators of the raffle engine
type RaffleDependencies struct {
	Raffles   repositories.RaffleRepository
	Tickets   repositories.TicketRepository
	Entries   repositories.RaffleEntryRepository
	Settings  repositories.SystemSettingsRepository
	Ledger    CoinLedger
	Publisher events.Publisher
	Images    storage.ImageStore
	Metrics   *metrics.Metrics
}

// RaffleServiceImpl implements the raffle lifecycle, purchases, draws and refunds
type RaffleServiceImpl struct {
	raffleRepo   repositories.RaffleRepository
	ticketRepo   repositories.TicketRepository
	entryRepo    repositories.RaffleEntryRepository
	settingsRepo repositories.SystemSettingsRepository
	ledger       CoinLedger
	publisher    events.Publisher
	images       storage.ImageStore
	metrics      *metrics.Metrics
	opts         RaffleOptions

	now    func() time.Time
	pick   func(n int) (int, error)
	sleep  func(ctx context.Context, d time.Duration) error
	newKey func() string
}

// NewRaffleService creates a new RaffleServiceImpl
func NewRaffleService(deps RaffleDependencies, opts RaffleOptions) *RaffleServiceImpl {
	if opts.RefundConcurrency < 1 {
		opts.RefundConcurrency = 1
	}
	if opts.DrawAttempts < 1 {
		opts.DrawAttempts = 1
	}
	if opts.BackoutTimeout <= 0 {
		opts.BackoutTimeout = defaultBackoutTimeout
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	images := deps.Images
	if images == nil {
		images = storage.DisabledStore{}
	}
	return &RaffleServiceImpl{
		raffleRepo:   deps.Raffles,
		ticketRepo:   deps.Tickets,
		entryRepo:    deps.Entries,
		settingsRepo: deps.Settings,
		ledger:       deps.Ledger,
		publisher:    publisher,
		images:       images,
		metrics:      deps.Metrics,
		opts:         opts,
		now:          time.Now,
		pick:         secureIndex,
		sleep:        sleepContext,
		newKey:       newPurchaseID,
	}
}

// --- Administration ---

// CreateRaffle validates the input and stores a new draft raffle
func (s *RaffleServiceImpl) CreateRaffle(ctx context.Context, input CreateRaffleInput) (*models.Raffle, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, &ValidationError{Field: "title", Message: "is required"}
	}
	now := s.now()
	if !input.DrawDate.After(now) {
		return nil, &ValidationError{Field: "drawDate", Message: "must be in the future"}
	}
	if err := validatePricing(&input.TicketPrice, &input.EstimatedValue, input.MaxTicketsPerUser); err != nil {
		return nil, err
	}
	if input.OpensAt != nil && !input.OpensAt.Before(input.DrawDate) {
		return nil, &ValidationError{Field: "opensAt", Message: "must be before drawDate"}
	}

	id := primitive.NewObjectID()
	images := input.Images
	if images == nil {
		images = []string{}
	}
	raffle := &models.Raffle{
		ID:                id,
		Title:             title,
		Slug:              utils.RaffleSlug(title, id),
		Description:       input.Description,
		Images:            images,
		TeamTag:           strings.TrimSpace(input.TeamTag),
		EstimatedValue:    input.EstimatedValue,
		TicketPrice:       input.TicketPrice,
		MaxTicketsPerUser: input.MaxTicketsPerUser,
		Status:            models.RaffleStatusDraft,
		OpensAt:           input.OpensAt,
		DrawDate:          input.DrawDate,
		CreatedBy:         input.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.raffleRepo.Create(ctx, raffle); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, &ConflictError{Message: "a raffle with this slug already exists"}
		}
		return nil, fmt.Errorf("failed to create raffle: %w", err)
	}

	log.Info().Str("raffleId", id.Hex()).Str("title", title).Msg("Raffle created")
	return raffle, nil
}

// UpdateRaffle applies administrator changes to a draft or active raffle
func (s *RaffleServiceImpl) UpdateRaffle(ctx context.Context, id string, input UpdateRaffleInput) (*models.Raffle, error) {
	raffleID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	current, err := s.loadRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, statusConflict(current.Status)
	}

	changes := models.RaffleChanges{
		Description:       input.Description,
		Images:            input.Images,
		EstimatedValue:    input.EstimatedValue,
		TicketPrice:       input.TicketPrice,
		MaxTicketsPerUser: input.MaxTicketsPerUser,
		ClearMaxTickets:   input.ClearMaxTicketsPerUser,
		OpensAt:           input.OpensAt,
		DrawDate:          input.DrawDate,
	}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, &ValidationError{Field: "title", Message: "cannot be empty"}
		}
		slug := utils.RaffleSlug(title, raffleID)
		changes.Title = &title
		changes.Slug = &slug
	}
	if input.TeamTag != nil {
		tag := strings.TrimSpace(*input.TeamTag)
		changes.TeamTag = &tag
	}
	if err := validatePricing(input.TicketPrice, input.EstimatedValue, input.MaxTicketsPerUser); err != nil {
		return nil, err
	}
	if input.DrawDate != nil && !input.DrawDate.After(s.now()) {
		return nil, &ValidationError{Field: "drawDate", Message: "must be in the future"}
	}
	drawDate := current.DrawDate
	if input.DrawDate != nil {
		drawDate = *input.DrawDate
	}
	if input.OpensAt != nil && !input.OpensAt.Before(drawDate) {
		return nil, &ValidationError{Field: "opensAt", Message: "must be before drawDate"}
	}

	from := models.OpenStatuses
	if input.Status != nil {
		switch *input.Status {
		case current.Status:
		case models.RaffleStatusActive:
			changes.Status = input.Status
			from = []models.RaffleStatus{models.RaffleStatusDraft}
		case models.RaffleStatusCompleted, models.RaffleStatusCancelled:
			return nil, &ValidationError{Field: "status", Message: "use the draw or cancel operation to close a raffle"}
		case models.RaffleStatusDraft:
			return nil, &ValidationError{Field: "status", Message: "an active raffle cannot return to draft"}
		default:
			return nil, &ValidationError{Field: "status", Message: "unknown status"}
		}
	}

	updated, err := s.raffleRepo.Update(ctx, raffleID, from, changes)
	if err != nil {
		return nil, s.raceError(ctx, raffleID, err)
	}
	log.Info().Str("raffleId", id).Str("status", string(updated.Status)).Msg("Raffle updated")
	return updated, nil
}

// ActivateRaffle opens a draft raffle for ticket sales
func (s *RaffleServiceImpl) ActivateRaffle(ctx context.Context, id string) (*models.Raffle, error) {
	raffleID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	return s.activate(ctx, raffleID)
}

func (s *RaffleServiceImpl) activate(ctx context.Context, raffleID primitive.ObjectID) (*models.Raffle, error) {
	raffle, err := s.raffleRepo.Transition(ctx, raffleID, models.RaffleTransition{
		From: []models.RaffleStatus{models.RaffleStatusDraft},
		To:   models.RaffleStatusActive,
		At:   s.now(),
	})
	if err == nil {
		log.Info().Str("raffleId", raffleID.Hex()).Msg("Raffle activated")
		return raffle, nil
	}
	if !errors.Is(err, repositories.ErrConflict) {
		return nil, fmt.Errorf("failed to activate raffle: %w", err)
	}
	current, loadErr := s.loadRaffle(ctx, raffleID)
	if loadErr != nil {
		return nil, loadErr
	}
	if current.Status == models.RaffleStatusActive {
		return current, nil
	}
	return nil, statusConflict(current.Status)
}

// DeleteRaffle removes a raffle that never sold a ticket
func (s *RaffleServiceImpl) DeleteRaffle(ctx context.Context, id string) error {
	raffleID, err := parseID("id", id)
	if err != nil {
		return err
	}
	if _, err := s.loadRaffle(ctx, raffleID); err != nil {
		return err
	}
	if err := s.raffleRepo.Delete(ctx, raffleID); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return &ConflictError{Message: "raffle has sold tickets or is completed; cancel it instead"}
		}
		return fmt.Errorf("failed to delete raffle: %w", err)
	}
	log.Info().Str("raffleId", id).Msg("Raffle deleted")
	return nil
}

// AddRaffleImage uploads an image and appends its public URL to the raffle
func (s *RaffleServiceImpl) AddRaffleImage(ctx context.Context, id string, upload ImageUpload) (*models.Raffle, error) {
	raffleID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	if !utils.AllowedImageType(upload.ContentType) {
		return nil, &ValidationError{Field: "image", Message: "unsupported content type " + upload.ContentType}
	}
	if s.opts.MaxImageBytes > 0 && upload.Size > s.opts.MaxImageBytes {
		return nil, &ValidationError{Field: "image", Message: fmt.Sprintf("must not exceed %d bytes", s.opts.MaxImageBytes)}
	}
	current, err := s.loadRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, statusConflict(current.Status)
	}

	url, err := s.images.Upload(ctx, utils.RaffleImageKey(raffleID, upload.Filename), upload.ContentType, upload.Body, upload.Size)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			return nil, &ConflictError{Message: "image storage is not configured"}
		}
		return nil, fmt.Errorf("failed to upload image: %w", err)
	}
	updated, err := s.raffleRepo.AddImage(ctx, raffleID, models.OpenStatuses, url)
	if err != nil {
		return nil, s.raceError(ctx, raffleID, err)
	}
	return updated, nil
}

// --- Queries ---

// GetRaffle returns one raffle by id
func (s *RaffleServiceImpl) GetRaffle(ctx context.Context, id string) (*models.Raffle, error) {
	raffleID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	return s.loadRaffle(ctx, raffleID)
}

// GetRaffleBySlug returns one raffle by its URL slug
func (s *RaffleServiceImpl) GetRaffleBySlug(ctx context.Context, slug string) (*models.Raffle, error) {
	raffle, err := s.raffleRepo.FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, &NotFoundError{Resource: "raffle", ID: slug}
		}
		return nil, fmt.Errorf("failed to load raffle: %w", err)
	}
	return raffle, nil
}

// ListRaffles returns raffles matching the filter
func (s *RaffleServiceImpl) ListRaffles(ctx context.Context, filter models.RaffleFilter) ([]*models.Raffle, error) {
	for _, status := range filter.Statuses {
		if !status.IsValid() {
			return nil, &ValidationError{Field: "status", Message: "unknown status " + string(status)}
		}
	}
	filter.Page, filter.Limit = utils.Pagination(filter.Page, filter.Limit, 100)
	raffles, err := s.raffleRepo.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list raffles: %w", err)
	}
	return raffles, nil
}

// GetRaffleDetail returns a raffle with the viewer's tickets and remaining allowance
func (s *RaffleServiceImpl) GetRaffleDetail(ctx context.Context, id, viewerID string) (*RaffleDetail, error) {
	raffleID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	buyerID, err := parseID("userId", viewerID)
	if err != nil {
		return nil, err
	}
	raffle, err := s.loadRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	tickets, err := s.ticketRepo.FindByRaffleAndBuyer(ctx, raffleID, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tickets: %w", err)
	}

	detail := &RaffleDetail{
		Raffle:        raffle,
		MyTickets:     tickets,
		MyTicketCount: int64(len(tickets)),
	}
	if raffle.MaxTicketsPerUser != nil {
		remaining := *raffle.MaxTicketsPerUser - detail.MyTicketCount
		if remaining < 0 {
			remaining = 0
		}
		detail.RemainingAllowance = &remaining
	}
	return detail, nil
}

// ListBuyerTickets returns a buyer's tickets across all raffles, newest first
func (s *RaffleServiceImpl) ListBuyerTickets(ctx context.Context, buyerID string, page, limit int) ([]*models.Ticket, error) {
	id, err := parseID("userId", buyerID)
	if err != nil {
		return nil, err
	}
	page, limit = utils.Pagination(page, limit, 100)
	tickets, err := s.ticketRepo.FindByBuyer(ctx, id, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load tickets: %w", err)
	}
	return tickets, nil
}

// --- Scheduled work ---

// OpenScheduledRaffles activates drafts whose opening time has passed
func (s *RaffleServiceImpl) OpenScheduledRaffles(ctx context.Context) (int, error) {
	due, err := s.raffleRepo.FindDueForOpening(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to find raffles due for opening: %w", err)
	}
	opened := 0
	for _, raffle := range due {
		if _, err := s.activate(ctx, raffle.ID); err != nil {
			log.Warn().Err(err).Str("raffleId", raffle.ID.Hex()).Msg("Scheduled activation failed")
			continue
		}
		opened++
	}
	return opened, nil
}

// DrawDueRaffles settles every active raffle whose draw date has passed
func (s *RaffleServiceImpl) DrawDueRaffles(ctx context.Context) (int, error) {
	due, err := s.raffleRepo.FindDueForDraw(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to find raffles due for draw: %w", err)
	}
	drawn := 0
	for _, raffle := range due {
		if ctx.Err() != nil {
			return drawn, ctx.Err()
		}
		result, err := s.DrawWinner(ctx, raffle.ID.Hex())
		if err != nil {
			log.Warn().Err(err).Str("raffleId", raffle.ID.Hex()).Msg("Scheduled draw failed")
			continue
		}
		log.Info().Str("raffleId", raffle.ID.Hex()).Str("outcome", result.Outcome).Msg("Scheduled draw finished")
		drawn++
	}
	return drawn, nil
}

// --- helpers ---

func (s *RaffleServiceImpl) loadRaffle(ctx context.Context, id primitive.ObjectID) (*models.Raffle, error) {
	raffle, err := s.raffleRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, &NotFoundError{Resource: "raffle", ID: id.Hex()}
		}
		return nil, fmt.Errorf("failed to load raffle: %w", err)
	}
	return raffle, nil
}

// raceError explains a conditional update that matched nothing by reloading the raffle
func (s *RaffleServiceImpl) raceError(ctx context.Context, id primitive.ObjectID, err error) error {
	if errors.Is(err, repositories.ErrDuplicate) {
		return &ConflictError{Message: "a raffle with this slug already exists"}
	}
	if !errors.Is(err, repositories.ErrConflict) {
		return fmt.Errorf("raffle update failed: %w", err)
	}
	current, loadErr := s.loadRaffle(ctx, id)
	if loadErr != nil {
		return loadErr
	}
	return statusConflict(current.Status)
}

func (s *RaffleServiceImpl) publish(ctx context.Context, event events.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("type", event.Type).Str("raffleId", event.RaffleID).Msg("Failed to publish raffle event")
	}
}

func validatePricing(ticketPrice, estimatedValue, maxTickets *int64) error {
	if ticketPrice != nil && *ticketPrice <= 0 {
		return &ValidationError{Field: "ticketPrice", Message: "must be greater than zero"}
	}
	if estimatedValue != nil && *estimatedValue < 0 {
		return &ValidationError{Field: "estimatedValue", Message: "must not be negative"}
	}
	if maxTickets != nil && *maxTickets < 1 {
		return &ValidationError{Field: "maxTicketsPerUser", Message: "must be at least 1"}
	}
	return nil
}

// secureIndex returns a uniform index in [0, n) from crypto/rand
func secureIndex(n int) (int, error) {
	if n <= 0 {
		return 0, errors.New("cannot pick from an empty pool")
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// detached keeps ctx values but not its cancellation, so a write that must
// follow an earlier one still runs after the client has gone away.
func (s *RaffleServiceImpl) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.BackoutTimeout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
