package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/repositories"
	"github.com/diehardfans/raffle-api/pkg/jwt"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by Login for an unknown email or a wrong password
var ErrInvalidCredentials = errors.New("invalid email or password")

type authService struct {
	userRepo    repositories.UserRepository
	ledger      CoinLedger
	tokens      *jwt.TokenService
	signupBonus int64
}

// NewAuthService creates a new AuthService implementation
func NewAuthService(userRepo repositories.UserRepository, ledger CoinLedger, tokens *jwt.TokenService, signupBonus int64) AuthService {
	return &authService{
		userRepo:    userRepo,
		ledger:      ledger,
		tokens:      tokens,
		signupBonus: signupBonus,
	}
}

// Register handles user registration
func (s *authService) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, &ValidationError{Field: "email", Message: "is not a valid address"}
	}
	username := strings.TrimSpace(req.Username)
	if len(username) < 3 {
		return nil, &ValidationError{Field: "username", Message: "must be at least 3 characters"}
	}
	if len(req.Password) < 6 {
		return nil, &ValidationError{Field: "password", Message: "must be at least 6 characters"}
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &models.User{
		ID:        primitive.NewObjectID(),
		Username:  username,
		Email:     email,
		Password:  string(hashedPassword),
		Role:      models.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, &ConflictError{Message: "email or username already registered"}
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if s.signupBonus > 0 {
		balance, err := s.ledger.Credit(ctx, user.ID.Hex(), s.signupBonus, models.CoinCategorySignupBonus, "Welcome bonus", nil)
		if err != nil {
			log.Error().Err(err).Str("userId", user.ID.Hex()).Msg("Failed to credit signup bonus")
		} else {
			user.Coins = balance
		}
	}

	log.Info().Str("userId", user.ID.Hex()).Str("username", username).Msg("User registered")
	user.Password = ""
	return user, nil
}

// Login checks the credentials and issues a signed token
func (s *authService) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	user, err := s.userRepo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID.Hex(), user.Username, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	user.Password = ""
	return &models.LoginResponse{
		Token:     token,
		ExpiresIn: int(s.tokens.ExpiresIn().Seconds()),
		User:      user,
	}, nil
}
