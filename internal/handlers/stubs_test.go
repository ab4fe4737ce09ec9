package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/services"
	"github.com/gin-gonic/gin"
)

// stubRaffles overrides only the calls a test needs; anything else panics on the nil interface
type stubRaffles struct {
	services.RaffleService

	purchase func(services.PurchaseInput) (*services.PurchaseResult, error)
	cancel   func(id, reason string) (*services.CancelResult, error)
	draw     func(id string) (*services.DrawResult, error)
	list     func(models.RaffleFilter) ([]*models.Raffle, error)
	create   func(services.CreateRaffleInput) (*models.Raffle, error)
	detail   func(id, viewer string) (*services.RaffleDetail, error)
	addImage func(id string, upload services.ImageUpload) (*models.Raffle, error)
}

func (s *stubRaffles) PurchaseTickets(_ context.Context, in services.PurchaseInput) (*services.PurchaseResult, error) {
	return s.purchase(in)
}

func (s *stubRaffles) CancelRaffle(_ context.Context, id, reason string) (*services.CancelResult, error) {
	return s.cancel(id, reason)
}

func (s *stubRaffles) DrawWinner(_ context.Context, id string) (*services.DrawResult, error) {
	return s.draw(id)
}

func (s *stubRaffles) ListRaffles(_ context.Context, f models.RaffleFilter) ([]*models.Raffle, error) {
	return s.list(f)
}

func (s *stubRaffles) CreateRaffle(_ context.Context, in services.CreateRaffleInput) (*models.Raffle, error) {
	return s.create(in)
}

func (s *stubRaffles) GetRaffleDetail(_ context.Context, id, viewer string) (*services.RaffleDetail, error) {
	return s.detail(id, viewer)
}

func (s *stubRaffles) AddRaffleImage(_ context.Context, id string, upload services.ImageUpload) (*models.Raffle, error) {
	return s.addImage(id, upload)
}

func init() {
	gin.SetMode(gin.TestMode)
}

// asUser stands in for the JWT middleware
func asUser(id, username string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id != "" {
			c.Set("userID", id)
			c.Set("username", username)
		}
		c.Next()
	}
}

func serve(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
