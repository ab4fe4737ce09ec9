package handlers

import (
	"net/http"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/services"
	"github.com/gin-gonic/gin"
)

// RaffleHandler handles fan-facing raffle requests
type RaffleHandler struct {
	raffleService services.RaffleService
	ledger        services.CoinLedger
}

// NewRaffleHandler creates a new RaffleHandler
func NewRaffleHandler(raffleService services.RaffleService, ledger services.CoinLedger) *RaffleHandler {
	return &RaffleHandler{
		raffleService: raffleService,
		ledger:        ledger,
	}
}

// PurchaseRequest is the body of a ticket purchase
type PurchaseRequest struct {
	Quantity int64 `json:"quantity" binding:"required"`
}

// ListRaffles handles GET /raffles. Only active raffles are listed unless a status is given.
func (h *RaffleHandler) ListRaffles(c *gin.Context) {
	filter := raffleFilter(c, []models.RaffleStatus{models.RaffleStatusActive})
	raffles, err := h.raffleService.ListRaffles(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"raffles": raffles})
}

// GetRaffleBySlug handles GET /raffles/slug/:slug
func (h *RaffleHandler) GetRaffleBySlug(c *gin.Context) {
	raffle, err := h.raffleService.GetRaffleBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, raffle)
}

// GetRaffle handles GET /raffles/:id
func (h *RaffleHandler) GetRaffle(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	detail, err := h.raffleService.GetRaffleDetail(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// PurchaseTickets handles POST /raffles/:id/purchase
func (h *RaffleHandler) PurchaseTickets(c *gin.Context) {
	userID, username, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.raffleService.PurchaseTickets(c.Request.Context(), services.PurchaseInput{
		BuyerID:       userID,
		BuyerUsername: username,
		RaffleID:      c.Param("id"),
		Quantity:      req.Quantity,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// MyTickets handles GET /me/tickets
func (h *RaffleHandler) MyTickets(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	tickets, err := h.raffleService.ListBuyerTickets(c.Request.Context(), userID, queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

// MyBalance handles GET /me/balance
func (h *RaffleHandler) MyBalance(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), userID, 20)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}
