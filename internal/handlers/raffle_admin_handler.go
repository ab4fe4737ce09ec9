package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/diehardfans/raffle-api/internal/services"
	"github.com/gin-gonic/gin"
)

// RaffleAdminHandler handles administrator raffle requests
type RaffleAdminHandler struct {
	raffleService services.RaffleService
}

// NewRaffleAdminHandler creates a new RaffleAdminHandler
func NewRaffleAdminHandler(raffleService services.RaffleService) *RaffleAdminHandler {
	return &RaffleAdminHandler{
		raffleService: raffleService,
	}
}

// ListRaffles handles GET /admin/raffles
func (h *RaffleAdminHandler) ListRaffles(c *gin.Context) {
	raffles, err := h.raffleService.ListRaffles(c.Request.Context(), raffleFilter(c, nil))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"raffles": raffles})
}

// CreateRaffle handles POST /admin/raffles
func (h *RaffleAdminHandler) CreateRaffle(c *gin.Context) {
	var input services.CreateRaffleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	input.CreatedBy, _, _ = currentUser(c)

	raffle, err := h.raffleService.CreateRaffle(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, raffle)
}

// GetRaffle handles GET /admin/raffles/:id
func (h *RaffleAdminHandler) GetRaffle(c *gin.Context) {
	raffle, err := h.raffleService.GetRaffle(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, raffle)
}

// UpdateRaffle handles PUT /admin/raffles/:id
func (h *RaffleAdminHandler) UpdateRaffle(c *gin.Context) {
	var input services.UpdateRaffleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	raffle, err := h.raffleService.UpdateRaffle(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, raffle)
}

// DeleteRaffle handles DELETE /admin/raffles/:id
func (h *RaffleAdminHandler) DeleteRaffle(c *gin.Context) {
	if err := h.raffleService.DeleteRaffle(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Raffle deleted successfully"})
}

// ActivateRaffle handles POST /admin/raffles/:id/activate
func (h *RaffleAdminHandler) ActivateRaffle(c *gin.Context) {
	raffle, err := h.raffleService.ActivateRaffle(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, raffle)
}

// DrawWinner handles POST /admin/raffles/:id/draw
func (h *RaffleAdminHandler) DrawWinner(c *gin.Context) {
	result, err := h.raffleService.DrawWinner(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CancelRaffle handles POST /admin/raffles/:id/cancel
func (h *RaffleAdminHandler) CancelRaffle(c *gin.Context) {
	var request struct {
		Reason string `json:"reason"`
	}
	// The body is optional; chunked requests carry no Content-Length
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := h.raffleService.CancelRaffle(c.Request.Context(), c.Param("id"), request.Reason)
	var partial *services.PartialFailureError
	if errors.As(err, &partial) && result != nil {
		c.JSON(http.StatusMultiStatus, gin.H{
			"error":    partial.Error(),
			"result":   result,
			"failures": partial.Failures,
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// UploadImage handles POST /admin/raffles/:id/images (multipart field "image")
func (h *RaffleAdminHandler) UploadImage(c *gin.Context) {
	header, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read image"})
		return
	}
	defer file.Close()

	raffle, err := h.raffleService.AddRaffleImage(c.Request.Context(), c.Param("id"), services.ImageUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, raffle)
}
