package handlers

import (
	"errors"
	"net/http"

	"github.com/diehardfans/raffle-api/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// respondError maps service errors to HTTP responses
func respondError(c *gin.Context, err error) {
	var (
		validation *services.ValidationError
		notFound   *services.NotFoundError
		conflict   *services.ConflictError
		limit      *services.LimitExceededError
		balance    *services.InsufficientBalanceError
		partial    *services.PartialFailureError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &conflict):
		body := gin.H{"error": conflict.Message}
		if conflict.Status != "" {
			body["status"] = conflict.Status
		}
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &limit):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": limit.Message, "limit": limit.Limit, "remaining": limit.Remaining})
	case errors.As(err, &balance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": balance.Error(), "required": balance.Required})
	case errors.As(err, &partial):
		c.JSON(http.StatusMultiStatus, gin.H{"error": partial.Error(), "failures": partial.Failures})
	case errors.Is(err, services.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// currentUser returns the authenticated caller set by the JWT middleware
func currentUser(c *gin.Context) (id, username string, ok bool) {
	id = c.GetString("userID")
	username = c.GetString("username")
	return id, username, id != ""
}
