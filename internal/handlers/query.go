package handlers

import (
	"strconv"
	"strings"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/gin-gonic/gin"
)

// raffleFilter reads status, teamTag, page and limit query parameters.
// status accepts a comma separated list; fallback applies when it is absent.
func raffleFilter(c *gin.Context, fallback []models.RaffleStatus) models.RaffleFilter {
	filter := models.RaffleFilter{
		Statuses: fallback,
		TeamTag:  strings.TrimSpace(c.Query("teamTag")),
		Page:     queryInt(c, "page"),
		Limit:    queryInt(c, "limit"),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		filter.Statuses = nil
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Statuses = append(filter.Statuses, models.RaffleStatus(strings.ToLower(part)))
			}
		}
	}
	return filter
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}
