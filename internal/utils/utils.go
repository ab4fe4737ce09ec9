package utils

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RaffleSlug builds a URL slug from a raffle title. The id suffix keeps
// slugs unique when two raffles share a title.
func RaffleSlug(title string, id primitive.ObjectID) string {
	base := slug.Make(title)
	if base == "" {
		base = "raffle"
	}
	if len(base) > 60 {
		base = strings.Trim(base[:60], "-")
	}
	hex := id.Hex()
	return base + "-" + hex[len(hex)-6:]
}

// RaffleImageKey returns the object key for an uploaded raffle image
func RaffleImageKey(raffleID primitive.ObjectID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	name := slug.Make(strings.TrimSuffix(path.Base(filename), path.Ext(filename)))
	if name == "" {
		name = "image"
	}
	return "raffles/" + raffleID.Hex() + "/" + name + "-" + uuid.NewString()[:8] + ext
}

// AllowedImageType reports whether the content type is an accepted image format
func AllowedImageType(contentType string) bool {
	switch strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])) {
	case "image/jpeg", "image/png", "image/webp", "image/gif":
		return true
	}
	return false
}

// Pagination clamps page and limit query values
func Pagination(page, limit, maxLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

// TimePtr returns a pointer to t
func TimePtr(t time.Time) *time.Time {
	return &t
}
