package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/diehardfans/raffle-api/pkg/idempotency"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// IdempotencyHeader carries the client-chosen key of a retryable request
const IdempotencyHeader = "Idempotency-Key"

const maxIdempotencyKeyLength = 128

// recordingWriter keeps a copy of the response body for storage
type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response when a request repeats an
// Idempotency-Key. Keys are scoped to the authenticated user and the route.
// Requests without the header, and all requests when store is nil, pass through.
func Idempotency(store idempotency.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
		if store == nil || key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key is too long"})
			return
		}
		scoped := c.GetString(ContextUserID) + ":" + c.Request.Method + ":" + c.Request.URL.Path + ":" + key
		ctx := c.Request.Context()

		record, err := store.Begin(ctx, scoped)
		switch {
		case errors.Is(err, idempotency.ErrInProgress):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "A request with this Idempotency-Key is still being processed"})
			return
		case err != nil:
			// The store is an optimisation; serve the request without it
			log.Warn().Err(err).Msg("Idempotency store unavailable")
			c.Next()
			return
		case record != nil:
			c.Header("Idempotent-Replayed", "true")
			c.Data(record.Status, record.ContentType, record.Body)
			c.Abort()
			return
		}

		writer := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Next()

		status := writer.Status()
		if status >= http.StatusInternalServerError {
			// Server failures are retryable
			if err := store.Abandon(ctx, scoped); err != nil {
				log.Warn().Err(err).Msg("Failed to release idempotency key")
			}
			return
		}
		err = store.Complete(ctx, scoped, idempotency.Record{
			Status:      status,
			ContentType: writer.Header().Get("Content-Type"),
			Body:        writer.body.Bytes(),
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to store idempotent response")
		}
	}
}
