package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInProgress means another request with the same key has not finished yet
var ErrInProgress = errors.New("request with this idempotency key is still in progress")

// Record is a stored response for an idempotency key
type Record struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// Store keeps request outcomes keyed by client-supplied idempotency keys
type Store interface {
	// Begin claims key. It returns the stored record when the key already
	// completed, ErrInProgress when it is claimed but unfinished, and
	// (nil, nil) when the caller now owns the key.
	Begin(ctx context.Context, key string) (*Record, error)
	Complete(ctx context.Context, key string, record Record) error
	// Abandon releases a claimed key so the request can be retried
	Abandon(ctx context.Context, key string) error
}

const (
	pendingMarker = "pending"
	// claimAttempts bounds retries when a key expires between SETNX and GET
	claimAttempts = 3
)

// RedisStore implements Store with SETNX claims and TTL-bound records
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore creates a RedisStore
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: "idem:"}
}

// Begin claims the key or returns what is stored under it
func (s *RedisStore) Begin(ctx context.Context, key string) (*Record, error) {
	k := s.prefix + key
	for attempt := 0; attempt < claimAttempts; attempt++ {
		claimed, err := s.client.SetNX(ctx, k, pendingMarker, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to claim idempotency key: %w", err)
		}
		if claimed {
			return nil, nil
		}

		raw, err := s.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			// Expired between SETNX and GET; claim again
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read idempotency key: %w", err)
		}
		if raw == pendingMarker {
			return nil, ErrInProgress
		}

		var record Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("failed to decode idempotency record: %w", err)
		}
		return &record, nil
	}
	return nil, fmt.Errorf("failed to claim idempotency key %q after %d attempts", key, claimAttempts)
}

// Complete stores the final response
func (s *RedisStore) Complete(ctx context.Context, key string, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, payload, s.ttl).Err()
}

// Abandon deletes the claim
func (s *RedisStore) Abandon(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
