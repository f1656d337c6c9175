// Package session provides the opaque caller identity the rate-limit ledger
// is keyed on. Sessions carry no credentials; they only make a browser
// recognizable across requests.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store persists session identifiers in an injected key-value store. The
// ledger and quota state live elsewhere; this store only proves "this id was
// issued by us and has not expired".
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

// Issue creates a new session and returns its identifier.
func (s *Store) Issue(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if err := s.client.Set(ctx, s.prefixed(id), time.Now().UTC().Format(time.RFC3339), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}
	return id, nil
}

// Touch extends a known session's lifetime and reports whether it exists.
func (s *Store) Touch(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	ok, err := s.client.Expire(ctx, s.prefixed(id), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("touch session: %w", err)
	}
	return ok, nil
}

func (s *Store) prefixed(id string) string {
	return "sess:" + id
}
