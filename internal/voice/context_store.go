package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	contextKeyPrefix  = "voice:session_context:"
	defaultContextTTL = 5 * time.Minute
)

// ErrContextNotFound means no context is stored for the call, or it expired.
var ErrContextNotFound = errors.New("session context not found")

// ContextStore keeps the rendered session context of a call attempt in redis
// so it can be served to the provider's personalization webhook.
type ContextStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewContextStore(rdb *redis.Client, ttl time.Duration) *ContextStore {
	if ttl <= 0 {
		ttl = defaultContextTTL
	}
	return &ContextStore{rdb: rdb, ttl: ttl}
}

func contextKey(callID uuid.UUID) string {
	return contextKeyPrefix + callID.String()
}

// Put stores sc for callID, replacing any previous value.
func (s *ContextStore) Put(ctx context.Context, callID uuid.UUID, sc SessionContext) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode session context: %w", err)
	}
	return s.rdb.Set(ctx, contextKey(callID), raw, s.ttl).Err()
}

// Get loads the context stored for callID.
func (s *ContextStore) Get(ctx context.Context, callID uuid.UUID) (SessionContext, error) {
	if s == nil || s.rdb == nil {
		return SessionContext{}, ErrContextNotFound
	}
	raw, err := s.rdb.Get(ctx, contextKey(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return SessionContext{}, ErrContextNotFound
	}
	if err != nil {
		return SessionContext{}, err
	}

	var sc SessionContext
	if err := json.Unmarshal(raw, &sc); err != nil {
		return SessionContext{}, fmt.Errorf("decode session context: %w", err)
	}
	return sc, nil
}

// Delete removes the context for callID.
func (s *ContextStore) Delete(ctx context.Context, callID uuid.UUID) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, contextKey(callID)).Err()
}
