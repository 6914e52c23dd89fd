package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*ContextStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewContextStore(rdb, time.Minute), mr
}

func TestContextStoreRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	callID := uuid.New()

	sc := SessionContext{
		LeadID:           uuid.New(),
		CallToken:        "tok",
		DynamicVariables: map[string]string{"customer_name": "Jane"},
		SystemPrompt:     "prompt",
		FirstMessage:     "hello",
		PendingFields:    []string{"budget"},
	}
	if err := store.Put(ctx, callID, sc); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, callID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LeadID != sc.LeadID || got.DynamicVariables["customer_name"] != "Jane" || got.FirstMessage != "hello" {
		t.Fatalf("unexpected context: %+v", got)
	}

	if err := store.Delete(ctx, callID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, callID); !errors.Is(err, ErrContextNotFound) {
		t.Fatalf("expected ErrContextNotFound after delete, got %v", err)
	}
}

func TestContextStoreExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	callID := uuid.New()

	if err := store.Put(ctx, callID, SessionContext{LeadID: uuid.New()}); err != nil {
		t.Fatalf("put: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := store.Get(ctx, callID); !errors.Is(err, ErrContextNotFound) {
		t.Fatalf("expected expired context, got %v", err)
	}
}
