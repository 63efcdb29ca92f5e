package sessions

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

type fakeLatchStore struct {
	disabled     map[uuid.UUID]bool
	disableCalls int
	readCalls    int
}

func newFakeLatchStore() *fakeLatchStore {
	return &fakeLatchStore{disabled: make(map[uuid.UUID]bool)}
}

func (f *fakeLatchStore) DisableAssistant(_ context.Context, sessionID uuid.UUID) error {
	f.disableCalls++
	f.disabled[sessionID] = true
	return nil
}

func (f *fakeLatchStore) AssistantDisabled(_ context.Context, sessionID uuid.UUID) (bool, error) {
	f.readCalls++
	return f.disabled[sessionID], nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLatchDisableThenRead(t *testing.T) {
	store := newFakeLatchStore()
	latch := NewLatch(store, newTestRedis(t), logging.Default())
	ctx := context.Background()
	sessionID := uuid.New()

	disabled, err := latch.Disabled(ctx, sessionID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if disabled {
		t.Fatal("latch should start unset")
	}

	if err := latch.Disable(ctx, sessionID); err != nil {
		t.Fatalf("disable: %v", err)
	}

	disabled, err = latch.Disabled(ctx, sessionID)
	if err != nil {
		t.Fatalf("read after disable: %v", err)
	}
	if !disabled {
		t.Fatal("latch should be set")
	}
}

func TestLatchReadServedFromCache(t *testing.T) {
	store := newFakeLatchStore()
	latch := NewLatch(store, newTestRedis(t), logging.Default())
	ctx := context.Background()
	sessionID := uuid.New()

	if err := latch.Disable(ctx, sessionID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	storeReads := store.readCalls

	for i := 0; i < 3; i++ {
		disabled, err := latch.Disabled(ctx, sessionID)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !disabled {
			t.Fatal("latch should be set")
		}
	}
	if store.readCalls != storeReads {
		t.Errorf("expected cache hits, store was read %d more times", store.readCalls-storeReads)
	}
}

func TestLatchBackfillsCacheFromStore(t *testing.T) {
	store := newFakeLatchStore()
	sessionID := uuid.New()
	store.disabled[sessionID] = true // set durably before the cache ever saw it

	latch := NewLatch(store, newTestRedis(t), logging.Default())
	ctx := context.Background()

	disabled, err := latch.Disabled(ctx, sessionID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !disabled {
		t.Fatal("latch should be set from store")
	}

	// Second read comes from the backfilled cache.
	storeReads := store.readCalls
	if _, err := latch.Disabled(ctx, sessionID); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if store.readCalls != storeReads {
		t.Error("expected second read to hit the cache")
	}
}

func TestLatchWorksWithoutRedis(t *testing.T) {
	store := newFakeLatchStore()
	latch := NewLatch(store, nil, logging.Default())
	ctx := context.Background()
	sessionID := uuid.New()

	if err := latch.Disable(ctx, sessionID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	disabled, err := latch.Disabled(ctx, sessionID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !disabled {
		t.Fatal("latch should be set without cache")
	}
}
