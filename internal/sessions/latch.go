package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

const latchCacheTTL = 24 * time.Hour

// LatchReader is what the chat router needs to decide whether the assistant
// may respond.
type LatchReader interface {
	Disabled(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// LatchWriter is what the registry needs when a therapist connects.
type LatchWriter interface {
	Disable(ctx context.Context, sessionID uuid.UUID) error
}

// latchStore is the durable backend behind the cache.
type latchStore interface {
	DisableAssistant(ctx context.Context, sessionID uuid.UUID) error
	AssistantDisabled(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// Latch combines the durable Postgres latch with a Redis read-through
// cache. Only the set state is cached: the latch is monotonic, so a cached
// "disabled" can never go stale. Redis failures degrade to the store.
type Latch struct {
	store  latchStore
	redis  *redis.Client
	logger *logging.Logger
}

// NewLatch creates a cached latch. The redis client may be nil, in which
// case every read hits the store.
func NewLatch(store latchStore, rdb *redis.Client, logger *logging.Logger) *Latch {
	if store == nil {
		panic("sessions: latch store is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Latch{store: store, redis: rdb, logger: logger}
}

// Disable writes the latch through to the store, then primes the cache.
// Safe to retry and safe when already set.
func (l *Latch) Disable(ctx context.Context, sessionID uuid.UUID) error {
	if err := l.store.DisableAssistant(ctx, sessionID); err != nil {
		return err
	}
	if l.redis != nil {
		if err := l.redis.Set(ctx, latchKey(sessionID), "1", latchCacheTTL).Err(); err != nil {
			l.logger.Warn("latch cache write failed", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// Disabled reports the latch state, consulting the cache first.
func (l *Latch) Disabled(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	if l.redis != nil {
		val, err := l.redis.Get(ctx, latchKey(sessionID)).Result()
		switch {
		case err == nil:
			return val == "1", nil
		case err != redis.Nil:
			l.logger.Warn("latch cache read failed", "session_id", sessionID, "error", err)
		}
	}

	disabled, err := l.store.AssistantDisabled(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if disabled && l.redis != nil {
		if err := l.redis.Set(ctx, latchKey(sessionID), "1", latchCacheTTL).Err(); err != nil {
			l.logger.Warn("latch cache backfill failed", "session_id", sessionID, "error", err)
		}
	}
	return disabled, nil
}

func latchKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("session:%s:ai_disabled", sessionID)
}
