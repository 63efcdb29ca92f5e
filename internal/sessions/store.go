// Package sessions tracks durable per-session chat state, chiefly the
// one-way "assistant permanently disabled" latch. The latch is persisted so
// a therapist's transient socket drop, or a registry rebuild, never
// re-enables the assistant.
package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists session state in Postgres.
type Store struct {
	db     DB
	tracer trace.Tracer
}

// NewStore creates a session state store.
func NewStore(db DB) *Store {
	if db == nil {
		panic("sessions: db is required")
	}
	return &Store{
		db:     db,
		tracer: otel.Tracer("mindhaven.internal.sessions"),
	}
}

// Ensure creates the session row if it does not exist yet.
func (s *Store) Ensure(ctx context.Context, sessionID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "sessions.ensure")
	defer span.End()

	const query = `
		INSERT INTO chat_sessions (session_id, ai_disabled, created_at, updated_at)
		VALUES ($1, FALSE, $2, $2)
		ON CONFLICT (session_id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, sessionID, time.Now().UTC()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: ensure: %w", err)
	}
	return nil
}

// DisableAssistant sets the durable latch for a session. The write is
// monotonic and idempotent: concurrent or repeated calls all converge on
// ai_disabled = TRUE and never clear it.
func (s *Store) DisableAssistant(ctx context.Context, sessionID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "sessions.disable_assistant")
	defer span.End()

	now := time.Now().UTC()
	const query = `
		INSERT INTO chat_sessions (session_id, ai_disabled, therapist_joined_at, created_at, updated_at)
		VALUES ($1, TRUE, $2, $2, $2)
		ON CONFLICT (session_id) DO UPDATE
		SET ai_disabled = TRUE,
		    therapist_joined_at = COALESCE(chat_sessions.therapist_joined_at, EXCLUDED.therapist_joined_at),
		    updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.Exec(ctx, query, sessionID, now); err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: disable assistant: %w", err)
	}
	return nil
}

// AssistantDisabled reports whether the latch is set for a session. An
// unknown session is treated as latch unset.
func (s *Store) AssistantDisabled(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "sessions.assistant_disabled")
	defer span.End()

	const query = `SELECT ai_disabled FROM chat_sessions WHERE session_id = $1`
	var disabled bool
	err := s.db.QueryRow(ctx, query, sessionID).Scan(&disabled)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("sessions: read latch: %w", err)
	}
	return disabled, nil
}
