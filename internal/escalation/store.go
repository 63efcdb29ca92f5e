package escalation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

// ErrNoPending is returned by Resolve when the session has no pending
// escalation to resolve.
var ErrNoPending = errors.New("escalation: no pending escalation for session")

// Store persists escalation records.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
	tracer trace.Tracer
}

// NewStore creates an escalation store.
func NewStore(db *sql.DB, logger *logging.Logger) *Store {
	if db == nil {
		panic("escalation: db is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("mindhaven/escalation"),
	}
}

// GetActive returns the session's pending escalation, or nil when none
// exists. Resolved records are never returned here.
func (s *Store) GetActive(ctx context.Context, sessionID uuid.UUID) (*Escalation, error) {
	const query = `
		SELECT id, session_id, reason, outcome, appointment_id, triggered_at, resolved_at
		FROM chat_escalations
		WHERE session_id = $1 AND outcome = $2
		ORDER BY triggered_at DESC
		LIMIT 1
	`
	esc, err := s.scanOne(s.db.QueryRowContext(ctx, query, sessionID, OutcomePending))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("escalation: load active: %w", err)
	}
	return esc, nil
}

// Create records a new pending escalation. The insert is guarded so that a
// session with a pending record gets no second one: the duplicate create is
// a no-op and the existing record is returned with created=false.
func (s *Store) Create(ctx context.Context, sessionID uuid.UUID, reason Reason) (*Escalation, bool, error) {
	ctx, span := s.tracer.Start(ctx, "escalation.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("escalation.reason", string(reason)),
		attribute.String("chat.session_id", sessionID.String()),
	)

	esc := &Escalation{
		ID:          uuid.New(),
		SessionID:   sessionID,
		Reason:      reason,
		Outcome:     OutcomePending,
		TriggeredAt: time.Now().UTC(),
	}

	const query = `
		INSERT INTO chat_escalations (id, session_id, reason, outcome, triggered_at)
		SELECT $1, $2, $3, $4, $5
		WHERE NOT EXISTS (
			SELECT 1 FROM chat_escalations WHERE session_id = $2 AND outcome = $4
		)
	`
	result, err := s.db.ExecContext(ctx, query, esc.ID, esc.SessionID, esc.Reason, OutcomePending, esc.TriggeredAt)
	if err != nil && !isUniqueViolation(err) {
		span.RecordError(err)
		return nil, false, fmt.Errorf("escalation: create: %w", err)
	}

	var rows int64
	if err == nil {
		rows, _ = result.RowsAffected()
	}
	if rows == 0 {
		existing, err := s.GetActive(ctx, sessionID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			// Raced with a concurrent resolve; treat as created-elsewhere.
			return nil, false, nil
		}
		return existing, false, nil
	}

	s.logger.Info("escalation created",
		"id", esc.ID,
		"session_id", sessionID,
		"reason", reason,
	)
	return esc, true, nil
}

// Resolve transitions the pending escalation to accepted or declined and
// stamps the resolution time.
func (s *Store) Resolve(ctx context.Context, sessionID uuid.UUID, outcome Outcome) (*Escalation, error) {
	ctx, span := s.tracer.Start(ctx, "escalation.resolve")
	defer span.End()
	span.SetAttributes(attribute.String("escalation.outcome", string(outcome)))

	const query = `
		UPDATE chat_escalations
		SET outcome = $1, resolved_at = $2
		WHERE session_id = $3 AND outcome = $4
		RETURNING id, session_id, reason, outcome, appointment_id, triggered_at, resolved_at
	`
	esc, err := s.scanOne(s.db.QueryRowContext(ctx, query, outcome, time.Now().UTC(), sessionID, OutcomePending))
	if err == sql.ErrNoRows {
		return nil, ErrNoPending
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("escalation: resolve: %w", err)
	}

	s.logger.Info("escalation resolved",
		"id", esc.ID,
		"session_id", sessionID,
		"outcome", outcome,
	)
	return esc, nil
}

// LinkAppointment records the appointment created for an accepted
// escalation.
func (s *Store) LinkAppointment(ctx context.Context, escalationID, appointmentID uuid.UUID) error {
	const query = `UPDATE chat_escalations SET appointment_id = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, appointmentID, escalationID); err != nil {
		return fmt.Errorf("escalation: link appointment: %w", err)
	}
	return nil
}

// ListBySession returns the session's escalation history, oldest first.
func (s *Store) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*Escalation, error) {
	const query = `
		SELECT id, session_id, reason, outcome, appointment_id, triggered_at, resolved_at
		FROM chat_escalations
		WHERE session_id = $1
		ORDER BY triggered_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("escalation: list: %w", err)
	}
	defer rows.Close()

	var out []*Escalation
	for rows.Next() {
		esc, err := s.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("escalation: scan row: %w", err)
		}
		out = append(out, esc)
	}
	return out, rows.Err()
}

// isUniqueViolation reports whether err is the partial unique index on
// pending escalations firing under a concurrent create.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanOne(row rowScanner) (*Escalation, error) {
	var esc Escalation
	var appointmentID sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(&esc.ID, &esc.SessionID, &esc.Reason, &esc.Outcome, &appointmentID, &esc.TriggeredAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if appointmentID.Valid {
		id, err := uuid.Parse(appointmentID.String)
		if err == nil {
			esc.AppointmentID = &id
		}
	}
	if resolvedAt.Valid {
		esc.ResolvedAt = &resolvedAt.Time
	}
	return &esc, nil
}
