package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound is returned when an appointment does not exist.
var ErrNotFound = errors.New("appointments: not found")

// DB is the subset of pgxpool.Pool the repository uses. pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides persistence for visitors and appointments.
type Repository struct {
	db     DB
	tracer trace.Tracer
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("appointments: db is required")
	}
	return &Repository{
		db:     db,
		tracer: otel.Tracer("mindhaven.internal.appointments"),
	}
}

// EnsureVisitor returns the visitor attached to the session, creating one
// if the session has never booked before.
func (r *Repository) EnsureVisitor(ctx context.Context, sessionID uuid.UUID) (Visitor, error) {
	ctx, span := r.tracer.Start(ctx, "appointments.ensure_visitor")
	defer span.End()

	var v Visitor
	const selectQuery = `SELECT id, session_id, created_at FROM visitors WHERE session_id = $1`
	err := r.db.QueryRow(ctx, selectQuery, sessionID).Scan(&v.ID, &v.SessionID, &v.CreatedAt)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		return Visitor{}, fmt.Errorf("appointments: load visitor: %w", err)
	}

	v = Visitor{ID: uuid.New(), SessionID: sessionID, CreatedAt: time.Now().UTC()}
	const insertQuery = `
		INSERT INTO visitors (id, session_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, insertQuery, v.ID, v.SessionID, v.CreatedAt); err != nil {
		span.RecordError(err)
		return Visitor{}, fmt.Errorf("appointments: create visitor: %w", err)
	}

	// Re-read in case a concurrent insert won the conflict.
	if err := r.db.QueryRow(ctx, selectQuery, sessionID).Scan(&v.ID, &v.SessionID, &v.CreatedAt); err != nil {
		span.RecordError(err)
		return Visitor{}, fmt.Errorf("appointments: reload visitor: %w", err)
	}
	return v, nil
}

// FindActiveBySession returns the session's scheduled or confirmed
// appointment, or nil when none exists.
func (r *Repository) FindActiveBySession(ctx context.Context, sessionID uuid.UUID) (*Appointment, error) {
	const query = `
		SELECT id, visitor_id, session_id, starts_at, status, notes, created_at, updated_at
		FROM appointments
		WHERE session_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`
	appt, err := r.scanOne(r.db.QueryRow(ctx, query, sessionID, StatusScheduled, StatusConfirmed))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: load active: %w", err)
	}
	return appt, nil
}

// Create inserts a new appointment row.
func (r *Repository) Create(ctx context.Context, appt Appointment) error {
	ctx, span := r.tracer.Start(ctx, "appointments.create")
	defer span.End()

	const query = `
		INSERT INTO appointments (id, visitor_id, session_id, starts_at, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		appt.ID, appt.VisitorID, appt.SessionID, appt.StartsAt,
		string(appt.Status), appt.Notes, appt.CreatedAt, appt.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("appointments: insert: %w", err)
	}
	return nil
}

// Get returns one appointment by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	const query = `
		SELECT id, visitor_id, session_id, starts_at, status, notes, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`
	appt, err := r.scanOne(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: load: %w", err)
	}
	return appt, nil
}

// List returns appointments newest first, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status *Status, limit int) ([]*Appointment, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows pgx.Rows
		err  error
	)
	if status != nil {
		const query = `
			SELECT id, visitor_id, session_id, starts_at, status, notes, created_at, updated_at
			FROM appointments
			WHERE status = $1
			ORDER BY starts_at DESC
			LIMIT $2
		`
		rows, err = r.db.Query(ctx, query, string(*status), limit)
	} else {
		const query = `
			SELECT id, visitor_id, session_id, starts_at, status, notes, created_at, updated_at
			FROM appointments
			ORDER BY starts_at DESC
			LIMIT $1
		`
		rows, err = r.db.Query(ctx, query, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// Upcoming returns future scheduled and confirmed appointments, soonest
// first.
func (r *Repository) Upcoming(ctx context.Context, limit int) ([]*Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, visitor_id, session_id, starts_at, status, notes, created_at, updated_at
		FROM appointments
		WHERE starts_at > NOW() AND status IN ($1, $2)
		ORDER BY starts_at ASC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, StatusScheduled, StatusConfirmed, limit)
	if err != nil {
		return nil, fmt.Errorf("appointments: list upcoming: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// UpdateStatus transitions an appointment to the given status.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Appointment, error) {
	ctx, span := r.tracer.Start(ctx, "appointments.update_status")
	defer span.End()

	const query = `
		UPDATE appointments
		SET status = $1, updated_at = $2
		WHERE id = $3
		RETURNING id, visitor_id, session_id, starts_at, status, notes, created_at, updated_at
	`
	appt, err := r.scanOne(r.db.QueryRow(ctx, query, string(status), time.Now().UTC(), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("appointments: update status: %w", err)
	}
	return appt, nil
}

func (r *Repository) scanOne(row pgx.Row) (*Appointment, error) {
	var appt Appointment
	var status string
	err := row.Scan(&appt.ID, &appt.VisitorID, &appt.SessionID, &appt.StartsAt, &status, &appt.Notes, &appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return nil, err
	}
	appt.Status = Status(status)
	return &appt, nil
}

func (r *Repository) scanAll(rows pgx.Rows) ([]*Appointment, error) {
	var out []*Appointment
	for rows.Next() {
		var appt Appointment
		var status string
		if err := rows.Scan(&appt.ID, &appt.VisitorID, &appt.SessionID, &appt.StartsAt, &status, &appt.Notes, &appt.CreatedAt, &appt.UpdatedAt); err != nil {
			return nil, fmt.Errorf("appointments: scan row: %w", err)
		}
		appt.Status = Status(status)
		out = append(out, &appt)
	}
	return out, rows.Err()
}
