package appointments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

var serviceTracer = otel.Tracer("mindhaven.internal.appointments")

// Service books appointments on behalf of accepted escalations and serves
// the management surface.
type Service struct {
	repo   *Repository
	logger *logging.Logger
	now    func() time.Time
}

// NewService constructs an appointments service.
func NewService(repo *Repository, logger *logging.Logger) *Service {
	if repo == nil {
		panic("appointments: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// AutoBook books an appointment for a session whose visitor accepted an
// escalation. The booking is idempotent per session: if the session already
// holds a scheduled or confirmed appointment, that one is returned and
// created is false.
func (s *Service) AutoBook(ctx context.Context, sessionID uuid.UUID, note string) (*Appointment, bool, error) {
	ctx, span := serviceTracer.Start(ctx, "appointments.auto_book")
	defer span.End()
	span.SetAttributes(attribute.String("chat.session_id", sessionID.String()))

	existing, err := s.repo.FindActiveBySession(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	if existing != nil {
		s.logger.Info("appointment already booked for session",
			"session_id", sessionID,
			"appointment_id", existing.ID,
		)
		return existing, false, nil
	}

	visitor, err := s.repo.EnsureVisitor(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	booked := s.now().UTC()
	appt := Appointment{
		ID:        uuid.New(),
		VisitorID: visitor.ID,
		SessionID: sessionID,
		StartsAt:  nextSlot(booked),
		Status:    StatusScheduled,
		Notes:     note,
		CreatedAt: booked,
		UpdatedAt: booked,
	}
	if err := s.repo.Create(ctx, appt); err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	s.logger.Info("appointment booked",
		"session_id", sessionID,
		"appointment_id", appt.ID,
		"starts_at", appt.StartsAt,
	)
	return &appt, true, nil
}

// Get returns one appointment.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.Get(ctx, id)
}

// List returns appointments, optionally filtered by status.
func (s *Service) List(ctx context.Context, status *Status, limit int) ([]*Appointment, error) {
	return s.repo.List(ctx, status, limit)
}

// Upcoming returns future appointments soonest first.
func (s *Service) Upcoming(ctx context.Context, limit int) ([]*Appointment, error) {
	return s.repo.Upcoming(ctx, limit)
}

// UpdateStatus transitions an appointment's lifecycle state.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Appointment, error) {
	appt, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.logger.Info("appointment status updated", "appointment_id", id, "status", status)
	return appt, nil
}

// nextSlot picks the first top-of-hour slot at least 24 hours out. Giving
// the on-call therapist a full day of lead time matches how intake staff
// schedule follow-ups.
func nextSlot(from time.Time) time.Time {
	earliest := from.Add(24 * time.Hour)
	slot := earliest.Truncate(time.Hour)
	if slot.Before(earliest) {
		slot = slot.Add(time.Hour)
	}
	return slot
}
