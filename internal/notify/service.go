package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mindhaven/mindhaven-platform/internal/escalation"
	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

// Config controls who gets escalation notifications.
type Config struct {
	// OnCallEmail receives escalation notices. Empty disables sending.
	OnCallEmail string
	// NotifyOnEscalate gates the whole feature.
	NotifyOnEscalate bool
}

// Service emails the on-call therapist when a visitor accepts an
// escalation. Delivery failures are logged and reported but never block the
// chat flow; callers treat the error as advisory.
type Service struct {
	email  EmailSender
	cfg    Config
	logger *logging.Logger
}

// NewService creates a notification service.
func NewService(email EmailSender, cfg Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, cfg: cfg, logger: logger}
}

// NotifyEscalationAccepted tells the on-call therapist that a visitor
// accepted an escalation and an appointment was booked.
func (s *Service) NotifyEscalationAccepted(ctx context.Context, sessionID uuid.UUID, esc *escalation.Escalation, startsAt time.Time) error {
	if !s.cfg.NotifyOnEscalate || s.cfg.OnCallEmail == "" {
		s.logger.Debug("escalation notifications disabled, skipping")
		return nil
	}
	if s.email == nil {
		s.logger.Debug("no email sender configured, skipping escalation notice")
		return nil
	}

	subject := "Visitor accepted escalation — appointment booked"
	body := fmt.Sprintf(
		"A chat visitor accepted an escalation to a therapist.\n\n"+
			"Session: %s\n"+
			"Trigger: %s\n"+
			"Escalated at: %s\n"+
			"Appointment: %s\n\n"+
			"Review the conversation before the session.",
		sessionID,
		esc.Reason,
		esc.TriggeredAt.Format(time.RFC1123),
		startsAt.Format(time.RFC1123),
	)

	msg := EmailMessage{
		To:      s.cfg.OnCallEmail,
		ToName:  "On-call therapist",
		Subject: subject,
		Body:    body,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("escalation notice delivery failed",
			"error", err,
			"session_id", sessionID,
		)
		return fmt.Errorf("notify: escalation notice: %w", err)
	}

	s.logger.Info("escalation notice sent",
		"session_id", sessionID,
		"reason", esc.Reason,
		"to", s.cfg.OnCallEmail,
	)
	return nil
}
