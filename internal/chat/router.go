package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mindhaven/mindhaven-platform/internal/appointments"
	"github.com/mindhaven/mindhaven-platform/internal/assistant"
	"github.com/mindhaven/mindhaven-platform/internal/escalation"
	"github.com/mindhaven/mindhaven-platform/internal/messages"
	"github.com/mindhaven/mindhaven-platform/internal/observability/metrics"
	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

// User-visible escalation texts. The suggestion wording varies with what
// triggered it.
const (
	acceptedConfirmation = "Perfect! Let me book an appointment for you right away..."

	intentSuggestion = "I understand you'd like to speak with a therapist. Would you like me to book an appointment for you right away?"
	healthSuggestion = "I want to make sure you get the best support. It might help to talk with a professional therapist. Would you like me to book an appointment for you?"
	modelSuggestion  = "I can help you connect with a therapist. Would you like me to book an appointment for you?"
)

// MessageStore is the persistence surface the router needs.
type MessageStore interface {
	Persist(ctx context.Context, sessionID uuid.UUID, visitorID *uuid.UUID, sender messages.Role, content string) (messages.Message, error)
	PersistAssistant(ctx context.Context, sessionID uuid.UUID, content string, confidence float64) (messages.Message, error)
	History(ctx context.Context, sessionID uuid.UUID, limit int) ([]messages.Message, error)
}

// LatchReader reports whether the assistant is durably disabled.
type LatchReader interface {
	Disabled(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// EscalationStore is the escalation persistence surface the router needs.
type EscalationStore interface {
	GetActive(ctx context.Context, sessionID uuid.UUID) (*escalation.Escalation, error)
	Create(ctx context.Context, sessionID uuid.UUID, reason escalation.Reason) (*escalation.Escalation, bool, error)
	Resolve(ctx context.Context, sessionID uuid.UUID, outcome escalation.Outcome) (*escalation.Escalation, error)
	LinkAppointment(ctx context.Context, escalationID, appointmentID uuid.UUID) error
}

// Booker books appointments for accepted escalations.
type Booker interface {
	AutoBook(ctx context.Context, sessionID uuid.UUID, note string) (*appointments.Appointment, bool, error)
}

// Notifier tells the on-call therapist about accepted escalations.
type Notifier interface {
	NotifyEscalationAccepted(ctx context.Context, sessionID uuid.UUID, esc *escalation.Escalation, startsAt time.Time) error
}

// Router runs every inbound chat message through persistence, the
// escalation state machine, and the assistant.
type Router struct {
	registry    *Registry
	store       MessageStore
	latch       LatchReader
	evaluator   *escalation.Evaluator
	escalations EscalationStore
	booker      Booker
	responder   assistant.Responder
	notifier    Notifier
	metrics     *metrics.ChatMetrics
	logger      *logging.Logger
	tracer      trace.Tracer

	// historyLimit bounds how much history feeds the evaluator and the
	// assistant context.
	historyLimit int
}

// RouterConfig wires a Router.
type RouterConfig struct {
	Registry     *Registry
	Store        MessageStore
	Latch        LatchReader
	Evaluator    *escalation.Evaluator
	Escalations  EscalationStore
	Booker       Booker
	Responder    assistant.Responder
	Notifier     Notifier
	Metrics      *metrics.ChatMetrics
	Logger       *logging.Logger
	HistoryLimit int
}

// NewRouter creates a message router.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Registry == nil {
		panic("chat: registry is required")
	}
	if cfg.Store == nil {
		panic("chat: message store is required")
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = escalation.NewEvaluator(nil, nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	return &Router{
		registry:     cfg.Registry,
		store:        cfg.Store,
		latch:        cfg.Latch,
		evaluator:    cfg.Evaluator,
		escalations:  cfg.Escalations,
		booker:       cfg.Booker,
		responder:    cfg.Responder,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		tracer:       otel.Tracer("mindhaven.internal.chat"),
		historyLimit: cfg.HistoryLimit,
	}
}

// HandleInbound processes one inbound message. Persistence failures are
// returned to the caller (error frame on the socket path, 500 on the HTTP
// path); everything past persistence is best-effort and never loses the
// visitor's message.
func (r *Router) HandleInbound(ctx context.Context, sessionID uuid.UUID, sender messages.Role, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "chat.handle_inbound")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.session_id", sessionID.String()),
		attribute.String("chat.sender", string(sender)),
	)

	lock := r.registry.SessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	msg, err := r.store.Persist(ctx, sessionID, nil, sender, content)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("chat: persist inbound: %w", err)
	}
	r.metrics.ObserveMessage(string(sender))

	// With a therapist in the room the assistant stays out entirely; the
	// message goes to everyone but its author.
	if r.registry.HasRole(sessionID, messages.RoleTherapist) {
		r.registry.SendToOthers(sessionID, sender, NewMessageEvent(msg))
		return nil
	}

	r.registry.Broadcast(sessionID, NewMessageEvent(msg))

	if sender != messages.RoleVisitor {
		return nil
	}
	if r.assistantDisabled(ctx, sessionID) {
		return nil
	}

	history, err := r.store.History(ctx, sessionID, r.historyLimit)
	if err != nil {
		r.logger.Warn("history load failed, evaluating without context",
			"session_id", sessionID, "error", err)
		history = nil
	}
	// The just-persisted message is part of history; the evaluator wants
	// the conversation before it.
	if n := len(history); n > 0 && history[n-1].ID == msg.ID {
		history = history[:n-1]
	}

	var active *escalation.Escalation
	if r.escalations != nil {
		active, err = r.escalations.GetActive(ctx, sessionID)
		if err != nil {
			r.logger.Error("active escalation lookup failed", "session_id", sessionID, "error", err)
		}
	}

	decision := r.evaluator.Evaluate(active, content, history)
	switch decision.Action {
	case escalation.ActionAccept:
		r.acceptEscalation(ctx, sessionID)
		return nil
	case escalation.ActionDecline:
		if _, err := r.escalations.Resolve(ctx, sessionID, escalation.OutcomeDeclined); err != nil {
			r.logger.Error("decline resolve failed", "session_id", sessionID, "error", err)
		}
		// Declined: the assistant handles this same message below.
	case escalation.ActionEscalate:
		r.createEscalation(ctx, sessionID, decision.Reason)
		return nil
	}

	return r.respond(ctx, sessionID, history, content)
}

// assistantDisabled reads the durable latch. A read failure suppresses the
// assistant: with the latch state unknown, staying silent is the safe side.
func (r *Router) assistantDisabled(ctx context.Context, sessionID uuid.UUID) bool {
	if r.latch == nil {
		return false
	}
	disabled, err := r.latch.Disabled(ctx, sessionID)
	if err != nil {
		r.logger.Error("latch read failed, suppressing assistant",
			"session_id", sessionID, "error", err)
		return true
	}
	return disabled
}

// respond consults the assistant, bracketing the call with typing
// indicators, and delivers exactly one reply or escalation suggestion to
// the visitor.
func (r *Router) respond(ctx context.Context, sessionID uuid.UUID, history []messages.Message, content string) error {
	if r.responder == nil {
		return nil
	}

	typingSender := string(messages.RoleAssistant)
	r.registry.SendToRole(sessionID, messages.RoleVisitor, NewTypingEvent(typingSender, true))

	started := time.Now()
	reply, err := r.responder.Respond(ctx, history, content)
	r.metrics.ObserveAssistantLatency(time.Since(started).Seconds())

	r.registry.SendToRole(sessionID, messages.RoleVisitor, NewTypingEvent(typingSender, false))

	if err != nil {
		// The responder chain ends in canned replies, so this is
		// unexpected; the visitor simply gets no reply for this turn.
		r.logger.Error("assistant respond failed", "session_id", sessionID, "error", err)
		return nil
	}
	if reply.Source == "canned" {
		r.metrics.ObserveFallback()
	}

	if reply.Escalate {
		r.createEscalation(ctx, sessionID, escalation.ReasonAssistantDetected)
		return nil
	}
	if strings.TrimSpace(reply.Text) == "" {
		return nil
	}

	msg, err := r.store.PersistAssistant(ctx, sessionID, reply.Text, reply.Confidence)
	if err != nil {
		r.logger.Error("assistant reply persist failed", "session_id", sessionID, "error", err)
		return nil
	}
	r.metrics.ObserveMessage(string(messages.RoleAssistant))
	r.registry.SendToRole(sessionID, messages.RoleVisitor, NewMessageEvent(msg))
	return nil
}

// createEscalation opens a pending escalation and sends the suggestion to
// the visitor. Creating while one is already pending is a no-op.
func (r *Router) createEscalation(ctx context.Context, sessionID uuid.UUID, reason escalation.Reason) {
	if r.escalations == nil {
		return
	}
	esc, created, err := r.escalations.Create(ctx, sessionID, reason)
	if err != nil {
		r.logger.Error("escalation create failed", "session_id", sessionID, "error", err)
		return
	}
	if !created {
		r.logger.Debug("escalation already pending", "session_id", sessionID)
		return
	}
	r.metrics.ObserveEscalation(string(reason))
	r.logger.Info("escalation suggested", "session_id", sessionID, "reason", reason, "id", esc.ID)

	r.registry.SendToRole(sessionID, messages.RoleVisitor,
		NewSystemSuggestion(sessionID, suggestionText(reason), string(reason)))
}

// acceptEscalation resolves the pending record, books the appointment, and
// confirms to the session.
func (r *Router) acceptEscalation(ctx context.Context, sessionID uuid.UUID) {
	esc, err := r.escalations.Resolve(ctx, sessionID, escalation.OutcomeAccepted)
	if err != nil {
		r.logger.Error("accept resolve failed", "session_id", sessionID, "error", err)
		return
	}

	r.registry.Broadcast(sessionID, NewEscalationAccepted(sessionID, acceptedConfirmation))

	if r.booker == nil {
		return
	}
	appt, _, err := r.booker.AutoBook(ctx, sessionID, "escalated from chat: "+string(esc.Reason))
	if err != nil {
		r.logger.Error("auto-book failed", "session_id", sessionID, "error", err)
		return
	}
	if err := r.escalations.LinkAppointment(ctx, esc.ID, appt.ID); err != nil {
		r.logger.Error("appointment link failed",
			"session_id", sessionID, "appointment_id", appt.ID, "error", err)
	}

	if r.notifier != nil {
		if err := r.notifier.NotifyEscalationAccepted(ctx, sessionID, esc, appt.StartsAt); err != nil {
			r.logger.Warn("on-call notification failed", "session_id", sessionID, "error", err)
		}
	}
}

func suggestionText(reason escalation.Reason) string {
	switch reason {
	case escalation.ReasonUserRequest:
		return intentSuggestion
	case escalation.ReasonAssistantDetected:
		return modelSuggestion
	default:
		return healthSuggestion
	}
}
