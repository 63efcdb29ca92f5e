// Package chat is the realtime core: the session registry tracks who is
// connected, the router runs each inbound message through persistence, the
// escalation state machine, and the assistant, and events.go defines the
// closed set of frames that go out on the wire.
package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/mindhaven/mindhaven-platform/internal/messages"
)

// Event frame types on the wire.
const (
	EventTypeMessage            = "message"
	EventTypeTyping             = "typing"
	EventTypeSystemSuggestion   = "SYSTEM_SUGGESTION"
	EventTypeEscalationAccepted = "ESCALATION_ACCEPTED"
)

// Event is one outbound frame. Exactly one payload field is set, matching
// Type.
type Event struct {
	Type string `json:"type"`

	// Message payload fields.
	ID         *uuid.UUID `json:"id,omitempty"`
	SessionID  string     `json:"session_id,omitempty"`
	Sender     string     `json:"sender,omitempty"`
	Content    string     `json:"content,omitempty"`
	Emotion    *string    `json:"emotion,omitempty"`
	Confidence *float64   `json:"confidence,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`

	// Typing payload fields.
	IsTyping *bool `json:"is_typing,omitempty"`

	// Suggestion / acceptance payload fields.
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// NewMessageEvent wraps a persisted message for delivery.
func NewMessageEvent(msg messages.Message) Event {
	created := msg.CreatedAt
	id := msg.ID
	return Event{
		Type:       EventTypeMessage,
		ID:         &id,
		SessionID:  msg.SessionID.String(),
		Sender:     string(msg.Sender),
		Content:    msg.Content,
		Emotion:    msg.Emotion,
		Confidence: msg.Confidence,
		CreatedAt:  &created,
	}
}

// NewTypingEvent signals that sender started or stopped typing.
func NewTypingEvent(sender string, isTyping bool) Event {
	return Event{
		Type:     EventTypeTyping,
		Sender:   sender,
		IsTyping: &isTyping,
	}
}

// NewSystemSuggestion proposes a therapist session to the visitor. It is
// never persisted as a chat message.
func NewSystemSuggestion(sessionID uuid.UUID, text, reason string) Event {
	return Event{
		Type:      EventTypeSystemSuggestion,
		SessionID: sessionID.String(),
		Message:   text,
		Reason:    reason,
	}
}

// NewEscalationAccepted confirms the visitor's acceptance and the booked
// appointment.
func NewEscalationAccepted(sessionID uuid.UUID, text string) Event {
	return Event{
		Type:      EventTypeEscalationAccepted,
		SessionID: sessionID.String(),
		Message:   text,
	}
}
