// Package escalation decides when a chat session should move from the
// automated assistant to a human therapist, and tracks the per-session
// escalation record through its pending/accepted/declined lifecycle.
package escalation

import (
	"time"

	"github.com/google/uuid"
)

// Reason records what triggered an escalation.
type Reason string

const (
	ReasonUserRequest       Reason = "user_request"
	ReasonAssistantDetected Reason = "assistant_detected"
	ReasonRepetition        Reason = "ai_repetition"
	ReasonDistress          Reason = "emotional_distress"
	ReasonLowConfidence     Reason = "low_ai_confidence"
)

// Outcome is the visitor's response state for an escalation record.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeAccepted Outcome = "accepted"
	OutcomeDeclined Outcome = "declined"
)

// Escalation is one intervention record. At most one pending record exists
// per session; resolved records persist as history and never block new
// escalations.
type Escalation struct {
	ID            uuid.UUID  `json:"id"`
	SessionID     uuid.UUID  `json:"session_id"`
	Reason        Reason     `json:"reason"`
	Outcome       Outcome    `json:"outcome"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	TriggeredAt   time.Time  `json:"triggered_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}
