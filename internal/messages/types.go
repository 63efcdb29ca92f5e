package messages

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a chat message or the holder of a live
// connection. The assistant and system roles never hold a connection.
type Role string

const (
	RoleVisitor   Role = "visitor"
	RoleTherapist Role = "therapist"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleVisitor, RoleTherapist, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Connectable reports whether r may hold a live connection.
func (r Role) Connectable() bool {
	return r == RoleVisitor || r == RoleTherapist
}

// Message is a single chat message. Emotion is populated only for
// visitor-authored messages. Confidence carries the emotion score for
// visitor messages and the reply confidence for assistant messages; it
// stays nil for therapist and system senders. Messages are immutable once
// stored.
type Message struct {
	ID         uuid.UUID  `json:"id"`
	SessionID  uuid.UUID  `json:"session_id"`
	VisitorID  *uuid.UUID `json:"visitor_id,omitempty"`
	Sender     Role       `json:"sender"`
	Content    string     `json:"content"`
	Emotion    *string    `json:"emotion"`
	Confidence *float64   `json:"confidence"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SessionStats summarizes a session's message activity.
type SessionStats struct {
	MessageCount    int        `json:"message_count"`
	StartTime       *time.Time `json:"start_time"`
	LatestTime      *time.Time `json:"latest_time"`
	DurationMinutes float64    `json:"duration_minutes"`
}
