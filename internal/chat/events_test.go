package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindhaven/mindhaven-platform/internal/messages"
)

func TestNewMessageEvent_WireShape(t *testing.T) {
	emotion := "sadness"
	confidence := 0.7
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	msg := messages.Message{
		ID:         uuid.New(),
		SessionID:  uuid.New(),
		Sender:     messages.RoleVisitor,
		Content:    "i feel down today",
		Emotion:    &emotion,
		Confidence: &confidence,
		CreatedAt:  created,
	}

	raw, err := json.Marshal(NewMessageEvent(msg))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "message", decoded["type"])
	assert.Equal(t, msg.SessionID.String(), decoded["session_id"])
	assert.Equal(t, "visitor", decoded["sender"])
	assert.Equal(t, "i feel down today", decoded["content"])
	assert.Equal(t, "sadness", decoded["emotion"])
	assert.Equal(t, 0.7, decoded["confidence"])

	// A message frame carries no typing or suggestion payload.
	assert.NotContains(t, decoded, "is_typing")
	assert.NotContains(t, decoded, "message")
	assert.NotContains(t, decoded, "reason")
}

func TestNewMessageEvent_OmitsUnsetEmotion(t *testing.T) {
	msg := messages.Message{
		ID:        uuid.New(),
		SessionID: uuid.New(),
		Sender:    messages.RoleTherapist,
		Content:   "hello, I'm here to help",
		CreatedAt: time.Now().UTC(),
	}

	raw, err := json.Marshal(NewMessageEvent(msg))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.NotContains(t, decoded, "emotion")
	assert.NotContains(t, decoded, "confidence")
}

func TestNewTypingEvent_FalseIsStillPresent(t *testing.T) {
	raw, err := json.Marshal(NewTypingEvent("assistant", false))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "typing", decoded["type"])
	assert.Equal(t, "assistant", decoded["sender"])

	// "stopped typing" must survive omitempty, hence the pointer field.
	val, ok := decoded["is_typing"]
	require.True(t, ok)
	assert.Equal(t, false, val)
}

func TestNewSystemSuggestion(t *testing.T) {
	sessionID := uuid.New()
	evt := NewSystemSuggestion(sessionID, "Would you like to talk to a therapist?", "emotional_distress")

	assert.Equal(t, EventTypeSystemSuggestion, evt.Type)
	assert.Equal(t, sessionID.String(), evt.SessionID)
	assert.Equal(t, "Would you like to talk to a therapist?", evt.Message)
	assert.Equal(t, "emotional_distress", evt.Reason)
}

func TestNewEscalationAccepted(t *testing.T) {
	sessionID := uuid.New()
	evt := NewEscalationAccepted(sessionID, "Perfect! Let me book an appointment for you right away...")

	assert.Equal(t, EventTypeEscalationAccepted, evt.Type)
	assert.Equal(t, sessionID.String(), evt.SessionID)
	assert.NotEmpty(t, evt.Message)
	assert.Empty(t, evt.Reason)
}
