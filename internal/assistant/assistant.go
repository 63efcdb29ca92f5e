// Package assistant produces the automated replies a visitor sees until a
// therapist joins. Replies come from a model chain (Gemini, then Bedrock)
// with a canned keyword responder as the final fallback, so the visitor
// always gets an answer.
package assistant

import (
	"context"
	"strings"
)

// EscalateToken is the marker a model embeds in its reply when it judges
// the conversation needs a human. The token is stripped before the reply is
// shown to the visitor.
const EscalateToken = "<<ESCALATE>>"

// ChatRole identifies who authored a turn sent to a model.
type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// Turn is one message of model context.
type Turn struct {
	Role    ChatRole
	Content string
}

// LLMRequest is a completion request to a model backend.
type LLMRequest struct {
	Model       string
	System      []string
	Messages    []Turn
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// TokenUsage reports model token consumption.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// LLMResponse is a model backend's completion.
type LLMResponse struct {
	Text       string
	StopReason string
	Usage      TokenUsage
}

// LLMClient is a model backend capable of chat completion.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// Reply is the assistant's processed output for one visitor message.
type Reply struct {
	Text       string
	Confidence float64
	// Escalate is set when the model embedded the escalation token.
	Escalate bool
	// Source names the backend that produced the reply.
	Source string
}

// StripEscalateToken removes the escalation marker from text and reports
// whether it was present.
func StripEscalateToken(text string) (string, bool) {
	if !strings.Contains(text, EscalateToken) {
		return text, false
	}
	cleaned := strings.ReplaceAll(text, EscalateToken, "")
	return strings.TrimSpace(cleaned), true
}
