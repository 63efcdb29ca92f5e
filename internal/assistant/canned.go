package assistant

import (
	"context"
	"strings"
)

// Confidence attached to replies by source. Canned replies score below the
// session health threshold on purpose: a visitor stuck on keyword responses
// should trip the low-confidence escalation check.
const (
	modelConfidence  = 0.9
	cannedConfidence = 0.4
)

// escalationKeywords make the canned responder honor the token contract
// even with every model backend down.
var escalationKeywords = []string{
	"therapist", "counselor", "doctor", "appointment", "human", "real person",
}

const (
	greetingReply = "Hello! I'm here to listen and support you. How are you feeling today?"
	sadnessReply  = "I'm sorry you're feeling this way. It's okay to feel sad sometimes. Would you like to talk about what's troubling you?"
	anxietyReply  = "I understand anxiety can be overwhelming. Let's take this one step at a time. What's causing you the most worry right now?"
	genericReply  = "I hear you. Can you tell me more about how you're feeling?"
)

var (
	greetingWords = []string{"hello", "hi", "hey"}
	sadnessWords  = []string{"sad", "depressed", "down"}
	anxietyWords  = []string{"anxious", "worried", "nervous"}
)

// CannedClient is the last line of the reply chain. It answers from a small
// keyword table and never fails.
type CannedClient struct{}

// Complete picks a canned reply for the most recent user message.
func (CannedClient) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	var lastUser string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ChatRoleUser {
			lastUser = req.Messages[i].Content
			break
		}
	}
	return LLMResponse{Text: cannedReply(lastUser), StopReason: "canned"}, nil
}

func cannedReply(text string) string {
	content := strings.ToLower(strings.TrimSpace(text))
	if content == "" {
		return greetingReply
	}
	if containsAny(content, escalationKeywords) {
		return EscalateToken
	}
	if containsAny(content, greetingWords) {
		return greetingReply
	}
	if containsAny(content, sadnessWords) {
		return sadnessReply
	}
	if containsAny(content, anxietyWords) {
		return anxietyReply
	}
	return genericReply
}

func containsAny(content string, words []string) bool {
	for _, w := range words {
		if strings.Contains(content, w) {
			return true
		}
	}
	return false
}
