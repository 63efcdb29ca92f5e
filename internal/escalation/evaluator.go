package escalation

import (
	"strings"

	"github.com/mindhaven/mindhaven-platform/internal/emotion"
	"github.com/mindhaven/mindhaven-platform/internal/messages"
)

const (
	// lowConfidenceThreshold is the assistant confidence below which a
	// reply counts toward the low-effectiveness check.
	lowConfidenceThreshold = 0.55

	// repetitionPrefixLen bounds the normalized prefix compared when
	// detecting assistant loops.
	repetitionPrefixLen = 100

	healthWindow     = 5
	repetitionWindow = 10
)

// IntentClassifier detects an explicit request for human help. Keyword
// matching is the default; a model-backed classifier can replace it without
// touching the router.
type IntentClassifier interface {
	Classifies(text string) bool
}

// HealthScorer inspects recent history and reports whether the session is
// struggling.
type HealthScorer interface {
	Scores(history []messages.Message) HealthResult
}

// HealthResult is the outcome of a chat health check.
type HealthResult struct {
	Struggling bool
	Reason     Reason
}

// intentVocabulary denotes a direct request for a therapist or appointment.
var intentVocabulary = []string{
	"therapist", "human", "real person", "appointment", "book", "someone",
	"professional", "doctor", "counselor", "help me please", "talk to someone",
	"speak to someone", "need help", "schedule", "meet with",
}

var acceptVocabulary = []string{"yes", "okay", "ok", "sure", "book", "please", "confirm"}

var declineVocabulary = []string{"no", "not now", "later", "maybe later", "decline", "nope"}

// KeywordIntent is the keyword-based IntentClassifier.
type KeywordIntent struct{}

// Classifies reports whether text contains any direct-intent term,
// case-insensitive substring match.
func (KeywordIntent) Classifies(text string) bool {
	content := strings.ToLower(strings.TrimSpace(text))
	if content == "" {
		return false
	}
	for _, kw := range intentVocabulary {
		if strings.Contains(content, kw) {
			return true
		}
	}
	return false
}

// HealthCheck is the keyword/threshold HealthScorer over recent history.
type HealthCheck struct{}

// Scores evaluates the three struggle conditions with OR semantics.
// Reported reason priority: assistant repetition, then sustained negative
// affect, then low assistant confidence.
func (HealthCheck) Scores(history []messages.Message) HealthResult {
	if len(history) < 2 {
		return HealthResult{}
	}

	if detectRepetition(history) {
		return HealthResult{Struggling: true, Reason: ReasonRepetition}
	}

	recent := history
	if len(recent) > healthWindow {
		recent = recent[len(recent)-healthWindow:]
	}

	negativeCount := 0
	lowConfidenceCount := 0
	for _, msg := range recent {
		if msg.Sender == messages.RoleVisitor && msg.Emotion != nil && emotion.Negative(*msg.Emotion) {
			negativeCount++
		}
		if msg.Sender == messages.RoleAssistant && msg.Confidence != nil && *msg.Confidence < lowConfidenceThreshold {
			lowConfidenceCount++
		}
	}

	if negativeCount >= 3 {
		return HealthResult{Struggling: true, Reason: ReasonDistress}
	}
	if lowConfidenceCount >= 2 {
		return HealthResult{Struggling: true, Reason: ReasonLowConfidence}
	}
	return HealthResult{}
}

// detectRepetition reports whether any normalized assistant reply occurs
// three or more times among the last assistant messages.
func detectRepetition(history []messages.Message) bool {
	if len(history) < 3 {
		return false
	}

	window := history
	if len(window) > repetitionWindow {
		window = window[len(window)-repetitionWindow:]
	}

	var assistant []string
	for _, msg := range window {
		if msg.Sender == messages.RoleAssistant {
			assistant = append(assistant, normalizeReply(msg.Content))
		}
	}
	if len(assistant) < 3 {
		return false
	}

	counts := make(map[string]int, len(assistant))
	for _, content := range assistant {
		counts[content]++
		if counts[content] >= 3 {
			return true
		}
	}
	return false
}

func normalizeReply(content string) string {
	normalized := strings.ToLower(strings.TrimSpace(content))
	if len(normalized) > repetitionPrefixLen {
		normalized = normalized[:repetitionPrefixLen]
	}
	return normalized
}

// ReplyKind classifies a visitor's reply to a pending escalation
// suggestion.
type ReplyKind int

const (
	ReplyOther ReplyKind = iota
	ReplyAccept
	ReplyDecline
)

// ClassifyReply matches the visitor's message against the affirmative and
// negative vocabularies. Acceptance is checked first; a message matching
// neither leaves the suggestion pending.
func ClassifyReply(text string) ReplyKind {
	content := strings.ToLower(strings.TrimSpace(text))
	if content == "" {
		return ReplyOther
	}
	for _, kw := range acceptVocabulary {
		if strings.Contains(content, kw) {
			return ReplyAccept
		}
	}
	for _, kw := range declineVocabulary {
		if strings.Contains(content, kw) {
			return ReplyDecline
		}
	}
	return ReplyOther
}

// Action tells the router what to do with the current visitor message.
type Action int

const (
	// ActionConsultAssistant means no escalation work is needed; the
	// assistant may be consulted for this turn.
	ActionConsultAssistant Action = iota
	// ActionEscalate means a new pending escalation should be created and
	// the assistant suppressed for this turn.
	ActionEscalate
	// ActionAccept resolves the pending escalation as accepted and
	// suppresses the assistant.
	ActionAccept
	// ActionDecline resolves the pending escalation as declined, then
	// falls through to normal assistant handling for this same message.
	ActionDecline
)

// Decision is the evaluator's verdict for one inbound visitor message.
type Decision struct {
	Action Action
	Reason Reason
}

// Evaluator is the pure decision core. It holds no session state; the
// router supplies the active escalation record and recent history.
type Evaluator struct {
	intent IntentClassifier
	health HealthScorer
}

// NewEvaluator creates an evaluator. Nil classifiers default to the keyword
// implementations.
func NewEvaluator(intent IntentClassifier, health HealthScorer) *Evaluator {
	if intent == nil {
		intent = KeywordIntent{}
	}
	if health == nil {
		health = HealthCheck{}
	}
	return &Evaluator{intent: intent, health: health}
}

// Evaluate decides what to do with a visitor message. active is the
// session's pending escalation, or nil when none exists; history is the
// recent conversation, oldest first, excluding the current message.
func (e *Evaluator) Evaluate(active *Escalation, content string, history []messages.Message) Decision {
	if active != nil && active.Outcome == OutcomePending {
		switch ClassifyReply(content) {
		case ReplyAccept:
			return Decision{Action: ActionAccept}
		case ReplyDecline:
			return Decision{Action: ActionDecline}
		default:
			// Neither: the suggestion stays pending and the assistant
			// handles the message normally.
			return Decision{Action: ActionConsultAssistant}
		}
	}

	if e.intent.Classifies(content) {
		return Decision{Action: ActionEscalate, Reason: ReasonUserRequest}
	}

	if result := e.health.Scores(history); result.Struggling {
		return Decision{Action: ActionEscalate, Reason: result.Reason}
	}

	return Decision{Action: ActionConsultAssistant}
}
