package assistant

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mindhaven/mindhaven-platform/internal/messages"
	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

// Responder produces the assistant's reply for one visitor message.
type Responder interface {
	Respond(ctx context.Context, history []messages.Message, content string) (Reply, error)
}

// Options tune the chain responder.
type Options struct {
	// Model is the backend model id, passed through to Bedrock.
	Model string
	// MaxTurns bounds how much history is sent for context.
	MaxTurns int
	// MaxTokens caps the reply length.
	MaxTokens int32
}

// ChainResponder consults the model chain and falls back to canned replies
// so the visitor always gets a response.
type ChainResponder struct {
	chain  LLMClient
	canned CannedClient
	opts   Options
	logger *logging.Logger
	tracer trace.Tracer
}

// NewChainResponder creates a responder over the given model chain. A nil
// chain serves canned replies only.
func NewChainResponder(chain LLMClient, opts Options, logger *logging.Logger) *ChainResponder {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 6
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 512
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ChainResponder{
		chain:  chain,
		opts:   opts,
		logger: logger,
		tracer: otel.Tracer("mindhaven.internal.assistant"),
	}
}

// Respond builds model context from recent history plus the current visitor
// message, consults the chain, and post-processes the escalation token.
func (r *ChainResponder) Respond(ctx context.Context, history []messages.Message, content string) (Reply, error) {
	ctx, span := r.tracer.Start(ctx, "assistant.respond")
	defer span.End()

	req := LLMRequest{
		Model:       r.opts.Model,
		System:      []string{systemPrompt},
		Messages:    buildTurns(history, content, r.opts.MaxTurns),
		MaxTokens:   r.opts.MaxTokens,
		Temperature: 0.7,
	}

	reply := Reply{Confidence: modelConfidence, Source: "model"}
	var resp LLMResponse
	var err error
	if r.chain != nil {
		resp, err = r.chain.Complete(ctx, req)
	}
	if r.chain == nil || err != nil {
		if err != nil {
			span.RecordError(err)
			r.logger.Warn("model chain failed, serving canned reply", "error", err.Error())
		}
		resp, _ = r.canned.Complete(ctx, req)
		reply.Confidence = cannedConfidence
		reply.Source = "canned"
	}

	reply.Text, reply.Escalate = StripEscalateToken(resp.Text)
	return reply, nil
}

// buildTurns converts stored messages into model turns, keeping the last
// maxTurns of context and appending the current message. Therapist and
// system messages are folded in as user context so the model sees the whole
// conversation.
func buildTurns(history []messages.Message, content string, maxTurns int) []Turn {
	recent := history
	if len(recent) > maxTurns {
		recent = recent[len(recent)-maxTurns:]
	}

	turns := make([]Turn, 0, len(recent)+1)
	for _, msg := range recent {
		role := ChatRoleUser
		if msg.Sender == messages.RoleAssistant {
			role = ChatRoleAssistant
		}
		turns = append(turns, Turn{Role: role, Content: msg.Content})
	}
	return append(turns, Turn{Role: ChatRoleUser, Content: content})
}
