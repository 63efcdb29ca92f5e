package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mindhaven/mindhaven-platform/internal/appointments"
	"github.com/mindhaven/mindhaven-platform/internal/assistant"
	"github.com/mindhaven/mindhaven-platform/internal/emotion"
	"github.com/mindhaven/mindhaven-platform/internal/escalation"
	"github.com/mindhaven/mindhaven-platform/internal/messages"
	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

type memStore struct {
	mu         sync.Mutex
	bySession  map[uuid.UUID][]messages.Message
	persistErr error
	analyzer   *emotion.Analyzer
}

func newMemStore() *memStore {
	return &memStore{
		bySession: make(map[uuid.UUID][]messages.Message),
		analyzer:  emotion.NewAnalyzer(),
	}
}

func (s *memStore) Persist(_ context.Context, sessionID uuid.UUID, visitorID *uuid.UUID, sender messages.Role, content string) (messages.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		return messages.Message{}, s.persistErr
	}
	msg := messages.Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		VisitorID: visitorID,
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if sender == messages.RoleVisitor {
		label, confidence := s.analyzer.Analyze(content)
		msg.Emotion = &label
		msg.Confidence = &confidence
	}
	s.bySession[sessionID] = append(s.bySession[sessionID], msg)
	return msg, nil
}

func (s *memStore) PersistAssistant(_ context.Context, sessionID uuid.UUID, content string, confidence float64) (messages.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		return messages.Message{}, s.persistErr
	}
	msg := messages.Message{
		ID:         uuid.New(),
		SessionID:  sessionID,
		Sender:     messages.RoleAssistant,
		Content:    content,
		Confidence: &confidence,
		CreatedAt:  time.Now().UTC(),
	}
	s.bySession[sessionID] = append(s.bySession[sessionID], msg)
	return msg, nil
}

func (s *memStore) History(_ context.Context, sessionID uuid.UUID, limit int) ([]messages.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.bySession[sessionID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]messages.Message, len(all))
	copy(out, all)
	return out, nil
}

type memEscalations struct {
	mu      sync.Mutex
	records map[uuid.UUID][]*escalation.Escalation
	creates int
}

func newMemEscalations() *memEscalations {
	return &memEscalations{records: make(map[uuid.UUID][]*escalation.Escalation)}
}

func (s *memEscalations) GetActive(_ context.Context, sessionID uuid.UUID) (*escalation.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked(sessionID), nil
}

func (s *memEscalations) pendingLocked(sessionID uuid.UUID) *escalation.Escalation {
	for _, esc := range s.records[sessionID] {
		if esc.Outcome == escalation.OutcomePending {
			return esc
		}
	}
	return nil
}

func (s *memEscalations) Create(_ context.Context, sessionID uuid.UUID, reason escalation.Reason) (*escalation.Escalation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if existing := s.pendingLocked(sessionID); existing != nil {
		return existing, false, nil
	}
	esc := &escalation.Escalation{
		ID:          uuid.New(),
		SessionID:   sessionID,
		Reason:      reason,
		Outcome:     escalation.OutcomePending,
		TriggeredAt: time.Now().UTC(),
	}
	s.records[sessionID] = append(s.records[sessionID], esc)
	return esc, true, nil
}

func (s *memEscalations) Resolve(_ context.Context, sessionID uuid.UUID, outcome escalation.Outcome) (*escalation.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	esc := s.pendingLocked(sessionID)
	if esc == nil {
		return nil, escalation.ErrNoPending
	}
	now := time.Now().UTC()
	esc.Outcome = outcome
	esc.ResolvedAt = &now
	return esc, nil
}

func (s *memEscalations) LinkAppointment(_ context.Context, escalationID, appointmentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.records {
		for _, esc := range list {
			if esc.ID == escalationID {
				esc.AppointmentID = &appointmentID
				return nil
			}
		}
	}
	return errors.New("escalation not found")
}

type fakeBooker struct {
	mu    sync.Mutex
	calls int
}

func (b *fakeBooker) AutoBook(_ context.Context, sessionID uuid.UUID, _ string) (*appointments.Appointment, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return &appointments.Appointment{
		ID:        uuid.New(),
		SessionID: sessionID,
		StartsAt:  time.Now().UTC().Add(25 * time.Hour),
		Status:    appointments.StatusScheduled,
	}, true, nil
}

type fakeResponder struct {
	mu    sync.Mutex
	reply assistant.Reply
	err   error
	calls int
}

func (r *fakeResponder) Respond(_ context.Context, _ []messages.Message, _ string) (assistant.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.reply, r.err
}

func (r *fakeResponder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *fakeNotifier) NotifyEscalationAccepted(_ context.Context, _ uuid.UUID, _ *escalation.Escalation, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return nil
}

type routerFixture struct {
	router      *Router
	registry    *Registry
	store       *memStore
	latch       *fakeLatch
	escalations *memEscalations
	booker      *fakeBooker
	responder   *fakeResponder
	notifier    *fakeNotifier
	visitor     *fakeConn
	sessionID   uuid.UUID
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		store:       newMemStore(),
		latch:       newFakeLatch(),
		escalations: newMemEscalations(),
		booker:      &fakeBooker{},
		responder:   &fakeResponder{reply: assistant.Reply{Text: "I'm listening.", Confidence: 0.9, Source: "model"}},
		notifier:    &fakeNotifier{},
		visitor:     &fakeConn{},
		sessionID:   uuid.New(),
	}
	f.registry = NewRegistry(f.latch, nil, logging.Default())
	f.router = NewRouter(RouterConfig{
		Registry:    f.registry,
		Store:       f.store,
		Latch:       f.latch,
		Evaluator:   escalation.NewEvaluator(nil, nil),
		Escalations: f.escalations,
		Booker:      f.booker,
		Responder:   f.responder,
		Notifier:    f.notifier,
		Logger:      logging.Default(),
	})
	if err := f.registry.Connect(context.Background(), f.sessionID, messages.RoleVisitor, f.visitor); err != nil {
		t.Fatalf("visitor connect: %v", err)
	}
	return f
}

func (f *routerFixture) eventsOfType(eventType string) []Event {
	var out []Event
	for _, e := range f.visitor.received() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestHandleInboundEmptyContentIgnored(t *testing.T) {
	f := newRouterFixture(t)

	if err := f.router.HandleInbound(context.Background(), f.sessionID, messages.RoleVisitor, "   "); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.visitor.received()) != 0 {
		t.Error("empty message should produce no events")
	}
	if f.responder.callCount() != 0 {
		t.Error("empty message should not reach the assistant")
	}
}

func TestHandleInboundNormalReply(t *testing.T) {
	f := newRouterFixture(t)

	if err := f.router.HandleInbound(context.Background(), f.sessionID, messages.RoleVisitor, "I had a long day"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	msgs := f.eventsOfType(EventTypeMessage)
	if len(msgs) != 2 {
		t.Fatalf("visitor saw %d message events, want own echo + assistant reply", len(msgs))
	}
	if msgs[1].Sender != string(messages.RoleAssistant) || msgs[1].Content != "I'm listening." {
		t.Errorf("assistant reply = %+v", msgs[1])
	}

	typing := f.eventsOfType(EventTypeTyping)
	if len(typing) != 2 || !*typing[0].IsTyping || *typing[1].IsTyping {
		t.Errorf("expected typing start then stop, got %+v", typing)
	}
}

func TestHandleInboundPersistenceFailureSurfaces(t *testing.T) {
	f := newRouterFixture(t)
	f.store.persistErr = errors.New("database gone")

	err := f.router.HandleInbound(context.Background(), f.sessionID, messages.RoleVisitor, "hello")
	if err == nil {
		t.Fatal("expected persistence error to surface")
	}
	if len(f.visitor.received()) != 0 {
		t.Error("no events should fan out when persistence fails")
	}
	if f.responder.callCount() != 0 {
		t.Error("assistant must not run on persistence failure")
	}
}

func TestTherapistPresenceSkipsAssistant(t *testing.T) {
	f := newRouterFixture(t)
	therapist := &fakeConn{}
	if err := f.registry.Connect(context.Background(), f.sessionID, messages.RoleTherapist, therapist); err != nil {
		t.Fatalf("therapist connect: %v", err)
	}

	if err := f.router.HandleInbound(context.Background(), f.sessionID, messages.RoleVisitor, "are you there?"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.responder.callCount() != 0 {
		t.Error("assistant must stay silent with a therapist present")
	}
	// The message goes to the therapist, not back to its author.
	if got := therapist.received(); len(got) != 1 || got[0].Content != "are you there?" {
		t.Errorf("therapist events = %+v", got)
	}
	for _, e := range f.eventsOfType(EventTypeMessage) {
		if e.Content == "are you there?" && e.Sender == string(messages.RoleVisitor) {
			t.Error("sender should not receive their own message when a therapist is present")
		}
	}
}

func TestLatchSuppressesAssistantAfterTherapistLeaves(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	therapist := &fakeConn{}
	if err := f.registry.Connect(ctx, f.sessionID, messages.RoleTherapist, therapist); err != nil {
		t.Fatalf("therapist connect: %v", err)
	}
	f.registry.Disconnect(f.sessionID, messages.RoleTherapist)

	if err := f.router.HandleInbound(ctx, f.sessionID, messages.RoleVisitor, "hello again"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.responder.callCount() != 0 {
		t.Error("assistant must stay disabled after the therapist disconnects")
	}
	// The visitor still sees their own message broadcast.
	if msgs := f.eventsOfType(EventTypeMessage); len(msgs) == 0 {
		t.Error("visitor message should still broadcast")
	}
}

func TestDirectIntentCreatesEscalationWithoutAssistant(t *testing.T) {
	f := newRouterFixture(t)

	if err := f.router.HandleInbound(context.Background(), f.sessionID, messages.RoleVisitor, "I want to book an appointment"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.responder.callCount() != 0 {
		t.Error("assistant must not be consulted on direct intent")
	}
	pending, _ := f.escalations.GetActive(context.Background(), f.sessionID)
	if pending == nil || pending.Reason != escalation.ReasonUserRequest {
		t.Fatalf("pending = %+v, want user_request", pending)
	}
	suggestions := f.eventsOfType(EventTypeSystemSuggestion)
	if len(suggestions) != 1 {
		t.Fatalf("suggestions = %d, want exactly 1", len(suggestions))
	}
	if suggestions[0].Reason != string(escalation.ReasonUserRequest) {
		t.Errorf("suggestion reason = %q", suggestions[0].Reason)
	}
}

func TestPendingEscalationDoubleTriggerIsIdempotent(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	if err := f.router.HandleInbound(ctx, f.sessionID, messages.RoleVisitor, "I need a therapist"); err != nil {
		t.Fatalf("first: %v", err)
	}
	// A second intent message while pending neither duplicates the record
	// nor re-sends the suggestion; the neither-vocabulary path falls
	// through to the assistant.
	if err := f.router.HandleInbound(ctx, f.sessionID, messages.RoleVisitor, "what would a therapist session be like"); err != nil {
		t.Fatalf("second: %v", err)
	}

	var pendingCount int
	for _, esc := range f.escalations.records[f.sessionID] {
		if esc.Outcome == escalation.OutcomePending {
			pendingCount++
		}
	}
	if pendingCount != 1 {
		t.Errorf("pending records = %d, want 1", pendingCount)
	}
	if got := len(f.eventsOfType(EventTypeSystemSuggestion)); got != 1 {
		t.Errorf("suggestions = %d, want 1", got)
	}
}

func TestAcceptBooksAppointmentOnce(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	if err := f.router.HandleInbound(ctx, f.sessionID, messages.RoleVisitor, "I need a therapist"); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	assistantCalls := f.responder.callCount()

	if err := f.router.HandleInbound(ctx, f.sessionID, messages.RoleVisitor, "yes please"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if f.responder.callCount() != assistantCalls {
		t.Error("assistant must not run on acceptance")
	}
	if f.booker.calls != 1 {
		t.Errorf("auto-book calls = %d, want 1", f.booker.calls)
	}
	accepted := f.eventsOfType(EventTypeEscalationAccepted)
	if len(accepted) != 1 {
		t.Fatalf("ESCALATION_ACCEPTED events = %d, want exactly 1", len(accepted))
	}
	if f.notifier.calls != 1 {
		t.Errorf("notifier calls = %d, want 1", f.notifier.calls)
	}

	records := f.escalations.records[f.sessionID]
	if len(records) != 1 || records[0].Outcome != escalation.OutcomeAccepted {
		t.Fatalf("records = %+v, want one accepted", records)
	}
	if records[0].AppointmentID == nil {
		t.Error("accepted escalation should link its appointment")
	}
}

func TestDeclineFallsThroughToAssistant(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	if err := f.router.HandleInbound(ctx, f.sessionID, messages.RoleVisitor, "I need a therapist"); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if err := f.router.HandleInbound(ctx, f.sessionID, messages.RoleVisitor, "not now"); err != nil {
		t.Fatalf("decline: %v", err)
	}

	if f.booker.calls != 0 {
		t.Error("decline must not book")
	}
	if f.responder.callCount() != 1 {
		t.Errorf("assistant calls = %d, want 1 (decline falls through)", f.responder.callCount())
	}
	records := f.escalations.records[f.sessionID]
	if len(records) != 1 || records[0].Outcome != escalation.OutcomeDeclined {
		t.Fatalf("records = %+v, want one declined", records)
	}

	// Decline does not block later escalations.
	if err := f.router.HandleInbound(ctx, f.sessionID, messages.RoleVisitor, "actually I need a therapist"); err != nil {
		t.Fatalf("re-escalate: %v", err)
	}
	pending, _ := f.escalations.GetActive(ctx, f.sessionID)
	if pending == nil {
		t.Fatal("a declined escalation must not suppress future ones")
	}
}

func TestAssistantEscalationTokenIntercepted(t *testing.T) {
	f := newRouterFixture(t)
	f.responder.reply = assistant.Reply{Escalate: true, Confidence: 0.9, Source: "model"}

	if err := f.router.HandleInbound(context.Background(), f.sessionID, messages.RoleVisitor, "nothing is working for me"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	pending, _ := f.escalations.GetActive(context.Background(), f.sessionID)
	if pending == nil || pending.Reason != escalation.ReasonAssistantDetected {
		t.Fatalf("pending = %+v, want assistant_detected", pending)
	}
	// The visitor sees the suggestion, never the token or an empty reply.
	if got := len(f.eventsOfType(EventTypeSystemSuggestion)); got != 1 {
		t.Errorf("suggestions = %d, want 1", got)
	}
	for _, e := range f.eventsOfType(EventTypeMessage) {
		if e.Sender == string(messages.RoleAssistant) {
			t.Errorf("no assistant message should be delivered, got %+v", e)
		}
	}
}

func TestDistressSequenceEscalates(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	// A silent responder keeps history to visitor messages only, so the
	// five-message health window sees the whole emotion sequence.
	f.responder.reply = assistant.Reply{Text: "", Confidence: 0.9, Source: "model"}

	// Emotion-scored visitor messages build up in history; the distress
	// check fires once three negatives land in the health window.
	sequence := []string{
		"I feel so sad and hopeless",          // sadness
		"it was an ordinary day",              // neutral
		"I'm scared about what happens next",  // fear
		"and I'm furious at myself",           // anger
		"but thanks for asking, I'm grateful", // joy
	}
	for _, content := range sequence {
		if err := f.router.HandleInbound(ctx, f.sessionID, messages.RoleVisitor, content); err != nil {
			t.Fatalf("handle %q: %v", content, err)
		}
		if pending, _ := f.escalations.GetActive(ctx, f.sessionID); pending != nil {
			if pending.Reason != escalation.ReasonDistress {
				t.Fatalf("reason = %q, want emotional_distress", pending.Reason)
			}
			return
		}
	}
	t.Fatal("distress sequence should have triggered an escalation")
}

func TestAssistantFallbackSingleReply(t *testing.T) {
	f := newRouterFixture(t)
	f.responder.reply = assistant.Reply{Text: "I hear you. Can you tell me more about how you're feeling?", Confidence: 0.4, Source: "canned"}

	if err := f.router.HandleInbound(context.Background(), f.sessionID, messages.RoleVisitor, "hmm"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var assistantReplies int
	for _, e := range f.eventsOfType(EventTypeMessage) {
		if e.Sender == string(messages.RoleAssistant) {
			assistantReplies++
		}
	}
	if assistantReplies != 1 {
		t.Errorf("assistant replies = %d, want exactly 1", assistantReplies)
	}
}

func TestTherapistMessageNeverAnswered(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	therapist := &fakeConn{}
	if err := f.registry.Connect(ctx, f.sessionID, messages.RoleTherapist, therapist); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := f.router.HandleInbound(ctx, f.sessionID, messages.RoleTherapist, "how are you feeling today?"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.responder.callCount() != 0 {
		t.Error("assistant must not answer therapist messages")
	}
	// The visitor received it.
	found := false
	for _, e := range f.eventsOfType(EventTypeMessage) {
		if e.Sender == string(messages.RoleTherapist) {
			found = true
		}
	}
	if !found {
		t.Error("visitor should receive the therapist message")
	}
}
