package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/mindhaven/mindhaven-platform/internal/messages"
	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

type fakeConn struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (f *fakeConn) Send(event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection gone")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeConn) received() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

type fakeLatch struct {
	mu       sync.Mutex
	disabled map[uuid.UUID]bool
	calls    int
	err      error
}

func newFakeLatch() *fakeLatch {
	return &fakeLatch{disabled: make(map[uuid.UUID]bool)}
}

func (f *fakeLatch) Disable(_ context.Context, sessionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls++
	f.disabled[sessionID] = true
	return nil
}

func (f *fakeLatch) Disabled(_ context.Context, sessionID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disabled[sessionID], nil
}

func newTestRegistry(latch LatchWriter) *Registry {
	return NewRegistry(latch, nil, logging.Default())
}

func TestConnectRejectsInvalidRole(t *testing.T) {
	reg := newTestRegistry(nil)
	sessionID := uuid.New()

	for _, role := range []messages.Role{messages.RoleAssistant, messages.RoleSystem, "admin", ""} {
		if err := reg.Connect(context.Background(), sessionID, role, &fakeConn{}); err != ErrInvalidRole {
			t.Errorf("Connect(%q) err = %v, want ErrInvalidRole", role, err)
		}
	}
	if reg.HasRole(sessionID, messages.RoleAssistant) {
		t.Error("rejected connect must not mutate the registry")
	}
}

func TestTherapistConnectSetsLatchPermanently(t *testing.T) {
	latch := newFakeLatch()
	reg := newTestRegistry(latch)
	sessionID := uuid.New()
	ctx := context.Background()

	conn := &fakeConn{}
	if err := reg.Connect(ctx, sessionID, messages.RoleTherapist, conn); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !latch.disabled[sessionID] {
		t.Fatal("latch should be set on therapist connect")
	}

	// Disconnect and reconnect: the latch never clears.
	reg.Disconnect(sessionID, messages.RoleTherapist)
	if !latch.disabled[sessionID] {
		t.Fatal("latch must survive disconnect")
	}
	if err := reg.Connect(ctx, sessionID, messages.RoleTherapist, &fakeConn{}); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if latch.calls != 2 {
		t.Errorf("latch writes = %d, want one per connect", latch.calls)
	}
}

func TestTherapistConnectRejectedWhenLatchFails(t *testing.T) {
	latch := newFakeLatch()
	latch.err = errors.New("database down")
	reg := newTestRegistry(latch)
	sessionID := uuid.New()

	if err := reg.Connect(context.Background(), sessionID, messages.RoleTherapist, &fakeConn{}); err == nil {
		t.Fatal("expected connect to fail when latch write fails")
	}
	if reg.HasRole(sessionID, messages.RoleTherapist) {
		t.Error("failed connect must not register presence")
	}
}

func TestTherapistConnectNotifiesVisitor(t *testing.T) {
	reg := newTestRegistry(newFakeLatch())
	sessionID := uuid.New()
	ctx := context.Background()

	visitor := &fakeConn{}
	if err := reg.Connect(ctx, sessionID, messages.RoleVisitor, visitor); err != nil {
		t.Fatalf("visitor connect: %v", err)
	}
	therapist := &fakeConn{}
	if err := reg.Connect(ctx, sessionID, messages.RoleTherapist, therapist); err != nil {
		t.Fatalf("therapist connect: %v", err)
	}

	events := visitor.received()
	if len(events) != 1 {
		t.Fatalf("visitor got %d events, want 1", len(events))
	}
	if events[0].Sender != string(messages.RoleSystem) || events[0].Content != therapistJoinedNotice {
		t.Errorf("unexpected notice: %+v", events[0])
	}
	if len(therapist.received()) != 0 {
		t.Error("the joining therapist should not receive their own notice")
	}
}

func TestReconnectSupersedes(t *testing.T) {
	reg := newTestRegistry(nil)
	sessionID := uuid.New()
	ctx := context.Background()

	first := &fakeConn{}
	second := &fakeConn{}
	if err := reg.Connect(ctx, sessionID, messages.RoleVisitor, first); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := reg.Connect(ctx, sessionID, messages.RoleVisitor, second); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	reg.Broadcast(sessionID, Event{Type: EventTypeMessage, Content: "hi"})
	if len(first.received()) != 0 {
		t.Error("superseded connection should not receive events")
	}
	if len(second.received()) != 1 {
		t.Error("current connection should receive the event")
	}

	// The old read loop ending must not evict the new connection.
	reg.DisconnectConn(sessionID, messages.RoleVisitor, first)
	if !reg.HasRole(sessionID, messages.RoleVisitor) {
		t.Error("successor connection was evicted by its predecessor's disconnect")
	}
}

func TestDeliveryFailurePrunesStaleRole(t *testing.T) {
	reg := newTestRegistry(newFakeLatch())
	sessionID := uuid.New()
	ctx := context.Background()

	stale := &fakeConn{fail: true}
	live := &fakeConn{}
	if err := reg.Connect(ctx, sessionID, messages.RoleVisitor, live); err != nil {
		t.Fatalf("visitor connect: %v", err)
	}
	if err := reg.Connect(ctx, sessionID, messages.RoleTherapist, stale); err != nil {
		t.Fatalf("therapist connect: %v", err)
	}

	reg.Broadcast(sessionID, Event{Type: EventTypeMessage, Content: "hello"})

	// The live connection still got the event (plus the earlier join notice).
	events := live.received()
	if len(events) == 0 || events[len(events)-1].Content != "hello" {
		t.Errorf("live connection missed the broadcast: %+v", events)
	}
	if reg.HasRole(sessionID, messages.RoleTherapist) {
		t.Error("stale role should be pruned after a failed write")
	}
}

func TestRoleOf(t *testing.T) {
	reg := newTestRegistry(nil)
	sessionID := uuid.New()
	conn := &fakeConn{}

	if _, err := reg.RoleOf(sessionID, conn); err != ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	if err := reg.Connect(context.Background(), sessionID, messages.RoleVisitor, conn); err != nil {
		t.Fatalf("connect: %v", err)
	}
	role, err := reg.RoleOf(sessionID, conn)
	if err != nil || role != messages.RoleVisitor {
		t.Errorf("RoleOf = (%q, %v), want visitor", role, err)
	}
}
