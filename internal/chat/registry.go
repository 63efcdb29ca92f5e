package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mindhaven/mindhaven-platform/internal/messages"
	"github.com/mindhaven/mindhaven-platform/internal/observability/metrics"
	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

// ErrInvalidRole is returned when a connection claims a role that cannot
// hold a socket.
var ErrInvalidRole = errors.New("chat: role must be visitor or therapist")

// ErrNotConnected is returned by RoleOf for unknown connections.
var ErrNotConnected = errors.New("chat: connection not registered")

const therapistJoinedNotice = "A therapist has joined the conversation."

// Conn delivers events to one connected peer. The websocket layer wraps
// *websocket.Conn; tests use in-memory fakes.
type Conn interface {
	Send(event Event) error
}

// LatchWriter durably disables the assistant for a session.
type LatchWriter interface {
	Disable(ctx context.Context, sessionID uuid.UUID) error
}

type session struct {
	conns map[messages.Role]Conn
}

// Registry tracks which roles hold live connections per session. A
// therapist connection permanently disables the assistant for the session
// before presence is visible.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
	// locks outlive connection churn so a router holding a session lock
	// is never orphaned by a disconnect.
	locks map[uuid.UUID]*sync.Mutex

	latch   LatchWriter
	logger  *logging.Logger
	metrics *metrics.ChatMetrics
}

// NewRegistry creates a session registry.
func NewRegistry(latch LatchWriter, m *metrics.ChatMetrics, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		sessions: make(map[uuid.UUID]*session),
		locks:    make(map[uuid.UUID]*sync.Mutex),
		latch:    latch,
		logger:   logger,
		metrics:  m,
	}
}

// Connect registers a connection for a role. A later connection for the
// same role supersedes the earlier one without closing it. A therapist
// connection first writes the durable assistant latch; if that write fails
// the connection is rejected so the session never carries an unlatched
// therapist.
func (r *Registry) Connect(ctx context.Context, sessionID uuid.UUID, role messages.Role, conn Conn) error {
	if !role.Connectable() {
		return ErrInvalidRole
	}

	if role == messages.RoleTherapist && r.latch != nil {
		if err := r.latch.Disable(ctx, sessionID); err != nil {
			return fmt.Errorf("chat: latch on therapist connect: %w", err)
		}
	}

	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		s = &session{conns: make(map[messages.Role]Conn)}
		r.sessions[sessionID] = s
	}
	superseded := s.conns[role] != nil
	s.conns[role] = conn
	r.mu.Unlock()

	if !superseded {
		r.metrics.ConnectionOpened(string(role))
	}
	r.logger.Info("connection registered",
		"session_id", sessionID,
		"role", role,
		"superseded", superseded,
	)

	if role == messages.RoleTherapist {
		r.SendToOthers(sessionID, role, Event{
			Type:    EventTypeMessage,
			Sender:  string(messages.RoleSystem),
			Content: therapistJoinedNotice,
		})
	}
	return nil
}

// Disconnect removes a role's connection. The session entry is dropped
// once the last role leaves.
func (r *Registry) Disconnect(sessionID uuid.UUID, role messages.Role) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	_, present := s.conns[role]
	delete(s.conns, role)
	if len(s.conns) == 0 {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if present {
		r.metrics.ConnectionClosed(string(role))
		r.logger.Info("connection removed", "session_id", sessionID, "role", role)
	}
}

// DisconnectConn removes a role's connection only if conn is still the
// registered one, so a read loop ending after its connection was superseded
// does not evict the successor.
func (r *Registry) DisconnectConn(sessionID uuid.UUID, role messages.Role, conn Conn) {
	r.dropIfCurrent(sessionID, role, conn)
}

// HasRole reports whether the role holds a live connection.
func (r *Registry) HasRole(sessionID uuid.UUID, role messages.Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return ok && s.conns[role] != nil
}

// RoleOf returns the role a connection is registered under.
func (r *Registry) RoleOf(sessionID uuid.UUID, conn Conn) (messages.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[sessionID]; ok {
		for role, c := range s.conns {
			if c == conn {
				return role, nil
			}
		}
	}
	return "", ErrNotConnected
}

// Broadcast delivers an event to every connected role.
func (r *Registry) Broadcast(sessionID uuid.UUID, event Event) {
	r.deliver(sessionID, event, func(messages.Role) bool { return true })
}

// SendToRole delivers an event to one role, if connected.
func (r *Registry) SendToRole(sessionID uuid.UUID, role messages.Role, event Event) {
	r.deliver(sessionID, event, func(target messages.Role) bool { return target == role })
}

// SendToOthers delivers an event to every role except the sender.
func (r *Registry) SendToOthers(sessionID uuid.UUID, sender messages.Role, event Event) {
	r.deliver(sessionID, event, func(target messages.Role) bool { return target != sender })
}

// deliver fans an event out to matching roles. A failed write is treated
// as an implicit disconnect of that role and never stops delivery to the
// rest.
func (r *Registry) deliver(sessionID uuid.UUID, event Event, match func(messages.Role) bool) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.RUnlock()
		return
	}
	targets := make(map[messages.Role]Conn, len(s.conns))
	for role, conn := range s.conns {
		if match(role) {
			targets[role] = conn
		}
	}
	r.mu.RUnlock()

	for role, conn := range targets {
		if err := conn.Send(event); err != nil {
			r.logger.Warn("event delivery failed, dropping connection",
				"session_id", sessionID,
				"role", role,
				"error", err,
			)
			r.metrics.ObserveDeliveryFailure()
			r.dropIfCurrent(sessionID, role, conn)
		}
	}
}

// dropIfCurrent removes the connection only if it is still the one
// registered for the role, so a superseding reconnect is never evicted by
// its predecessor's failure.
func (r *Registry) dropIfCurrent(sessionID uuid.UUID, role messages.Role, conn Conn) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok && s.conns[role] == conn {
		delete(s.conns, role)
		if len(s.conns) == 0 {
			delete(r.sessions, sessionID)
		}
		r.mu.Unlock()
		r.metrics.ConnectionClosed(string(role))
		return
	}
	r.mu.Unlock()
}

// SessionLock returns the mutex serializing message handling for the
// session.
func (r *Registry) SessionLock(sessionID uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[sessionID] = lock
	}
	return lock
}
