package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mindhaven/mindhaven-platform/internal/messages"
	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

// CloseInvalidRole is sent when a socket claims a role other than visitor
// or therapist.
const CloseInvalidRole = 4003

// Transport-level frame types owned by the websocket layer.
const (
	frameTypeSession = "session"
	frameTypeError   = "error"
)

// inboundFrame is what a connected client sends.
type inboundFrame struct {
	Type     string `json:"type"` // "message", "typing", "ping"
	Content  string `json:"content"`
	IsTyping bool   `json:"is_typing"`
}

// transportFrame is a session/error/pong frame.
type transportFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SessionEnsurer guarantees the session row exists before messages land.
type SessionEnsurer interface {
	Ensure(ctx context.Context, sessionID uuid.UUID) error
}

// wsPeer wraps a websocket connection with a write mutex; gorilla permits
// only one concurrent writer.
type wsPeer struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (p *wsPeer) Send(event Event) error {
	return p.write(event)
}

func (p *wsPeer) write(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeTimeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	return p.conn.WriteJSON(v)
}

func (p *wsPeer) close(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = p.conn.Close()
}

// WSOptions tune the websocket endpoint.
type WSOptions struct {
	ReadLimit    int64
	WriteTimeout time.Duration
}

// WSHandler upgrades chat sockets and pumps inbound frames through the
// router.
type WSHandler struct {
	registry *Registry
	router   *Router
	sessions SessionEnsurer
	upgrader websocket.Upgrader
	opts     WSOptions
	logger   *logging.Logger
}

// NewWSHandler creates the websocket endpoint handler.
func NewWSHandler(registry *Registry, router *Router, sessions SessionEnsurer, opts WSOptions, logger *logging.Logger) *WSHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 * 1024
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &WSHandler{
		registry: registry,
		router:   router,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The chat widget is embedded on arbitrary clinic sites.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		opts:   opts,
		logger: logger,
	}
}

// ServeHTTP handles GET /api/chat/ws?session=&role=.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionParam := r.URL.Query().Get("session")
	sessionID, err := uuid.Parse(sessionParam)
	if err != nil {
		http.Error(w, "valid session parameter required", http.StatusBadRequest)
		return
	}
	role := messages.Role(r.URL.Query().Get("role"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(h.opts.ReadLimit)
	peer := &wsPeer{conn: conn, writeTimeout: h.opts.WriteTimeout}

	// Role is validated before the registry sees the connection.
	if !role.Connectable() {
		peer.close(CloseInvalidRole, "role must be visitor or therapist")
		return
	}

	ctx := r.Context()
	if h.sessions != nil {
		if err := h.sessions.Ensure(ctx, sessionID); err != nil {
			h.logger.Error("session ensure failed", "session_id", sessionID, "error", err)
			_ = peer.write(transportFrame{Type: frameTypeError, Message: "session unavailable"})
			peer.close(websocket.CloseInternalServerErr, "session unavailable")
			return
		}
	}

	if err := h.registry.Connect(ctx, sessionID, role, peer); err != nil {
		h.logger.Error("connect failed", "session_id", sessionID, "role", role, "error", err)
		_ = peer.write(transportFrame{Type: frameTypeError, Message: "connection rejected"})
		peer.close(websocket.CloseInternalServerErr, "connection rejected")
		return
	}
	defer h.registry.DisconnectConn(sessionID, role, peer)

	_ = peer.write(transportFrame{Type: frameTypeSession, SessionID: sessionID.String()})

	h.readLoop(sessionID, role, peer)
}

// readLoop pumps frames until the socket drops. Message handling runs on
// this goroutine, so in-flight work for the last message finishes even
// after the socket is gone.
func (h *WSHandler) readLoop(sessionID uuid.UUID, role messages.Role, peer *wsPeer) {
	// Handling outlives the request context: the visitor's message must be
	// persisted and answered even if they drop mid-flight.
	ctx := context.Background()

	for {
		_, data, err := peer.conn.ReadMessage()
		if err != nil {
			h.logger.Debug("websocket closed", "session_id", sessionID, "role", role, "error", err)
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = peer.write(transportFrame{Type: frameTypeError, Message: "invalid frame"})
			continue
		}

		switch frame.Type {
		case "ping":
			_ = peer.write(transportFrame{Type: "pong"})
		case "typing":
			h.registry.SendToOthers(sessionID, role, NewTypingEvent(string(role), frame.IsTyping))
		case "message":
			if err := h.router.HandleInbound(ctx, sessionID, role, frame.Content); err != nil {
				h.logger.Error("inbound handling failed",
					"session_id", sessionID, "role", role, "error", err)
				_ = peer.write(transportFrame{
					Type:    frameTypeError,
					Message: "message could not be saved, please try again",
				})
			}
		}
	}
}
