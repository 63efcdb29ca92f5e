// Package handlers exposes the REST surface: session lifecycle, the HTTP
// message fallback, history, stats, therapist join, escalation history, and
// appointment management.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mindhaven/mindhaven-platform/internal/chat"
	"github.com/mindhaven/mindhaven-platform/internal/escalation"
	"github.com/mindhaven/mindhaven-platform/internal/messages"
	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

// SessionStore is the session persistence surface the chat handler needs.
type SessionStore interface {
	Ensure(ctx context.Context, sessionID uuid.UUID) error
}

// MessageReader reads history and stats.
type MessageReader interface {
	History(ctx context.Context, sessionID uuid.UUID, limit int) ([]messages.Message, error)
	Stats(ctx context.Context, sessionID uuid.UUID) (messages.SessionStats, error)
}

// EscalationReader lists a session's escalations.
type EscalationReader interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*escalation.Escalation, error)
}

// ChatHandler serves the chat REST endpoints.
type ChatHandler struct {
	sessions    SessionStore
	store       MessageReader
	router      *chat.Router
	registry    *chat.Registry
	latch       chat.LatchWriter
	escalations EscalationReader
	logger      *logging.Logger
}

// NewChatHandler creates the chat REST handler.
func NewChatHandler(sessions SessionStore, store MessageReader, router *chat.Router, registry *chat.Registry, latch chat.LatchWriter, escalations EscalationReader, logger *logging.Logger) *ChatHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatHandler{
		sessions:    sessions,
		store:       store,
		router:      router,
		registry:    registry,
		latch:       latch,
		escalations: escalations,
		logger:      logger,
	}
}

// CreateSession mints a new chat session.
// POST /api/chat/session/create
func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.New()
	if err := h.sessions.Ensure(r.Context(), sessionID); err != nil {
		h.logger.Error("session create failed", "error", err)
		http.Error(w, "could not create session", http.StatusInternalServerError)
		return
	}

	visitorID := uuid.New()
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id":   sessionID.String(),
		"visitor_id":   visitorID.String(),
		"visitor_name": "Visitor-" + visitorID.String()[:8],
	})
}

// PostMessage is the HTTP fallback for clients without a socket. The
// message runs through the same router pipeline; a persistence failure is
// a 500.
// POST /api/chat/messages
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Sender    string `json:"sender"`
		Content   string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		http.Error(w, "valid session_id is required", http.StatusBadRequest)
		return
	}
	sender := messages.Role(req.Sender)
	if sender == "" {
		sender = messages.RoleVisitor
	}
	if !sender.Valid() || sender == messages.RoleAssistant {
		http.Error(w, "invalid sender", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	if err := h.sessions.Ensure(r.Context(), sessionID); err != nil {
		h.logger.Error("session ensure failed", "session_id", sessionID, "error", err)
		http.Error(w, "could not store message", http.StatusInternalServerError)
		return
	}
	if err := h.router.HandleInbound(r.Context(), sessionID, sender, req.Content); err != nil {
		h.logger.Error("message handling failed", "session_id", sessionID, "error", err)
		http.Error(w, "could not store message", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

// History returns session messages oldest first.
// GET /api/chat/messages/{sessionID}?limit=
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	history, err := h.store.History(r.Context(), sessionID, limit)
	if err != nil {
		h.logger.Error("history load failed", "session_id", sessionID, "error", err)
		http.Error(w, "could not load history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []messages.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": history})
}

// Stats returns message counts and session duration.
// GET /api/chat/session/{sessionID}/stats
func (h *ChatHandler) Stats(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	stats, err := h.store.Stats(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("stats load failed", "session_id", sessionID, "error", err)
		http.Error(w, "could not load stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// TherapistJoin marks a therapist as handling the session: the durable
// assistant latch is written and connected peers are notified. Used by the
// staff dashboard, which may act before the therapist opens a socket.
// POST /api/chat/therapist/join/{sessionID}
func (h *ChatHandler) TherapistJoin(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	if err := h.latch.Disable(r.Context(), sessionID); err != nil {
		h.logger.Error("latch write failed", "session_id", sessionID, "error", err)
		http.Error(w, "could not join session", http.StatusInternalServerError)
		return
	}
	h.registry.SendToOthers(sessionID, messages.RoleTherapist, chat.Event{
		Type:    chat.EventTypeMessage,
		Sender:  string(messages.RoleSystem),
		Content: "A therapist has joined the conversation.",
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  sessionID.String(),
		"ai_disabled": true,
	})
}

// Escalations returns the session's escalation history.
// GET /api/chat/escalations/{sessionID}
func (h *ChatHandler) Escalations(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	list, err := h.escalations.ListBySession(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("escalation list failed", "session_id", sessionID, "error", err)
		http.Error(w, "could not load escalations", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*escalation.Escalation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": list})
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "valid session id required", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return sessionID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
