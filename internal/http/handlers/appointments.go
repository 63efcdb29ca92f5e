package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mindhaven/mindhaven-platform/internal/appointments"
	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

// AppointmentsHandler serves appointment management endpoints for clinic
// staff.
type AppointmentsHandler struct {
	service *appointments.Service
	logger  *logging.Logger
}

// NewAppointmentsHandler creates the appointments REST handler.
func NewAppointmentsHandler(service *appointments.Service, logger *logging.Logger) *AppointmentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentsHandler{service: service, logger: logger}
}

// List returns appointments, optionally filtered by status.
// GET /api/appointments?status=&limit=
func (h *AppointmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	var status *appointments.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := appointments.Status(raw)
		if !s.Valid() {
			http.Error(w, "unknown status", http.StatusBadRequest)
			return
		}
		status = &s
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	list, err := h.service.List(r.Context(), status, limit)
	if err != nil {
		h.logger.Error("appointments list failed", "error", err)
		http.Error(w, "could not load appointments", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*appointments.Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": list})
}

// Upcoming returns future appointments soonest first.
// GET /api/appointments/upcoming
func (h *AppointmentsHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Upcoming(r.Context(), 50)
	if err != nil {
		h.logger.Error("upcoming appointments failed", "error", err)
		http.Error(w, "could not load appointments", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*appointments.Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": list})
}

// Get returns a single appointment.
// GET /api/appointments/{appointmentID}
func (h *AppointmentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		http.Error(w, "valid appointment id required", http.StatusBadRequest)
		return
	}
	appt, err := h.service.Get(r.Context(), id)
	if errors.Is(err, appointments.ErrNotFound) {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("appointment load failed", "appointment_id", id, "error", err)
		http.Error(w, "could not load appointment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// UpdateStatus transitions an appointment's lifecycle state.
// PATCH /api/appointments/{appointmentID}
func (h *AppointmentsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		http.Error(w, "valid appointment id required", http.StatusBadRequest)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	status := appointments.Status(req.Status)
	if !status.Valid() {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}

	appt, err := h.service.UpdateStatus(r.Context(), id, status)
	if errors.Is(err, appointments.ErrNotFound) {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("appointment update failed", "appointment_id", id, "error", err)
		http.Error(w, "could not update appointment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}
