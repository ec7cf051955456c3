package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"appointment-booking-api/internal/middleware"
)

type createAppointmentRequest struct {
	SlotID string `json:"slot_id" validate:"required,uuid"`
	Notes  string `json:"notes" validate:"max=1000"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	appts, err := h.booking.ListAppointments(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]appointmentResponse, len(appts))
	for i := range appts {
		out[i] = toAppointment(&appts[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateAppointment books a slot; a slot that is gone is 400 "Slot no longer available".
func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := h.booking.Book(r.Context(), middleware.UserID(r.Context()), req.SlotID, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointment(a))
}

// CancelAppointment answers 404 for appointments owned by someone else, to
// hide their existence.
func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	err := h.booking.Cancel(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Appointment cancelled successfully"})
}
