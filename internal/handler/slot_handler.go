package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	domainerrors "appointment-booking-api/internal/errors"
	"appointment-booking-api/internal/model"
)

type createSlotRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
}

// ListSlots returns available slots from today, or from ?from=YYYY-MM-DD.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	var from time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		d, err := time.Parse(model.DateLayout, v)
		if err != nil {
			writeError(w, domainerrors.ValidationWithDetails("validation failed", map[string]string{
				"from": "must match the format " + model.DateLayout,
			}))
			return
		}
		from = d
	}

	slots, err := h.booking.ListAvailableSlots(r.Context(), from)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]slotResponse, len(slots))
	for i := range slots {
		out[i] = toSlot(&slots[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	var req createSlotRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	sl, err := h.booking.CreateSlot(r.Context(), req.Date, req.StartTime, req.EndTime)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlot(sl))
}

func (h *Handler) GetSlot(w http.ResponseWriter, r *http.Request) {
	sl, err := h.booking.GetSlot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlot(sl))
}
