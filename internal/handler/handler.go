package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"appointment-booking-api/internal/auth"
	"appointment-booking-api/internal/booking"
	domainerrors "appointment-booking-api/internal/errors"
	"appointment-booking-api/internal/middleware"
	"appointment-booking-api/internal/model"
	"appointment-booking-api/internal/store"
	"appointment-booking-api/internal/validation"
)

const maxBodyBytes = 1 << 20

// AccountStore is what registration and sessions need from the store.
type AccountStore interface {
	store.UserStore
	store.RefreshTokenStore
}

type Handler struct {
	accounts   AccountStore
	booking    *booking.Service
	issuer     *auth.Issuer
	validate   *validation.Validator
	refreshTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func New(accounts AccountStore, svc *booking.Service, issuer *auth.Issuer, refreshTTL time.Duration, logger *slog.Logger) *Handler {
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		accounts:   accounts,
		booking:    svc,
		issuer:     issuer,
		validate:   validation.New(),
		refreshTTL: refreshTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// decode reads a JSON body into v and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := readJSON(w, r, v); err != nil {
		if errors.Is(err, io.EOF) {
			return domainerrors.Validation("request body is required")
		}
		return err
	}
	return h.validate.Validate(v)
}

// readJSON returns io.EOF for an empty body, whatever its Content-Length.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return domainerrors.Validation("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	middleware.WriteJSON(w, status, v)
}

func writeError(w http.ResponseWriter, err error) {
	middleware.WriteError(w, err)
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type slotResponse struct {
	ID          string    `json:"id"`
	Date        string    `json:"date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	IsAvailable bool      `json:"is_available"`
	CreatedAt   time.Time `json:"created_at"`
}

type appointmentResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SlotID    string    `json:"slot_id"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	Date      string    `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
}

func toUser(u *model.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name}
}

func toSlot(s *model.Slot) slotResponse {
	return slotResponse{
		ID:          s.ID,
		Date:        s.Date.Format(model.DateLayout),
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		IsAvailable: s.IsAvailable,
		CreatedAt:   s.CreatedAt,
	}
}

func toAppointment(a *model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:        a.ID,
		UserID:    a.UserID,
		SlotID:    a.SlotID,
		Notes:     a.Notes,
		CreatedAt: a.CreatedAt,
		Date:      a.Date.Format(model.DateLayout),
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
	}
}
