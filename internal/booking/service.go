// Package booking is the transactional core: it books and cancels
// appointments against slots and lists both. Store conditions are mapped to
// domain errors here; the HTTP layer only renders them.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	domainerrors "appointment-booking-api/internal/errors"
	"appointment-booking-api/internal/events"
	"appointment-booking-api/internal/metrics"
	"appointment-booking-api/internal/model"
	"appointment-booking-api/internal/store"
)

var (
	ErrAppointmentNotFound = domainerrors.NotFound("Appointment not found")
	ErrSlotNotFound        = domainerrors.NotFound("Slot not found")
)

// Store is the part of the persistence layer the service drives.
type Store interface {
	store.SlotStore
	store.AppointmentStore
}

type Service struct {
	store     Store
	publisher events.Publisher
	metrics   metrics.Recorder
	logger    *slog.Logger
	loc       *time.Location
	now       func() time.Time
}

// Options carries the optional collaborators. Zero values mean: no events,
// no metrics, slog.Default, UTC.
type Options struct {
	Publisher events.Publisher
	Metrics   metrics.Recorder
	Logger    *slog.Logger
	Location  *time.Location
}

func NewService(st Store, opts Options) *Service {
	s := &Service{
		store:     st,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		loc:       opts.Location,
		now:       time.Now,
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s
}

// Today is the current calendar date in the service's location.
func (s *Service) Today() time.Time {
	return model.DateOf(s.now().In(s.loc))
}

// Book reserves slotID for userID. A slot that is missing or already taken
// yields ErrSlotUnavailable; the store is left unchanged in that case.
func (s *Service) Book(ctx context.Context, userID, slotID, notes string) (*model.Appointment, error) {
	if _, err := uuid.Parse(slotID); err != nil {
		return nil, domainerrors.ValidationWithDetails("validation failed", map[string]string{
			"slot_id": "must be a valid UUID",
		})
	}
	notes, err := SanitizeNotes(notes)
	if err != nil {
		return nil, err
	}

	a := &model.Appointment{
		ID:     uuid.NewString(),
		UserID: userID,
		SlotID: slotID,
		Notes:  notes,
	}
	if err := s.store.BookSlot(ctx, a); err != nil {
		if errors.Is(err, store.ErrSlotUnavailable) {
			s.metrics.RecordBooking(metrics.ResultUnavailable)
			return nil, domainerrors.ErrSlotUnavailable
		}
		s.metrics.RecordBooking(metrics.ResultError)
		s.logger.ErrorContext(ctx, "book slot", "slot_id", slotID, "user_id", userID, "error", err)
		return nil, domainerrors.Internal(err)
	}

	s.metrics.RecordBooking(metrics.ResultSuccess)
	s.logger.InfoContext(ctx, "appointment booked", "appointment_id", a.ID, "slot_id", slotID, "user_id", userID)
	s.publish(ctx, events.AppointmentBooked, a.ID, slotID, userID)
	return a, nil
}

// Cancel deletes userID's appointment and frees its slot. Appointments that do
// not exist and appointments owned by someone else are both ErrAppointmentNotFound.
func (s *Service) Cancel(ctx context.Context, userID, appointmentID string) error {
	if _, err := uuid.Parse(appointmentID); err != nil {
		s.metrics.RecordCancellation(metrics.ResultNotFound)
		return ErrAppointmentNotFound
	}

	slotID, err := s.store.CancelAppointment(ctx, appointmentID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.RecordCancellation(metrics.ResultNotFound)
			return ErrAppointmentNotFound
		}
		s.metrics.RecordCancellation(metrics.ResultError)
		s.logger.ErrorContext(ctx, "cancel appointment", "appointment_id", appointmentID, "user_id", userID, "error", err)
		return domainerrors.Internal(err)
	}

	s.metrics.RecordCancellation(metrics.ResultSuccess)
	s.logger.InfoContext(ctx, "appointment cancelled", "appointment_id", appointmentID, "slot_id", slotID, "user_id", userID)
	s.publish(ctx, events.AppointmentCancelled, appointmentID, slotID, userID)
	return nil
}

// ListAvailableSlots returns open slots dated on or after asOf. A zero asOf
// means today.
func (s *Service) ListAvailableSlots(ctx context.Context, asOf time.Time) ([]model.Slot, error) {
	if asOf.IsZero() {
		asOf = s.Today()
	}
	slots, err := s.store.ListAvailableSlots(ctx, model.DateOf(asOf))
	if err != nil {
		s.logger.ErrorContext(ctx, "list slots", "error", err)
		return nil, domainerrors.Internal(err)
	}
	return slots, nil
}

func (s *Service) ListAppointments(ctx context.Context, userID string) ([]model.Appointment, error) {
	appts, err := s.store.ListAppointments(ctx, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "list appointments", "user_id", userID, "error", err)
		return nil, domainerrors.Internal(err)
	}
	return appts, nil
}

// CreateSlot adds an available slot. date is YYYY-MM-DD, start and end are
// HH:MM and end must be after start. Overlapping slots are allowed.
func (s *Service) CreateSlot(ctx context.Context, date, start, end string) (*model.Slot, error) {
	details := map[string]string{}

	d, err := time.Parse(model.DateLayout, date)
	if err != nil {
		details["date"] = "must match the format " + model.DateLayout
	}
	st, err := time.Parse(model.ClockLayout, start)
	if err != nil {
		details["start_time"] = "must match the format " + model.ClockLayout
	}
	et, err := time.Parse(model.ClockLayout, end)
	if err != nil {
		details["end_time"] = "must match the format " + model.ClockLayout
	}
	if len(details) == 0 && !et.After(st) {
		details["end_time"] = "must be after start_time"
	}
	if len(details) > 0 {
		return nil, domainerrors.ValidationWithDetails("validation failed", details)
	}

	sl := &model.Slot{
		ID:          uuid.NewString(),
		Date:        d,
		StartTime:   st.Format(model.ClockLayout),
		EndTime:     et.Format(model.ClockLayout),
		IsAvailable: true,
	}
	if err := s.store.CreateSlot(ctx, sl); err != nil {
		s.logger.ErrorContext(ctx, "create slot", "error", err)
		return nil, domainerrors.Internal(err)
	}
	s.logger.InfoContext(ctx, "slot created", "slot_id", sl.ID, "date", date)
	return sl, nil
}

func (s *Service) GetSlot(ctx context.Context, id string) (*model.Slot, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSlotNotFound
	}
	sl, err := s.store.GetSlot(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSlotNotFound
		}
		s.logger.ErrorContext(ctx, "get slot", "slot_id", id, "error", err)
		return nil, domainerrors.Internal(err)
	}
	return sl, nil
}

// publish runs after commit. A failed publish is logged and otherwise ignored.
func (s *Service) publish(ctx context.Context, typ events.Type, appointmentID, slotID, userID string) {
	err := s.publisher.Publish(context.WithoutCancel(ctx), events.Event{
		Type:          typ,
		AppointmentID: appointmentID,
		SlotID:        slotID,
		UserID:        userID,
		OccurredAt:    s.now().UTC(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "publish event", "type", string(typ), "appointment_id", appointmentID, "error", err)
	}
}
