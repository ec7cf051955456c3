// Package store defines the persistence contract shared by the PostgreSQL and
// SQLite backends.
//
// Backends report business conditions with the sentinel errors below and wrap
// everything else. BookSlot and CancelAppointment are the only operations that
// write slots.is_available after a slot is created, and each runs in a single
// transaction.
package store

import (
	"context"
	"errors"
	"time"

	"appointment-booking-api/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrSlotUnavailable = errors.New("slot unavailable")
	ErrEmailTaken      = errors.New("email already registered")
)

type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	UserByID(ctx context.Context, id string) (*model.User, error)
}

type SlotStore interface {
	CreateSlot(ctx context.Context, s *model.Slot) error
	GetSlot(ctx context.Context, id string) (*model.Slot, error)
	// ListAvailableSlots returns available slots dated on or after asOf,
	// ordered by date then start time.
	ListAvailableSlots(ctx context.Context, asOf time.Time) ([]model.Slot, error)
	// PurgeExpiredSlots deletes available slots dated before cutoff.
	PurgeExpiredSlots(ctx context.Context, cutoff time.Time) (int64, error)
}

type AppointmentStore interface {
	// BookSlot atomically flips the slot to unavailable and inserts a. It
	// returns ErrSlotUnavailable when the slot is missing or already booked.
	// On success a's CreatedAt and slot date/times are filled in.
	BookSlot(ctx context.Context, a *model.Appointment) error
	// CancelAppointment atomically deletes the caller's appointment and makes
	// its slot available again, returning the slot id. It returns ErrNotFound
	// when no appointment with that id belongs to userID.
	CancelAppointment(ctx context.Context, id, userID string) (string, error)
	// ListAppointments returns userID's appointments with slot date/times,
	// ordered by date then start time.
	ListAppointments(ctx context.Context, userID string) ([]model.Appointment, error)
}

type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (string, error)
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	// RotateRefreshToken revokes oldID, links it to a new token and stores
	// the new one. It returns ErrNotFound if oldID was already revoked.
	RotateRefreshToken(ctx context.Context, oldID, newID, userID, newHash string, newExpiry time.Time) error
	RevokeAllRefreshTokens(ctx context.Context, userID string) error
}

// Store is implemented by every backend.
type Store interface {
	UserStore
	SlotStore
	AppointmentStore
	RefreshTokenStore
	Ping(ctx context.Context) error
	Close()
}
