// Package storetest holds the behavioural suite every store backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appointment-booking-api/internal/model"
	"appointment-booking-api/internal/store"
)

// Run executes the suite against the store returned by open.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Users", testUsers},
		{"SlotListing", testSlotListing},
		{"BookOnce", testBookOnce},
		{"BookUnavailable", testBookUnavailable},
		{"ConcurrentBooking", testConcurrentBooking},
		{"CancelRestoresAvailability", testCancelRestoresAvailability},
		{"CancelOwnership", testCancelOwnership},
		{"BookCancelBook", testBookCancelBook},
		{"ListAppointments", testListAppointments},
		{"PurgeExpiredSlots", testPurgeExpiredSlots},
		{"RefreshTokens", testRefreshTokens},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

// NewUser inserts a user with a unique email.
func NewUser(t *testing.T, s store.UserStore) *model.User {
	t.Helper()
	u := &model.User{
		ID:           uuid.NewString(),
		Email:        fmt.Sprintf("test-%s@test.com", uuid.NewString()[:8]),
		PasswordHash: "x",
		Name:         "Test User",
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

// NewSlot inserts an available slot on date (YYYY-MM-DD).
func NewSlot(t *testing.T, s store.SlotStore, date, start, end string) *model.Slot {
	t.Helper()
	d, err := time.Parse(model.DateLayout, date)
	require.NoError(t, err)
	sl := &model.Slot{
		ID:          uuid.NewString(),
		Date:        d,
		StartTime:   start,
		EndTime:     end,
		IsAvailable: true,
	}
	require.NoError(t, s.CreateSlot(context.Background(), sl))
	return sl
}

func newAppointment(userID, slotID string) *model.Appointment {
	return &model.Appointment{ID: uuid.NewString(), UserID: userID, SlotID: slotID}
}

func available(t *testing.T, s store.Store, slotID string) bool {
	t.Helper()
	sl, err := s.GetSlot(context.Background(), slotID)
	require.NoError(t, err)
	return sl.IsAvailable
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser(t, s)
	assert.False(t, u.CreatedAt.IsZero())

	got, err := s.UserByEmail(ctx, u.Email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "Test User", got.Name)

	got, err = s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)

	dup := *u
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, s.CreateUser(ctx, &dup), store.ErrEmailTaken)

	_, err = s.UserByEmail(ctx, "nobody-"+uuid.NewString()+"@nowhere.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSlotListing(t *testing.T, s store.Store) {
	ctx := context.Background()
	late := NewSlot(t, s, "2091-03-02", "09:00", "10:00")
	early := NewSlot(t, s, "2091-03-01", "14:00", "15:00")
	earlier := NewSlot(t, s, "2091-03-01", "08:30", "09:00")
	past := NewSlot(t, s, "2091-02-27", "08:00", "09:00")

	asOf, _ := time.Parse(model.DateLayout, "2091-03-01")
	slots, err := s.ListAvailableSlots(ctx, asOf)
	require.NoError(t, err)

	var ids []string
	for _, sl := range slots {
		switch sl.ID {
		case late.ID, early.ID, earlier.ID, past.ID:
			ids = append(ids, sl.ID)
		}
	}
	assert.Equal(t, []string{earlier.ID, early.ID, late.ID}, ids)

	got, err := s.GetSlot(ctx, earlier.ID)
	require.NoError(t, err)
	assert.Equal(t, "08:30", got.StartTime)
	assert.Equal(t, "09:00", got.EndTime)
	assert.Equal(t, "2091-03-01", got.Date.Format(model.DateLayout))
	assert.True(t, got.IsAvailable)

	_, err = s.GetSlot(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testBookOnce(t *testing.T, s store.Store) {
	u := NewUser(t, s)
	sl := NewSlot(t, s, "2092-06-01", "09:00", "10:00")

	a := newAppointment(u.ID, sl.ID)
	a.Notes = "first visit"
	require.NoError(t, s.BookSlot(context.Background(), a))

	assert.False(t, a.CreatedAt.IsZero())
	assert.Equal(t, "2092-06-01", a.Date.Format(model.DateLayout))
	assert.Equal(t, "09:00", a.StartTime)
	assert.Equal(t, "10:00", a.EndTime)
	assert.False(t, available(t, s, sl.ID))
}

func testBookUnavailable(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser(t, s)
	other := NewUser(t, s)
	sl := NewSlot(t, s, "2092-06-02", "09:00", "10:00")

	require.NoError(t, s.BookSlot(ctx, newAppointment(u.ID, sl.ID)))

	err := s.BookSlot(ctx, newAppointment(other.ID, sl.ID))
	assert.ErrorIs(t, err, store.ErrSlotUnavailable)

	// store unchanged: still one appointment, still unavailable
	assert.False(t, available(t, s, sl.ID))
	appts, err := s.ListAppointments(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, appts)

	// a slot that does not exist is unavailable too
	err = s.BookSlot(ctx, newAppointment(u.ID, uuid.NewString()))
	assert.ErrorIs(t, err, store.ErrSlotUnavailable)
}

func testConcurrentBooking(t *testing.T, s store.Store) {
	sl := NewSlot(t, s, "2092-06-03", "09:00", "10:00")

	const n = 10
	users := make([]*model.User, n)
	for i := range users {
		users[i] = NewUser(t, s)
	}

	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- s.BookSlot(context.Background(), newAppointment(users[i].ID, sl.ID))
		}(i)
	}
	wg.Wait()
	close(results)

	successes, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case assert.ErrorIs(t, err, store.ErrSlotUnavailable):
			conflicts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)

	rows := 0
	for _, u := range users {
		appts, err := s.ListAppointments(context.Background(), u.ID)
		require.NoError(t, err)
		rows += len(appts)
	}
	assert.Equal(t, 1, rows, "exactly one appointment row")
}

func testCancelRestoresAvailability(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser(t, s)
	other := NewUser(t, s)
	sl := NewSlot(t, s, "2092-06-04", "09:00", "10:00")

	a := newAppointment(u.ID, sl.ID)
	require.NoError(t, s.BookSlot(ctx, a))

	slotID, err := s.CancelAppointment(ctx, a.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, sl.ID, slotID)
	assert.True(t, available(t, s, sl.ID))

	appts, err := s.ListAppointments(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, appts)

	// any user can now book it
	require.NoError(t, s.BookSlot(ctx, newAppointment(other.ID, sl.ID)))

	_, err = s.CancelAppointment(ctx, a.ID, u.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCancelOwnership(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := NewUser(t, s)
	intruder := NewUser(t, s)
	sl := NewSlot(t, s, "2092-06-05", "09:00", "10:00")

	a := newAppointment(owner.ID, sl.ID)
	require.NoError(t, s.BookSlot(ctx, a))

	_, err := s.CancelAppointment(ctx, a.ID, intruder.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.False(t, available(t, s, sl.ID))
	appts, err := s.ListAppointments(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, a.ID, appts[0].ID)
}

func testBookCancelBook(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser(t, s)
	sl := NewSlot(t, s, "2092-06-06", "09:00", "10:00")

	first := newAppointment(u.ID, sl.ID)
	require.NoError(t, s.BookSlot(ctx, first))
	_, err := s.CancelAppointment(ctx, first.ID, u.ID)
	require.NoError(t, err)

	second := newAppointment(u.ID, sl.ID)
	require.NoError(t, s.BookSlot(ctx, second))
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, available(t, s, sl.ID))
}

func testListAppointments(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser(t, s)
	b := NewSlot(t, s, "2092-07-02", "09:00", "10:00")
	a := NewSlot(t, s, "2092-07-01", "11:00", "12:00")
	c := NewSlot(t, s, "2092-07-02", "08:00", "09:00")

	for _, sl := range []*model.Slot{b, a, c} {
		require.NoError(t, s.BookSlot(ctx, newAppointment(u.ID, sl.ID)))
	}

	appts, err := s.ListAppointments(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, appts, 3)
	assert.Equal(t, a.ID, appts[0].SlotID)
	assert.Equal(t, c.ID, appts[1].SlotID)
	assert.Equal(t, b.ID, appts[2].SlotID)
	assert.Equal(t, "08:00", appts[1].StartTime)
	assert.Equal(t, u.ID, appts[1].UserID)
}

func testPurgeExpiredSlots(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser(t, s)
	stale := NewSlot(t, s, "2001-01-01", "09:00", "10:00")
	booked := NewSlot(t, s, "2001-01-01", "10:00", "11:00")
	fresh := NewSlot(t, s, "2092-01-01", "09:00", "10:00")
	require.NoError(t, s.BookSlot(ctx, newAppointment(u.ID, booked.ID)))

	cutoff, _ := time.Parse(model.DateLayout, "2001-06-01")
	n, err := s.PurgeExpiredSlots(ctx, cutoff)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	_, err = s.GetSlot(ctx, stale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetSlot(ctx, booked.ID)
	assert.NoError(t, err)
	_, err = s.GetSlot(ctx, fresh.ID)
	assert.NoError(t, err)
}

func testRefreshTokens(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser(t, s)
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)

	oldHash := "hash-" + uuid.NewString()
	oldID, err := s.CreateRefreshToken(ctx, u.ID, oldHash, expiry)
	require.NoError(t, err)

	rt, err := s.GetRefreshTokenByHash(ctx, oldHash)
	require.NoError(t, err)
	assert.Equal(t, oldID, rt.ID)
	assert.Equal(t, u.ID, rt.UserID)
	assert.False(t, rt.Revoked)
	assert.Nil(t, rt.ReplacedBy)
	assert.WithinDuration(t, expiry, rt.ExpiresAt, time.Second)

	newID := uuid.NewString()
	newHash := "hash-" + uuid.NewString()
	require.NoError(t, s.RotateRefreshToken(ctx, oldID, newID, u.ID, newHash, expiry))

	rt, err = s.GetRefreshTokenByHash(ctx, oldHash)
	require.NoError(t, err)
	assert.True(t, rt.Revoked)
	require.NotNil(t, rt.ReplacedBy)
	assert.Equal(t, newID, *rt.ReplacedBy)

	// second rotation of the same token loses
	err = s.RotateRefreshToken(ctx, oldID, uuid.NewString(), u.ID, "hash-"+uuid.NewString(), expiry)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.RevokeAllRefreshTokens(ctx, u.ID))
	rt, err = s.GetRefreshTokenByHash(ctx, newHash)
	require.NoError(t, err)
	assert.True(t, rt.Revoked)

	_, err = s.GetRefreshTokenByHash(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
