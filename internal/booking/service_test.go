package booking

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "appointment-booking-api/internal/errors"
	"appointment-booking-api/internal/events"
	"appointment-booking-api/internal/metrics"
	"appointment-booking-api/internal/model"
	"appointment-booking-api/internal/store"
	"appointment-booking-api/internal/store/sqlite"
	"appointment-booking-api/internal/store/storetest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type countingRecorder struct {
	mu            sync.Mutex
	bookings      map[string]int
	cancellations map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{bookings: map[string]int{}, cancellations: map[string]int{}}
}

func (c *countingRecorder) RecordBooking(r string) {
	c.mu.Lock()
	c.bookings[r]++
	c.mu.Unlock()
}

func (c *countingRecorder) RecordCancellation(r string) {
	c.mu.Lock()
	c.cancellations[r]++
	c.mu.Unlock()
}

func (c *countingRecorder) RecordSlotsPurged(int64) {}

type fixture struct {
	svc   *Service
	store *sqlite.Store
	pub   *recordingPublisher
	rec   *countingRecorder
	logs  *bytes.Buffer
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "booking.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	f := &fixture{store: st, pub: &recordingPublisher{}, rec: newCountingRecorder(), logs: &bytes.Buffer{}}
	f.svc = NewService(st, Options{
		Publisher: f.pub,
		Metrics:   f.rec,
		Logger:    slog.New(slog.NewJSONHandler(f.logs, nil)),
	})
	f.svc.now = func() time.Time { return time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) slotAvailable(t *testing.T, id string) bool {
	t.Helper()
	sl, err := f.svc.GetSlot(context.Background(), id)
	require.NoError(t, err)
	return sl.IsAvailable
}

func TestBook_Success(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u := storetest.NewUser(t, f.store)
	sl := storetest.NewSlot(t, f.store, "2024-06-01", "09:00", "10:00")

	a, err := f.svc.Book(ctx, u.ID, sl.ID, "  bring x-rays & O'Brien's referral ")
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "bring x-rays & O'Brien's referral", a.Notes)
	assert.Equal(t, "09:00", a.StartTime)
	assert.False(t, f.slotAvailable(t, sl.ID))

	assert.Equal(t, []events.Type{events.AppointmentBooked}, f.pub.types())
	assert.Equal(t, sl.ID, f.pub.events[0].SlotID)
	assert.Equal(t, 1, f.rec.bookings[metrics.ResultSuccess])
}

func TestBook_MarkupInNotesLeavesSlotFree(t *testing.T) {
	f := setup(t)
	u := storetest.NewUser(t, f.store)
	sl := storetest.NewSlot(t, f.store, "2024-06-01", "09:00", "10:00")

	_, err := f.svc.Book(context.Background(), u.ID, sl.ID, "<b>bring</b> x-rays")
	require.ErrorIs(t, err, domainerrors.ErrValidation)
	assert.True(t, f.slotAvailable(t, sl.ID))
	assert.Empty(t, f.pub.types())
}

func TestBook_Unavailable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := storetest.NewUser(t, f.store)
	b := storetest.NewUser(t, f.store)
	sl := storetest.NewSlot(t, f.store, "2024-06-01", "09:00", "10:00")

	_, err := f.svc.Book(ctx, a.ID, sl.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, b.ID, sl.ID, "")
	require.ErrorIs(t, err, domainerrors.ErrSlotUnavailable)

	var de *domainerrors.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 400, de.HTTPStatus())
	assert.Equal(t, "Slot no longer available", de.Message)

	// unknown slot reads the same
	_, err = f.svc.Book(ctx, b.ID, uuid.NewString(), "")
	assert.ErrorIs(t, err, domainerrors.ErrSlotUnavailable)

	assert.Equal(t, 2, f.rec.bookings[metrics.ResultUnavailable])
	assert.Len(t, f.pub.types(), 1)
}

func TestBook_Validation(t *testing.T) {
	f := setup(t)
	u := storetest.NewUser(t, f.store)
	sl := storetest.NewSlot(t, f.store, "2024-06-01", "09:00", "10:00")

	_, err := f.svc.Book(context.Background(), u.ID, "not-a-uuid", "")
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = f.svc.Book(context.Background(), u.ID, sl.ID, strings.Repeat("x", MaxNotesLength+1))
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	assert.True(t, f.slotAvailable(t, sl.ID))
	assert.Empty(t, f.rec.bookings)
}

func TestBook_Concurrent(t *testing.T) {
	f := setup(t)
	sl := storetest.NewSlot(t, f.store, "2024-06-01", "09:00", "10:00")

	const n = 8
	users := make([]string, n)
	for i := range users {
		users[i] = storetest.NewUser(t, f.store).ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, uid := range users {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), uid, sl.ID, "")
			errs <- err
		}(uid)
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domainerrors.ErrSlotUnavailable)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, f.rec.bookings[metrics.ResultUnavailable])
}

func TestCancel(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := storetest.NewUser(t, f.store)
	other := storetest.NewUser(t, f.store)
	sl := storetest.NewSlot(t, f.store, "2024-06-01", "09:00", "10:00")

	a, err := f.svc.Book(ctx, owner.ID, sl.ID, "")
	require.NoError(t, err)

	err = f.svc.Cancel(ctx, other.ID, a.ID)
	require.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.False(t, f.slotAvailable(t, sl.ID))

	err = f.svc.Cancel(ctx, owner.ID, "garbage")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	require.NoError(t, f.svc.Cancel(ctx, owner.ID, a.ID))
	assert.True(t, f.slotAvailable(t, sl.ID))

	err = f.svc.Cancel(ctx, owner.ID, a.ID)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	assert.Equal(t, []events.Type{events.AppointmentBooked, events.AppointmentCancelled}, f.pub.types())
	assert.Equal(t, 1, f.rec.cancellations[metrics.ResultSuccess])
	assert.Equal(t, 3, f.rec.cancellations[metrics.ResultNotFound])
}

// user A books, B is refused, A cancels, B books
func TestScenario_TwoUsers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := storetest.NewUser(t, f.store)
	b := storetest.NewUser(t, f.store)

	sl, err := f.svc.CreateSlot(ctx, "2024-06-01", "09:00", "10:00")
	require.NoError(t, err)
	assert.True(t, sl.IsAvailable)

	apptA, err := f.svc.Book(ctx, a.ID, sl.ID, "")
	require.NoError(t, err)
	assert.False(t, f.slotAvailable(t, sl.ID))

	_, err = f.svc.Book(ctx, b.ID, sl.ID, "")
	require.ErrorIs(t, err, domainerrors.ErrSlotUnavailable)

	require.NoError(t, f.svc.Cancel(ctx, a.ID, apptA.ID))
	assert.True(t, f.slotAvailable(t, sl.ID))

	apptB, err := f.svc.Book(ctx, b.ID, sl.ID, "")
	require.NoError(t, err)
	assert.NotEqual(t, apptA.ID, apptB.ID)

	listA, err := f.svc.ListAppointments(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, listA)
	listB, err := f.svc.ListAppointments(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, listB, 1)
	assert.Equal(t, apptB.ID, listB[0].ID)
}

func TestListAvailableSlots_DefaultsToToday(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	past := storetest.NewSlot(t, f.store, "2024-05-19", "09:00", "10:00")
	today := storetest.NewSlot(t, f.store, "2024-05-20", "08:00", "09:00")
	later := storetest.NewSlot(t, f.store, "2024-05-21", "09:00", "10:00")

	slots, err := f.svc.ListAvailableSlots(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, today.ID, slots[0].ID)
	assert.Equal(t, later.ID, slots[1].ID)

	from, _ := time.Parse(model.DateLayout, "2024-05-01")
	slots, err = f.svc.ListAvailableSlots(ctx, from)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, past.ID, slots[0].ID)
}

func TestToday_UsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	svc := NewService(nil, Options{Location: loc})
	// 02:00 UTC on the 21st is still the 20th in New York
	svc.now = func() time.Time { return time.Date(2024, 5, 21, 2, 0, 0, 0, time.UTC) }
	assert.Equal(t, "2024-05-20", svc.Today().Format(model.DateLayout))
}

func TestCreateSlot_Validation(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name             string
		date, start, end string
		field            string
	}{
		{"bad date", "01/06/2024", "09:00", "10:00", "date"},
		{"bad start", "2024-06-01", "nine", "10:00", "start_time"},
		{"bad end", "2024-06-01", "09:00", "25:00", "end_time"},
		{"end before start", "2024-06-01", "10:00", "09:00", "end_time"},
		{"empty interval", "2024-06-01", "10:00", "10:00", "end_time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateSlot(context.Background(), tt.date, tt.start, tt.end)
			var de *domainerrors.Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, domainerrors.CodeValidation, de.Code)
			assert.Contains(t, de.Details, tt.field)
		})
	}
}

func TestCreateSlot_NormalizesTimes(t *testing.T) {
	f := setup(t)
	sl, err := f.svc.CreateSlot(context.Background(), "2024-06-01", "9:00", "9:30")
	require.NoError(t, err)
	assert.Equal(t, "09:00", sl.StartTime)
	assert.Equal(t, "09:30", sl.EndTime)
}

func TestGetSlot_NotFound(t *testing.T) {
	f := setup(t)
	_, err := f.svc.GetSlot(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrSlotNotFound)
	_, err = f.svc.GetSlot(context.Background(), "x")
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestPublishFailureDoesNotFailBooking(t *testing.T) {
	f := setup(t)
	f.pub.err = errors.New("broker down")
	u := storetest.NewUser(t, f.store)
	sl := storetest.NewSlot(t, f.store, "2024-06-01", "09:00", "10:00")

	_, err := f.svc.Book(context.Background(), u.ID, sl.ID, "")
	require.NoError(t, err)
	assert.False(t, f.slotAvailable(t, sl.ID))
	assert.Contains(t, f.logs.String(), "broker down")
}

type brokenStore struct {
	Store
}

func (brokenStore) BookSlot(context.Context, *model.Appointment) error {
	return errors.New("connection reset")
}

func (brokenStore) CancelAppointment(context.Context, string, string) (string, error) {
	return "", errors.New("connection reset")
}

func TestStoreFaultsAreInternal(t *testing.T) {
	rec := newCountingRecorder()
	svc := NewService(brokenStore{}, Options{Metrics: rec, Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})

	_, err := svc.Book(context.Background(), uuid.NewString(), uuid.NewString(), "")
	var de *domainerrors.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domainerrors.CodeInternal, de.Code)
	assert.Equal(t, "internal server error", de.Message)

	err = svc.Cancel(context.Background(), uuid.NewString(), uuid.NewString())
	assert.ErrorIs(t, err, domainerrors.ErrInternal)
	assert.False(t, errors.Is(err, store.ErrNotFound))

	assert.Equal(t, 1, rec.bookings[metrics.ResultError])
	assert.Equal(t, 1, rec.cancellations[metrics.ResultError])
}
