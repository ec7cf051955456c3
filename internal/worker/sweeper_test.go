package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appointment-booking-api/internal/model"
	"appointment-booking-api/internal/store"
	"appointment-booking-api/internal/store/sqlite"
	"appointment-booking-api/internal/store/storetest"
)

type fakePurger struct {
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakePurger) PurgeExpiredSlots(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

type countingRecorder struct {
	purged int64
}

func (c *countingRecorder) RecordBooking(string)      {}
func (c *countingRecorder) RecordCancellation(string) {}
func (c *countingRecorder) RecordSlotsPurged(n int64) { c.purged += n }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func TestSlotSweeper_Cutoff(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	j := NewSlotSweeper(&fakePurger{}, newTestLogger(&bytes.Buffer{}), nil, loc)
	// 2025-03-10 20:00 UTC is already 2025-03-11 in Tokyo
	j.now = func() time.Time { return time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC) }
	j.RetentionDays = 10

	assert.Equal(t, "2025-03-01", j.Cutoff().Format(model.DateLayout))
}

func TestSlotSweeper_Run(t *testing.T) {
	var buf bytes.Buffer
	p := &fakePurger{n: 4}
	rec := &countingRecorder{}
	j := NewSlotSweeper(p, newTestLogger(&buf), rec, time.UTC)
	j.now = func() time.Time { return time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, j.Run(context.Background()))
	assert.Equal(t, "2025-03-01", p.cutoff.Format(model.DateLayout))
	assert.Equal(t, int64(4), rec.purged)
	assert.Contains(t, buf.String(), `"deleted_count":4`)
}

func TestSlotSweeper_RunError(t *testing.T) {
	var buf bytes.Buffer
	j := NewSlotSweeper(&fakePurger{err: errors.New("db gone")}, newTestLogger(&buf), nil, nil)

	err := j.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")
	assert.Contains(t, buf.String(), "slot sweep failed")
}

func TestSlotSweeper_AgainstSQLite(t *testing.T) {
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "sweep.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	old := storetest.NewSlot(t, st, "2025-01-01", "09:00", "10:00")
	recent := storetest.NewSlot(t, st, "2025-03-20", "09:00", "10:00")

	j := NewSlotSweeper(st, newTestLogger(&bytes.Buffer{}), nil, time.UTC)
	j.now = func() time.Time { return time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, j.Run(context.Background()))
	require.NoError(t, j.Run(context.Background()))

	_, err = st.GetSlot(context.Background(), old.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetSlot(context.Background(), recent.ID)
	assert.NoError(t, err)
}

func TestSlotSweeper_Schedule(t *testing.T) {
	j := NewSlotSweeper(&fakePurger{}, newTestLogger(&bytes.Buffer{}), nil, time.UTC)

	c, err := j.Schedule("@daily")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = j.Schedule("not a schedule")
	assert.Error(t, err)
}
