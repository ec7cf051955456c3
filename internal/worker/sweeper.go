// Package worker runs scheduled housekeeping jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"appointment-booking-api/internal/metrics"
	"appointment-booking-api/internal/model"
)

// SlotPurger is the part of the store the sweeper needs.
type SlotPurger interface {
	PurgeExpiredSlots(ctx context.Context, cutoff time.Time) (int64, error)
}

// SlotSweeper deletes slots that were never booked and whose date lies more
// than RetentionDays before today. Booked slots and appointments are left
// alone, so availability is never written here.
type SlotSweeper struct {
	store         SlotPurger
	logger        *slog.Logger
	metrics       metrics.Recorder
	loc           *time.Location
	now           func() time.Time
	RetentionDays int
	Timeout       time.Duration
}

func NewSlotSweeper(store SlotPurger, logger *slog.Logger, rec metrics.Recorder, loc *time.Location) *SlotSweeper {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SlotSweeper{
		store:         store,
		logger:        logger,
		metrics:       rec,
		loc:           loc,
		now:           time.Now,
		RetentionDays: 30,
		Timeout:       time.Minute,
	}
}

// Cutoff is the first date that is kept.
func (j *SlotSweeper) Cutoff() time.Time {
	return model.DateOf(j.now().In(j.loc)).AddDate(0, 0, -j.RetentionDays)
}

// Run is idempotent; nothing to delete is not an error.
func (j *SlotSweeper) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.Cutoff()

	n, err := j.store.PurgeExpiredSlots(ctx, cutoff)
	if err != nil {
		j.logger.Error("slot sweep failed",
			slog.String("error", err.Error()),
			slog.String("cutoff", cutoff.Format(model.DateLayout)),
		)
		return fmt.Errorf("purge expired slots: %w", err)
	}

	j.metrics.RecordSlotsPurged(n)
	j.logger.Info("slot sweep finished",
		slog.Int64("deleted_count", n),
		slog.String("cutoff", cutoff.Format(model.DateLayout)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// Schedule registers the sweeper on a new cron scheduler in the sweeper's
// location. The caller starts and stops it.
func (j *SlotSweeper) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(j.loc))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.Timeout)
		defer cancel()
		_ = j.Run(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return c, nil
}
