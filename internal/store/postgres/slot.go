package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"appointment-booking-api/internal/model"
)

// times are written as "HH:MM" text and read back with to_char
const slotColumns = `id, date, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), is_available, created_at`

func (s *Store) CreateSlot(ctx context.Context, sl *model.Slot) error {
	return s.pool.QueryRow(ctx,
		`INSERT INTO slots (id, date, start_time, end_time, is_available)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		sl.ID, sl.Date, sl.StartTime, sl.EndTime, sl.IsAvailable,
	).Scan(&sl.CreatedAt)
}

func (s *Store) GetSlot(ctx context.Context, id string) (*model.Slot, error) {
	sl := &model.Slot{}
	err := scanSlot(s.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id), sl)
	if err != nil {
		return nil, notFound(err)
	}
	return sl, nil
}

func (s *Store) ListAvailableSlots(ctx context.Context, asOf time.Time) ([]model.Slot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+slotColumns+`
		 FROM slots
		 WHERE is_available AND date >= $1
		 ORDER BY date, start_time`, asOf,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Slot{}
	for rows.Next() {
		var sl model.Slot
		if err := scanSlot(rows, &sl); err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

func (s *Store) PurgeExpiredSlots(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM slots s
		 WHERE s.is_available AND s.date < $1
		   AND NOT EXISTS (SELECT 1 FROM appointments a WHERE a.slot_id = s.id)`, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSlot(row pgx.Row, sl *model.Slot) error {
	return row.Scan(&sl.ID, &sl.Date, &sl.StartTime, &sl.EndTime, &sl.IsAvailable, &sl.CreatedAt)
}
