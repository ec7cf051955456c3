package sqlite

import (
	"context"
	"time"

	"appointment-booking-api/internal/model"
)

const slotColumns = `id, date, start_time, end_time, is_available, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateSlot(ctx context.Context, sl *model.Slot) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO slots (id, date, start_time, end_time, is_available, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sl.ID, formatDate(sl.Date), sl.StartTime, sl.EndTime, sl.IsAvailable, formatTime(now),
	)
	if err != nil {
		return err
	}
	sl.CreatedAt = now
	return nil
}

func (s *Store) GetSlot(ctx context.Context, id string) (*model.Slot, error) {
	sl := &model.Slot{}
	row := s.db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, id)
	if err := scanSlot(row, sl); err != nil {
		return nil, notFound(err)
	}
	return sl, nil
}

func (s *Store) ListAvailableSlots(ctx context.Context, asOf time.Time) ([]model.Slot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+slotColumns+`
		 FROM slots
		 WHERE is_available = 1 AND date >= ?
		 ORDER BY date, start_time`, formatDate(asOf),
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
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM slots
		 WHERE is_available = 1 AND date < ?
		   AND NOT EXISTS (SELECT 1 FROM appointments a WHERE a.slot_id = slots.id)`,
		formatDate(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSlot(row rowScanner, sl *model.Slot) error {
	var date, createdAt string
	if err := row.Scan(&sl.ID, &date, &sl.StartTime, &sl.EndTime, &sl.IsAvailable, &createdAt); err != nil {
		return err
	}
	var err error
	if sl.Date, err = parseDate(date); err != nil {
		return err
	}
	sl.CreatedAt, err = parseTime(createdAt)
	return err
}
