package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"appointment-booking-api/internal/model"
	"appointment-booking-api/internal/store"
)

func (s *Store) BookSlot(ctx context.Context, a *model.Appointment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var date string
	err = tx.QueryRowContext(ctx,
		`UPDATE slots SET is_available = 0
		 WHERE id = ? AND is_available = 1
		 RETURNING date, start_time, end_time`,
		a.SlotID,
	).Scan(&date, &a.StartTime, &a.EndTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrSlotUnavailable
		}
		return err
	}
	if a.Date, err = parseDate(date); err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO appointments (id, user_id, slot_id, notes, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.SlotID, a.Notes, formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrSlotUnavailable
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	a.CreatedAt = now
	return nil
}

func (s *Store) CancelAppointment(ctx context.Context, id, userID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var slotID string
	err = tx.QueryRowContext(ctx,
		`DELETE FROM appointments WHERE id = ? AND user_id = ? RETURNING slot_id`,
		id, userID,
	).Scan(&slotID)
	if err != nil {
		return "", notFound(err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE slots SET is_available = 1 WHERE id = ?`, slotID); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return slotID, nil
}

func (s *Store) ListAppointments(ctx context.Context, userID string) ([]model.Appointment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.user_id, a.slot_id, a.notes, a.created_at,
		        s.date, s.start_time, s.end_time
		 FROM appointments a
		 JOIN slots s ON s.id = a.slot_id
		 WHERE a.user_id = ?
		 ORDER BY s.date, s.start_time`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Appointment{}
	for rows.Next() {
		var a model.Appointment
		var createdAt, date string
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.SlotID, &a.Notes, &createdAt,
			&date, &a.StartTime, &a.EndTime,
		); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if a.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
