package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"appointment-booking-api/internal/model"
	"appointment-booking-api/internal/store"
)

func (s *Store) BookSlot(ctx context.Context, a *model.Appointment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// conditional update takes the row lock; a concurrent booker blocks here,
	// re-evaluates is_available after we commit and matches nothing
	err = tx.QueryRow(ctx,
		`UPDATE slots SET is_available = false
		 WHERE id = $1 AND is_available
		 RETURNING date, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')`,
		a.SlotID,
	).Scan(&a.Date, &a.StartTime, &a.EndTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrSlotUnavailable
		}
		return err
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO appointments (id, user_id, slot_id, notes)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		a.ID, a.UserID, a.SlotID, a.Notes,
	).Scan(&a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrSlotUnavailable
		}
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) CancelAppointment(ctx context.Context, id, userID string) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	var slotID string
	err = tx.QueryRow(ctx,
		`DELETE FROM appointments WHERE id = $1 AND user_id = $2 RETURNING slot_id`,
		id, userID,
	).Scan(&slotID)
	if err != nil {
		return "", notFound(err)
	}

	if _, err := tx.Exec(ctx, `UPDATE slots SET is_available = true WHERE id = $1`, slotID); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return slotID, nil
}

func (s *Store) ListAppointments(ctx context.Context, userID string) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.user_id, a.slot_id, a.notes, a.created_at,
		        s.date, to_char(s.start_time, 'HH24:MI'), to_char(s.end_time, 'HH24:MI')
		 FROM appointments a
		 JOIN slots s ON s.id = a.slot_id
		 WHERE a.user_id = $1
		 ORDER BY s.date, s.start_time`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Appointment{}
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.SlotID, &a.Notes, &a.CreatedAt,
			&a.Date, &a.StartTime, &a.EndTime,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
