package sqlite

import (
	"context"
	"time"

	"appointment-booking-api/internal/model"
	"appointment-booking-api/internal/store"
)

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, name, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.Name, formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrEmailTaken
		}
		return err
	}
	u.CreatedAt = now
	return nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.userWhere(ctx, `email = ?`, email)
}

func (s *Store) UserByID(ctx context.Context, id string) (*model.User, error) {
	return s.userWhere(ctx, `id = ?`, id)
}

func (s *Store) userWhere(ctx context.Context, cond string, arg any) (*model.User, error) {
	u := &model.User{}
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, name, created_at FROM users WHERE `+cond, arg,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &createdAt)
	if err != nil {
		return nil, notFound(err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return u, nil
}
