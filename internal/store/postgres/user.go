package postgres

import (
	"context"

	"appointment-booking-api/internal/model"
	"appointment-booking-api/internal/store"
)

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, password_hash, name) VALUES ($1,$2,$3,$4)
		 RETURNING created_at`,
		u.ID, u.Email, u.PasswordHash, u.Name,
	).Scan(&u.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrEmailTaken
	}
	return err
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.userWhere(ctx, `email = $1`, email)
}

func (s *Store) UserByID(ctx context.Context, id string) (*model.User, error) {
	return s.userWhere(ctx, `id = $1`, id)
}

func (s *Store) userWhere(ctx context.Context, cond string, arg any) (*model.User, error) {
	u := &model.User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, name, created_at
		 FROM users WHERE `+cond, arg,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}
