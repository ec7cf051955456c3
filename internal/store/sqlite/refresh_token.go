package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"appointment-booking-api/internal/model"
	"appointment-booking-api/internal/store"
)

func (s *Store) CreateRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, userID, tokenHash, formatTime(expiresAt), formatTime(time.Now()),
	)
	return id, err
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	rt := &model.RefreshToken{}
	var expiresAt, createdAt string
	var replacedBy sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, revoked, replaced_by, created_at
		 FROM refresh_tokens WHERE token_hash = ?`, tokenHash,
	).Scan(&rt.ID, &rt.UserID, &rt.TokenHash, &expiresAt, &rt.Revoked, &replacedBy, &createdAt)
	if err != nil {
		return nil, notFound(err)
	}
	if rt.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if rt.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if replacedBy.Valid {
		rt.ReplacedBy = &replacedBy.String
	}
	return rt, nil
}

func (s *Store) RotateRefreshToken(ctx context.Context, oldID, newID, userID, newHash string, newExpiry time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, replaced_by = ? WHERE id = ? AND revoked = 0`,
		newID, oldID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return store.ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		newID, userID, newHash, formatTime(newExpiry), formatTime(time.Now()),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ? AND revoked = 0`,
		userID,
	)
	return err
}
