package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"appointment-booking-api/internal/auth"
	domainerrors "appointment-booking-api/internal/errors"
	"appointment-booking-api/internal/middleware"
	"appointment-booking-api/internal/model"
	"appointment-booking-api/internal/store"
)

const refreshCookie = "refresh_token"

var errInvalidRefresh = domainerrors.Unauthorized("invalid refresh token")

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"required,max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	Token        string        `json:"token"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user,omitempty"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			writeError(w, domainerrors.ValidationWithDetails("validation failed", map[string]string{
				"password": "must not exceed 72 bytes",
			}))
			return
		}
		writeError(w, domainerrors.Internal(err))
		return
	}

	u := &model.User{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(req.Email),
		PasswordHash: hash,
		Name:         strings.TrimSpace(req.Name),
	}
	if err := h.accounts.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			writeError(w, domainerrors.AlreadyExists("Email already registered"))
			return
		}
		h.logger.ErrorContext(r.Context(), "create user", "error", err)
		writeError(w, domainerrors.Internal(err))
		return
	}

	h.logger.InfoContext(r.Context(), "user registered", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, toUser(u))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	u, err := h.accounts.UserByEmail(r.Context(), normalizeEmail(req.Email))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.logger.ErrorContext(r.Context(), "lookup user", "error", err)
			writeError(w, domainerrors.Internal(err))
			return
		}
		writeError(w, domainerrors.ErrInvalidCredentials)
		return
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		writeError(w, domainerrors.ErrInvalidCredentials)
		return
	}

	access, err := h.issuer.MakeToken(u.ID, u.Email)
	if err != nil {
		writeError(w, domainerrors.Internal(err))
		return
	}
	raw, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		writeError(w, domainerrors.Internal(err))
		return
	}
	if _, err := h.accounts.CreateRefreshToken(r.Context(), u.ID, hash, h.now().Add(h.refreshTTL)); err != nil {
		h.logger.ErrorContext(r.Context(), "store refresh token", "error", err)
		writeError(w, domainerrors.Internal(err))
		return
	}

	h.setRefreshCookie(w, raw)
	user := toUser(u)
	writeJSON(w, http.StatusOK, tokenResponse{Token: access, RefreshToken: raw, User: &user})
}

// Refresh rotates a refresh token. Presenting a token that was already
// rotated revokes every session of its user.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	// an empty body falls back to the cookie
	if err := readJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, err)
		return
	}
	raw := req.RefreshToken
	if raw == "" {
		if c, err := r.Cookie(refreshCookie); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		writeError(w, domainerrors.Unauthorized("refresh token required"))
		return
	}

	ctx := r.Context()
	rt, err := h.accounts.GetRefreshTokenByHash(ctx, auth.HashRefreshToken(raw))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, errInvalidRefresh)
			return
		}
		writeError(w, domainerrors.Internal(err))
		return
	}
	if rt.Revoked {
		h.revokeOnReuse(r, rt.UserID)
		writeError(w, errInvalidRefresh)
		return
	}
	if !h.now().Before(rt.ExpiresAt) {
		writeError(w, domainerrors.Unauthorized("refresh token expired"))
		return
	}

	u, err := h.accounts.UserByID(ctx, rt.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, errInvalidRefresh)
			return
		}
		writeError(w, domainerrors.Internal(err))
		return
	}

	newRaw, newHash, err := auth.GenerateRefreshToken()
	if err != nil {
		writeError(w, domainerrors.Internal(err))
		return
	}
	err = h.accounts.RotateRefreshToken(ctx, rt.ID, uuid.NewString(), u.ID, newHash, h.now().Add(h.refreshTTL))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// lost a race with another rotation of the same token
			h.revokeOnReuse(r, u.ID)
			writeError(w, errInvalidRefresh)
			return
		}
		h.logger.ErrorContext(ctx, "rotate refresh token", "error", err)
		writeError(w, domainerrors.Internal(err))
		return
	}

	access, err := h.issuer.MakeToken(u.ID, u.Email)
	if err != nil {
		writeError(w, domainerrors.Internal(err))
		return
	}

	h.setRefreshCookie(w, newRaw)
	writeJSON(w, http.StatusOK, tokenResponse{Token: access, RefreshToken: newRaw})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.RevokeAllRefreshTokens(r.Context(), middleware.UserID(r.Context())); err != nil {
		h.logger.ErrorContext(r.Context(), "revoke refresh tokens", "error", err)
		writeError(w, domainerrors.Internal(err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     "/api/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeOnReuse(r *http.Request, userID string) {
	h.logger.WarnContext(r.Context(), "refresh token reuse, revoking all sessions", "user_id", userID)
	if err := h.accounts.RevokeAllRefreshTokens(r.Context(), userID); err != nil {
		h.logger.ErrorContext(r.Context(), "revoke refresh tokens", "error", err)
	}
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, raw string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    raw,
		Path:     "/api/",
		MaxAge:   int(h.refreshTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
