package middleware

import (
	"context"
	"net/http"
	"strings"

	"appointment-booking-api/internal/auth"
	domainerrors "appointment-booking-api/internal/errors"
)

type ctxKey string

const (
	UserIDKey ctxKey = "uid"

	holderKey ctxKey = "user-holder"
)

// userHolder lets outer middleware see who Auth authenticated.
type userHolder struct {
	id string
}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, holderKey, h)
}

// TokenParser verifies an access token.
type TokenParser interface {
	ParseToken(raw string) (*auth.Claims, error)
}

// Auth requires "Authorization: Bearer <jwt>". A missing token is 401, a
// token that fails verification (bad signature, expired) is 403.
func Auth(p TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				WriteError(w, domainerrors.Unauthorized("authentication required"))
				return
			}

			claims, err := p.ParseToken(raw)
			if err != nil {
				WriteError(w, domainerrors.Forbidden("invalid or expired token"))
				return
			}

			if h, ok := r.Context().Value(holderKey).(*userHolder); ok {
				h.id = claims.UserID
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.UserID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// WithUser stores the authenticated user id on ctx.
func WithUser(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, UserIDKey, uid)
}

// UserID returns the authenticated user id, or "" outside Auth.
func UserID(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}
