package handler

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	domainerrors "appointment-booking-api/internal/errors"
	"appointment-booking-api/internal/metrics"
	"appointment-booking-api/internal/middleware"
)

// RouterConfig holds the pieces mounted next to the API. Nil handlers are
// left unmounted; a nil RateLimiter disables limiting.
type RouterConfig struct {
	Logger         *slog.Logger
	Metrics        metrics.HTTPRecorder
	MetricsHandler http.Handler
	HealthHandler  http.Handler
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins []string
	// forwarding headers are honoured only from these peers
	TrustedProxies []netip.Prefix
}

// Routes builds the HTTP API under /api plus /healthz and /metrics.
func (h *Handler) Routes(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = h.logger
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RealIP(cfg.TrustedProxies))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics(cfg.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, domainerrors.NotFound("route not found"))
	})

	if cfg.HealthHandler != nil {
		r.Method(http.MethodGet, "/healthz", cfg.HealthHandler)
	}
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		// public, rate limited per client IP
		r.Group(func(r chi.Router) {
			if cfg.RateLimiter != nil {
				r.Use(cfg.RateLimiter.Limit)
			}
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(h.issuer))

			r.Post("/logout", h.Logout)

			r.Get("/slots", h.ListSlots)
			r.Post("/slots", h.CreateSlot)
			r.Get("/slots/{id}", h.GetSlot)

			r.Get("/appointments", h.ListAppointments)
			r.Post("/appointments", h.CreateAppointment)
			r.Delete("/appointments/{id}", h.CancelAppointment)
		})
	})

	return r
}
