package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appointment-booking-api/internal/auth"
	domainerrors "appointment-booking-api/internal/errors"
)

const secret = "test-secret"

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"uid": UserID(r.Context())})
	})
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuth(t *testing.T) {
	issuer := auth.NewIssuer(secret, time.Minute)
	good, err := issuer.MakeToken("user-1", "a@b.com")
	require.NoError(t, err)
	forged, err := auth.NewIssuer("other-secret", time.Minute).MakeToken("user-1", "a@b.com")
	require.NoError(t, err)

	h := Auth(issuer)(echoUser())

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing header", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"garbage token", "Bearer not.a.jwt", http.StatusForbidden, "FORBIDDEN"},
		{"wrong signature", "Bearer " + forged, http.StatusForbidden, "FORBIDDEN"},
		{"valid", "Bearer " + good, http.StatusOK, ""},
		{"lowercase scheme", "bearer " + good, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/slots", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			body := decodeError(t, w)
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
				assert.NotEmpty(t, body["error"])
				return
			}
			assert.Equal(t, "user-1", body["uid"])
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Stop()
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:1111").Code)
	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:2222").Code)

	w := do("10.0.0.1:3333")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, w)["code"])
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// a different client has its own bucket
	assert.Equal(t, http.StatusNoContent, do("10.0.0.2:1111").Code)

	rl.Stop()
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := &RateLimiter{clients: map[string]*client{}, r: 1, burst: 1, stop: make(chan struct{})}
	rl.get("1.2.3.4")
	rl.clients["1.2.3.4"].seen = time.Now().Add(-time.Hour)

	go rl.cleanup(time.Millisecond, time.Minute)
	defer rl.Stop()

	assert.Eventually(t, func() bool {
		rl.mu.Lock()
		defer rl.mu.Unlock()
		return len(rl.clients) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRealIP(t *testing.T) {
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(clientIP(r)))
	})
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8"), netip.MustParsePrefix("::1/128")}

	tests := []struct {
		name    string
		trusted []netip.Prefix
		remote  string
		want    string
	}{
		{"no trusted proxies", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"untrusted peer", trusted, "192.0.2.1:5555", "192.0.2.1"},
		{"trusted peer", trusted, "10.1.2.3:5555", "198.51.100.7"},
		{"trusted ipv6 peer", trusted, "[::1]:5555", "198.51.100.7"},
		{"unparseable peer", trusted, "not-an-addr", "not-an-addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			req.Header.Set("X-Forwarded-For", "198.51.100.7")
			req.Header.Set("X-Real-IP", "198.51.100.7")
			w := httptest.NewRecorder()
			RealIP(tt.trusted)(echo).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Body.String())
		})
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, domainerrors.ValidationWithDetails("validation failed", map[string]string{"date": "is required"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"validation failed","code":"VALIDATION","details":{"date":"is required"}}`, w.Body.String())

	w = httptest.NewRecorder()
	WriteError(w, errors.New("pq: relation does not exist"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error","code":"INTERNAL"}`, w.Body.String())
}

type recordedRequest struct {
	method, route string
	status        int
}

type fakeHTTPRecorder struct {
	got []recordedRequest
}

func (f *fakeHTTPRecorder) RecordRequest(method, route string, status int, _ time.Duration) {
	f.got = append(f.got, recordedRequest{method, route, status})
}

func TestLoggingAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	rec := &fakeHTTPRecorder{}
	issuer := auth.NewIssuer(secret, time.Minute)
	token, err := issuer.MakeToken("user-9", "z@b.com")
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(Logging(logger), Metrics(rec))
	r.With(Auth(issuer)).Delete("/api/appointments/{id}", func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, domainerrors.NotFound("Appointment not found"))
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/appointments/abc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "http_request", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "DELETE", entry["method"])
	assert.Equal(t, "/api/appointments/abc", entry["path"])
	assert.Equal(t, "/api/appointments/{id}", entry["route"])
	assert.Equal(t, float64(404), entry["status"])
	assert.Equal(t, "user-9", entry["user_id"])

	require.Len(t, rec.got, 1)
	assert.Equal(t, recordedRequest{http.MethodDelete, "/api/appointments/{id}", http.StatusNotFound}, rec.got[0])
}
