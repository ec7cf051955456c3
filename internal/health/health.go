// Package health reports store reachability over the standard gRPC health
// service and over HTTP.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the per-service name registered alongside the overall ("") status.
const ServiceName = "booking.v1.BookingService"

type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor pings the store on an interval and mirrors the result into a gRPC
// health server.
type Monitor struct {
	pinger   Pinger
	server   *health.Server
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	healthy  atomic.Bool
}

func NewMonitor(p Pinger, logger *slog.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	m := &Monitor{
		pinger:   p,
		server:   health.NewServer(),
		logger:   logger,
		interval: interval,
		timeout:  2 * time.Second,
	}
	m.set(false)
	return m
}

// Server is registered on the gRPC server by the caller.
func (m *Monitor) Server() healthpb.HealthServer {
	return m.server
}

// Check pings once and updates the status.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.pinger.Ping(ctx)
	ok := err == nil
	if ok != m.healthy.Load() {
		if ok {
			m.logger.Info("store reachable")
		} else {
			m.logger.Warn("store unreachable", "error", err)
		}
	}
	m.set(ok)
	return ok
}

// Run checks immediately and then every interval until ctx is done, when it
// marks everything NOT_SERVING.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.healthy.Store(false)
			m.server.Shutdown()
			return
		case <-t.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) Healthy() bool {
	return m.healthy.Load()
}

func (m *Monitor) set(ok bool) {
	m.healthy.Store(ok)
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)
}

// HTTPHandler reports the last known status: 200 {"status":"ok"} or
// 503 {"status":"unavailable"}.
func (m *Monitor) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if m.Healthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
	})
}
