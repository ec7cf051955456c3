// Package metrics collects Prometheus metrics for bookings and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultSuccess     = "success"
	ResultUnavailable = "unavailable"
	ResultNotFound    = "not_found"
	ResultError       = "error"
)

// Recorder is what the booking service and workers report to.
type Recorder interface {
	RecordBooking(result string)
	RecordCancellation(result string)
	RecordSlotsPurged(n int64)
}

// HTTPRecorder is what the request middleware reports to.
type HTTPRecorder interface {
	RecordRequest(method, route string, status int, d time.Duration)
}

type Collector struct {
	bookings      *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	slotsPurged   prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

var (
	_ Recorder     = (*Collector)(nil)
	_ HTTPRecorder = (*Collector)(nil)
)

// NewCollector registers the metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_attempts_total",
			Help: "Booking attempts by result.",
		}, []string{"result"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_cancellations_total",
			Help: "Cancellation attempts by result.",
		}, []string{"result"}),
		slotsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_slots_purged_total",
			Help: "Expired, never-booked slots removed by the sweeper.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "booking_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.bookings,
		c.cancellations,
		c.slotsPurged,
		c.httpRequests,
		c.httpLatency,
	)
	return c
}

func (c *Collector) RecordBooking(result string) {
	c.bookings.WithLabelValues(result).Inc()
}

func (c *Collector) RecordCancellation(result string) {
	c.cancellations.WithLabelValues(result).Inc()
}

func (c *Collector) RecordSlotsPurged(n int64) {
	c.slotsPurged.Add(float64(n))
}

func (c *Collector) RecordRequest(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordBooking(string) {}

func (Nop) RecordCancellation(string) {}

func (Nop) RecordSlotsPurged(int64) {}

func (Nop) RecordRequest(string, string, int, time.Duration) {}
