package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docbook"

// Metrics exposes counters for scheduling, outbox delivery and HTTP traffic.
// It implements scheduling.Recorder and outbox.Recorder. A nil *Metrics is
// a no-op.
type Metrics struct {
	slotConflicts      prometheus.Counter
	bookingsCreated    prometheus.Counter
	bookingConflicts   prometheus.Counter
	bookingTransitions *prometheus.CounterVec
	reschedules        *prometheus.CounterVec
	outboxDelivered    *prometheus.CounterVec
	outboxFailed       *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpLatency        *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		slotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "slot_conflicts_total",
			Help:      "Slot writes rejected because they overlap an active slot",
		}),
		bookingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "bookings_created_total",
			Help:      "Bookings created",
		}),
		bookingConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "booking_conflicts_total",
			Help:      "Bookings rejected because the slot instance was taken",
		}),
		bookingTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by target status",
		}, []string{"to"}),
		reschedules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "reschedules_resolved_total",
			Help:      "Reschedule requests resolved by outcome",
		}, []string{"status"}),
		outboxDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "delivered_total",
			Help:      "Outbox entries delivered",
		}, []string{"type"}),
		outboxFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "failed_total",
			Help:      "Outbox delivery attempts that failed",
		}, []string{"type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.slotConflicts, m.bookingsCreated, m.bookingConflicts, m.bookingTransitions,
		m.reschedules, m.outboxDelivered, m.outboxFailed, m.httpRequests, m.httpLatency)
	return m
}

func (m *Metrics) SlotConflict() {
	if m == nil {
		return
	}
	m.slotConflicts.Inc()
}

func (m *Metrics) BookingCreated() {
	if m == nil {
		return
	}
	m.bookingsCreated.Inc()
}

func (m *Metrics) BookingConflict() {
	if m == nil {
		return
	}
	m.bookingConflicts.Inc()
}

func (m *Metrics) BookingTransition(to string) {
	if m == nil {
		return
	}
	m.bookingTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) RescheduleResolved(status string) {
	if m == nil {
		return
	}
	m.reschedules.WithLabelValues(status).Inc()
}

func (m *Metrics) OutboxDelivered(eventType string) {
	if m == nil {
		return
	}
	m.outboxDelivered.WithLabelValues(eventType).Inc()
}

func (m *Metrics) OutboxFailed(eventType string) {
	if m == nil {
		return
	}
	m.outboxFailed.WithLabelValues(eventType).Inc()
}

// Middleware records request counts and latency keyed by the route pattern,
// so path parameters do not explode label cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the Prometheus exposition format for g.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
