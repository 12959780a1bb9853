package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/docbook/docbook/internal/domain/scheduling")

const (
	defaultAvailabilityDays = 7
	defaultMaxDays          = 60
)

type Service struct {
	slots        SlotRepository
	bookings     BookingRepository
	reschedules  RescheduleRepository
	appointments AppointmentRepository
	patients     PatientDirectory
	events       EventSink
	tx           TxRunner

	loc     *time.Location
	now     func() time.Time
	maxDays int
	logger  zerolog.Logger
	metrics Recorder
}

type Option func(*Service)

// WithLocation sets the clinic time zone used for "today" and date math.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxDays caps the availability window.
func WithMaxDays(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxDays = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// NewService wires the scheduling core. A nil events sink drops events and a
// nil tx runner executes steps without a transaction.
func NewService(slots SlotRepository, bookings BookingRepository, reschedules RescheduleRepository,
	appts AppointmentRepository, patients PatientDirectory, events EventSink, tx TxRunner, opts ...Option) *Service {
	s := &Service{
		slots:        slots,
		bookings:     bookings,
		reschedules:  reschedules,
		appointments: appts,
		patients:     patients,
		events:       events,
		tx:           tx,
		loc:          time.UTC,
		now:          time.Now,
		maxDays:      defaultMaxDays,
		logger:       zerolog.Nop(),
		metrics:      nopRecorder{},
	}
	if s.events == nil {
		s.events = nopEvents{}
	}
	if s.tx == nil {
		s.tx = directTx{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// today is midnight of the current day in the clinic time zone.
func (s *Service) today() time.Time {
	return StartOfDay(s.now(), s.loc)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// owned reports whether a record belongs to doctorID. uuid.Nil means the
// caller is not doctor-scoped.
func owned(doctorID, owner uuid.UUID) bool {
	return doctorID == uuid.Nil || doctorID == owner
}
