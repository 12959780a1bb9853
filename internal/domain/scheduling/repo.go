package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SlotRepository interface {
	Create(ctx context.Context, s *RecurringSlot) error
	GetByID(ctx context.Context, id uuid.UUID) (*RecurringSlot, error)
	Update(ctx context.Context, s *RecurringSlot) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByDoctor returns every slot of the doctor ordered by weekday then start time.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*RecurringSlot, error)
	ListActiveByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*RecurringSlot, error)
	ListActiveByDoctorDay(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]*RecurringSlot, error)
	// LockDoctor serialises slot writes for one doctor until the surrounding
	// transaction ends.
	LockDoctor(ctx context.Context, doctorID uuid.UUID) error
}

type BookingRepository interface {
	// Create fails with *BookingConflictError when the slot instance is taken.
	Create(ctx context.Context, b *SlotBooking) error
	GetByID(ctx context.Context, id uuid.UUID) (*SlotBooking, error)
	// ExistsActive reports a booked or completed booking for the slot on date.
	ExistsActive(ctx context.Context, slotID uuid.UUID, date string) (bool, error)
	// ListTakenInRange returns the booked or completed slot instances of the
	// doctor between from and to inclusive.
	ListTakenInRange(ctx context.Context, doctorID uuid.UUID, from, to string) ([]SlotDate, error)
	List(ctx context.Context, doctorID uuid.UUID, f BookingFilter, limit, offset int) ([]*SlotBooking, int, error)
	// TransitionStatus moves a booking out of from in one conditional write.
	// It returns ErrNotFound when the booking is missing or no longer in from.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus, rejection, cancellation *string) (*SlotBooking, error)
	CountActiveBySlot(ctx context.Context, slotID uuid.UUID) (int, error)
	SetRescheduleRequest(ctx context.Context, id, requestID uuid.UUID) error
	// Move points a booked booking at a new slot instance and bumps its
	// reschedule count.
	Move(ctx context.Context, id, slotID uuid.UUID, date string) (*SlotBooking, error)
}

type RescheduleRepository interface {
	Create(ctx context.Context, r *RescheduleRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*RescheduleRequest, error)
	HasPending(ctx context.Context, bookingID uuid.UUID) (bool, error)
	// Resolve closes a pending request. It returns ErrNotFound when the
	// request is no longer pending.
	Resolve(ctx context.Context, id uuid.UUID, status RescheduleStatus, response *string, at time.Time) (*RescheduleRequest, error)
	CountPendingBySlot(ctx context.Context, slotID uuid.UUID) (int, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	// CountUpcomingBySlot counts scheduled appointments on the slot dated
	// from (YYYY-MM-DD) or later.
	CountUpcomingBySlot(ctx context.Context, slotID uuid.UUID, from string) (int, error)
}

// PatientDirectory resolves patient ids from channel identities.
type PatientDirectory interface {
	FindOrCreate(ctx context.Context, phone string, doctorID uuid.UUID, f PatientFields) (uuid.UUID, error)
	// FindByPhone returns uuid.Nil without error when nobody matches.
	FindByPhone(ctx context.Context, phone string, doctorID uuid.UUID) (uuid.UUID, error)
	// Owns reports whether id is a patient registered under doctorID.
	Owns(ctx context.Context, id, doctorID uuid.UUID) (bool, error)
}

// EventSink records lifecycle events. Implementations join the transaction
// carried by ctx.
type EventSink interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// TxRunner runs fn in a single transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Recorder receives scheduling metrics.
type Recorder interface {
	SlotConflict()
	BookingCreated()
	BookingConflict()
	BookingTransition(to string)
	RescheduleResolved(status string)
}

type nopRecorder struct{}

func (nopRecorder) SlotConflict()             {}
func (nopRecorder) BookingCreated()           {}
func (nopRecorder) BookingConflict()          {}
func (nopRecorder) BookingTransition(string)  {}
func (nopRecorder) RescheduleResolved(string) {}

type nopEvents struct{}

func (nopEvents) Publish(context.Context, string, any) error { return nil }

type directTx struct{}

func (directTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
