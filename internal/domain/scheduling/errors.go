package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("validation failed")
	ErrSlotHasActiveBookings = errors.New("slot has active bookings")
	ErrReschedulePending     = errors.New("booking already has a pending reschedule request")
)

// NotFoundError names the missing entity without echoing the id, so callers
// cannot probe for other doctors' records.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string { return e.Entity + " not found" }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func notFound(entity string) error { return &NotFoundError{Entity: entity} }

// ValidationError is a malformed or inconsistent input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// SlotConflictError is returned when a slot would overlap an active slot of
// the same doctor on the same weekday.
type SlotConflictError struct {
	Conflict *RecurringSlot
}

func (e *SlotConflictError) Error() string {
	c := e.Conflict
	return fmt.Sprintf("slot overlaps an existing %s slot from %s to %s", DayName(c.DayOfWeek), c.StartTime, c.EndTime)
}

// Details is the colliding slot as reported to the client.
func (e *SlotConflictError) Details() map[string]interface{} {
	c := e.Conflict
	return map[string]interface{}{
		"id":        c.ID,
		"dayOfWeek": c.DayOfWeek,
		"startTime": c.StartTime,
		"endTime":   c.EndTime,
		"duration":  c.DurationMinutes,
		"type":      c.AppointmentType,
	}
}

// BookingConflictError means the slot instance is already booked or completed.
type BookingConflictError struct {
	SlotID string
	Date   string
}

func (e *BookingConflictError) Error() string {
	return fmt.Sprintf("slot is already booked on %s", e.Date)
}

// InvalidStateError is a transition attempted from the wrong status. The
// message depends only on the action, never on the current status.
type InvalidStateError struct {
	Entity   string
	Action   string
	Required string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s must be %s to %s", e.Entity, e.Required, e.Action)
}

func bookingNotBooked(action string) error {
	return &InvalidStateError{Entity: "booking", Action: action, Required: string(StatusBooked)}
}

func requestNotPending(action string) error {
	return &InvalidStateError{Entity: "reschedule request", Action: action, Required: string(ReschedulePending)}
}
