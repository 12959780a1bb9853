package scheduling

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// BookSlot books one instance of a recurring slot for a patient. The insert
// relies on a unique index over active bookings, so two racing requests for
// the same slot and date cannot both succeed.
func (s *Service) BookSlot(ctx context.Context, in BookingInput) (b *SlotBooking, err error) {
	ctx, span := startSpan(ctx, "scheduling.BookSlot",
		attribute.String("slot.id", in.SlotID.String()),
		attribute.String("booking.date", in.Date))
	defer func() { endSpan(span, err) }()

	phone := strings.TrimSpace(in.PatientPhone)
	if phone == "" {
		return nil, invalid("patientPhone", "patientPhone is required")
	}
	if in.SlotID == uuid.Nil {
		return nil, invalid("slotId", "slotId is required")
	}
	if strings.TrimSpace(in.Date) == "" {
		return nil, invalid("date", "date is required")
	}
	d, err := ParseDate(in.Date, s.loc)
	if err != nil {
		return nil, invalid("date", "%s", err.Error())
	}
	if d.Before(s.today()) {
		return nil, invalid("date", "cannot book a date in the past")
	}

	slot, err := s.slots.GetByID(ctx, in.SlotID)
	if err != nil {
		return nil, err
	}
	if !owned(in.DoctorID, slot.DoctorID) {
		return nil, notFound("slot")
	}
	if !slot.IsActive {
		return nil, invalid("slotId", "slot is not accepting bookings")
	}
	if wd := int(d.Weekday()); wd != slot.DayOfWeek {
		return nil, invalid("date", "%s is a %s but the slot is on %s", FormatDate(d), DayName(wd), DayName(slot.DayOfWeek))
	}

	b = &SlotBooking{
		SlotID:            slot.ID,
		DoctorID:          slot.DoctorID,
		PatientPhone:      phone,
		PatientName:       trimmed(in.PatientName),
		Date:              FormatDate(d),
		Status:            StatusBooked,
		PaymentReceiptURL: trimmed(in.PaymentReceiptURL),
		Symptoms:          trimmed(in.Symptoms),
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		taken, err := s.bookings.ExistsActive(ctx, b.SlotID, b.Date)
		if err != nil {
			return err
		}
		if taken {
			return &BookingConflictError{SlotID: b.SlotID.String(), Date: b.Date}
		}
		if b.PatientID, err = s.resolvePatient(ctx, in, phone, slot.DoctorID); err != nil {
			return err
		}
		if err := s.bookings.Create(ctx, b); err != nil {
			return err
		}
		return s.events.Publish(ctx, EventBookingCreated, bookingEvent(b, slot.StartTime))
	})
	if err != nil {
		var conflict *BookingConflictError
		if errors.As(err, &conflict) {
			s.metrics.BookingConflict()
		}
		return nil, err
	}

	s.metrics.BookingCreated()
	span.SetAttributes(attribute.String("booking.id", b.ID.String()))
	s.logger.Info().Str("booking_id", b.ID.String()).Str("slot_id", b.SlotID.String()).
		Str("date", b.Date).Msg("slot booked")
	return b, nil
}

// resolvePatient picks the patient for a booking: an explicit id owned by
// the slot's doctor, otherwise a find-or-create when the channel sent a name,
// otherwise a lookup by phone.
func (s *Service) resolvePatient(ctx context.Context, in BookingInput, phone string, doctorID uuid.UUID) (*uuid.UUID, error) {
	if in.PatientID != nil && *in.PatientID != uuid.Nil {
		id := *in.PatientID
		if s.patients != nil {
			ok, err := s.patients.Owns(ctx, id, doctorID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, invalid("patientId", "patient %s is not registered with this doctor", id)
			}
		}
		return &id, nil
	}
	if s.patients == nil {
		return nil, nil
	}
	var (
		id  uuid.UUID
		err error
	)
	if name := trimmed(in.PatientName); name != nil {
		id, err = s.patients.FindOrCreate(ctx, phone, doctorID, PatientFields{Name: *name, Email: trimmed(in.PatientEmail)})
	} else {
		id, err = s.patients.FindByPhone(ctx, phone, doctorID)
	}
	if err != nil {
		return nil, err
	}
	if id == uuid.Nil {
		return nil, nil
	}
	return &id, nil
}

// transition moves a booked booking to a terminal status. The guard is
// evaluated again by the conditional update so a concurrent transition
// surfaces as the same invalid-state error.
func (s *Service) transition(ctx context.Context, doctorID, id uuid.UUID, action string, to BookingStatus,
	rejection, cancellation *string, eventType string, after func(ctx context.Context, b *SlotBooking, ev *BookingEvent) error) (*SlotBooking, error) {
	b, err := s.GetBooking(ctx, doctorID, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusBooked {
		return nil, bookingNotBooked(action)
	}

	var (
		updated *SlotBooking
		closed  *RescheduleRequest
	)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.bookings.TransitionStatus(ctx, id, StatusBooked, to, rejection, cancellation)
		if errors.Is(err, ErrNotFound) {
			return bookingNotBooked(action)
		}
		if err != nil {
			return err
		}
		if closed, err = s.closePendingReschedule(ctx, updated); err != nil {
			return err
		}
		ev := bookingEvent(updated, "")
		if closed != nil {
			ev.RescheduleRequestID = &closed.ID
		}
		if rejection != nil {
			ev.Reason = rejection
		} else if cancellation != nil {
			ev.Reason = cancellation
		}
		if after != nil {
			if err := after(ctx, updated, &ev); err != nil {
				return err
			}
		}
		return s.events.Publish(ctx, eventType, ev)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.BookingTransition(string(to))
	if closed != nil {
		s.metrics.RescheduleResolved(string(RescheduleRejected))
	}
	s.logger.Info().Str("booking_id", id.String()).Str("action", action).
		Str("status", string(updated.Status)).Msg("booking transitioned")
	return updated, nil
}

// closePendingReschedule rejects the booking's open reschedule request once
// the booking leaves booked, which frees the proposed slot.
func (s *Service) closePendingReschedule(ctx context.Context, b *SlotBooking) (*RescheduleRequest, error) {
	if b.RescheduleRequestID == nil {
		return nil, nil
	}
	response := "booking " + string(b.Status)
	rr, err := s.reschedules.Resolve(ctx, *b.RescheduleRequestID, RescheduleRejected, &response, s.now().UTC())
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return rr, err
}

// ConfirmBooking completes a booked booking and creates its appointment in
// the same transaction.
func (s *Service) ConfirmBooking(ctx context.Context, doctorID, id uuid.UUID) (res *ConfirmResult, err error) {
	ctx, span := startSpan(ctx, "scheduling.ConfirmBooking", attribute.String("booking.id", id.String()))
	defer func() { endSpan(span, err) }()

	var appt *Appointment
	b, err := s.transition(ctx, doctorID, id, "confirm", StatusCompleted, nil, nil, EventBookingConfirmed,
		func(ctx context.Context, b *SlotBooking, ev *BookingEvent) error {
			slot, err := s.slots.GetByID(ctx, b.SlotID)
			if err != nil {
				return err
			}
			appt = &Appointment{
				DoctorID:        b.DoctorID,
				PatientID:       b.PatientID,
				SlotID:          b.SlotID,
				BookingID:       b.ID,
				Date:            b.Date,
				StartTime:       slot.StartTime,
				DurationMinutes: slot.DurationMinutes,
				Type:            slot.AppointmentType,
				Status:          AppointmentScheduled,
			}
			if err := s.appointments.Create(ctx, appt); err != nil {
				return err
			}
			ev.StartTime = slot.StartTime
			ev.AppointmentID = &appt.ID
			return nil
		})
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{Booking: b, Appointment: appt}, nil
}

func (s *Service) RejectBooking(ctx context.Context, doctorID, id uuid.UUID, reason string) (b *SlotBooking, err error) {
	ctx, span := startSpan(ctx, "scheduling.RejectBooking", attribute.String("booking.id", id.String()))
	defer func() { endSpan(span, err) }()

	r := trimmed(&reason)
	if r == nil {
		return nil, invalid("reason", "rejection reason is required")
	}
	return s.transition(ctx, doctorID, id, "reject", StatusCancelled, r, nil, EventBookingRejected, nil)
}

// CancelFaultyReceipt cancels a booking whose payment receipt was unusable.
// The slot instance becomes bookable again.
func (s *Service) CancelFaultyReceipt(ctx context.Context, doctorID, id uuid.UUID) (b *SlotBooking, err error) {
	ctx, span := startSpan(ctx, "scheduling.CancelFaultyReceipt", attribute.String("booking.id", id.String()))
	defer func() { endSpan(span, err) }()

	reason := ReasonFaultyReceipt
	return s.transition(ctx, doctorID, id, "cancel", StatusCancelled, nil, &reason, EventBookingFaultyReceipt, nil)
}

// CancelByPatient cancels on the patient's behalf. An empty reason records
// patient_cancelled.
func (s *Service) CancelByPatient(ctx context.Context, id uuid.UUID, reason string) (b *SlotBooking, err error) {
	ctx, span := startSpan(ctx, "scheduling.CancelByPatient", attribute.String("booking.id", id.String()))
	defer func() { endSpan(span, err) }()

	r := trimmed(&reason)
	if r == nil {
		def := ReasonPatientCancelled
		r = &def
	}
	return s.transition(ctx, uuid.Nil, id, "cancel", StatusCancelled, nil, r, EventBookingCancelled, nil)
}

// GetBooking returns the booking when doctorID owns it. uuid.Nil skips the
// ownership check.
func (s *Service) GetBooking(ctx context.Context, doctorID, id uuid.UUID) (*SlotBooking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !owned(doctorID, b.DoctorID) {
		return nil, notFound("booking")
	}
	return b, nil
}

func (s *Service) ListBookings(ctx context.Context, doctorID uuid.UUID, f BookingFilter, limit, offset int) ([]*SlotBooking, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, invalid("status", "status must be one of booked, cancelled, completed")
	}
	if f.Date != "" {
		d, err := ParseDate(f.Date, s.loc)
		if err != nil {
			return nil, 0, invalid("date", "%s", err.Error())
		}
		f.Date = FormatDate(d)
	}
	return s.bookings.List(ctx, doctorID, f, limit, offset)
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
