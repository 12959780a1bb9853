package scheduling

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// RescheduleResult is the resolved request and, on approval, the moved booking.
type RescheduleResult struct {
	Request *RescheduleRequest `json:"request"`
	Booking *SlotBooking       `json:"booking,omitempty"`
}

// targetSlot checks that slotID can take the booking on date.
func (s *Service) targetSlot(ctx context.Context, doctorID, slotID uuid.UUID, date string) (*RecurringSlot, string, error) {
	if slotID == uuid.Nil {
		return nil, "", invalid("newSlotId", "newSlotId is required")
	}
	if strings.TrimSpace(date) == "" {
		return nil, "", invalid("newDate", "newDate is required")
	}
	d, err := ParseDate(date, s.loc)
	if err != nil {
		return nil, "", invalid("newDate", "%s", err.Error())
	}
	if d.Before(s.today()) {
		return nil, "", invalid("newDate", "cannot reschedule to a date in the past")
	}
	slot, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, "", err
	}
	if slot.DoctorID != doctorID {
		return nil, "", notFound("slot")
	}
	if !slot.IsActive {
		return nil, "", invalid("newSlotId", "slot is not accepting bookings")
	}
	if wd := int(d.Weekday()); wd != slot.DayOfWeek {
		return nil, "", invalid("newDate", "%s is a %s but the slot is on %s", FormatDate(d), DayName(wd), DayName(slot.DayOfWeek))
	}
	return slot, FormatDate(d), nil
}

// ProposeReschedule records a doctor's proposal to move a booking. The
// booking keeps its status until the patient side answers.
func (s *Service) ProposeReschedule(ctx context.Context, doctorID, bookingID uuid.UUID, in RescheduleInput) (rr *RescheduleRequest, err error) {
	ctx, span := startSpan(ctx, "scheduling.ProposeReschedule", attribute.String("booking.id", bookingID.String()))
	defer func() { endSpan(span, err) }()

	b, err := s.GetBooking(ctx, doctorID, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusBooked {
		return nil, bookingNotBooked("reschedule")
	}
	slot, date, err := s.targetSlot(ctx, b.DoctorID, in.NewSlotID, in.NewDate)
	if err != nil {
		return nil, err
	}
	if slot.ID == b.SlotID && date == b.Date {
		return nil, invalid("newDate", "proposed time is the current booking time")
	}

	rr = &RescheduleRequest{
		BookingID:   b.ID,
		DoctorID:    b.DoctorID,
		NewSlotID:   slot.ID,
		NewDate:     date,
		DoctorNotes: trimmed(in.DoctorNotes),
		Status:      ReschedulePending,
		RequestedAt: s.now().UTC(),
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		pending, err := s.reschedules.HasPending(ctx, b.ID)
		if err != nil {
			return err
		}
		if pending {
			return ErrReschedulePending
		}
		taken, err := s.bookings.ExistsActive(ctx, slot.ID, date)
		if err != nil {
			return err
		}
		if taken {
			return &BookingConflictError{SlotID: slot.ID.String(), Date: date}
		}
		if err := s.reschedules.Create(ctx, rr); err != nil {
			return err
		}
		if err := s.bookings.SetRescheduleRequest(ctx, b.ID, rr.ID); err != nil {
			return err
		}
		ev := bookingEvent(b, "")
		ev.RescheduleRequestID = &rr.ID
		ev.NewSlotID = &rr.NewSlotID
		ev.NewDate = rr.NewDate
		ev.StartTime = slot.StartTime
		ev.DoctorNotes = rr.DoctorNotes
		return s.events.Publish(ctx, EventRescheduleProposed, ev)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("booking_id", b.ID.String()).Str("request_id", rr.ID.String()).
		Str("new_date", rr.NewDate).Msg("reschedule proposed")
	return rr, nil
}

// GetRescheduleRequest returns the request when doctorID owns it. uuid.Nil
// skips the ownership check.
func (s *Service) GetRescheduleRequest(ctx context.Context, doctorID, id uuid.UUID) (*RescheduleRequest, error) {
	rr, err := s.reschedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !owned(doctorID, rr.DoctorID) {
		return nil, notFound("reschedule request")
	}
	return rr, nil
}

// ApproveReschedule moves the booking to the proposed slot and date and
// closes the request, all in one transaction.
func (s *Service) ApproveReschedule(ctx context.Context, doctorID, requestID uuid.UUID) (res *RescheduleResult, err error) {
	ctx, span := startSpan(ctx, "scheduling.ApproveReschedule", attribute.String("reschedule.id", requestID.String()))
	defer func() { endSpan(span, err) }()

	rr, err := s.GetRescheduleRequest(ctx, doctorID, requestID)
	if err != nil {
		return nil, err
	}
	if rr.Status != ReschedulePending {
		return nil, requestNotPending("approve")
	}
	b, err := s.bookings.GetByID(ctx, rr.BookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusBooked {
		return nil, bookingNotBooked("approve a reschedule")
	}
	slot, date, err := s.targetSlot(ctx, b.DoctorID, rr.NewSlotID, rr.NewDate)
	if err != nil {
		return nil, err
	}

	res = &RescheduleResult{}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		taken, err := s.bookings.ExistsActive(ctx, slot.ID, date)
		if err != nil {
			return err
		}
		if taken {
			return &BookingConflictError{SlotID: slot.ID.String(), Date: date}
		}
		if res.Booking, err = s.bookings.Move(ctx, b.ID, slot.ID, date); err != nil {
			if errors.Is(err, ErrNotFound) {
				return bookingNotBooked("approve a reschedule")
			}
			return err
		}
		if res.Request, err = s.reschedules.Resolve(ctx, rr.ID, RescheduleApproved, nil, s.now().UTC()); err != nil {
			if errors.Is(err, ErrNotFound) {
				return requestNotPending("approve")
			}
			return err
		}
		ev := bookingEvent(res.Booking, slot.StartTime)
		ev.RescheduleRequestID = &rr.ID
		return s.events.Publish(ctx, EventRescheduleApproved, ev)
	})
	if err != nil {
		var conflict *BookingConflictError
		if errors.As(err, &conflict) {
			s.metrics.BookingConflict()
		}
		return nil, err
	}

	s.metrics.RescheduleResolved(string(RescheduleApproved))
	s.logger.Info().Str("booking_id", b.ID.String()).Str("request_id", rr.ID.String()).
		Str("date", date).Int("reschedule_count", res.Booking.RescheduleCount).Msg("reschedule approved")
	return res, nil
}

// RejectReschedule closes the request and leaves the booking as it was. No
// new proposal is generated; the doctor follows up manually.
func (s *Service) RejectReschedule(ctx context.Context, doctorID, requestID uuid.UUID, response string) (res *RescheduleResult, err error) {
	ctx, span := startSpan(ctx, "scheduling.RejectReschedule", attribute.String("reschedule.id", requestID.String()))
	defer func() { endSpan(span, err) }()

	rr, err := s.GetRescheduleRequest(ctx, doctorID, requestID)
	if err != nil {
		return nil, err
	}
	if rr.Status != ReschedulePending {
		return nil, requestNotPending("reject")
	}

	res = &RescheduleResult{}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		resolved, err := s.reschedules.Resolve(ctx, rr.ID, RescheduleRejected, trimmed(&response), s.now().UTC())
		if errors.Is(err, ErrNotFound) {
			return requestNotPending("reject")
		}
		if err != nil {
			return err
		}
		res.Request = resolved
		b, err := s.bookings.GetByID(ctx, rr.BookingID)
		if err != nil {
			return err
		}
		ev := bookingEvent(b, "")
		ev.RescheduleRequestID = &rr.ID
		ev.NewSlotID = &rr.NewSlotID
		ev.NewDate = rr.NewDate
		ev.Response = resolved.Response
		return s.events.Publish(ctx, EventRescheduleRejected, ev)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RescheduleResolved(string(RescheduleRejected))
	s.logger.Info().Str("request_id", rr.ID.String()).Msg("reschedule rejected")
	return res, nil
}
