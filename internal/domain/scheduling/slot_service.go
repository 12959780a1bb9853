package scheduling

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// buildSlot validates a create or update body and returns the normalised slot.
func buildSlot(in SlotInput) (*RecurringSlot, error) {
	if in.DayOfWeek == nil {
		return nil, invalid("dayOfWeek", "dayOfWeek is required")
	}
	if *in.DayOfWeek < 0 || *in.DayOfWeek > 6 {
		return nil, invalid("dayOfWeek", "dayOfWeek must be between 0 (Sunday) and 6 (Saturday)")
	}
	if strings.TrimSpace(in.StartTime) == "" {
		return nil, invalid("startTime", "startTime is required")
	}
	start, err := TimeToMinutes(in.StartTime)
	if err != nil {
		return nil, invalid("startTime", "%s", err.Error())
	}
	if in.DurationMinutes == nil {
		return nil, invalid("durationMinutes", "durationMinutes is required")
	}
	if *in.DurationMinutes <= 0 {
		return nil, invalid("durationMinutes", "durationMinutes must be positive")
	}
	startTime := FormatMinutes(start)
	end, err := ComputeEndTime(startTime, *in.DurationMinutes)
	if err != nil {
		return nil, invalid("durationMinutes", "slot must end by 24:00")
	}
	if in.AppointmentType == "" {
		return nil, invalid("appointmentType", "appointmentType is required")
	}
	if !in.AppointmentType.Valid() {
		return nil, invalid("appointmentType", "appointmentType must be one of in-person, video, phone, both")
	}
	if in.Price == nil {
		return nil, invalid("price", "price is required")
	}
	if in.Price.IsNegative() {
		return nil, invalid("price", "price must not be negative")
	}

	var address *string
	if in.AppointmentType.IncludesInPerson() {
		if in.Address == nil || strings.TrimSpace(*in.Address) == "" {
			return nil, invalid("address", "address is required for in-person appointments")
		}
		a := strings.TrimSpace(*in.Address)
		address = &a
	}

	return &RecurringSlot{
		DayOfWeek:       *in.DayOfWeek,
		StartTime:       startTime,
		EndTime:         end,
		DurationMinutes: *in.DurationMinutes,
		AppointmentType: in.AppointmentType,
		Address:         address,
		Price:           *in.Price,
		IsActive:        true,
	}, nil
}

// checkOverlap fails with *SlotConflictError when slot collides with another
// active slot of the same doctor.
func (s *Service) checkOverlap(ctx context.Context, slot *RecurringSlot, excludeID uuid.UUID) error {
	existing, err := s.slots.ListActiveByDoctorDay(ctx, slot.DoctorID, slot.DayOfWeek)
	if err != nil {
		return err
	}
	if c := FindConflict(slot.Window(), existing, excludeID); c != nil {
		s.metrics.SlotConflict()
		return &SlotConflictError{Conflict: c}
	}
	return nil
}

func (s *Service) CreateSlot(ctx context.Context, doctorID uuid.UUID, in SlotInput) (*RecurringSlot, error) {
	slot, err := buildSlot(in)
	if err != nil {
		return nil, err
	}
	slot.DoctorID = doctorID

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.slots.LockDoctor(ctx, doctorID); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, slot, uuid.Nil); err != nil {
			return err
		}
		return s.slots.Create(ctx, slot)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("slot_id", slot.ID.String()).Str("doctor_id", doctorID.String()).
		Int("day_of_week", slot.DayOfWeek).Str("start_time", slot.StartTime).Msg("slot created")
	return slot, nil
}

func (s *Service) GetSlot(ctx context.Context, id, doctorID uuid.UUID) (*RecurringSlot, error) {
	slot, err := s.slots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !owned(doctorID, slot.DoctorID) {
		return nil, notFound("slot")
	}
	return slot, nil
}

// UpdateSlot replaces the slot definition. isActive is kept when omitted; a
// slot that ends up active is re-checked for overlap excluding itself.
func (s *Service) UpdateSlot(ctx context.Context, id, doctorID uuid.UUID, in SlotInput) (*RecurringSlot, error) {
	current, err := s.GetSlot(ctx, id, doctorID)
	if err != nil {
		return nil, err
	}
	slot, err := buildSlot(in)
	if err != nil {
		return nil, err
	}
	slot.ID = current.ID
	slot.DoctorID = current.DoctorID
	slot.CreatedAt = current.CreatedAt
	slot.IsActive = current.IsActive
	if in.IsActive != nil {
		slot.IsActive = *in.IsActive
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.slots.LockDoctor(ctx, slot.DoctorID); err != nil {
			return err
		}
		if rescheduled(current, slot) {
			if err := s.ensureSlotUnused(ctx, slot.ID); err != nil {
				return err
			}
		}
		if slot.IsActive {
			if err := s.checkOverlap(ctx, slot, slot.ID); err != nil {
				return err
			}
		}
		return s.slots.Update(ctx, slot)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("slot_id", slot.ID.String()).Bool("is_active", slot.IsActive).Msg("slot updated")
	return slot, nil
}

// rescheduled reports whether the update moves the slot in the week.
func rescheduled(before, after *RecurringSlot) bool {
	return before.DayOfWeek != after.DayOfWeek ||
		before.StartTime != after.StartTime ||
		before.DurationMinutes != after.DurationMinutes
}

// ensureSlotUnused fails with ErrSlotHasActiveBookings while a booked booking
// or a pending reschedule request still points at the slot.
func (s *Service) ensureSlotUnused(ctx context.Context, id uuid.UUID) error {
	n, err := s.bookings.CountActiveBySlot(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrSlotHasActiveBookings
	}
	if n, err = s.reschedules.CountPendingBySlot(ctx, id); err != nil {
		return err
	}
	if n > 0 {
		return ErrSlotHasActiveBookings
	}
	return nil
}

// DeleteSlot removes the slot unless a booked booking, a pending reschedule
// request or a scheduled appointment dated today or later still refers to it.
func (s *Service) DeleteSlot(ctx context.Context, id, doctorID uuid.UUID) error {
	slot, err := s.GetSlot(ctx, id, doctorID)
	if err != nil {
		return err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.slots.LockDoctor(ctx, slot.DoctorID); err != nil {
			return err
		}
		if err := s.ensureSlotUnused(ctx, id); err != nil {
			return err
		}
		n, err := s.appointments.CountUpcomingBySlot(ctx, id, FormatDate(s.today()))
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrSlotHasActiveBookings
		}
		return s.slots.Delete(ctx, id)
	})
	if err != nil {
		if !errors.Is(err, ErrSlotHasActiveBookings) && !errors.Is(err, ErrNotFound) {
			s.logger.Error().Err(err).Str("slot_id", id.String()).Msg("delete slot failed")
		}
		return err
	}
	s.logger.Info().Str("slot_id", id.String()).Msg("slot deleted")
	return nil
}

// ListSlots returns the doctor's recurring slots ordered by weekday and start time.
func (s *Service) ListSlots(ctx context.Context, doctorID uuid.UUID) ([]*RecurringSlot, error) {
	slots, err := s.slots.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	sortSlots(slots)
	return slots, nil
}
