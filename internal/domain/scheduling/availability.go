package scheduling

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// sortSlots orders by weekday then start time. Start times are zero-padded
// so string order is time order.
func sortSlots(slots []*RecurringSlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].DayOfWeek != slots[j].DayOfWeek {
			return slots[i].DayOfWeek < slots[j].DayOfWeek
		}
		return slots[i].StartTime < slots[j].StartTime
	})
}

// GetAvailability projects the doctor's active recurring slots onto each of
// days calendar dates starting at startDate, leaving out instances that are
// already booked or completed. An empty startDate means today; days of 0
// means a week.
func (s *Service) GetAvailability(ctx context.Context, doctorID uuid.UUID, startDate string, days int) (out []AvailabilitySlotView, err error) {
	ctx, span := startSpan(ctx, "scheduling.GetAvailability",
		attribute.String("doctor.id", doctorID.String()),
		attribute.String("start_date", startDate),
		attribute.Int("days", days))
	defer func() { endSpan(span, err) }()

	if doctorID == uuid.Nil {
		return nil, invalid("doctorId", "doctorId is required")
	}
	if days == 0 {
		days = defaultAvailabilityDays
	}
	if days < 1 || days > s.maxDays {
		return nil, invalid("days", "days must be between 1 and %d", s.maxDays)
	}

	start := s.today()
	if strings.TrimSpace(startDate) != "" {
		if start, err = ParseDate(startDate, s.loc); err != nil {
			return nil, invalid("date", "%s", err.Error())
		}
	}
	end := start.AddDate(0, 0, days-1)

	slots, err := s.slots.ListActiveByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	sortSlots(slots)
	byDay := make(map[int][]*RecurringSlot, 7)
	for _, sl := range slots {
		byDay[sl.DayOfWeek] = append(byDay[sl.DayOfWeek], sl)
	}

	taken, err := s.bookings.ListTakenInRange(ctx, doctorID, FormatDate(start), FormatDate(end))
	if err != nil {
		return nil, err
	}
	booked := make(map[SlotDate]bool, len(taken))
	for _, t := range taken {
		booked[t] = true
	}

	out = []AvailabilitySlotView{}
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i)
		weekday := int(date.Weekday())
		iso := FormatDate(date)
		for _, sl := range byDay[weekday] {
			if booked[SlotDate{SlotID: sl.ID, Date: iso}] {
				continue
			}
			out = append(out, AvailabilitySlotView{
				SlotID:          sl.ID,
				DoctorID:        sl.DoctorID,
				AvailableDate:   iso,
				DayOfWeek:       weekday,
				DayName:         DayName(weekday),
				StartTime:       sl.StartTime,
				EndTime:         sl.EndTime,
				DurationMinutes: sl.DurationMinutes,
				AppointmentType: sl.AppointmentType,
				Address:         sl.Address,
				Price:           sl.Price,
			})
		}
	}
	span.SetAttributes(attribute.Int("available.count", len(out)))
	return out, nil
}
