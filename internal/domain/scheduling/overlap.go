package scheduling

import "github.com/google/uuid"

// SlotWindow is the part of a slot that takes part in overlap checks.
type SlotWindow struct {
	DayOfWeek       int
	StartTime       string
	DurationMinutes int
}

func (w SlotWindow) minutes() (start, end int, ok bool) {
	s, err := TimeToMinutes(w.StartTime)
	if err != nil || w.DurationMinutes <= 0 {
		return 0, 0, false
	}
	return s, s + w.DurationMinutes, true
}

// Overlaps reports whether two windows on the same weekday share any minute.
// Ranges are half-open, so back-to-back windows do not overlap.
func (w SlotWindow) Overlaps(other SlotWindow) bool {
	if w.DayOfWeek != other.DayOfWeek {
		return false
	}
	s1, e1, ok1 := w.minutes()
	s2, e2, ok2 := other.minutes()
	if !ok1 || !ok2 {
		return false
	}
	return s1 < e2 && e1 > s2
}

// FindConflict returns the first slot in existing that overlaps candidate,
// skipping excludeID (the slot being edited). Slots on other weekdays and
// slots with unparsable times never conflict.
func FindConflict(candidate SlotWindow, existing []*RecurringSlot, excludeID uuid.UUID) *RecurringSlot {
	for _, slot := range existing {
		if slot == nil || slot.DayOfWeek != candidate.DayOfWeek {
			continue
		}
		if excludeID != uuid.Nil && slot.ID == excludeID {
			continue
		}
		if candidate.Overlaps(slot.Window()) {
			return slot
		}
	}
	return nil
}
