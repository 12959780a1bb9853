package scheduling

import "github.com/google/uuid"

// Lifecycle event types written to the outbox.
const (
	EventBookingCreated       = "booking.created"
	EventBookingConfirmed     = "booking.confirmed"
	EventBookingRejected      = "booking.rejected"
	EventBookingFaultyReceipt = "booking.cancelled_faulty_receipt"
	EventBookingCancelled     = "booking.cancelled"
	EventRescheduleProposed   = "reschedule.proposed"
	EventRescheduleApproved   = "reschedule.approved"
	EventRescheduleRejected   = "reschedule.rejected"
)

// BookingEvent is the payload of every lifecycle event. Fields that do not
// apply to an event are omitted.
type BookingEvent struct {
	BookingID           uuid.UUID  `json:"bookingId"`
	SlotID              uuid.UUID  `json:"slotId"`
	DoctorID            uuid.UUID  `json:"doctorId"`
	PatientID           *uuid.UUID `json:"patientId,omitempty"`
	PatientPhone        string     `json:"patientPhone"`
	PatientName         *string    `json:"patientName,omitempty"`
	Date                string     `json:"date"`
	StartTime           string     `json:"startTime,omitempty"`
	Status              string     `json:"status"`
	Reason              *string    `json:"reason,omitempty"`
	AppointmentID       *uuid.UUID `json:"appointmentId,omitempty"`
	RescheduleRequestID *uuid.UUID `json:"rescheduleRequestId,omitempty"`
	NewSlotID           *uuid.UUID `json:"newSlotId,omitempty"`
	NewDate             string     `json:"newDate,omitempty"`
	DoctorNotes         *string    `json:"doctorNotes,omitempty"`
	Response            *string    `json:"response,omitempty"`
}

func bookingEvent(b *SlotBooking, startTime string) BookingEvent {
	return BookingEvent{
		BookingID:    b.ID,
		SlotID:       b.SlotID,
		DoctorID:     b.DoctorID,
		PatientID:    b.PatientID,
		PatientPhone: b.PatientPhone,
		PatientName:  b.PatientName,
		Date:         b.Date,
		StartTime:    startTime,
		Status:       string(b.Status),
	}
}
