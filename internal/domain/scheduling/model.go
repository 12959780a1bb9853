package scheduling

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AppointmentType string

const (
	TypeInPerson AppointmentType = "in-person"
	TypeVideo    AppointmentType = "video"
	TypePhone    AppointmentType = "phone"
	TypeBoth     AppointmentType = "both"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case TypeInPerson, TypeVideo, TypePhone, TypeBoth:
		return true
	}
	return false
}

// IncludesInPerson reports whether the patient may come to the clinic, which
// is when the slot needs an address.
func (t AppointmentType) IncludesInPerson() bool {
	return t == TypeInPerson || t == TypeBoth
}

// RecurringSlot maps to the recurring_slot table: a weekly window in which a
// doctor takes one appointment.
type RecurringSlot struct {
	ID              uuid.UUID       `json:"id"`
	DoctorID        uuid.UUID       `json:"doctorId"`
	DayOfWeek       int             `json:"dayOfWeek"`
	StartTime       string          `json:"startTime"`
	EndTime         string          `json:"endTime"`
	DurationMinutes int             `json:"durationMinutes"`
	AppointmentType AppointmentType `json:"appointmentType"`
	Address         *string         `json:"address,omitempty"`
	Price           decimal.Decimal `json:"price"`
	IsActive        bool            `json:"isActive"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Window is the weekly time range the slot occupies.
func (s *RecurringSlot) Window() SlotWindow {
	return SlotWindow{DayOfWeek: s.DayOfWeek, StartTime: s.StartTime, DurationMinutes: s.DurationMinutes}
}

func (s *RecurringSlot) fillEndTime() {
	if end, err := ComputeEndTime(s.StartTime, s.DurationMinutes); err == nil {
		s.EndTime = end
	}
}

type BookingStatus string

const (
	StatusBooked    BookingStatus = "booked"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

func (s BookingStatus) Valid() bool {
	return s == StatusBooked || s == StatusCancelled || s == StatusCompleted
}

// Terminal statuses never change again.
func (s BookingStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

const (
	ReasonFaultyReceipt    = "faulty_receipt"
	ReasonPatientCancelled = "patient_cancelled"
)

// SlotBooking maps to the slot_booking table: one recurring slot taken on
// one calendar date.
type SlotBooking struct {
	ID                  uuid.UUID     `json:"id"`
	SlotID              uuid.UUID     `json:"slotId"`
	DoctorID            uuid.UUID     `json:"doctorId"`
	PatientID           *uuid.UUID    `json:"patientId,omitempty"`
	PatientPhone        string        `json:"patientPhone"`
	PatientName         *string       `json:"patientName,omitempty"`
	Date                string        `json:"date"`
	Status              BookingStatus `json:"status"`
	PaymentReceiptURL   *string       `json:"paymentReceiptUrl,omitempty"`
	Symptoms            *string       `json:"symptoms,omitempty"`
	RejectionReason     *string       `json:"rejectionReason,omitempty"`
	CancellationReason  *string       `json:"cancellationReason,omitempty"`
	RescheduleRequestID *uuid.UUID    `json:"rescheduleRequestId,omitempty"`
	RescheduleCount     int           `json:"rescheduleCount"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

type RescheduleStatus string

const (
	ReschedulePending  RescheduleStatus = "pending"
	RescheduleApproved RescheduleStatus = "approved"
	RescheduleRejected RescheduleStatus = "rejected"
)

// RescheduleRequest maps to the reschedule_request table. A booking points
// at its latest request through RescheduleRequestID.
type RescheduleRequest struct {
	ID          uuid.UUID        `json:"id"`
	BookingID   uuid.UUID        `json:"bookingId"`
	DoctorID    uuid.UUID        `json:"doctorId"`
	NewSlotID   uuid.UUID        `json:"newSlotId"`
	NewDate     string           `json:"newDate"`
	DoctorNotes *string          `json:"doctorNotes,omitempty"`
	Status      RescheduleStatus `json:"status"`
	Response    *string          `json:"response,omitempty"`
	RequestedAt time.Time        `json:"requestedAt"`
	ResolvedAt  *time.Time       `json:"resolvedAt,omitempty"`
}

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentNoShow    AppointmentStatus = "no-show"
)

// Appointment is the visit record created when a doctor confirms a booking.
type Appointment struct {
	ID              uuid.UUID         `json:"id"`
	DoctorID        uuid.UUID         `json:"doctorId"`
	PatientID       *uuid.UUID        `json:"patientId,omitempty"`
	SlotID          uuid.UUID         `json:"slotId"`
	BookingID       uuid.UUID         `json:"bookingId"`
	Date            string            `json:"date"`
	StartTime       string            `json:"startTime"`
	DurationMinutes int               `json:"durationMinutes"`
	Type            AppointmentType   `json:"type"`
	Status          AppointmentStatus `json:"status"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// AvailabilitySlotView is a recurring slot projected onto a free date.
type AvailabilitySlotView struct {
	SlotID          uuid.UUID       `json:"slotId"`
	DoctorID        uuid.UUID       `json:"doctorId"`
	AvailableDate   string          `json:"availableDate"`
	DayOfWeek       int             `json:"dayOfWeek"`
	DayName         string          `json:"dayName"`
	StartTime       string          `json:"startTime"`
	EndTime         string          `json:"endTime"`
	DurationMinutes int             `json:"durationMinutes"`
	AppointmentType AppointmentType `json:"appointmentType"`
	Address         *string         `json:"address,omitempty"`
	Price           decimal.Decimal `json:"price"`
}

// SlotInput is the body of slot create and update requests. Pointer fields
// distinguish "missing" from zero values.
type SlotInput struct {
	DayOfWeek       *int             `json:"dayOfWeek"`
	StartTime       string           `json:"startTime"`
	DurationMinutes *int             `json:"durationMinutes"`
	AppointmentType AppointmentType  `json:"appointmentType"`
	Address         *string          `json:"address"`
	Price           *decimal.Decimal `json:"price"`
	IsActive        *bool            `json:"isActive"`
}

// BookingInput is a patient's request for one slot on one date.
type BookingInput struct {
	SlotID            uuid.UUID  `json:"slotId"`
	Date              string     `json:"date"`
	PatientPhone      string     `json:"patientPhone"`
	PatientID         *uuid.UUID `json:"patientId"`
	PatientName       *string    `json:"patientName"`
	PatientEmail      *string    `json:"patientEmail"`
	Symptoms          *string    `json:"symptoms"`
	PaymentReceiptURL *string    `json:"paymentReceiptUrl"`
	// DoctorID, when set, must own the slot.
	DoctorID uuid.UUID `json:"doctorId"`
}

type RescheduleInput struct {
	NewSlotID   uuid.UUID `json:"newSlotId"`
	NewDate     string    `json:"newDate"`
	DoctorNotes *string   `json:"doctorNotes"`
}

type BookingFilter struct {
	Status BookingStatus
	Date   string
}

// PatientFields identify a patient when the channel has more than a phone.
type PatientFields struct {
	Name  string
	Email *string
}

// ConfirmResult is returned by ConfirmBooking.
type ConfirmResult struct {
	Booking     *SlotBooking `json:"booking"`
	Appointment *Appointment `json:"appointment"`
}

// SlotDate identifies one concrete instance of a recurring slot.
type SlotDate struct {
	SlotID uuid.UUID
	Date   string
}
