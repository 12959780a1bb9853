package scheduling

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestBookSlot_DoubleBooking(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))

	b := f.mustBook(t, s.ID, "2025-01-06")
	if b.Status != StatusBooked || b.DoctorID != f.doctorID || b.Date != "2025-01-06" {
		t.Errorf("unexpected booking: %+v", b)
	}

	_, err := f.svc.BookSlot(ctx, BookingInput{SlotID: s.ID, Date: "2025-01-06", PatientPhone: "+923331112222"})
	var conflict *BookingConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *BookingConflictError, got %v", err)
	}
	if conflict.Date != "2025-01-06" {
		t.Errorf("expected conflict date 2025-01-06, got %s", conflict.Date)
	}
	if f.metrics.created != 1 || f.metrics.bookConf != 1 {
		t.Errorf("expected 1 created and 1 conflict, got %d and %d", f.metrics.created, f.metrics.bookConf)
	}
}

func TestBookSlot_ConcurrentRequests(t *testing.T) {
	f := newFixture()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.BookSlot(context.Background(), BookingInput{SlotID: s.ID, Date: "2025-01-06", PatientPhone: "+923001234567"})
			mu.Lock()
			defer mu.Unlock()
			var conflict *BookingConflictError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &conflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || conflicts != n-1 {
		t.Errorf("expected exactly one booking, got %d successes and %d conflicts", successes, conflicts)
	}
}

func TestBookSlot_WeekdayMismatch(t *testing.T) {
	f := newFixture()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	_, err := f.svc.BookSlot(context.Background(), BookingInput{SlotID: s.ID, Date: "2025-01-07", PatientPhone: "+923001234567"})
	var v *ValidationError
	if !errors.As(err, &v) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if v.Field != "date" {
		t.Errorf("expected field date, got %q", v.Field)
	}
	if len(f.bookings.bookings) != 0 {
		t.Error("no booking should be stored")
	}
}

func TestBookSlot_Validation(t *testing.T) {
	f := newFixture()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	cases := []struct {
		name  string
		in    BookingInput
		field string
	}{
		{"missing phone", BookingInput{SlotID: s.ID, Date: "2025-01-06"}, "patientPhone"},
		{"missing slot", BookingInput{Date: "2025-01-06", PatientPhone: "1"}, "slotId"},
		{"missing date", BookingInput{SlotID: s.ID, PatientPhone: "1"}, "date"},
		{"invalid date", BookingInput{SlotID: s.ID, Date: "2025-02-30", PatientPhone: "1"}, "date"},
		{"past date", BookingInput{SlotID: s.ID, Date: "2024-12-30", PatientPhone: "1"}, "date"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.BookSlot(context.Background(), tt.in)
			var v *ValidationError
			if !errors.As(err, &v) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if v.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, v.Field)
			}
		})
	}
}

func TestBookSlot_Today(t *testing.T) {
	f := newFixture()
	s := f.mustSlot(t, videoSlot(3, "18:00", 30))
	// fixedNow is Wednesday 2025-01-01.
	if _, err := f.svc.BookSlot(context.Background(), BookingInput{SlotID: s.ID, Date: "2025-01-01", PatientPhone: "1"}); err != nil {
		t.Fatalf("booking today should be allowed: %v", err)
	}
}

func TestBookSlot_SlotChecks(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.BookSlot(ctx, BookingInput{SlotID: uuid.New(), Date: "2025-01-06", PatientPhone: "1"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown slot, got %v", err)
	}

	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	if _, err := f.svc.BookSlot(ctx, BookingInput{SlotID: s.ID, DoctorID: uuid.New(), Date: "2025-01-06", PatientPhone: "1"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another doctor's slot, got %v", err)
	}

	in := videoSlot(1, "09:00", 30)
	in.IsActive = boolPtr(false)
	if _, err := f.svc.UpdateSlot(ctx, s.ID, f.doctorID, in); err != nil {
		t.Fatalf("UpdateSlot: %v", err)
	}
	_, err := f.svc.BookSlot(ctx, BookingInput{SlotID: s.ID, Date: "2025-01-06", PatientPhone: "1"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for inactive slot, got %v", err)
	}
}

func TestBookSlot_PatientResolution(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	phone := "+923001234567"

	// Unknown phone, no name: stays unresolved.
	b, err := f.svc.BookSlot(ctx, BookingInput{SlotID: s.ID, Date: "2025-01-06", PatientPhone: phone})
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}
	if b.PatientID != nil {
		t.Errorf("expected nil patient, got %v", b.PatientID)
	}

	// Name given: find-or-create.
	b, err = f.svc.BookSlot(ctx, BookingInput{SlotID: s.ID, Date: "2025-01-13", PatientPhone: phone, PatientName: strPtr("Ayesha")})
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}
	if b.PatientID == nil || f.patients.created != 1 {
		t.Fatalf("expected created patient, got %v (created %d)", b.PatientID, f.patients.created)
	}
	created := *b.PatientID

	// Phone only, now known.
	b, err = f.svc.BookSlot(ctx, BookingInput{SlotID: s.ID, Date: "2025-01-20", PatientPhone: phone})
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}
	if b.PatientID == nil || *b.PatientID != created {
		t.Errorf("expected patient %s from phone lookup, got %v", created, b.PatientID)
	}

	// Explicit id wins.
	explicit, _ := f.patients.FindOrCreate(ctx, "+923339876543", f.doctorID, PatientFields{Name: "Guardian"})
	b, err = f.svc.BookSlot(ctx, BookingInput{SlotID: s.ID, Date: "2025-01-27", PatientPhone: phone, PatientID: &explicit, PatientName: strPtr("Other")})
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}
	if *b.PatientID != explicit || f.patients.created != 2 {
		t.Errorf("expected explicit patient id, got %v", b.PatientID)
	}
}

func TestBookSlot_ExplicitPatientMustBelongToDoctor(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	foreign, _ := f.patients.FindOrCreate(ctx, "+923001234567", uuid.New(), PatientFields{Name: "Elsewhere"})

	for name, id := range map[string]uuid.UUID{"unknown": uuid.New(), "other doctor": foreign} {
		id := id
		_, err := f.svc.BookSlot(ctx, BookingInput{SlotID: s.ID, Date: "2025-01-06", PatientPhone: "+923001234567", PatientID: &id})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
	if n, _ := f.bookings.CountActiveBySlot(ctx, s.ID); n != 0 {
		t.Errorf("expected no booking to be stored, got %d", n)
	}
}

func TestBookSlot_PublishesEvent(t *testing.T) {
	f := newFixture()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	b := f.mustBook(t, s.ID, "2025-01-06")

	ev := f.events.last()
	if ev.Type != EventBookingCreated {
		t.Fatalf("expected %s, got %s", EventBookingCreated, ev.Type)
	}
	if ev.Payload.BookingID != b.ID || ev.Payload.StartTime != "09:00" || ev.Payload.Status != "booked" {
		t.Errorf("unexpected payload: %+v", ev.Payload)
	}
}

func TestConfirmBooking(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	patient := uuid.New()
	b, err := f.svc.BookSlot(ctx, BookingInput{SlotID: s.ID, Date: "2025-01-06", PatientPhone: "1", PatientID: &patient})
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}

	res, err := f.svc.ConfirmBooking(ctx, f.doctorID, b.ID)
	if err != nil {
		t.Fatalf("ConfirmBooking: %v", err)
	}
	if res.Booking.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", res.Booking.Status)
	}
	a := res.Appointment
	if a == nil || len(f.appts.appts) != 1 {
		t.Fatal("expected one appointment to be created")
	}
	if a.BookingID != b.ID || a.SlotID != s.ID || *a.PatientID != patient || a.DoctorID != f.doctorID ||
		a.Status != AppointmentScheduled || a.Type != TypeVideo || a.StartTime != "09:00" || a.Date != "2025-01-06" {
		t.Errorf("unexpected appointment: %+v", a)
	}
	ev := f.events.last()
	if ev.Type != EventBookingConfirmed || ev.Payload.AppointmentID == nil || *ev.Payload.AppointmentID != a.ID {
		t.Errorf("unexpected event: %+v", ev)
	}

	_, err = f.svc.ConfirmBooking(ctx, f.doctorID, b.ID)
	var state *InvalidStateError
	if !errors.As(err, &state) {
		t.Fatalf("expected *InvalidStateError, got %v", err)
	}
	if state.Required != "booked" || err.Error() != "booking must be booked to confirm" {
		t.Errorf("unexpected error: %v", err)
	}
	if len(f.appts.appts) != 1 {
		t.Error("second confirm must not create another appointment")
	}
}

func TestConfirmBooking_AppointmentFailure(t *testing.T) {
	f := newFixture()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	b := f.mustBook(t, s.ID, "2025-01-06")
	f.appts.err = errors.New("connection reset")

	if _, err := f.svc.ConfirmBooking(context.Background(), f.doctorID, b.ID); err == nil {
		t.Fatal("expected error")
	}
	if len(f.events.types()) != 1 {
		t.Errorf("no confirm event may be published, got %v", f.events.types())
	}
}

func TestStateGuard_SameErrorForEveryTerminalStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))

	completed := f.mustBook(t, s.ID, "2025-01-06")
	if _, err := f.svc.ConfirmBooking(ctx, f.doctorID, completed.ID); err != nil {
		t.Fatalf("ConfirmBooking: %v", err)
	}
	cancelled := f.mustBook(t, s.ID, "2025-01-13")
	if _, err := f.svc.RejectBooking(ctx, f.doctorID, cancelled.ID, "wrong receipt"); err != nil {
		t.Fatalf("RejectBooking: %v", err)
	}

	actions := map[string]func(id uuid.UUID) error{
		"confirm": func(id uuid.UUID) error { _, err := f.svc.ConfirmBooking(ctx, f.doctorID, id); return err },
		"reject":  func(id uuid.UUID) error { _, err := f.svc.RejectBooking(ctx, f.doctorID, id, "x"); return err },
		"cancel":  func(id uuid.UUID) error { _, err := f.svc.CancelFaultyReceipt(ctx, f.doctorID, id); return err },
	}
	for name, act := range actions {
		errCompleted := act(completed.ID)
		errCancelled := act(cancelled.ID)
		var a, b *InvalidStateError
		if !errors.As(errCompleted, &a) || !errors.As(errCancelled, &b) {
			t.Fatalf("%s: expected invalid state errors, got %v and %v", name, errCompleted, errCancelled)
		}
		if !reflect.DeepEqual(a, b) || errCompleted.Error() != errCancelled.Error() {
			t.Errorf("%s: errors differ: %q vs %q", name, errCompleted, errCancelled)
		}
		if a.Required != "booked" {
			t.Errorf("%s: expected required status booked, got %s", name, a.Required)
		}
	}
}

func TestRejectBooking(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	b := f.mustBook(t, s.ID, "2025-01-06")

	if _, err := f.svc.RejectBooking(ctx, f.doctorID, b.ID, "   "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for blank reason, got %v", err)
	}
	got, err := f.svc.RejectBooking(ctx, f.doctorID, b.ID, " receipt unreadable ")
	if err != nil {
		t.Fatalf("RejectBooking: %v", err)
	}
	if got.Status != StatusCancelled || got.RejectionReason == nil || *got.RejectionReason != "receipt unreadable" {
		t.Errorf("unexpected booking: %+v", got)
	}
	ev := f.events.last()
	if ev.Type != EventBookingRejected || ev.Payload.Reason == nil || *ev.Payload.Reason != "receipt unreadable" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestCancelFaultyReceipt_SlotBookableAgain(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	b := f.mustBook(t, s.ID, "2025-01-06")

	got, err := f.svc.CancelFaultyReceipt(ctx, f.doctorID, b.ID)
	if err != nil {
		t.Fatalf("CancelFaultyReceipt: %v", err)
	}
	if got.Status != StatusCancelled || got.CancellationReason == nil || *got.CancellationReason != ReasonFaultyReceipt {
		t.Errorf("unexpected booking: %+v", got)
	}
	if f.events.last().Type != EventBookingFaultyReceipt {
		t.Errorf("expected %s event", EventBookingFaultyReceipt)
	}
	rebooked := f.mustBook(t, s.ID, "2025-01-06")
	if rebooked.ID == b.ID {
		t.Error("expected a new booking")
	}
}

func TestCancelByPatient(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	b := f.mustBook(t, s.ID, "2025-01-06")

	got, err := f.svc.CancelByPatient(ctx, b.ID, "")
	if err != nil {
		t.Fatalf("CancelByPatient: %v", err)
	}
	if *got.CancellationReason != ReasonPatientCancelled {
		t.Errorf("expected default reason, got %q", *got.CancellationReason)
	}
	if _, err := f.svc.CancelByPatient(ctx, b.ID, "travelling"); err == nil || err.Error() != "booking must be booked to cancel" {
		t.Errorf("expected invalid state error, got %v", err)
	}
}

func TestTransitions_OtherDoctor(t *testing.T) {
	f := newFixture()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	b := f.mustBook(t, s.ID, "2025-01-06")
	if _, err := f.svc.ConfirmBooking(context.Background(), uuid.New(), b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got, _ := f.bookings.GetByID(context.Background(), b.ID)
	if got.Status != StatusBooked {
		t.Errorf("booking must be untouched, got %s", got.Status)
	}
}

func TestListBookings(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	f.mustBook(t, s.ID, "2025-01-06")
	b := f.mustBook(t, s.ID, "2025-01-13")
	if _, err := f.svc.ConfirmBooking(ctx, f.doctorID, b.ID); err != nil {
		t.Fatalf("ConfirmBooking: %v", err)
	}

	items, total, err := f.svc.ListBookings(ctx, f.doctorID, BookingFilter{Status: StatusBooked}, 20, 0)
	if err != nil {
		t.Fatalf("ListBookings: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].Date != "2025-01-06" {
		t.Errorf("unexpected result: total=%d items=%v", total, items)
	}

	if _, _, err := f.svc.ListBookings(ctx, f.doctorID, BookingFilter{Status: "pending"}, 20, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
	if _, _, err := f.svc.ListBookings(ctx, f.doctorID, BookingFilter{Date: "yesterday"}, 20, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for bad date, got %v", err)
	}
}
