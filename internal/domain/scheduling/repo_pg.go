package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/docbook/docbook/internal/platform/db"
)

// =========== Recurring Slot Repository ===========

type slotRepoPG struct{ q db.Querier }

func NewSlotRepoPG(q db.Querier) SlotRepository { return &slotRepoPG{q: q} }

func (r *slotRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.q) }

const slotCols = `id, doctor_id, day_of_week, start_time, duration_minutes, appointment_type,
	address, price::text, is_active, created_at, updated_at`

func (r *slotRepoPG) scanSlot(row pgx.Row) (*RecurringSlot, error) {
	var (
		s     RecurringSlot
		price string
	)
	if err := row.Scan(&s.ID, &s.DoctorID, &s.DayOfWeek, &s.StartTime, &s.DurationMinutes,
		&s.AppointmentType, &s.Address, &price, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse slot price %q: %w", price, err)
	}
	s.Price = p
	s.fillEndTime()
	return &s, nil
}

func (r *slotRepoPG) list(ctx context.Context, query string, args ...any) ([]*RecurringSlot, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*RecurringSlot
	for rows.Next() {
		s, err := r.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *slotRepoPG) Create(ctx context.Context, s *RecurringSlot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO recurring_slot (id, doctor_id, day_of_week, start_time, duration_minutes,
			appointment_type, address, price, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		s.ID, s.DoctorID, s.DayOfWeek, s.StartTime, s.DurationMinutes,
		s.AppointmentType, s.Address, s.Price.String(), s.IsActive,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*RecurringSlot, error) {
	s, err := r.scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM recurring_slot WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, notFound("slot")
	}
	return s, err
}

func (r *slotRepoPG) Update(ctx context.Context, s *RecurringSlot) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE recurring_slot SET day_of_week=$2, start_time=$3, duration_minutes=$4,
			appointment_type=$5, address=$6, price=$7, is_active=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.DayOfWeek, s.StartTime, s.DurationMinutes,
		s.AppointmentType, s.Address, s.Price.String(), s.IsActive,
	).Scan(&s.UpdatedAt)
	if db.IsNoRows(err) {
		return notFound("slot")
	}
	return err
}

func (r *slotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM recurring_slot WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("slot")
	}
	return nil
}

func (r *slotRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*RecurringSlot, error) {
	return r.list(ctx, `SELECT `+slotCols+` FROM recurring_slot
		WHERE doctor_id = $1 ORDER BY day_of_week, start_time, id`, doctorID)
}

func (r *slotRepoPG) ListActiveByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*RecurringSlot, error) {
	return r.list(ctx, `SELECT `+slotCols+` FROM recurring_slot
		WHERE doctor_id = $1 AND is_active ORDER BY day_of_week, start_time, id`, doctorID)
}

func (r *slotRepoPG) ListActiveByDoctorDay(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]*RecurringSlot, error) {
	return r.list(ctx, `SELECT `+slotCols+` FROM recurring_slot
		WHERE doctor_id = $1 AND day_of_week = $2 AND is_active ORDER BY start_time, id`, doctorID, dayOfWeek)
}

func (r *slotRepoPG) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "recurring_slot:"+doctorID.String())
	return err
}

// =========== Slot Booking Repository ===========

type bookingRepoPG struct{ q db.Querier }

func NewBookingRepoPG(q db.Querier) BookingRepository { return &bookingRepoPG{q: q} }

func (r *bookingRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.q) }

const bookingCols = `id, slot_id, doctor_id, patient_id, patient_phone, patient_name,
	booking_date::text, status, payment_receipt_url, symptoms, rejection_reason,
	cancellation_reason, reschedule_request_id, reschedule_count, created_at, updated_at`

func (r *bookingRepoPG) scanBooking(row pgx.Row) (*SlotBooking, error) {
	var b SlotBooking
	err := row.Scan(&b.ID, &b.SlotID, &b.DoctorID, &b.PatientID, &b.PatientPhone, &b.PatientName,
		&b.Date, &b.Status, &b.PaymentReceiptURL, &b.Symptoms, &b.RejectionReason,
		&b.CancellationReason, &b.RescheduleRequestID, &b.RescheduleCount, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *bookingRepoPG) Create(ctx context.Context, b *SlotBooking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO slot_booking (id, slot_id, doctor_id, patient_id, patient_phone, patient_name,
			booking_date, status, payment_receipt_url, symptoms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		b.ID, b.SlotID, b.DoctorID, b.PatientID, b.PatientPhone, b.PatientName,
		b.Date, b.Status, b.PaymentReceiptURL, b.Symptoms,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return &BookingConflictError{SlotID: b.SlotID.String(), Date: b.Date}
	}
	return err
}

func (r *bookingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SlotBooking, error) {
	b, err := r.scanBooking(r.conn(ctx).QueryRow(ctx, `SELECT `+bookingCols+` FROM slot_booking WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, notFound("booking")
	}
	return b, err
}

func (r *bookingRepoPG) ExistsActive(ctx context.Context, slotID uuid.UUID, date string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM slot_booking
			WHERE slot_id = $1 AND booking_date = $2 AND status IN ('booked', 'completed'))`,
		slotID, date).Scan(&exists)
	return exists, err
}

func (r *bookingRepoPG) ListTakenInRange(ctx context.Context, doctorID uuid.UUID, from, to string) ([]SlotDate, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT slot_id, booking_date::text FROM slot_booking
		WHERE doctor_id = $1 AND booking_date BETWEEN $2 AND $3 AND status IN ('booked', 'completed')`,
		doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var taken []SlotDate
	for rows.Next() {
		var sd SlotDate
		if err := rows.Scan(&sd.SlotID, &sd.Date); err != nil {
			return nil, err
		}
		taken = append(taken, sd)
	}
	return taken, rows.Err()
}

func (r *bookingRepoPG) List(ctx context.Context, doctorID uuid.UUID, f BookingFilter, limit, offset int) ([]*SlotBooking, int, error) {
	where := ` WHERE doctor_id = $1`
	args := []any{doctorID}
	idx := 2

	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Date != "" {
		where += fmt.Sprintf(` AND booking_date = $%d`, idx)
		args = append(args, f.Date)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM slot_booking`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + bookingCols + ` FROM slot_booking` + where +
		fmt.Sprintf(` ORDER BY booking_date DESC, created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*SlotBooking
	for rows.Next() {
		b, err := r.scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *bookingRepoPG) TransitionStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus, rejection, cancellation *string) (*SlotBooking, error) {
	b, err := r.scanBooking(r.conn(ctx).QueryRow(ctx, `
		UPDATE slot_booking SET status = $3,
			rejection_reason = COALESCE($4, rejection_reason),
			cancellation_reason = COALESCE($5, cancellation_reason),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+bookingCols, id, from, to, rejection, cancellation))
	if db.IsNoRows(err) {
		return nil, notFound("booking")
	}
	return b, err
}

func (r *bookingRepoPG) CountActiveBySlot(ctx context.Context, slotID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM slot_booking WHERE slot_id = $1 AND status = 'booked'`, slotID).Scan(&n)
	return n, err
}

func (r *bookingRepoPG) SetRescheduleRequest(ctx context.Context, id, requestID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE slot_booking SET reschedule_request_id = $2, updated_at = NOW() WHERE id = $1`, id, requestID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("booking")
	}
	return nil
}

func (r *bookingRepoPG) Move(ctx context.Context, id, slotID uuid.UUID, date string) (*SlotBooking, error) {
	b, err := r.scanBooking(r.conn(ctx).QueryRow(ctx, `
		UPDATE slot_booking SET slot_id = $2, booking_date = $3,
			reschedule_count = reschedule_count + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'booked'
		RETURNING `+bookingCols, id, slotID, date))
	switch {
	case db.IsNoRows(err):
		return nil, notFound("booking")
	case db.IsUniqueViolation(err):
		return nil, &BookingConflictError{SlotID: slotID.String(), Date: date}
	}
	return b, err
}

// =========== Reschedule Request Repository ===========

type rescheduleRepoPG struct{ q db.Querier }

func NewRescheduleRepoPG(q db.Querier) RescheduleRepository { return &rescheduleRepoPG{q: q} }

func (r *rescheduleRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.q) }

const rescheduleCols = `id, booking_id, doctor_id, new_slot_id, new_date::text, doctor_notes,
	status, response, requested_at, resolved_at`

func (r *rescheduleRepoPG) scanRequest(row pgx.Row) (*RescheduleRequest, error) {
	var rr RescheduleRequest
	err := row.Scan(&rr.ID, &rr.BookingID, &rr.DoctorID, &rr.NewSlotID, &rr.NewDate, &rr.DoctorNotes,
		&rr.Status, &rr.Response, &rr.RequestedAt, &rr.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &rr, nil
}

func (r *rescheduleRepoPG) Create(ctx context.Context, rr *RescheduleRequest) error {
	if rr.ID == uuid.Nil {
		rr.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO reschedule_request (id, booking_id, doctor_id, new_slot_id, new_date,
			doctor_notes, status, requested_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rr.ID, rr.BookingID, rr.DoctorID, rr.NewSlotID, rr.NewDate, rr.DoctorNotes, rr.Status, rr.RequestedAt)
	if db.IsUniqueViolation(err) {
		return ErrReschedulePending
	}
	return err
}

func (r *rescheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*RescheduleRequest, error) {
	rr, err := r.scanRequest(r.conn(ctx).QueryRow(ctx, `SELECT `+rescheduleCols+` FROM reschedule_request WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, notFound("reschedule request")
	}
	return rr, err
}

func (r *rescheduleRepoPG) HasPending(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM reschedule_request WHERE booking_id = $1 AND status = 'pending')`,
		bookingID).Scan(&exists)
	return exists, err
}

func (r *rescheduleRepoPG) Resolve(ctx context.Context, id uuid.UUID, status RescheduleStatus, response *string, at time.Time) (*RescheduleRequest, error) {
	rr, err := r.scanRequest(r.conn(ctx).QueryRow(ctx, `
		UPDATE reschedule_request SET status = $2, response = $3, resolved_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING `+rescheduleCols, id, status, response, at))
	if db.IsNoRows(err) {
		return nil, notFound("reschedule request")
	}
	return rr, err
}

func (r *rescheduleRepoPG) CountPendingBySlot(ctx context.Context, slotID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM reschedule_request WHERE new_slot_id = $1 AND status = 'pending'`, slotID).Scan(&n)
	return n, err
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ q db.Querier }

func NewAppointmentRepoPG(q db.Querier) AppointmentRepository { return &appointmentRepoPG{q: q} }

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.q) }

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, doctor_id, patient_id, slot_id, booking_id, appointment_date,
			start_time, duration_minutes, type, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		a.ID, a.DoctorID, a.PatientID, a.SlotID, a.BookingID, a.Date,
		a.StartTime, a.DurationMinutes, a.Type, a.Status,
	).Scan(&a.CreatedAt)
}

func (r *appointmentRepoPG) CountUpcomingBySlot(ctx context.Context, slotID uuid.UUID, from string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE slot_id = $1 AND status = 'scheduled' AND appointment_date >= $2::date`, slotID, from).Scan(&n)
	return n, err
}
