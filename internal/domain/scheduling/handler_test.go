package scheduling

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/docbook/docbook/internal/platform/auth"
	"github.com/docbook/docbook/internal/platform/middleware"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	e := echo.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(zerolog.Nop())
	return NewHandler(f.svc), f, e
}

func doctorCaller(doctorID uuid.UUID) auth.Caller {
	return auth.Caller{UserID: "doc-user", Roles: []string{auth.RoleDoctor}, DoctorID: doctorID}
}

func channelCaller() auth.Caller {
	return auth.Caller{UserID: "whatsapp-bot", Roles: []string{auth.RoleChannel}}
}

func newCtx(e *echo.Echo, method, body string, caller *auth.Caller) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, "/", nil)
	}
	if caller != nil {
		req = req.WithContext(auth.WithCaller(req.Context(), *caller))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

// serve routes a request through RegisterRoutes with the error handler
// installed, as the server does.
func serve(h *Handler, e *echo.Echo, method, path, body string, caller auth.Caller) *httptest.ResponseRecorder {
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(auth.WithCaller(c.Request().Context(), caller)))
			return next(c)
		}
	})
	h.RegisterRoutes(api)

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHandler_CreateSlot(t *testing.T) {
	h, f, e := newTestHandler()
	caller := doctorCaller(f.doctorID)
	body := `{"dayOfWeek":1,"startTime":"09:00","durationMinutes":30,"appointmentType":"video","price":1500}`
	c, rec := newCtx(e, http.MethodPost, body, &caller)

	if err := h.CreateSlot(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var s RecurringSlot
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.EndTime != "09:30" || !s.IsActive || s.Price.String() != "1500" {
		t.Errorf("unexpected slot: %+v", s)
	}
}

func TestHandler_CreateSlot_ConflictEnvelope(t *testing.T) {
	h, f, e := newTestHandler()
	f.mustSlot(t, videoSlot(1, "09:00", 30))

	rec := serve(h, e, http.MethodPost, "/api/v1/slots",
		`{"dayOfWeek":1,"startTime":"09:15","durationMinutes":30,"appointmentType":"video","price":"1500"}`,
		doctorCaller(f.doctorID))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != false {
		t.Errorf("expected success=false, got %v", body["success"])
	}
	conflict, ok := body["conflict"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected conflict object, got %v", body)
	}
	if conflict["startTime"] != "09:00" || conflict["endTime"] != "09:30" || conflict["duration"] != float64(30) || conflict["type"] != "video" {
		t.Errorf("unexpected conflict: %v", conflict)
	}
}

func TestHandler_CreateSlot_ValidationEnvelope(t *testing.T) {
	h, f, e := newTestHandler()
	rec := serve(h, e, http.MethodPost, "/api/v1/slots",
		`{"dayOfWeek":1,"startTime":"09:00","durationMinutes":30,"appointmentType":"video","price":-1}`,
		doctorCaller(f.doctorID))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["field"] != "price" || body["error"] != "price must not be negative" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestHandler_CreateSlot_RequiresDoctor(t *testing.T) {
	h, _, e := newTestHandler()
	caller := channelCaller()
	c, _ := newCtx(e, http.MethodPost, `{}`, &caller)
	if code := httpCode(t, h.CreateSlot(c)); code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", code)
	}
}

func TestHandler_Routes_RoleChecks(t *testing.T) {
	h, _, e := newTestHandler()
	rec := serve(h, e, http.MethodGet, "/api/v1/slots", "", channelCaller())
	if rec.Code != http.StatusForbidden {
		t.Errorf("channel must not list slots, got %d", rec.Code)
	}
	h2, f2, e2 := newTestHandler()
	rec = serve(h2, e2, http.MethodPost, "/api/v1/bookings/"+uuid.New().String()+"/cancel", `{}`, doctorCaller(f2.doctorID))
	if rec.Code != http.StatusForbidden {
		t.Errorf("doctor must not use the patient cancel route, got %d", rec.Code)
	}
}

func TestHandler_GetSlot(t *testing.T) {
	h, f, e := newTestHandler()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	caller := doctorCaller(f.doctorID)

	c, rec := newCtx(e, http.MethodGet, "", &caller)
	c.SetParamNames("id")
	c.SetParamValues(s.ID.String())
	if err := h.GetSlot(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = newCtx(e, http.MethodGet, "", &caller)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if code := httpCode(t, h.GetSlot(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}

	other := doctorCaller(uuid.New())
	c, _ = newCtx(e, http.MethodGet, "", &other)
	c.SetParamNames("id")
	c.SetParamValues(s.ID.String())
	if code := httpCode(t, h.GetSlot(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_ListSlots(t *testing.T) {
	h, f, e := newTestHandler()
	caller := doctorCaller(f.doctorID)
	c, rec := newCtx(e, http.MethodGet, "", &caller)
	if err := h.ListSlots(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := decodeBody(t, rec)
	if data, ok := body["data"].([]interface{}); !ok || len(data) != 0 {
		t.Errorf("expected empty data array, got %v", body["data"])
	}
}

func TestHandler_UpdateAndDeleteSlot(t *testing.T) {
	h, f, e := newTestHandler()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	caller := doctorCaller(f.doctorID)

	c, rec := newCtx(e, http.MethodPut,
		`{"dayOfWeek":1,"startTime":"10:00","durationMinutes":45,"appointmentType":"phone","price":900,"isActive":false}`, &caller)
	c.SetParamNames("id")
	c.SetParamValues(s.ID.String())
	if err := h.UpdateSlot(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var updated RecurringSlot
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.EndTime != "10:45" || updated.IsActive || updated.AppointmentType != TypePhone {
		t.Errorf("unexpected slot: %+v", updated)
	}

	f.mustBook(t, f.mustSlot(t, videoSlot(2, "09:00", 30)).ID, "2025-01-07")

	c, rec = newCtx(e, http.MethodDelete, "", &caller)
	c.SetParamNames("id")
	c.SetParamValues(s.ID.String())
	if err := h.DeleteSlot(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_DeleteSlot_ActiveBookings(t *testing.T) {
	h, f, e := newTestHandler()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	f.mustBook(t, s.ID, "2025-01-06")
	caller := doctorCaller(f.doctorID)
	c, _ := newCtx(e, http.MethodDelete, "", &caller)
	c.SetParamNames("id")
	c.SetParamValues(s.ID.String())
	if code := httpCode(t, h.DeleteSlot(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_GetAvailability(t *testing.T) {
	h, f, e := newTestHandler()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))

	rec := serve(h, e, http.MethodGet, "/api/v1/slots/availability?doctorId="+f.doctorID.String()+"&date=2025-01-06&days=7", "", channelCaller())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Success bool                   `json:"success"`
		Data    []AvailabilitySlotView `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || len(body.Data) != 1 || body.Data[0].SlotID != s.ID || body.Data[0].DayName != "Monday" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestHandler_GetAvailability_BadParams(t *testing.T) {
	h, _, e := newTestHandler()
	caller := channelCaller()

	c, _ := newCtx(e, http.MethodGet, "", &caller)
	if code := httpCode(t, h.GetAvailability(c)); code != http.StatusBadRequest {
		t.Errorf("missing doctorId: expected 400, got %d", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/?doctorId="+uuid.New().String()+"&days=abc", nil)
	req = req.WithContext(auth.WithCaller(req.Context(), caller))
	c = e.NewContext(req, httptest.NewRecorder())
	if code := httpCode(t, h.GetAvailability(c)); code != http.StatusBadRequest {
		t.Errorf("bad days: expected 400, got %d", code)
	}

	req = httptest.NewRequest(http.MethodGet, "/?doctorId="+uuid.New().String()+"&days=90", nil)
	req = req.WithContext(auth.WithCaller(req.Context(), caller))
	c = e.NewContext(req, httptest.NewRecorder())
	if code := httpCode(t, h.GetAvailability(c)); code != http.StatusBadRequest {
		t.Errorf("too many days: expected 400, got %d", code)
	}
}

func TestHandler_BookSlot(t *testing.T) {
	h, f, e := newTestHandler()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	caller := channelCaller()
	body := `{"slotId":"` + s.ID.String() + `","date":"2025-01-06","patientPhone":"+923001234567","symptoms":"fever\u0000"}`

	c, rec := newCtx(e, http.MethodPost, body, &caller)
	if err := h.BookSlot(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var b SlotBooking
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Status != StatusBooked || b.Symptoms == nil || *b.Symptoms != "fever" {
		t.Errorf("unexpected booking: %+v", b)
	}

	c, _ = newCtx(e, http.MethodPost, body, &caller)
	if code := httpCode(t, h.BookSlot(c)); code != http.StatusConflict {
		t.Errorf("double booking: expected 409, got %d", code)
	}

	wrongDay := `{"slotId":"` + s.ID.String() + `","date":"2025-01-07","patientPhone":"+923001234567"}`
	c, _ = newCtx(e, http.MethodPost, wrongDay, &caller)
	if code := httpCode(t, h.BookSlot(c)); code != http.StatusBadRequest {
		t.Errorf("weekday mismatch: expected 400, got %d", code)
	}

	past := `{"slotId":"` + s.ID.String() + `","date":"2024-12-30","patientPhone":"+923001234567"}`
	c, _ = newCtx(e, http.MethodPost, past, &caller)
	if code := httpCode(t, h.BookSlot(c)); code != http.StatusBadRequest {
		t.Errorf("past date: expected 400, got %d", code)
	}
}

func TestHandler_BookSlot_DoctorScoped(t *testing.T) {
	h, f, e := newTestHandler()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	other := doctorCaller(uuid.New())
	body := `{"slotId":"` + s.ID.String() + `","date":"2025-01-06","patientPhone":"1"}`
	c, _ := newCtx(e, http.MethodPost, body, &other)
	if code := httpCode(t, h.BookSlot(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_ConfirmBooking(t *testing.T) {
	h, f, e := newTestHandler()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	b := f.mustBook(t, s.ID, "2025-01-06")

	rec := serve(h, e, http.MethodPost, "/api/v1/bookings/"+b.ID.String()+"/confirm", "", doctorCaller(f.doctorID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res ConfirmResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Booking.Status != StatusCompleted || res.Appointment == nil {
		t.Errorf("unexpected result: %+v", res)
	}

	h2 := NewHandler(f.svc)
	e2 := echo.New()
	e2.HTTPErrorHandler = middleware.ErrorHandler(zerolog.Nop())
	rec = serve(h2, e2, http.MethodPost, "/api/v1/bookings/"+b.ID.String()+"/confirm", "", doctorCaller(f.doctorID))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "booking must be booked to confirm" || body["required_status"] != "booked" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestHandler_RejectAndCancelFaulty(t *testing.T) {
	h, f, e := newTestHandler()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	first := f.mustBook(t, s.ID, "2025-01-06")
	second := f.mustBook(t, s.ID, "2025-01-13")
	caller := doctorCaller(f.doctorID)

	c, rec := newCtx(e, http.MethodPost, `{"reason":"blurry receipt"}`, &caller)
	c.SetParamNames("id")
	c.SetParamValues(first.ID.String())
	if err := h.RejectBooking(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, rec = newCtx(e, http.MethodPost, "", &caller)
	c.SetParamNames("id")
	c.SetParamValues(second.ID.String())
	if err := h.CancelFaultyReceipt(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var b SlotBooking
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.CancellationReason == nil || *b.CancellationReason != ReasonFaultyReceipt {
		t.Errorf("unexpected booking: %+v", b)
	}
}

func TestHandler_CancelByPatient(t *testing.T) {
	h, f, e := newTestHandler()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	b := f.mustBook(t, s.ID, "2025-01-06")
	caller := channelCaller()

	c, rec := newCtx(e, http.MethodPost, `{"reason":"feeling better"}`, &caller)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())
	if err := h.CancelByPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_RescheduleFlow(t *testing.T) {
	h, f, e := newTestHandler()
	from := f.mustSlot(t, videoSlot(1, "09:00", 30))
	to := f.mustSlot(t, videoSlot(2, "11:00", 30))
	b := f.mustBook(t, from.ID, "2025-01-06")
	doctor := doctorCaller(f.doctorID)
	channel := channelCaller()

	c, rec := newCtx(e, http.MethodPost, `{"newSlotId":"`+to.ID.String()+`","newDate":"2025-01-07","doctorNotes":"away"}`, &doctor)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())
	if err := h.ProposeReschedule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var rr RescheduleRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &rr); err != nil {
		t.Fatalf("decode: %v", err)
	}

	c, _ = newCtx(e, http.MethodPost, `{"newSlotId":"`+to.ID.String()+`","newDate":"2025-01-14"}`, &doctor)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())
	if code := httpCode(t, h.ProposeReschedule(c)); code != http.StatusConflict {
		t.Errorf("second proposal: expected 409, got %d", code)
	}

	c, rec = newCtx(e, http.MethodGet, "", &channel)
	c.SetParamNames("id")
	c.SetParamValues(rr.ID.String())
	if err := h.GetRescheduleRequest(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, rec = newCtx(e, http.MethodPost, "", &channel)
	c.SetParamNames("id")
	c.SetParamValues(rr.ID.String())
	if err := h.ApproveReschedule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res RescheduleResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Booking == nil || res.Booking.RescheduleCount != 1 || res.Booking.Date != "2025-01-07" {
		t.Errorf("unexpected result: %+v", res)
	}

	c, _ = newCtx(e, http.MethodPost, `{"response":"too late"}`, &channel)
	c.SetParamNames("id")
	c.SetParamValues(rr.ID.String())
	if code := httpCode(t, h.RejectReschedule(c)); code != http.StatusBadRequest {
		t.Errorf("reject after approve: expected 400, got %d", code)
	}
}

func TestHandler_ListBookings(t *testing.T) {
	h, f, e := newTestHandler()
	s := f.mustSlot(t, videoSlot(1, "09:00", 30))
	f.mustBook(t, s.ID, "2025-01-06")
	f.mustBook(t, s.ID, "2025-01-13")

	rec := serve(h, e, http.MethodGet, "/api/v1/bookings?limit=1&status=booked", "", doctorCaller(f.doctorID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total"] != float64(2) || body["has_more"] != true {
		t.Errorf("unexpected pagination: %v", body)
	}
	links, ok := body["links"].(map[string]interface{})
	if !ok || !strings.Contains(links["next"].(string), "offset=1") {
		t.Errorf("expected next link, got %v", body["links"])
	}
}

func TestHttpError_Mapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{invalid("x", "bad"), http.StatusBadRequest},
		{&SlotConflictError{Conflict: slotAt(1, "09:00", 30)}, http.StatusConflict},
		{&BookingConflictError{Date: "2025-01-06"}, http.StatusConflict},
		{bookingNotBooked("confirm"), http.StatusBadRequest},
		{notFound("booking"), http.StatusNotFound},
		{ErrSlotHasActiveBookings, http.StatusConflict},
		{ErrReschedulePending, http.StatusConflict},
		{echo.NewHTTPError(http.StatusForbidden, "no"), http.StatusForbidden},
	}
	for _, tt := range tests {
		if code := httpCode(t, httpError(tt.err)); code != tt.code {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.code, code)
		}
	}
	internal := errors.New("db down")
	if got := httpError(internal); got != internal {
		t.Errorf("expected internal error to pass through, got %v", got)
	}
}
