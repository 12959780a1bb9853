package scheduling

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/docbook/docbook/internal/platform/auth"
	"github.com/docbook/docbook/internal/platform/middleware"
	"github.com/docbook/docbook/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the scheduling API. bookMW wraps POST /slots/book,
// typically with idempotency replay.
func (h *Handler) RegisterRoutes(api *echo.Group, bookMW ...echo.MiddlewareFunc) {
	// Doctor dashboard
	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.GET("/slots", h.ListSlots)
	doctor.POST("/slots", h.CreateSlot)
	doctor.GET("/slots/:id", h.GetSlot)
	doctor.PUT("/slots/:id", h.UpdateSlot)
	doctor.DELETE("/slots/:id", h.DeleteSlot)
	doctor.GET("/bookings", h.ListBookings)
	doctor.GET("/bookings/:id", h.GetBooking)
	doctor.POST("/bookings/:id/confirm", h.ConfirmBooking)
	doctor.POST("/bookings/:id/reject", h.RejectBooking)
	doctor.POST("/bookings/:id/cancel-faulty", h.CancelFaultyReceipt)
	doctor.POST("/bookings/:id/reschedule", h.ProposeReschedule)

	// Shared with the patient messaging channel
	shared := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleChannel))
	shared.GET("/slots/availability", h.GetAvailability)
	shared.POST("/slots/book", h.BookSlot, bookMW...)
	shared.GET("/reschedule-requests/:id", h.GetRescheduleRequest)
	shared.POST("/reschedule-requests/:id/approve", h.ApproveReschedule)
	shared.POST("/reschedule-requests/:id/reject", h.RejectReschedule)

	channel := api.Group("", auth.RequireRole(auth.RoleChannel))
	channel.POST("/bookings/:id/cancel", h.CancelByPatient)
}

// httpError maps domain errors onto HTTP statuses. Anything unrecognised is
// returned as is and rendered as a 500 by the error handler.
func httpError(err error) error {
	var (
		validation *ValidationError
		slotConf   *SlotConflictError
		bookConf   *BookingConflictError
		state      *InvalidStateError
		he         *echo.HTTPError
	)
	switch {
	case errors.As(err, &he):
		return he
	case errors.As(err, &validation):
		return middleware.DetailedError(http.StatusBadRequest, validation.Message,
			map[string]interface{}{"field": validation.Field})
	case errors.As(err, &slotConf):
		return middleware.DetailedError(http.StatusConflict, slotConf.Error(),
			map[string]interface{}{"conflict": slotConf.Details()})
	case errors.As(err, &bookConf):
		return middleware.DetailedError(http.StatusConflict, bookConf.Error(),
			map[string]interface{}{"slotId": bookConf.SlotID, "date": bookConf.Date})
	case errors.As(err, &state):
		return middleware.DetailedError(http.StatusBadRequest, state.Error(),
			map[string]interface{}{"required_status": state.Required})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSlotHasActiveBookings), errors.Is(err, ErrReschedulePending):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return err
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// callerScope is the doctor a shared route is limited to, or uuid.Nil for
// callers not bound to a doctor account.
func callerScope(c echo.Context) uuid.UUID {
	caller, _ := auth.CallerFromContext(c.Request().Context())
	return caller.DoctorID
}

func sanitized(p *string) *string {
	if p == nil {
		return nil
	}
	v := middleware.SanitizeString(*p)
	return &v
}

// -- Slot Handlers --

func (h *Handler) ListSlots(c echo.Context) error {
	doctorID, err := auth.RequireDoctor(c)
	if err != nil {
		return err
	}
	slots, err := h.svc.ListSlots(c.Request().Context(), doctorID)
	if err != nil {
		return httpError(err)
	}
	if slots == nil {
		slots = []*RecurringSlot{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "data": slots})
}

func (h *Handler) GetSlot(c echo.Context) error {
	doctorID, err := auth.RequireDoctor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	slot, err := h.svc.GetSlot(c.Request().Context(), id, doctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) CreateSlot(c echo.Context) error {
	doctorID, err := auth.RequireDoctor(c)
	if err != nil {
		return err
	}
	var in SlotInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.Address = sanitized(in.Address)
	slot, err := h.svc.CreateSlot(c.Request().Context(), doctorID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, slot)
}

func (h *Handler) UpdateSlot(c echo.Context) error {
	doctorID, err := auth.RequireDoctor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in SlotInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.Address = sanitized(in.Address)
	slot, err := h.svc.UpdateSlot(c.Request().Context(), id, doctorID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) DeleteSlot(c echo.Context) error {
	doctorID, err := auth.RequireDoctor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSlot(c.Request().Context(), id, doctorID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetAvailability serves ?doctorId&date&days. Doctors default to their own
// calendar.
func (h *Handler) GetAvailability(c echo.Context) error {
	doctorID := callerScope(c)
	if raw := c.QueryParam("doctorId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctorId")
		}
		doctorID = id
	}
	if doctorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "doctorId is required")
	}
	days := 0
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid days")
		}
		days = n
	}
	views, err := h.svc.GetAvailability(c.Request().Context(), doctorID, c.QueryParam("date"), days)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "data": views})
}

// -- Booking Handlers --

func (h *Handler) BookSlot(c echo.Context) error {
	var in BookingInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.Symptoms = sanitized(in.Symptoms)
	in.PatientName = sanitized(in.PatientName)
	if scope := callerScope(c); scope != uuid.Nil {
		in.DoctorID = scope
	}
	b, err := h.svc.BookSlot(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ListBookings(c echo.Context) error {
	doctorID, err := auth.RequireDoctor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := BookingFilter{Status: BookingStatus(c.QueryParam("status")), Date: c.QueryParam("date")}
	items, total, err := h.svc.ListBookings(c.Request().Context(), doctorID, f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*SlotBooking{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) GetBooking(c echo.Context) error {
	doctorID, err := auth.RequireDoctor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBooking(c.Request().Context(), doctorID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ConfirmBooking(c echo.Context) error {
	doctorID, err := auth.RequireDoctor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.ConfirmBooking(c.Request().Context(), doctorID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type reasonBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectBooking(c echo.Context) error {
	doctorID, err := auth.RequireDoctor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body reasonBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	b, err := h.svc.RejectBooking(c.Request().Context(), doctorID, id, middleware.SanitizeString(body.Reason))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) CancelFaultyReceipt(c echo.Context) error {
	doctorID, err := auth.RequireDoctor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.CancelFaultyReceipt(c.Request().Context(), doctorID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) CancelByPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body reasonBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	b, err := h.svc.CancelByPatient(c.Request().Context(), id, middleware.SanitizeString(body.Reason))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ProposeReschedule(c echo.Context) error {
	doctorID, err := auth.RequireDoctor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in RescheduleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.DoctorNotes = sanitized(in.DoctorNotes)
	rr, err := h.svc.ProposeReschedule(c.Request().Context(), doctorID, id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rr)
}

// -- Reschedule Request Handlers --

func (h *Handler) GetRescheduleRequest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rr, err := h.svc.GetRescheduleRequest(c.Request().Context(), callerScope(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rr)
}

func (h *Handler) ApproveReschedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.ApproveReschedule(c.Request().Context(), callerScope(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RejectReschedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Response string `json:"response"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.RejectReschedule(c.Request().Context(), callerScope(c), id, middleware.SanitizeString(body.Response))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}
