package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	RoleDoctor = "doctor"
	RoleAdmin  = "admin"
	// RoleChannel is the patient messaging integration acting on a patient's behalf.
	RoleChannel = "channel"
)

// RequireRole returns middleware that checks if the caller has at least one of
// the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller, ok := CallerFromContext(c.Request().Context())
			if ok {
				for _, required := range roles {
					if caller.HasRole(required) {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequireDoctor returns the doctor the caller acts as, or 403 when the caller
// is not bound to a doctor account.
func RequireDoctor(c echo.Context) (uuid.UUID, error) {
	caller, ok := CallerFromContext(c.Request().Context())
	if !ok || !caller.IsDoctor() {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "doctor account required")
	}
	return caller.DoctorID, nil
}
