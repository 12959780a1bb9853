package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Envelope builds the JSON body for a failed request. Extra details are
// merged in next to the error message.
func Envelope(message string, details map[string]interface{}) map[string]interface{} {
	body := map[string]interface{}{
		"success": false,
		"error":   message,
	}
	for k, v := range details {
		if k == "success" || k == "error" {
			continue
		}
		body[k] = v
	}
	return body
}

// DetailedError returns an echo error whose envelope carries details, e.g.
// the slot a new slot collides with.
func DetailedError(code int, message string, details map[string]interface{}) *echo.HTTPError {
	payload := make(map[string]interface{}, len(details)+1)
	for k, v := range details {
		payload[k] = v
	}
	payload["error"] = message
	return echo.NewHTTPError(code, payload)
}

// ErrorHandler renders every error as {"success": false, "error": ...}.
// Anything that is not an echo.HTTPError is logged and reported as a generic
// internal error.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := "internal server error"
		var details map[string]interface{}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			switch m := he.Message.(type) {
			case string:
				message = m
			case map[string]interface{}:
				details = m
				if s, ok := m["error"].(string); ok {
					message = s
				}
			case error:
				message = m.Error()
			default:
				message = fmt.Sprintf("%v", m)
			}
			if he.Internal != nil || code >= http.StatusInternalServerError {
				logger.Error().
					Err(err).
					Str("request_id", RequestIDFromContext(c)).
					Int("status", code).
					Msg("request failed")
			}
		} else {
			logger.Error().
				Err(err).
				Str("request_id", RequestIDFromContext(c)).
				Msg("unhandled error")
		}

		body := Envelope(message, details)
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to write error response")
		}
	}
}
