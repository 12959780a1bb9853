package idempotency

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/docbook/docbook/internal/platform/db"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
	maxKeyLength   = 255
)

// Middleware replays the stored response for a repeated Idempotency-Key.
// Requests without the header pass through. Only 2xx and 4xx responses
// produced without a handler error are stored; anything else releases the
// key so the client can retry. When Redis is unreachable requests pass
// through unprotected.
func Middleware(store *Store, ttl time.Duration, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.Request().Header.Get(HeaderKey)
			if raw == "" || store == nil {
				return next(c)
			}
			if len(raw) > maxKeyLength {
				return echo.NewHTTPError(http.StatusBadRequest, "Idempotency-Key is too long")
			}

			ctx := c.Request().Context()
			key := scopedKey(c, raw)

			resp, pending, err := store.Get(ctx, key)
			if err != nil {
				logger.Warn().Err(err).Msg("idempotency store unavailable")
				return next(c)
			}
			if pending {
				return echo.NewHTTPError(http.StatusConflict, "a request with this Idempotency-Key is in progress")
			}
			if resp != nil {
				return replay(c, resp)
			}

			ok, err := store.Reserve(ctx, key, ttl)
			if err != nil {
				logger.Warn().Err(err).Msg("idempotency store unavailable")
				return next(c)
			}
			if !ok {
				return echo.NewHTTPError(http.StatusConflict, "a request with this Idempotency-Key is in progress")
			}

			buf := new(bytes.Buffer)
			w := &captureWriter{Writer: io.MultiWriter(c.Response().Writer, buf), ResponseWriter: c.Response().Writer}
			c.Response().Writer = w

			herr := next(c)
			status := c.Response().Status
			if herr != nil || status >= http.StatusInternalServerError || !c.Response().Committed {
				if err := store.Release(ctx, key); err != nil {
					logger.Warn().Err(err).Msg("idempotency release failed")
				}
				return herr
			}
			stored := Response{
				Status:      status,
				ContentType: c.Response().Header().Get(echo.HeaderContentType),
				Body:        buf.Bytes(),
			}
			if err := store.Complete(ctx, key, stored, ttl); err != nil {
				logger.Warn().Err(err).Msg("idempotency complete failed")
			}
			return nil
		}
	}
}

// scopedKey keeps tenants and routes from sharing keys.
func scopedKey(c echo.Context, raw string) string {
	return db.TenantFromContext(c.Request().Context()) + ":" + c.Request().Method + ":" + c.Path() + ":" + raw
}

func replay(c echo.Context, r *Response) error {
	c.Response().Header().Set(HeaderReplayed, "true")
	ct := r.ContentType
	if ct == "" {
		ct = echo.MIMEApplicationJSONCharsetUTF8
	}
	return c.Blob(r.Status, ct, r.Body)
}

type captureWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w *captureWriter) WriteHeader(code int) {
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func (w *captureWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *captureWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}
