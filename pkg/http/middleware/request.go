package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	applogger "LevPair/pkg/logger"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// stackLines keeps panic logs readable; the frames past it are echo internals.
const stackLines = 16

// RequestLogging tags each request with an ID, reusing the caller's
// X-Request-ID when present, and logs it at debug level.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			start := time.Now()

			err := next(c)

			l.Debug("http request",
				applogger.String("request_id", id),
				applogger.String("method", c.Request().Method),
				applogger.String("uri", c.Request().RequestURI),
				applogger.Int("status", c.Response().Status),
				applogger.Duration("latency", time.Since(start)),
			)
			return err
		}
	}
}

// Recover turns a handler panic into a 500 for echo's error handler.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				l.Error("http handler panic",
					applogger.Any("panic", r),
					applogger.String("route", c.Path()),
					applogger.String("method", c.Request().Method),
					applogger.String("stack", trimStack(debug.Stack(), stackLines)),
				)
				err = echo.NewHTTPError(http.StatusInternalServerError, "internal error")
			}()
			return next(c)
		}
	}
}

func trimStack(stack []byte, n int) string {
	lines := strings.SplitN(string(stack), "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
