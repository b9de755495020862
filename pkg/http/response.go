package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Envelope wraps every JSON body the API writes.
type Envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Problem is one reason a request was refused.
type Problem struct {
	Code    string         `json:"code"`
	Field   string         `json:"field,omitempty"`
	Message string         `json:"message"`
	Params  map[string]any `json:"params,omitempty"`
}

// Error is a failure with the status it maps to. Fail renders it.
type Error struct {
	Problem
	Status int
	cause  error
}

// Errorf builds an Error whose message is formatted from format and a.
func Errorf(status int, code, format string, a ...any) *Error {
	return &Error{Status: status, Problem: Problem{Code: code, Message: fmt.Sprintf(format, a...)}}
}

func NotFound(format string, a ...any) *Error {
	return Errorf(http.StatusNotFound, "ERR_NOT_FOUND", format, a...)
}

func BadRequest(format string, a ...any) *Error {
	return Errorf(http.StatusBadRequest, "ERR_BAD_REQUEST", format, a...)
}

func Unavailable(format string, a ...any) *Error {
	return Errorf(http.StatusServiceUnavailable, "ERR_UNAVAILABLE", format, a...)
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Wrap records the underlying cause. It is logged, never rendered.
func (e *Error) Wrap(err error) *Error {
	e.cause = err
	return e
}

// For names the request field at fault.
func (e *Error) For(field string) *Error {
	e.Field = field
	return e
}

func Respond(c echo.Context, status int, data any) error {
	return c.JSON(status, Envelope{Status: status, Message: http.StatusText(status), Data: data})
}

func OK(c echo.Context, data any) error {
	return Respond(c, http.StatusOK, data)
}

// Invalid answers 400 with the problems Bind found.
func Invalid(c echo.Context, problems []Problem) error {
	return Respond(c, http.StatusBadRequest, problems)
}

// Fail renders err. Anything that is not an *Error becomes an opaque 500.
func Fail(c echo.Context, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return Respond(c, e.Status, []Problem{e.Problem})
	}
	return Respond(c, http.StatusInternalServerError, []Problem{{Code: "ERR_INTERNAL", Message: "something went wrong"}})
}
