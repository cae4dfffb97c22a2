package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Makar0n1/art-automation/internal/apierr"
)

// envelope is the uniform response shape every handler returns: a success
// flag, the payload on success, and an error/message pair plus the PIN
// lockout fields on failure.
type envelope struct {
	Success           bool        `json:"success"`
	Data              interface{} `json:"data,omitempty"`
	Error             string      `json:"error,omitempty"`
	Message           string      `json:"message,omitempty"`
	IsBlocked         bool        `json:"isBlocked,omitempty"`
	AttemptsRemaining int         `json:"attemptsRemaining,omitempty"`
}

func ok(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, envelope{Success: true, Data: data})
}

func okMessage(c echo.Context, status int, message string) error {
	return c.JSON(status, envelope{Success: true, Message: message})
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, envelope{Success: false, Error: msg})
}

func failBlocked(c echo.Context, status int, msg string, attemptsRemaining int) error {
	return c.JSON(status, envelope{
		Success:           false,
		Error:             msg,
		IsBlocked:         attemptsRemaining <= 0,
		AttemptsRemaining: attemptsRemaining,
	})
}

// errorEnvelope renders every uncaught error, including echo.HTTPError from
// bound middleware, as the same envelope shape the handlers use. It is
// installed as the echo app's HTTPErrorHandler.
func errorEnvelope(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()

	var ae *apierr.Error
	var he *echo.HTTPError
	if errors.As(err, &ae) {
		code = ae.Status
		msg = ae.Error()
	} else if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	if c.Response().Committed {
		return
	}
	_ = c.JSON(code, envelope{Success: false, Error: msg})
}
