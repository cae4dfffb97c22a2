package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/Makar0n1/art-automation/internal/apierr"
)

func newTestContext() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestErrorEnvelopeRendersApierr(t *testing.T) {
	c, rec := newTestContext()
	errorEnvelope(apierr.NotFound("generation_not_found", "generation not found"), c)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "generation not found")
}

func TestErrorEnvelopeRendersWrappedApierr(t *testing.T) {
	c, rec := newTestContext()
	errorEnvelope(apierr.Internal("generation_fetch_failed", errors.New("connection reset")), c)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "connection reset")
}

func TestErrorEnvelopeFallsBackToEchoHTTPError(t *testing.T) {
	c, rec := newTestContext()
	errorEnvelope(echo.NewHTTPError(http.StatusBadRequest, "bad body"), c)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "bad body")
}

func TestErrorEnvelopeDefaultsToInternalServerError(t *testing.T) {
	c, rec := newTestContext()
	errorEnvelope(errors.New("unannotated failure"), c)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "unannotated failure")
}

func TestFailBlockedSetsIsBlockedOnceAttemptsExhausted(t *testing.T) {
	c, rec := newTestContext()
	require.NoError(t, failBlocked(c, http.StatusTooManyRequests, "too many attempts", 0))
	require.Contains(t, rec.Body.String(), `"isBlocked":true`)
}
