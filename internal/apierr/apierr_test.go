package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewErrorHasNoCauseInMessage(t *testing.T) {
	err := New(http.StatusBadRequest, "bad_input", "main keyword is required")
	require.Equal(t, "main keyword is required", err.Error())
	require.Nil(t, errors.Unwrap(err))
}

func TestWrapKeepsCauseReachableViaErrorsIs(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(http.StatusInternalServerError, "store_unavailable", cause)

	require.True(t, errors.Is(err, cause))
	require.Contains(t, err.Error(), "connection refused")
}

func TestConstructorsSetExpectedStatus(t *testing.T) {
	require.Equal(t, http.StatusNotFound, NotFound("x", "x").Status)
	require.Equal(t, http.StatusBadRequest, BadRequest("x", "x").Status)
	require.Equal(t, http.StatusForbidden, Forbidden("x", "x").Status)
	require.Equal(t, http.StatusInternalServerError, Internal("x", errors.New("boom")).Status)
}

func TestErrorsAsRecoversTheConcreteType(t *testing.T) {
	var err error = NotFound("generation_not_found", "generation not found")

	var ae *Error
	require.True(t, errors.As(err, &ae))
	require.Equal(t, "generation_not_found", ae.Code)
}
