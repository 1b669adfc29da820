package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	err := InsufficientFunds("insufficient USD balance")
	require.Equal(t, CodeInsufficientFunds, CodeOf(err))

	wrapped := fmt.Errorf("accepting offer: %w", err)
	require.Equal(t, CodeInsufficientFunds, CodeOf(wrapped))

	require.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{Validation("bad input"), http.StatusBadRequest},
		{NotFound("missing"), http.StatusNotFound},
		{Forbidden("nope"), http.StatusForbidden},
		{InvalidState("already filled"), http.StatusConflict},
		{InsufficientFunds("broke"), http.StatusBadRequest},
		{Internal("boom", errors.New("cause")), http.StatusInternalServerError},
		{errors.New("uncoded"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.status, HTTPStatus(tt.err))
	}
}

func TestInternalHidesCause(t *testing.T) {
	cause := errors.New("pq: connection refused")
	err := Internal("could not accept offer", cause)

	// The caller-safe message carries no storage detail
	require.Equal(t, "could not accept offer", MessageOf(err))
	// but the chain keeps the cause for logging
	require.ErrorIs(t, err, cause)
}
