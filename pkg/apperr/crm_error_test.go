package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusByConstructor(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		status int
		code   string
	}{
		{"unauthorized", Unauthorized(""), http.StatusUnauthorized, CodeUnauthorized},
		{"permission denied", PermissionDenied("Mail.Read", "/connect"), http.StatusForbidden, CodePermissionDenied},
		{"not found", NotFound("company"), http.StatusNotFound, CodeNotFound},
		{"already exists", AlreadyExists("contact"), http.StatusConflict, CodeAlreadyExists},
		{"malformed", MalformedItem("m-1", "bad sender"), http.StatusUnprocessableEntity, CodeMalformedItem},
		{"fetch failed", FetchFailed("outlook", errors.New("timeout")), http.StatusBadGateway, CodeFetchFailed},
		{"internal", Internal(""), http.StatusInternalServerError, CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
			assert.Equal(t, tt.code, tt.err.Code)
		})
	}
}

func TestErrorsIsMatchesCode(t *testing.T) {
	wrapped := fmt.Errorf("emails: %w", FetchFailed("gmail", errors.New("503")))

	assert.True(t, errors.Is(wrapped, ErrFetchFailed))
	assert.False(t, errors.Is(wrapped, ErrPermissionDenied))
	assert.True(t, HasCode(wrapped, CodeFetchFailed))
	assert.Equal(t, http.StatusBadGateway, GetHTTPStatus(wrapped))
}

func TestPermissionDeniedDetails(t *testing.T) {
	err := PermissionDenied("Calendars.Read", "/api/v1/connections")
	assert.Equal(t, "Calendars.Read", err.Details["scope"])
	assert.Equal(t, "/api/v1/connections", err.Details["connect_url"])

	bare := PermissionDenied("Mail.Read", "")
	_, ok := bare.Details["connect_url"]
	assert.False(t, ok)
}

func TestAsAppErrorFallsBackToInternal(t *testing.T) {
	plain := errors.New("disk full")
	got := AsAppError(plain)
	assert.Equal(t, CodeInternalError, got.Code)
	assert.ErrorIs(t, got, plain)
}
