package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorString(t *testing.T) {
	withInner := &AppError{Code: "INTERNAL_ERROR", Message: "something broke", Err: fmt.Errorf("db connection lost")}
	assert.Contains(t, withInner.Error(), "INTERNAL_ERROR")
	assert.Contains(t, withInner.Error(), "something broke")
	assert.Contains(t, withInner.Error(), "db connection lost")

	bare := &AppError{Code: "NOT_FOUND", Message: "rule not found"}
	assert.Equal(t, "NOT_FOUND: rule not found", bare.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	appErr := &AppError{Code: "NOT_FOUND", Message: "nope", Err: ErrNotFound}
	assert.True(t, errors.Is(appErr, ErrNotFound))

	assert.Nil(t, (&AppError{Code: "TEST", Message: "test"}).Unwrap())
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		code     string
		status   int
		sentinel error
	}{
		{"not found", NotFound("pricing rule", "abc-123"), "NOT_FOUND", http.StatusNotFound, ErrNotFound},
		{"already exists", AlreadyExists("coupon", "code", "SAVE10"), "ALREADY_EXISTS", http.StatusConflict, ErrAlreadyExists},
		{"invalid input", InvalidInput("title is required"), "INVALID_INPUT", http.StatusBadRequest, ErrInvalidInput},
		{"unauthorized", Unauthorized("invalid token"), "UNAUTHORIZED", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", Forbidden("not allowed"), "FORBIDDEN", http.StatusForbidden, ErrForbidden},
		{"conflict", Conflict("two rules share the highest priority"), "CONFLICT", http.StatusConflict, ErrConflict},
		{"unprocessable", Unprocessable("coupon usage cap exhausted"), "UNPROCESSABLE", http.StatusUnprocessableEntity, ErrUnprocessable},
		{"gone", Gone("coupon expired"), "GONE", http.StatusGone, ErrGone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.True(t, errors.Is(tt.err, tt.sentinel))
		})
	}
}

func TestNotFound_MessageNamesResource(t *testing.T) {
	err := NotFound("pricing rule", "abc-123")
	assert.Contains(t, err.Message, "pricing rule")
	assert.Contains(t, err.Message, "abc-123")
}

func TestAlreadyExists_MessageNamesField(t *testing.T) {
	err := AlreadyExists("coupon", "code", "SAVE10")
	assert.Contains(t, err.Message, "coupon")
	assert.Contains(t, err.Message, "code")
	assert.Contains(t, err.Message, "SAVE10")
}

func TestInternal_WrapsCause(t *testing.T) {
	err := Internal(fmt.Errorf("write rule: broken pipe"))
	assert.Equal(t, "INTERNAL_ERROR", err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestWrap(t *testing.T) {
	wrapped := Wrap(ErrNotFound, "get rule")
	assert.Contains(t, wrapped.Error(), "get rule")
	assert.True(t, errors.Is(wrapped, ErrNotFound))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{NotFound("rule", "1"), http.StatusNotFound},
		{ErrNotFound, http.StatusNotFound},
		{ErrAlreadyExists, http.StatusConflict},
		{ErrConflict, http.StatusConflict},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrUnprocessable, http.StatusUnprocessableEntity},
		{ErrGone, http.StatusGone},
		{fmt.Errorf("lookup coupon: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}
