package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFamilySentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"auth", NewAuthError(401, "invalid_token"), ErrAuth},
		{"connection", NewConnectionError("read", "http://x/v1/events", io.EOF), ErrConnection},
		{"decode", NewDecodeError("temp", "bad json", nil), ErrDecode},
		{"publish", NewPublishError("temp", 400, "too long"), ErrPublish},
		{"validation", NewValidationError("name", "", "required"), ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Is(tt.err, tt.target))
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, Is(wrapped, tt.target), "wrapped error must keep its family")
		})
	}
}

func TestFamiliesAreDisjoint(t *testing.T) {
	err := NewDecodeError("x", "missing name", nil)
	assert.False(t, Is(err, ErrAuth))
	assert.False(t, Is(err, ErrConnection))
	assert.False(t, Is(err, ErrPublish))
}

func TestConnectionErrorUnwrap(t *testing.T) {
	err := NewConnectionError("read", "", io.ErrUnexpectedEOF)
	assert.True(t, Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, "connection read: unexpected EOF", err.Error())
}

func TestAPIErrorAuthStatus(t *testing.T) {
	assert.True(t, Is(&APIError{StatusCode: 401}, ErrAuth))
	assert.True(t, Is(&APIError{StatusCode: 403}, ErrAuth))
	assert.False(t, Is(&APIError{StatusCode: 404}, ErrAuth))
	assert.False(t, Is(&APIError{StatusCode: 500}, ErrAuth))
}

func TestAuthErrorMessage(t *testing.T) {
	err := &AuthError{StatusCode: 401, Message: "token expired", Err: io.EOF}
	assert.Equal(t, "authentication failed: token expired (status 401): EOF", err.Error())

	var target *AuthError
	assert.True(t, As(fmt.Errorf("wrap: %w", err), &target))
	assert.Equal(t, 401, target.StatusCode)
}
