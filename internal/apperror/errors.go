// Package apperror defines the sentinel errors shared by services and their
// mapping to HTTP status codes.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrCooldown     = errors.New("cooldown active")
	ErrHeartsFull   = errors.New("hearts already full")
)

// Invalid wraps ErrInvalidInput with a descriptive message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the kind and id of the missing resource.
func NotFound(kind string, id any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, kind, id)
}

// Status maps an error to an HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCooldown), errors.Is(err, ErrHeartsFull):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
